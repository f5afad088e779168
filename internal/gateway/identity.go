package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/neurondb/NeuronGateway/internal/db"
	"github.com/neurondb/NeuronGateway/internal/logging"
)

const maxIdentityLength = 128

// ErrUnknownIdentity is returned by policies that refuse identities absent from the profile store
var ErrUnknownIdentity = errors.New("unknown identity")

// IdentityPolicy decides whether a caller identity may open a session, creating it if the
// policy allows implicit signup
type IdentityPolicy interface {
	ResolveOrCreateIdentity(ctx context.Context, identity string) error
}

// IdentityPolicyFunc adapts a function to IdentityPolicy
type IdentityPolicyFunc func(ctx context.Context, identity string) error

func (f IdentityPolicyFunc) ResolveOrCreateIdentity(ctx context.Context, identity string) error {
	return f(ctx, identity)
}

// AllowAll accepts every identity without touching storage
var AllowAll = IdentityPolicyFunc(func(context.Context, string) error { return nil })

// UserStore is the slice of the profile store the policies need
type UserStore interface {
	GetUser(ctx context.Context, id string) (*db.User, error)
	CreateUser(ctx context.Context, user *db.User) (bool, error)
}

/* AutoProvision creates unknown identities on first contact. Identities seen recently are
 * remembered so reconnects skip the store. */
type AutoProvision struct {
	store  UserStore
	known  *lru.Cache[string, struct{}]
	logger *logging.Logger
}

func NewAutoProvision(store UserStore, cacheSize int, logger *logging.Logger) (*AutoProvision, error) {
	known, err := newIdentityCache(cacheSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &AutoProvision{store: store, known: known, logger: logger}, nil
}

func (p *AutoProvision) ResolveOrCreateIdentity(ctx context.Context, identity string) error {
	if p.known.Contains(identity) {
		return nil
	}

	created, err := p.store.CreateUser(ctx, &db.User{ID: identity, Provisioned: true})
	if err != nil {
		return fmt.Errorf("failed to provision identity: %w", err)
	}
	if created {
		p.logger.Info("Provisioned identity on first contact", map[string]interface{}{
			"user_id": identity,
		})
	}
	p.known.Add(identity, struct{}{})
	return nil
}

/* StrictPolicy only admits identities already present in the profile store */
type StrictPolicy struct {
	store UserStore
	known *lru.Cache[string, struct{}]
}

func NewStrictPolicy(store UserStore, cacheSize int) (*StrictPolicy, error) {
	known, err := newIdentityCache(cacheSize)
	if err != nil {
		return nil, err
	}
	return &StrictPolicy{store: store, known: known}, nil
}

func (p *StrictPolicy) ResolveOrCreateIdentity(ctx context.Context, identity string) error {
	if p.known.Contains(identity) {
		return nil
	}

	_, err := p.store.GetUser(ctx, identity)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownIdentity, identity)
	}
	if err != nil {
		return fmt.Errorf("failed to look up identity: %w", err)
	}
	p.known.Add(identity, struct{}{})
	return nil
}

func newIdentityCache(size int) (*lru.Cache[string, struct{}], error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity cache: %w", err)
	}
	return cache, nil
}

// ValidIdentity reports whether s can be used as a registry key
func ValidIdentity(s string) bool {
	if s == "" || len(s) > maxIdentityLength || strings.TrimSpace(s) != s {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
