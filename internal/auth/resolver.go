package auth

import (
	"context"
	"errors"
	"time"

	"github.com/neurondb/NeuronGateway/internal/logging"
	"github.com/neurondb/NeuronGateway/internal/metrics"
)

// ErrInvalidCredentials is the only failure callers ever see from credential resolution
var ErrInvalidCredentials = errors.New("invalid credentials")

// Kind is the credential type that produced an identity
type Kind string

const (
	KindSession Kind = "session"
	KindAPIKey  Kind = "api_key"
)

// TokenValidationResult is a credential store verdict. Identity and CredentialID are set only when Valid.
type TokenValidationResult struct {
	Kind         Kind
	Valid        bool
	Identity     string
	CredentialID string
	// Reason explains an invalid result for logs only
	Reason string
}

// ResolvedIdentity is a successfully authenticated caller
type ResolvedIdentity struct {
	Identity     string `json:"user_id"`
	CredentialID string `json:"credential_id"`
	Kind         Kind   `json:"auth_kind"`
}

// CredentialStore validates opaque credentials
type CredentialStore interface {
	ValidateSession(ctx context.Context, token string) (TokenValidationResult, error)
	ValidateAPIKey(ctx context.Context, key string) (TokenValidationResult, error)
	// RecordAPIKeyUse bumps the usage counter and last-used time of a validated key
	RecordAPIKeyUse(ctx context.Context, keyID string) error
}

/* Resolver turns bearer credentials into an identity: session first, then the bearer as an
 * API key, then a separately supplied API key header. */
type Resolver struct {
	store  CredentialStore
	logger *logging.Logger
}

func NewResolver(store CredentialStore, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve tries each credential in priority order. Every failure is ErrInvalidCredentials.
func (r *Resolver) Resolve(ctx context.Context, bearer, headerAPIKey string) (*ResolvedIdentity, error) {
	if bearer != "" {
		if res, ok := r.check(ctx, KindSession, bearer, r.store.ValidateSession); ok {
			return r.success(ctx, res), nil
		}
		if res, ok := r.check(ctx, KindAPIKey, bearer, r.store.ValidateAPIKey); ok {
			return r.success(ctx, res), nil
		}
	}
	if headerAPIKey != "" && headerAPIKey != bearer {
		if res, ok := r.check(ctx, KindAPIKey, headerAPIKey, r.store.ValidateAPIKey); ok {
			return r.success(ctx, res), nil
		}
	}
	return nil, ErrInvalidCredentials
}

func (r *Resolver) check(ctx context.Context, kind Kind, credential string,
	validate func(context.Context, string) (TokenValidationResult, error)) (TokenValidationResult, bool) {
	res, err := validate(ctx, credential)
	switch {
	case err != nil:
		r.logger.Warn("Credential store lookup failed", map[string]interface{}{
			"kind":  string(kind),
			"error": err.Error(),
		})
	case !res.Valid || res.Identity == "":
		r.logger.Debug("Credential rejected", map[string]interface{}{
			"kind":   string(kind),
			"reason": res.Reason,
		})
	default:
		res.Kind = kind
		metrics.RecordCredentialResolution(string(kind), "success")
		return res, true
	}
	metrics.RecordCredentialResolution(string(kind), "failure")
	return TokenValidationResult{}, false
}

func (r *Resolver) success(ctx context.Context, res TokenValidationResult) *ResolvedIdentity {
	if res.Kind == KindAPIKey {
		if err := r.store.RecordAPIKeyUse(ctx, res.CredentialID); err != nil {
			r.logger.Warn("Failed to record API key use", map[string]interface{}{
				"key_id": res.CredentialID,
				"error":  err.Error(),
			})
		}
	}
	return &ResolvedIdentity{
		Identity:     res.Identity,
		CredentialID: res.CredentialID,
		Kind:         res.Kind,
	}
}

// NormalizeUTC interprets a zone-less timestamp as UTC wall time. Drivers hand those back in
// time.Local; anything carrying a real zone is converted to UTC.
func NormalizeUTC(t time.Time) time.Time {
	if t.Location() == time.Local {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	}
	return t.UTC()
}

// SessionValid reports whether a session with this status and expiry is live at now
func SessionValid(status string, expiresAt, now time.Time) bool {
	return status == "active" && NormalizeUTC(expiresAt).After(now.UTC())
}

// APIKeyValid reports whether a key is usable at now. A nil expiry never expires.
func APIKeyValid(isActive bool, expiresAt *time.Time, now time.Time) bool {
	if !isActive {
		return false
	}
	return expiresAt == nil || NormalizeUTC(*expiresAt).After(now.UTC())
}
