package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryKey struct {
	id       string
	identity string
}

// memoryStore is a CredentialStore keyed by raw credential strings
type memoryStore struct {
	mu         sync.Mutex
	sessions   map[string]string
	keys       map[string]memoryKey
	usage      map[string]int
	calls      []string
	sessionErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		sessions: make(map[string]string),
		keys:     make(map[string]memoryKey),
		usage:    make(map[string]int),
	}
}

func (s *memoryStore) ValidateSession(_ context.Context, token string) (TokenValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "session:"+token)
	if s.sessionErr != nil {
		return TokenValidationResult{}, s.sessionErr
	}
	if identity, ok := s.sessions[token]; ok {
		return TokenValidationResult{Kind: KindSession, Valid: true, Identity: identity, CredentialID: "sess-" + token}, nil
	}
	return TokenValidationResult{Kind: KindSession, Reason: "unknown"}, nil
}

func (s *memoryStore) ValidateAPIKey(_ context.Context, key string) (TokenValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "api_key:"+key)
	if k, ok := s.keys[key]; ok {
		return TokenValidationResult{Kind: KindAPIKey, Valid: true, Identity: k.identity, CredentialID: k.id}, nil
	}
	return TokenValidationResult{Kind: KindAPIKey, Reason: "unknown"}, nil
}

func (s *memoryStore) RecordAPIKeyUse(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[keyID]++
	return nil
}

func (s *memoryStore) totalUsage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.usage {
		total += n
	}
	return total
}

func TestResolver_SessionWinsFirst(t *testing.T) {
	store := newMemoryStore()
	store.sessions["tok"] = "u1"
	store.keys["tok"] = memoryKey{id: "k1", identity: "u2"}

	id, err := NewResolver(store, nil).Resolve(context.Background(), "tok", "")
	require.NoError(t, err)
	assert.Equal(t, "u1", id.Identity)
	assert.Equal(t, KindSession, id.Kind)
	assert.Equal(t, "sess-tok", id.CredentialID)
	assert.Equal(t, []string{"session:tok"}, store.calls)
	assert.Zero(t, store.totalUsage())
}

func TestResolver_BearerAsAPIKey(t *testing.T) {
	store := newMemoryStore()
	store.keys["key-abc"] = memoryKey{id: "k1", identity: "u1"}

	id, err := NewResolver(store, nil).Resolve(context.Background(), "key-abc", "")
	require.NoError(t, err)
	assert.Equal(t, "u1", id.Identity)
	assert.Equal(t, KindAPIKey, id.Kind)
	assert.Equal(t, "k1", id.CredentialID)
	assert.Equal(t, []string{"session:key-abc", "api_key:key-abc"}, store.calls)
	assert.Equal(t, 1, store.usage["k1"], "usage recorded exactly once")
}

func TestResolver_HeaderKeyIsLastResort(t *testing.T) {
	store := newMemoryStore()
	store.keys["header-key"] = memoryKey{id: "k2", identity: "u3"}

	id, err := NewResolver(store, nil).Resolve(context.Background(), "junk", "header-key")
	require.NoError(t, err)
	assert.Equal(t, "u3", id.Identity)
	assert.Equal(t, KindAPIKey, id.Kind)
	assert.Equal(t, []string{"session:junk", "api_key:junk", "api_key:header-key"}, store.calls)
	assert.Equal(t, 1, store.usage["k2"])
}

func TestResolver_HeaderKeyWithoutBearer(t *testing.T) {
	store := newMemoryStore()
	store.keys["header-key"] = memoryKey{id: "k2", identity: "u3"}

	id, err := NewResolver(store, nil).Resolve(context.Background(), "", "header-key")
	require.NoError(t, err)
	assert.Equal(t, "u3", id.Identity)
	assert.Equal(t, []string{"api_key:header-key"}, store.calls)
}

func TestResolver_AllFailIsUniform(t *testing.T) {
	store := newMemoryStore()
	store.keys["other"] = memoryKey{id: "k1", identity: "u1"}

	_, err := NewResolver(store, nil).Resolve(context.Background(), "bad", "also-bad")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, ErrInvalidCredentials.Error(), err.Error(), "no detail about which check failed")
	assert.Zero(t, store.totalUsage())

	_, err = NewResolver(store, nil).Resolve(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResolver_StoreErrorFallsThrough(t *testing.T) {
	store := newMemoryStore()
	store.sessionErr = errors.New("connection refused")
	store.keys["key"] = memoryKey{id: "k1", identity: "u1"}

	id, err := NewResolver(store, nil).Resolve(context.Background(), "key", "")
	require.NoError(t, err)
	assert.Equal(t, KindAPIKey, id.Kind)
}

func TestResolver_SameHeaderAndBearerCheckedOnce(t *testing.T) {
	store := newMemoryStore()

	_, err := NewResolver(store, nil).Resolve(context.Background(), "x", "x")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, []string{"session:x", "api_key:x"}, store.calls)
}

func TestNormalizeUTC(t *testing.T) {
	naive := time.Date(2026, 5, 1, 12, 0, 0, 0, time.Local)
	got := NormalizeUTC(naive)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 12, got.Hour(), "wall clock kept, zone assumed UTC")

	zoned := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("PST", -8*3600))
	assert.Equal(t, 20, NormalizeUTC(zoned).Hour())
}

func TestSessionValid(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, SessionValid("active", now.Add(time.Minute), now))
	assert.False(t, SessionValid("active", now, now), "expiry must be strictly after now")
	assert.False(t, SessionValid("revoked", now.Add(time.Hour), now))
	assert.False(t, SessionValid("expired", now.Add(time.Hour), now))

	// zone-less expiry one minute ahead in UTC stays valid regardless of the local zone
	naive := time.Date(2026, 5, 1, 12, 1, 0, 0, time.Local)
	assert.True(t, SessionValid("active", naive, now))
}

func TestAPIKeyValid(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	assert.True(t, APIKeyValid(true, nil, now))
	assert.True(t, APIKeyValid(true, &future, now))
	assert.False(t, APIKeyValid(true, &past, now))
	assert.False(t, APIKeyValid(false, nil, now))
}
