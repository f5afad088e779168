package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/neurondb/NeuronGateway/internal/db"
)

/* Store is the Postgres-backed CredentialStore */
type Store struct {
	queries *db.Queries
	tokens  *SessionTokens
	keys    *APIKeyManager
	clock   clock.Clock
}

// NewStore creates a store. tokens may be nil, in which case no session validates.
func NewStore(queries *db.Queries, tokens *SessionTokens, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		queries: queries,
		tokens:  tokens,
		keys:    NewAPIKeyManager(queries),
		clock:   clk,
	}
}

// Keys exposes the API key manager
func (s *Store) Keys() *APIKeyManager {
	return s.keys
}

// ValidateSession checks a session token and the session row it names
func (s *Store) ValidateSession(ctx context.Context, token string) (TokenValidationResult, error) {
	res := TokenValidationResult{Kind: KindSession}
	if s.tokens == nil || !LooksLikeJWT(token) {
		res.Reason = "not a session token"
		return res, nil
	}

	claims, err := s.tokens.Parse(token)
	if err != nil {
		res.Reason = "token rejected: " + err.Error()
		return res, nil
	}

	session, err := s.queries.GetSession(ctx, claims.SessionID)
	if errors.Is(err, db.ErrNotFound) {
		res.Reason = "unknown session"
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to load session: %w", err)
	}

	switch {
	case session.UserID != claims.Subject:
		res.Reason = "session subject mismatch"
	case !SessionValid(session.Status, session.ExpiresAt, s.clock.Now()):
		res.Reason = "session " + session.Status + " or expired"
	default:
		res.Valid = true
		res.Identity = session.UserID
		res.CredentialID = session.ID
	}
	return res, nil
}

// ValidateAPIKey checks key against the stored hash, activity flag and expiry
func (s *Store) ValidateAPIKey(ctx context.Context, key string) (TokenValidationResult, error) {
	res := TokenValidationResult{Kind: KindAPIKey}

	apiKey, err := s.keys.LookupAPIKey(ctx, key)
	switch {
	case errors.Is(err, db.ErrNotFound):
		res.Reason = "unknown key prefix"
		return res, nil
	case errors.Is(err, ErrKeyMismatch):
		res.Reason = "key hash mismatch"
		return res, nil
	case err != nil:
		return res, fmt.Errorf("failed to load API key: %w", err)
	}

	if !APIKeyValid(apiKey.IsActive, apiKey.ExpiresAt, s.clock.Now()) {
		res.Reason = "key inactive or expired"
		return res, nil
	}

	res.Valid = true
	res.Identity = apiKey.UserID
	res.CredentialID = apiKey.ID
	return res, nil
}

// RecordAPIKeyUse increments the key's usage counter
func (s *Store) RecordAPIKeyUse(ctx context.Context, keyID string) error {
	return s.queries.RecordAPIKeyUse(ctx, keyID)
}

// IssueSession creates an active session for userID and returns its signed token
func (s *Store) IssueSession(ctx context.Context, userID string, ttl time.Duration) (string, *db.Session, error) {
	if s.tokens == nil {
		return "", nil, fmt.Errorf("session tokens are not configured")
	}

	session := &db.Session{
		UserID:    userID,
		Status:    db.SessionActive,
		ExpiresAt: s.clock.Now().UTC().Add(ttl),
	}
	if err := s.queries.CreateSession(ctx, session); err != nil {
		return "", nil, err
	}

	token, err := s.tokens.Issue(session.ID, userID, session.ExpiresAt)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, session, nil
}

// RevokeSession revokes a session by id
func (s *Store) RevokeSession(ctx context.Context, sessionID string) error {
	return s.queries.RevokeSession(ctx, sessionID)
}
