package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neurondb/NeuronGateway/internal/db"
	"golang.org/x/crypto/bcrypt"
)

// ErrKeyMismatch means a key with the right prefix exists but the secret does not match
var ErrKeyMismatch = errors.New("invalid API key")

// APIKeyManager manages API key authentication
type APIKeyManager struct {
	queries *db.Queries
}

// NewAPIKeyManager creates a new API key manager
func NewAPIKeyManager(queries *db.Queries) *APIKeyManager {
	return &APIKeyManager{queries: queries}
}

// GenerateAPIKey creates a key for userID and returns the plaintext once. Only the hash is stored.
func (m *APIKeyManager) GenerateAPIKey(ctx context.Context, userID, name string, expiresAt *time.Time) (string, *db.APIKey, error) {
	// Generate random key (32 bytes = 44 base64 chars)
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate key: %w", err)
	}

	key := base64.URLEncoding.EncodeToString(keyBytes)
	keyHash, err := HashAPIKey(key)
	if err != nil {
		return "", nil, err
	}

	apiKey := &db.APIKey{
		ID:        uuid.New().String(),
		KeyHash:   keyHash,
		KeyPrefix: GetKeyPrefix(key),
		UserID:    userID,
		Name:      name,
		IsActive:  true,
		ExpiresAt: expiresAt,
	}

	if err := m.queries.CreateAPIKey(ctx, apiKey); err != nil {
		return "", nil, err
	}

	return key, apiKey, nil
}

// LookupAPIKey finds the key record matching key. It does not check activity or expiry.
func (m *APIKeyManager) LookupAPIKey(ctx context.Context, key string) (*db.APIKey, error) {
	apiKey, err := m.queries.GetAPIKeyByPrefix(ctx, GetKeyPrefix(key))
	if err != nil {
		return nil, err
	}
	if !VerifyAPIKey(key, apiKey.KeyHash) {
		return nil, ErrKeyMismatch
	}
	return apiKey, nil
}

// RevokeAPIKey deactivates an API key
func (m *APIKeyManager) RevokeAPIKey(ctx context.Context, id string) error {
	return m.queries.RevokeAPIKey(ctx, id)
}

// RevokeOwnedAPIKey deactivates a key belonging to userID. Keys owned by anyone else
// report db.ErrNotFound.
func (m *APIKeyManager) RevokeOwnedAPIKey(ctx context.Context, id, userID string) error {
	return m.queries.RevokeUserAPIKey(ctx, id, userID)
}

// ListAPIKeys returns userID's keys, newest first
func (m *APIKeyManager) ListAPIKeys(ctx context.Context, userID string) ([]db.APIKey, error) {
	return m.queries.ListAPIKeys(ctx, userID)
}

// GetKeyPrefix extracts the prefix from an API key
func GetKeyPrefix(key string) string {
	if len(key) < 8 {
		return key
	}
	return key[:8]
}

// HashAPIKey hashes an API key using bcrypt
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

// VerifyAPIKey verifies an API key against its hash
func VerifyAPIKey(key, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	return err == nil
}
