package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// Queries provides database operations
type Queries struct {
	db *sql.DB
}

// NewQueries creates a new Queries instance
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// GetDB returns the underlying database connection
func (q *Queries) GetDB() *sql.DB {
	return q.db
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// User operations

// CreateUser inserts user unless the id already exists. It reports whether a row was created.
func (q *Queries) CreateUser(ctx context.Context, user *User) (bool, error) {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, display_name, provisioned, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := q.db.ExecContext(ctx, query, user.ID, user.DisplayName, user.Provisioned, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to create user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetUser gets a user by ID
func (q *Queries) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	query := `
		SELECT id, display_name, provisioned, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	err := q.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.DisplayName, &user.Provisioned, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

// Session operations

// CreateSession stores a new active session. ExpiresAt is written as UTC wall time.
func (q *Queries) CreateSession(ctx context.Context, session *Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.Status == "" {
		session.Status = SessionActive
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO sessions (id, user_id, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := q.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.Status, session.ExpiresAt.UTC(), session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession gets a session by ID
func (q *Queries) GetSession(ctx context.Context, id string) (*Session, error) {
	var session Session
	var revokedAt sql.NullTime

	query := `
		SELECT id, user_id, status, expires_at, created_at, revoked_at
		FROM sessions
		WHERE id = $1
	`
	err := q.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID, &session.UserID, &session.Status, &session.ExpiresAt, &session.CreatedAt, &revokedAt)
	if err != nil {
		return nil, notFound(err, "session")
	}
	if revokedAt.Valid {
		session.RevokedAt = &revokedAt.Time
	}
	return &session, nil
}

// RevokeSession marks a session revoked
func (q *Queries) RevokeSession(ctx context.Context, id string) error {
	query := `UPDATE sessions SET status = 'revoked', revoked_at = NOW() WHERE id = $1 AND status <> 'revoked'`
	_, err := q.db.ExecContext(ctx, query, id)
	return err
}

// API key operations

// CreateAPIKey creates a new API key
func (q *Queries) CreateAPIKey(ctx context.Context, apiKey *APIKey) error {
	if apiKey.ID == "" {
		apiKey.ID = uuid.New().String()
	}
	if apiKey.CreatedAt.IsZero() {
		apiKey.CreatedAt = time.Now()
	}

	var expiresAt interface{}
	if apiKey.ExpiresAt != nil {
		expiresAt = apiKey.ExpiresAt.UTC()
	}

	query := `
		INSERT INTO api_keys (id, user_id, key_prefix, key_hash, name, is_active, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := q.db.ExecContext(ctx, query,
		apiKey.ID, apiKey.UserID, apiKey.KeyPrefix, apiKey.KeyHash, apiKey.Name, apiKey.IsActive, expiresAt, apiKey.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}
	return nil
}

// GetAPIKeyByPrefix gets an API key by prefix
func (q *Queries) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*APIKey, error) {
	var apiKey APIKey
	var expiresAt, lastUsedAt sql.NullTime

	query := `
		SELECT id, user_id, key_prefix, key_hash, name, is_active, usage_count, expires_at, last_used_at, created_at
		FROM api_keys
		WHERE key_prefix = $1
	`
	err := q.db.QueryRowContext(ctx, query, prefix).Scan(
		&apiKey.ID, &apiKey.UserID, &apiKey.KeyPrefix, &apiKey.KeyHash, &apiKey.Name,
		&apiKey.IsActive, &apiKey.UsageCount, &expiresAt, &lastUsedAt, &apiKey.CreatedAt)
	if err != nil {
		return nil, notFound(err, "api key")
	}
	if expiresAt.Valid {
		apiKey.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		apiKey.LastUsedAt = &lastUsedAt.Time
	}
	return &apiKey, nil
}

// ListAPIKeys returns a user's keys, newest first
func (q *Queries) ListAPIKeys(ctx context.Context, userID string) ([]APIKey, error) {
	query := `
		SELECT id, user_id, key_prefix, key_hash, name, is_active, usage_count, expires_at, last_used_at, created_at
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := q.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var apiKey APIKey
		var expiresAt, lastUsedAt sql.NullTime
		if err := rows.Scan(&apiKey.ID, &apiKey.UserID, &apiKey.KeyPrefix, &apiKey.KeyHash, &apiKey.Name,
			&apiKey.IsActive, &apiKey.UsageCount, &expiresAt, &lastUsedAt, &apiKey.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan API key: %w", err)
		}
		if expiresAt.Valid {
			apiKey.ExpiresAt = &expiresAt.Time
		}
		if lastUsedAt.Valid {
			apiKey.LastUsedAt = &lastUsedAt.Time
		}
		keys = append(keys, apiKey)
	}
	return keys, rows.Err()
}

// RecordAPIKeyUse increments the usage counter and stamps last use
func (q *Queries) RecordAPIKeyUse(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = NOW() WHERE id = $1`
	_, err := q.db.ExecContext(ctx, query, id)
	return err
}

// RevokeAPIKey deactivates an API key
func (q *Queries) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `UPDATE api_keys SET is_active = FALSE WHERE id = $1`, id)
	return revoked(res, err, id)
}

// RevokeUserAPIKey deactivates an API key only if userID owns it
func (q *Queries) RevokeUserAPIKey(ctx context.Context, id, userID string) error {
	res, err := q.db.ExecContext(ctx, `UPDATE api_keys SET is_active = FALSE WHERE id = $1 AND user_id = $2`, id, userID)
	return revoked(res, err, id)
}

func revoked(res sql.Result, err error, id string) error {
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}
	return nil
}
