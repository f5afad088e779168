package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/neurondb/NeuronGateway/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryUsers struct {
	mu      sync.Mutex
	users   map[string]*db.User
	creates int
	gets    int
	err     error
}

func newMemoryUsers(ids ...string) *memoryUsers {
	m := &memoryUsers{users: make(map[string]*db.User)}
	for _, id := range ids {
		m.users[id] = &db.User{ID: id}
	}
	return m
}

func (m *memoryUsers) GetUser(_ context.Context, id string) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.err != nil {
		return nil, m.err
	}
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, db.ErrNotFound
}

func (m *memoryUsers) CreateUser(_ context.Context, user *db.User) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.users[user.ID]; ok {
		return false, nil
	}
	m.users[user.ID] = user
	return true, nil
}

func TestAutoProvision(t *testing.T) {
	users := newMemoryUsers()
	policy, err := NewAutoProvision(users, 16, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, policy.ResolveOrCreateIdentity(ctx, "new-user"))
	require.NoError(t, policy.ResolveOrCreateIdentity(ctx, "new-user"))

	assert.Equal(t, 1, users.creates, "known identities are served from the cache")
	require.Contains(t, users.users, "new-user")
	assert.True(t, users.users["new-user"].Provisioned)
}

func TestAutoProvision_StoreError(t *testing.T) {
	users := newMemoryUsers()
	users.err = errors.New("connection refused")
	policy, err := NewAutoProvision(users, 16, nil)
	require.NoError(t, err)

	err = policy.ResolveOrCreateIdentity(context.Background(), "u1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownIdentity)
}

func TestStrictPolicy(t *testing.T) {
	users := newMemoryUsers("known")
	policy, err := NewStrictPolicy(users, 0)
	require.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, policy.ResolveOrCreateIdentity(ctx, "known"))
	assert.NoError(t, policy.ResolveOrCreateIdentity(ctx, "known"))
	assert.Equal(t, 1, users.gets)

	err = policy.ResolveOrCreateIdentity(ctx, "stranger")
	assert.ErrorIs(t, err, ErrUnknownIdentity)
	assert.Zero(t, users.creates)
}

func TestValidIdentity(t *testing.T) {
	assert.True(t, ValidIdentity("u1"))
	assert.True(t, ValidIdentity("user@example.com"))
	assert.False(t, ValidIdentity(""))
	assert.False(t, ValidIdentity(" u1"))
	assert.False(t, ValidIdentity("a b"))
	assert.False(t, ValidIdentity("tab\tid"))
	assert.False(t, ValidIdentity(strings.Repeat("x", maxIdentityLength+1)))
}
