package auth

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	testutil "github.com/neurondb/NeuronGateway/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *clock.Mock) {
	t.Helper()
	tdb := testutil.SetupTestDB(t)

	clk := clock.NewMock()
	clk.Set(time.Now().UTC().Truncate(time.Second))
	tokens, err := NewSessionTokens("test-secret", "neurongateway", clk)
	require.NoError(t, err)

	_, err = testutil.CreateTestUser(context.Background(), tdb.Queries, "u1")
	require.NoError(t, err)
	return NewStore(tdb.Queries, tokens, clk), clk
}

func TestStore_SessionValidation(t *testing.T) {
	store, clk := newTestStore(t)
	ctx := context.Background()

	token, session, err := store.IssueSession(ctx, "u1", time.Hour)
	require.NoError(t, err)

	res, err := store.ValidateSession(ctx, token)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "u1", res.Identity)
	assert.Equal(t, session.ID, res.CredentialID)

	require.NoError(t, store.RevokeSession(ctx, session.ID))
	res, err = store.ValidateSession(ctx, token)
	require.NoError(t, err)
	assert.False(t, res.Valid)

	token, _, err = store.IssueSession(ctx, "u1", time.Minute)
	require.NoError(t, err)
	clk.Add(2 * time.Minute)
	res, err = store.ValidateSession(ctx, token)
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestStore_APIKeyPriorityAndUsage(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	key, record, err := store.Keys().GenerateAPIKey(ctx, "u1", "ci", nil)
	require.NoError(t, err)

	res, err := store.ValidateSession(ctx, key)
	require.NoError(t, err)
	assert.False(t, res.Valid, "an API key is never a session")

	id, err := NewResolver(store, nil).Resolve(ctx, key, "")
	require.NoError(t, err)
	assert.Equal(t, KindAPIKey, id.Kind)
	assert.Equal(t, record.ID, id.CredentialID)

	stored, err := store.queries.GetAPIKeyByPrefix(ctx, record.KeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.UsageCount)

	_, err = NewResolver(store, nil).Resolve(ctx, key[:8]+"tampered", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	stored, err = store.queries.GetAPIKeyByPrefix(ctx, record.KeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.UsageCount, "failed attempts never count")

	require.NoError(t, store.Keys().RevokeAPIKey(ctx, record.ID))
	res, err = store.ValidateAPIKey(ctx, key)
	require.NoError(t, err)
	assert.False(t, res.Valid)
}
