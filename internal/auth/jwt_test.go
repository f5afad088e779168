package auth

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokens(t *testing.T) (*SessionTokens, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tokens, err := NewSessionTokens("test-secret", "neurongateway", clk)
	require.NoError(t, err)
	return tokens, clk
}

func TestSessionTokens_RoundTrip(t *testing.T) {
	tokens, clk := newTestTokens(t)

	signed, err := tokens.Issue("sess-1", "u1", clk.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, LooksLikeJWT(signed))

	claims, err := tokens.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "u1", claims.Subject)
}

func TestSessionTokens_Expired(t *testing.T) {
	tokens, clk := newTestTokens(t)

	signed, err := tokens.Issue("sess-1", "u1", clk.Now().Add(time.Minute))
	require.NoError(t, err)

	clk.Add(2 * time.Minute)
	_, err = tokens.Parse(signed)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestSessionTokens_WrongSecretOrIssuer(t *testing.T) {
	tokens, clk := newTestTokens(t)
	signed, err := tokens.Issue("sess-1", "u1", clk.Now().Add(time.Hour))
	require.NoError(t, err)

	other, err := NewSessionTokens("other-secret", "neurongateway", clk)
	require.NoError(t, err)
	_, err = other.Parse(signed)
	assert.Error(t, err)

	otherIssuer, err := NewSessionTokens("test-secret", "someone-else", clk)
	require.NoError(t, err)
	_, err = otherIssuer.Parse(signed)
	assert.Error(t, err)
}

func TestNewSessionTokens_RequiresSecret(t *testing.T) {
	_, err := NewSessionTokens("", "x", nil)
	assert.Error(t, err)
}

func TestExtractToken(t *testing.T) {
	token, err := ExtractToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	token, err = ExtractToken("bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	token, err = ExtractToken("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = ExtractToken("")
	assert.Error(t, err)
	_, err = ExtractToken("Basic a b")
	assert.Error(t, err)
}

func TestAPIKeyHashing(t *testing.T) {
	hash, err := HashAPIKey("secret-key-value")
	require.NoError(t, err)
	assert.True(t, VerifyAPIKey("secret-key-value", hash))
	assert.False(t, VerifyAPIKey("secret-key-other", hash))

	assert.Equal(t, "secret-k", GetKeyPrefix("secret-key-value"))
	assert.Equal(t, "short", GetKeyPrefix("short"))
}
