package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the payload of a session token
type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

/* SessionTokens signs and verifies session JWTs (HS256) */
type SessionTokens struct {
	secret []byte
	issuer string
	clock  clock.Clock
}

// NewSessionTokens fails when secret is empty
func NewSessionTokens(secret, issuer string, clk clock.Clock) (*SessionTokens, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required for session tokens")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &SessionTokens{secret: []byte(secret), issuer: issuer, clock: clk}, nil
}

// Issue signs a token for sessionID owned by userID
func (t *SessionTokens) Issue(sessionID, userID string, expiresAt time.Time) (string, error) {
	now := t.clock.Now()
	claims := &SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    t.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse verifies signature, issuer and expiry and returns the claims
func (t *SessionTokens) Parse(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}

	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(t.clock.Now),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.SessionID == "" || claims.Subject == "" {
		return nil, errors.New("token is missing session claims")
	}
	return claims, nil
}

// LooksLikeJWT reports whether s has the three dot-separated segments of a compact JWT
func LooksLikeJWT(s string) bool {
	return strings.Count(s, ".") == 2
}

// ExtractToken extracts the bearer token from an Authorization header
func ExtractToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("missing authorization header")
	}

	// Support both "Bearer <token>" and just "<token>"
	parts := strings.Fields(authHeader)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1], nil
	}
	if len(parts) == 1 {
		return parts[0], nil
	}

	return "", errors.New("invalid authorization header format")
}
