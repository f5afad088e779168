package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// APIKeyHeader carries an API key out of band from the Authorization header
const APIKeyHeader = "X-API-Key"

// CredentialsFromRequest returns the bearer credential and the API key header value.
// Browser websockets cannot set headers, so upgrade requests may pass ?token= instead.
func CredentialsFromRequest(r *http.Request) (bearer, headerAPIKey string) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if token, err := ExtractToken(authHeader); err == nil {
			bearer = token
		}
	}
	if bearer == "" && strings.HasPrefix(r.URL.Path, "/ws/") {
		bearer = r.URL.Query().Get("token")
	}
	return bearer, strings.TrimSpace(r.Header.Get(APIKeyHeader))
}

// Middleware requires resolvable credentials and stores the caller in the request context
func Middleware(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth for OPTIONS requests (CORS preflight)
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			bearer, headerKey := CredentialsFromRequest(r)
			if bearer == "" && headerKey == "" {
				unauthorized(w, "Missing credentials")
				return
			}

			id, err := resolver.Resolve(r.Context(), bearer, headerKey)
			if err != nil {
				unauthorized(w, "Invalid credentials")
				return
			}

			next.ServeHTTP(w, r.WithContext(SetIdentity(r.Context(), id)))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="neurongateway"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}
