package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/neurondb/NeuronGateway/internal/logging"
	"github.com/neurondb/NeuronGateway/internal/metrics"
	"github.com/neurondb/NeuronGateway/internal/ratelimit"
)

// UnknownClientKey is the shared bucket for requests with no usable client address
const UnknownClientKey = "unknown"

// ClientKey derives the admission key for a request: the first X-Forwarded-For entry,
// then X-Real-IP, then the peer host.
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}
	return UnknownClientKey
}

// RateLimitMiddleware admits requests through limiter, keyed by client address. Paths
// starting with one of exempt bypass admission.
func RateLimitMiddleware(limiter ratelimit.Admitter, logger *logging.Logger, exempt ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range exempt {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			key := ClientKey(r)
			decision := limiter.Allow(r.Context(), key)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				metrics.RecordRateLimitDecision("denied")
				retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				logger.Debug("Request rate limited", map[string]interface{}{
					"client": key,
					"path":   r.URL.Path,
					"reason": decision.Reason,
				})

				h.Set("Retry-After", strconv.Itoa(retryAfter))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error":       "rate_limited",
					"message":     "Too many requests",
					"retry_after": retryAfter,
				})
				return
			}

			metrics.RecordRateLimitDecision("allowed")
			next.ServeHTTP(w, r)
		})
	}
}
