package middleware

import (
	"net/http"
	"strings"
)

// CORSConfig lists what cross-origin callers may do
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

/* CORSHandler wraps the whole router rather than using router.Use, so preflight
 * requests are answered even for routes that only match other methods. Websocket
 * upgrades pass straight through. */
func CORSHandler(cfg CORSConfig, next http.Handler) http.Handler {
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}

		origin := r.Header.Get("Origin")
		allowed, allowAll := false, false
		for _, o := range cfg.AllowedOrigins {
			if o == "*" {
				allowed, allowAll = true, true
				break
			}
			if o == origin {
				allowed = true
				break
			}
		}

		if allowed {
			switch {
			case origin != "":
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.Header().Set("Access-Control-Allow-Headers", headers)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
