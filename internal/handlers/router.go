package handlers

import (
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	"github.com/neurondb/NeuronGateway/internal/auth"
	"github.com/neurondb/NeuronGateway/internal/gateway"
	"github.com/neurondb/NeuronGateway/internal/initialization"
	"github.com/neurondb/NeuronGateway/internal/logging"
	"github.com/neurondb/NeuronGateway/internal/metrics"
	"github.com/neurondb/NeuronGateway/internal/middleware"
	"github.com/neurondb/NeuronGateway/internal/ratelimit"
	"github.com/neurondb/NeuronGateway/internal/registry"
	"github.com/neurondb/NeuronGateway/internal/transport"
)

// RouterConfig carries everything the HTTP surface is built from
type RouterConfig struct {
	Registry  *registry.Registry
	Gateway   *gateway.Gateway
	Limiter   ratelimit.Admitter
	Collector *metrics.SystemCollector
	Health    *initialization.HealthChecker

	// Resolver guards control endpoints when ProtectControl is set, and the API key routes
	Resolver       *auth.Resolver
	KeyManager     *auth.APIKeyManager
	ProtectControl bool

	CORS         middleware.CORSConfig
	Transport    transport.Options
	MaxBodyBytes int64

	Clock  clock.Clock
	Logger *logging.Logger
}

/* NewRouter builds the gateway's HTTP handler:
 *   GET  /health, /metrics                    no admission, no auth
 *   GET  /ws/{user_id}                        websocket session
 *   GET  /api/v1/connections                  registry status
 *   POST /api/v1/connections/broadcast        operator broadcast
 *   GET  /api/v1/system-metrics[/ws]          host metrics
 *   /api/v1/api-keys                          caller's own API keys
 */
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	origins := cfg.CORS.AllowedOrigins

	router := mux.NewRouter()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RequestSizeMiddleware(cfg.MaxBodyBytes))
	if cfg.Limiter != nil {
		router.Use(middleware.RateLimitMiddleware(cfg.Limiter, logger, "/health", "/metrics"))
	}

	if cfg.Health != nil {
		router.HandleFunc("/health", NewHealthHandlers(cfg.Health, cfg.Registry).Health).Methods(http.MethodGet)
	}
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	gatewayHandlers := NewGatewayHandlers(cfg.Gateway, cfg.Transport, origins, logger)
	router.HandleFunc("/ws/{user_id}", gatewayHandlers.ServeWS).Methods(http.MethodGet)

	if cfg.Resolver != nil && cfg.KeyManager != nil {
		keys := router.PathPrefix("/api/v1/api-keys").Subrouter()
		keys.Use(auth.Middleware(cfg.Resolver))
		keyHandlers := NewAPIKeyHandlers(cfg.KeyManager)
		keys.HandleFunc("", keyHandlers.ListAPIKeys).Methods(http.MethodGet)
		keys.HandleFunc("", keyHandlers.GenerateAPIKey).Methods(http.MethodPost)
		keys.HandleFunc("/{id}", keyHandlers.RevokeAPIKey).Methods(http.MethodDelete)
	}

	control := router.PathPrefix("/api/v1").Subrouter()
	if cfg.ProtectControl && cfg.Resolver != nil {
		control.Use(auth.Middleware(cfg.Resolver))
	}

	connectionHandlers := NewConnectionHandlers(cfg.Registry, cfg.Clock, logger)
	control.HandleFunc("/connections", connectionHandlers.GetStatus).Methods(http.MethodGet)
	control.HandleFunc("/connections/broadcast", connectionHandlers.Broadcast).Methods(http.MethodPost)

	if cfg.Collector != nil {
		systemHandlers := NewSystemMetricsHandlers(cfg.Collector, cfg.Registry, origins, logger)
		control.HandleFunc("/system-metrics", systemHandlers.GetSystemMetrics).Methods(http.MethodGet)
		control.HandleFunc("/system-metrics/ws", systemHandlers.SystemMetricsWebSocket).Methods(http.MethodGet)
	}

	return middleware.CORSHandler(cfg.CORS, router)
}
