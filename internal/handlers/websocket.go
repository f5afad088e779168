package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/neurondb/NeuronGateway/internal/auth"
	"github.com/neurondb/NeuronGateway/internal/gateway"
	"github.com/neurondb/NeuronGateway/internal/logging"
	"github.com/neurondb/NeuronGateway/internal/transport"
)

// GatewayHandlers upgrades client connections and hands them to the gateway
type GatewayHandlers struct {
	gateway   *gateway.Gateway
	upgrader  websocket.Upgrader
	transport transport.Options
	logger    *logging.Logger
}

// NewGatewayHandlers creates the websocket entry point. allowedOrigins follows the CORS
// setting; "*" accepts any origin.
func NewGatewayHandlers(gw *gateway.Gateway, opts transport.Options, allowedOrigins []string, logger *logging.Logger) *GatewayHandlers {
	return &GatewayHandlers{
		gateway: gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		transport: opts,
		logger:    logger,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// ServeWS handles GET /ws/{user_id}
func (h *GatewayHandlers) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["user_id"]
	bearer, apiKey := auth.CredentialsFromRequest(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", map[string]interface{}{
			"user_id": identity,
			"error":   err.Error(),
		})
		return
	}

	ws := transport.NewWebSocket(conn, h.transport)
	err = h.gateway.Serve(r.Context(), identity, gateway.Credentials{Bearer: bearer, APIKey: apiKey}, ws)
	if err == nil {
		return
	}

	var setupErr *gateway.SetupError
	if errors.As(err, &setupErr) {
		ws.SetCloseStatus(websocket.ClosePolicyViolation, string(setupErr.Code))
	} else {
		ws.SetCloseStatus(websocket.CloseInternalServerErr, "internal error")
		h.logger.Warn("Session ended with error", map[string]interface{}{
			"user_id": identity,
			"error":   err.Error(),
		})
	}
	ws.Close()
}
