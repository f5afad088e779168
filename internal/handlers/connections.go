package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/neurondb/NeuronGateway/internal/auth"
	"github.com/neurondb/NeuronGateway/internal/frames"
	"github.com/neurondb/NeuronGateway/internal/logging"
	"github.com/neurondb/NeuronGateway/internal/registry"
	"github.com/neurondb/NeuronGateway/internal/validation"
)

// ConnectionHandlers serves the connection status and broadcast endpoints
type ConnectionHandlers struct {
	registry *registry.Registry
	clock    clock.Clock
	logger   *logging.Logger
}

func NewConnectionHandlers(reg *registry.Registry, clk clock.Clock, logger *logging.Logger) *ConnectionHandlers {
	if clk == nil {
		clk = clock.New()
	}
	return &ConnectionHandlers{registry: reg, clock: clk, logger: logger}
}

// BroadcastRequest is the body of POST /api/v1/connections/broadcast. Omitting user_ids,
// or sending an empty list, targets every connected identity.
type BroadcastRequest struct {
	Message string   `json:"message"`
	UserIDs []string `json:"user_ids,omitempty"`
}

// GetStatus returns the registry snapshot
func (h *ConnectionHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.registry.Status(), http.StatusOK)
}

// Broadcast sends an operator message to the requested identities
func (h *ConnectionHandlers) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, errors.New("invalid request body"), nil)
		return
	}

	if errs := validation.ValidateBroadcast(req.Message, req.UserIDs); len(errs) > 0 {
		WriteValidationErrors(w, r, errs)
		return
	}

	message := validation.SanitizeString(req.Message, validation.MaxBroadcastLength)
	result := h.registry.Broadcast(r.Context(), req.UserIDs, frames.NewBroadcast(h.clock.Now(), message))

	operator, _ := auth.GetUserIDFromContext(r.Context())
	h.logger.Info("Operator broadcast", map[string]interface{}{
		"operator":        operator,
		"sent_to":         result.SentTo,
		"total_requested": result.TotalRequested,
	})
	WriteSuccess(w, result, http.StatusOK)
}
