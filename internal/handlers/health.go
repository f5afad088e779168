package handlers

import (
	"net/http"

	"github.com/neurondb/NeuronGateway/internal/initialization"
	"github.com/neurondb/NeuronGateway/internal/registry"
)

// HealthHandlers reports liveness and dependency health
type HealthHandlers struct {
	checker  *initialization.HealthChecker
	registry *registry.Registry
}

func NewHealthHandlers(checker *initialization.HealthChecker, reg *registry.Registry) *HealthHandlers {
	return &HealthHandlers{checker: checker, registry: reg}
}

type healthResponse struct {
	initialization.HealthStatus
	ActiveConnections int `json:"active_connections"`
}

// Health returns 200 unless a required dependency is down
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	status := h.checker.CheckAll(r.Context())
	code := http.StatusOK
	if !status.Overall {
		code = http.StatusServiceUnavailable
	}
	WriteSuccess(w, healthResponse{HealthStatus: status, ActiveConnections: h.registry.Count()}, code)
}
