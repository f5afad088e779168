package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/neurondb/NeuronGateway/internal/logging"
	"github.com/neurondb/NeuronGateway/internal/metrics"
	"github.com/neurondb/NeuronGateway/internal/registry"
)

// SystemMetricsHandlers handles system metrics endpoints
type SystemMetricsHandlers struct {
	collector *metrics.SystemCollector
	registry  *registry.Registry
	upgrader  websocket.Upgrader
	interval  time.Duration
	logger    *logging.Logger
}

func NewSystemMetricsHandlers(collector *metrics.SystemCollector, reg *registry.Registry, allowedOrigins []string, logger *logging.Logger) *SystemMetricsHandlers {
	return &SystemMetricsHandlers{
		collector: collector,
		registry:  reg,
		upgrader:  websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)},
		interval:  time.Second,
		logger:    logger,
	}
}

// GetSystemMetrics returns current host and process metrics
func (h *SystemMetricsHandlers) GetSystemMetrics(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.collector.Collect(r.Context(), h.registry.Count()), http.StatusOK)
}

// SystemMetricsWebSocket streams system metrics once per interval
func (h *SystemMetricsHandlers) SystemMetricsWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade metrics stream", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	// drain reads so close frames from the client are noticed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		snapshot := h.collector.Collect(r.Context(), h.registry.Count())
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(snapshot); err != nil {
			h.logger.Debug("Metrics stream ended", map[string]interface{}{"error": err.Error()})
			return
		}

		select {
		case <-ticker.C:
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
