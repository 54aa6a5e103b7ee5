package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hashir-ayaz/container-service-cloud-platform/internal/domain"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/ws"
)

// Service fans workload lifecycle events out to websocket subscribers.
type Service struct {
	hub    *ws.Hub
	logger *slog.Logger
}

// New constructs a Service.
func New(hub *ws.Hub, logger *slog.Logger) Service {
	return Service{hub: hub, logger: logger}
}

// Hub exposes the underlying hub for subscription management.
func (s Service) Hub() *ws.Hub {
	return s.hub
}

// Emit publishes a lifecycle event to everyone watching the workload.
// Emission is best-effort; provisioning never blocks on observers.
func (s Service) Emit(event domain.LifecycleEvent) {
	if s.hub == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to encode lifecycle event", "workload_id", event.WorkloadID, "error", err)
		return
	}
	s.hub.Broadcast(event.WorkloadID, payload)
}
