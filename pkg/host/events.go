package host

import (
	"log/slog"

	"edgehost/pkg/endpoint"
	"edgehost/pkg/models"
)

// sendEvent sends an event to a channel without blocking.
// If the channel is full, it logs a warning and drops the event.
func sendEvent(ch chan<- models.Event, event models.Event) {
	select {
	case ch <- event:
	default:
		slog.Warn("Channel full, dropping event", "component", "HostManager", "event_type", event.Type, "instance", event.Instance)
	}
}

func (m *Manager) publish(event models.Event) {
	if m.events == nil {
		return
	}
	sendEvent(m.events, event)
}

// publishStateChange is subscribed to every instance; it runs on the transitioning goroutine.
func (m *Manager) publishStateChange(change endpoint.StateChanged) {
	m.logger.Debug("Endpoint state changed",
		"instance", change.Instance,
		"from", change.PreviousState,
		"to", change.NewState,
		"message", change.Message)
	m.publish(models.NewEvent(models.EventStateChanged, change.Instance, change))
}
