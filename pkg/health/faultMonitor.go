package health

import (
	"context"
	"log/slog"
	"time"

	"edgehost/pkg/endpoint"
	"edgehost/pkg/models"
)

// FaultRecord tracks fault state for a single endpoint instance.
type FaultRecord struct {
	LastTime time.Time
	Count    int
}

// Recoverer restarts a faulted instance. *host.Manager satisfies it.
// Recover must be a no-op unless the instance is still faulted when it runs.
type Recoverer interface {
	Recover(ctx context.Context, name string) (recovered bool, result endpoint.Result)
}

// FaultMonitor counts transitions into the faulted state per instance. Below the threshold it
// optionally asks the host to start the instance again; at the threshold it gives up and leaves
// the instance faulted. Only faults raised while starting are recovered: a failed stop was asked
// for by the operator and stays down. It only communicates through the host event channel and
// the Recoverer.
type FaultMonitor struct {
	faults    map[string]FaultRecord
	eventChan <-chan models.Event
	recoverer Recoverer
	recovery  bool
	window    time.Duration
	threshold int
}

// NewFaultMonitor creates a new FaultMonitor instance.
// recoverer may be nil when recovery is disabled.
func NewFaultMonitor(
	eventChan <-chan models.Event,
	recoverer Recoverer,
	recoveryEnabled bool,
	windowMin int,
	threshold int,
) *FaultMonitor {
	return &FaultMonitor{
		faults:    make(map[string]FaultRecord),
		eventChan: eventChan,
		recoverer: recoverer,
		recovery:  recoveryEnabled && recoverer != nil,
		window:    time.Duration(windowMin) * time.Minute,
		threshold: threshold,
	}
}

// Run starts the fault monitor's main loop.
func (fm *FaultMonitor) Run(ctx context.Context) {
	slog.Info("Starting fault monitor", "component", "FaultMonitor", "window", fm.window.String(), "threshold", fm.threshold, "recovery", fm.recovery)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping fault monitor", "component", "FaultMonitor")
			return
		case event, ok := <-fm.eventChan:
			if !ok {
				slog.Info("Event channel closed, stopping fault monitor", "component", "FaultMonitor")
				return
			}
			if recovery := fm.handleEvent(event); recovery != "" {
				go fm.recoverInstance(ctx, recovery)
			}
		}
	}
}

// handleEvent updates the fault counts and returns the instance to recover, if any.
func (fm *FaultMonitor) handleEvent(event models.Event) string {
	switch event.Type {
	case models.EventInstanceRemoved:
		delete(fm.faults, event.Instance)
		return ""
	case models.EventStateChanged:
		change, ok := event.Payload.(endpoint.StateChanged)
		if !ok || change.NewState != endpoint.StateFaulted {
			return ""
		}
		return fm.handleFault(event.Instance, change.Message, event.Timestamp, change.PreviousState == endpoint.StateStarting)
	default:
		return ""
	}
}

// handleFault processes a fault and updates the fault count.
func (fm *FaultMonitor) handleFault(instance, reason string, at time.Time, recoverable bool) string {
	record := fm.faults[instance]

	if !record.LastTime.IsZero() && at.Sub(record.LastTime) < fm.window {
		// Within window: increment count
		record.Count++
		slog.Debug("Fault count increased",
			"component", "FaultMonitor",
			"instance", instance,
			"reason", reason,
			"count", record.Count,
			"threshold", fm.threshold,
		)
	} else {
		// Outside window: reset count to 1
		record.Count = 1
		slog.Debug("Fault window reset",
			"component", "FaultMonitor",
			"instance", instance,
			"reason", reason,
		)
	}

	if record.Count >= fm.threshold {
		slog.Warn("Endpoint exceeded fault threshold, leaving it faulted",
			"component", "FaultMonitor",
			"instance", instance,
			"count", record.Count,
		)
		delete(fm.faults, instance)
		return ""
	}

	record.LastTime = at
	fm.faults[instance] = record

	if !fm.recovery {
		return ""
	}
	if !recoverable {
		slog.Info("Endpoint faulted while stopping, not recovering", "component", "FaultMonitor", "instance", instance)
		return ""
	}
	return instance
}

// recoverInstance asks the host to start a faulted instance again.
func (fm *FaultMonitor) recoverInstance(ctx context.Context, instance string) {
	slog.Info("Recovering faulted endpoint", "component", "FaultMonitor", "instance", instance)
	recovered, result := fm.recoverer.Recover(ctx, instance)
	if err := result.Err(); err != nil {
		slog.Error("Failed to recover endpoint",
			"component", "FaultMonitor",
			"instance", instance,
			"error", err,
		)
		return
	}
	if !recovered {
		slog.Info("Endpoint no longer faulted, recovery skipped", "component", "FaultMonitor", "instance", instance)
		return
	}
	slog.Info("Endpoint recovered", "component", "FaultMonitor", "instance", instance)
}
