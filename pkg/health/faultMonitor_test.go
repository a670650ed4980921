package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"edgehost/pkg/endpoint"
	"edgehost/pkg/host"
	"edgehost/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorderRecoverer struct {
	mu      sync.Mutex
	started []string
}

func (r *recorderRecoverer) Recover(_ context.Context, name string) (bool, endpoint.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, name)
	return true, endpoint.Success()
}

func (r *recorderRecoverer) Started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

func faultEvent(instance string, at time.Time) models.Event {
	e := models.NewEvent(models.EventStateChanged, instance, endpoint.StateChanged{
		Instance:      instance,
		PreviousState: endpoint.StateStarting,
		NewState:      endpoint.StateFaulted,
		Message:       "endpoint " + instance + ": start: lifecycle error: boom",
	})
	e.Timestamp = at
	return e
}

func TestHandleFault(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		recovery  bool
		offsets   []time.Duration
		wantCount int
		wantLast  string
	}{
		{
			name:      "first fault recovers",
			recovery:  true,
			offsets:   []time.Duration{0},
			wantCount: 1,
			wantLast:  "ep1",
		},
		{
			name:      "recovery disabled",
			recovery:  false,
			offsets:   []time.Duration{0},
			wantCount: 1,
			wantLast:  "",
		},
		{
			name:      "count grows within window",
			recovery:  true,
			offsets:   []time.Duration{0, time.Minute},
			wantCount: 2,
			wantLast:  "ep1",
		},
		{
			name:      "threshold reached gives up",
			recovery:  true,
			offsets:   []time.Duration{0, time.Minute, 2 * time.Minute},
			wantCount: 0,
			wantLast:  "",
		},
		{
			name:      "window expiry resets count",
			recovery:  true,
			offsets:   []time.Duration{0, time.Minute, 20 * time.Minute},
			wantCount: 1,
			wantLast:  "ep1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm := NewFaultMonitor(nil, &recorderRecoverer{}, tt.recovery, 10, 3)
			var last string
			for _, offset := range tt.offsets {
				last = fm.handleEvent(faultEvent("ep1", base.Add(offset)))
			}
			assert.Equal(t, tt.wantCount, fm.faults["ep1"].Count)
			assert.Equal(t, tt.wantLast, last)
		})
	}
}

func TestHandleEventIgnoresOtherTransitions(t *testing.T) {
	fm := NewFaultMonitor(nil, &recorderRecoverer{}, true, 10, 3)

	running := models.NewEvent(models.EventStateChanged, "ep1", endpoint.StateChanged{
		Instance: "ep1", PreviousState: endpoint.StateStarting, NewState: endpoint.StateRunning,
	})
	assert.Empty(t, fm.handleEvent(running))
	assert.Empty(t, fm.handleEvent(models.NewEvent(models.EventConfigured, "ep1", nil)))
	assert.Empty(t, fm.handleEvent(models.NewEvent(models.EventStateChanged, "ep1", "not a change")))
	assert.Empty(t, fm.faults)

	fm.handleEvent(faultEvent("ep1", time.Now()))
	require.Contains(t, fm.faults, "ep1")
	fm.handleEvent(models.NewEvent(models.EventInstanceRemoved, "ep1", nil))
	assert.NotContains(t, fm.faults, "ep1")
}

func TestStopFaultIsNotRecovered(t *testing.T) {
	fm := NewFaultMonitor(nil, &recorderRecoverer{}, true, 10, 3)

	stopFault := models.NewEvent(models.EventStateChanged, "ep1", endpoint.StateChanged{
		Instance:      "ep1",
		PreviousState: endpoint.StateStopping,
		NewState:      endpoint.StateFaulted,
		Message:       "endpoint ep1: stop: lifecycle error: boom",
	})
	assert.Empty(t, fm.handleEvent(stopFault))
	assert.Equal(t, 1, fm.faults["ep1"].Count, "stop faults still count towards the threshold")
}

func TestRecoveryNeedsRecoverer(t *testing.T) {
	fm := NewFaultMonitor(nil, nil, true, 10, 3)
	assert.Empty(t, fm.handleEvent(faultEvent("ep1", time.Now())))
}

func TestRunRecoversFaultedInstance(t *testing.T) {
	events := make(chan models.Event, 4)
	recoverer := &recorderRecoverer{}
	fm := NewFaultMonitor(events, recoverer, true, 10, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fm.Run(ctx)
		close(done)
	}()

	events <- faultEvent("ep1", time.Now())

	assert.Eventually(t, func() bool {
		return len(recoverer.Started()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"ep1"}, recoverer.Started())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fault monitor did not stop")
	}
}

func TestRunStopsWhenChannelCloses(t *testing.T) {
	events := make(chan models.Event)
	fm := NewFaultMonitor(events, nil, false, 10, 3)

	done := make(chan struct{})
	go func() {
		fm.Run(context.Background())
		close(done)
	}()
	close(events)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fault monitor did not stop")
	}
}

type flakyConfig struct {
	Target string `json:"target" validate:"required"`
}

type flakyDriver struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
}

func (d *flakyDriver) Start(context.Context, flakyConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startErr
}

func (d *flakyDriver) Stop(context.Context, endpoint.StopMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopErr
}

func (d *flakyDriver) Send(context.Context, flakyConfig, any) error { return nil }

func (d *flakyDriver) set(startErr, stopErr error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startErr, d.stopErr = startErr, stopErr
}

// runHost wires a manager and a recovering fault monitor the way the daemon does.
func runHost(t *testing.T) (*host.Manager, *flakyDriver) {
	t.Helper()
	driver := &flakyDriver{}
	registry := endpoint.NewRegistry()
	require.NoError(t, endpoint.Register(registry, endpoint.Registration[flakyConfig]{
		TypeID:  "flaky",
		Default: func() flakyConfig { return flakyConfig{Target: "device"} },
		NewDriver: func(endpoint.Services) (endpoint.Driver[flakyConfig], error) {
			return driver, nil
		},
	}))

	events := make(chan models.Event, 64)
	manager := host.NewManager(registry, endpoint.Services{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, events)
	_, err := manager.Create(context.Background(), models.EndpointSpec{Name: "ep1", Type: "flaky"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go NewFaultMonitor(events, manager, true, 10, 3).Run(ctx)
	return manager, driver
}

func stateOf(t *testing.T, manager *host.Manager) endpoint.State {
	ep, err := manager.Get("ep1")
	require.NoError(t, err)
	return ep.State()
}

func TestRecoveryRestartsFailedStart(t *testing.T) {
	manager, driver := runHost(t)
	ctx := context.Background()

	driver.set(errors.New("device unreachable"), nil)
	require.False(t, manager.Start(ctx, "ep1").Succeeded())
	driver.set(nil, nil)

	assert.Eventually(t, func() bool {
		return stateOf(t, manager) == endpoint.StateRunning
	}, time.Second, 10*time.Millisecond)
}

func TestRecoveryLeavesFailedStopDown(t *testing.T) {
	manager, driver := runHost(t)
	ctx := context.Background()
	require.True(t, manager.Start(ctx, "ep1").Succeeded())

	driver.set(nil, errors.New("port busy"))
	require.False(t, manager.Stop(ctx, "ep1", endpoint.StopModeStop).Succeeded())
	require.Equal(t, endpoint.StateFaulted, stateOf(t, manager))

	assert.Never(t, func() bool {
		return stateOf(t, manager) == endpoint.StateRunning
	}, 200*time.Millisecond, 10*time.Millisecond)
}

func TestRecoveryIgnoresFaultResolvedByRestart(t *testing.T) {
	manager, driver := runHost(t)
	ctx := context.Background()

	driver.set(errors.New("device unreachable"), nil)
	result := manager.Restart(ctx, "ep1", endpoint.StopModeStop)
	require.False(t, result.Succeeded())
	require.Equal(t, endpoint.StateStopped, stateOf(t, manager))
	driver.set(nil, nil)

	assert.Never(t, func() bool {
		return stateOf(t, manager) == endpoint.StateRunning
	}, 200*time.Millisecond, 10*time.Millisecond)
}
