package endpoint

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/looplab/fsm"
)

// Machine events. Operation events open a transition, completion events close it.
const (
	eventStart   = "start"
	eventStarted = "started"
	eventStop    = "stop"
	eventStopped = "stopped"
	eventFault   = "fault"
)

// Machine tracks the lifecycle state of one instance and notifies observers of every transition.
//
// Start and stop are accepted from any state except their own in-flight state; only the
// completion events are tied to a source. Whether a start on a running endpoint is meaningful
// is left to the driver.
type Machine struct {
	instance string
	logger   *slog.Logger
	fsm      *fsm.FSM

	mu        sync.RWMutex
	observers map[uint64]Observer
	nextID    uint64
}

// NewMachine creates a machine in the stopped state.
func NewMachine(instance string, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default().With("component", "Endpoint", "instance", instance)
	}
	m := &Machine{
		instance:  instance,
		logger:    logger,
		observers: make(map[uint64]Observer),
	}
	m.fsm = fsm.NewFSM(
		string(StateStopped),
		fsm.Events{
			{Name: eventStart, Src: sourcesExcept(StateStarting), Dst: string(StateStarting)},
			{Name: eventStarted, Src: []string{string(StateStarting)}, Dst: string(StateRunning)},
			{Name: eventStop, Src: sourcesExcept(StateStopping), Dst: string(StateStopping)},
			{Name: eventStopped, Src: []string{string(StateStopping)}, Dst: string(StateStopped)},
			{Name: eventFault, Src: []string{string(StateStarting), string(StateStopping)}, Dst: string(StateFaulted)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.notify(StateChanged{
					Instance:      m.instance,
					NewState:      State(e.Dst),
					PreviousState: State(e.Src),
					Message:       messageArg(e.Args),
				})
			},
		},
	)
	return m
}

func sourcesExcept(excluded State) []string {
	src := make([]string, 0, len(States)-1)
	for _, s := range States {
		if s != excluded {
			src = append(src, string(s))
		}
	}
	return src
}

func messageArg(args []interface{}) string {
	if len(args) == 0 {
		return ""
	}
	msg, _ := args[0].(string)
	return msg
}

// State returns the current state.
func (m *Machine) State() State {
	return State(m.fsm.Current())
}

// IsInState reports whether the current state is one of candidates.
func (m *Machine) IsInState(candidates ...State) bool {
	return slices.Contains(candidates, m.State())
}

// Subscribe registers o and returns a function that removes it again.
func (m *Machine) Subscribe(o Observer) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.observers[id] = o
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.observers, id)
			m.mu.Unlock()
		})
	}
}

// fire drives one transition. message is attached to the emitted StateChanged.
// fsm aborts transitions on a done context, so cancellation is detached here: an
// in-flight state must always be closed.
func (m *Machine) fire(ctx context.Context, event string, message string) error {
	return m.fsm.Event(context.WithoutCancel(ctx), event, message)
}

func (m *Machine) notify(event StateChanged) {
	m.mu.RLock()
	ids := make([]uint64, 0, len(m.observers))
	for id := range m.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	observers := make([]Observer, 0, len(ids))
	for _, id := range ids {
		observers = append(observers, m.observers[id])
	}
	m.mu.RUnlock()

	for _, o := range observers {
		m.deliver(o, event)
	}
}

func (m *Machine) deliver(o Observer, event StateChanged) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("Observer panicked", "new_state", event.NewState, "panic", r)
		}
	}()
	o.StateChanged(event)
}
