package endpoint

// StateChanged describes one lifecycle transition of an endpoint instance.
type StateChanged struct {
	Instance      string `json:"instance"`
	NewState      State  `json:"new_state"`
	PreviousState State  `json:"previous_state"`
	Message       string `json:"message,omitempty"` // Set on fault transitions
}

// Observer receives transitions synchronously on the goroutine that performed them.
// Implementations must return quickly; a slow observer stalls the lifecycle call.
type Observer interface {
	StateChanged(event StateChanged)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(event StateChanged)

func (f ObserverFunc) StateChanged(event StateChanged) { f(event) }
