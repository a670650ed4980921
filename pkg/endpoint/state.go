// Package endpoint defines the lifecycle and configuration contract shared by every
// endpoint driver hosted by the core. An endpoint moves data between the host and an
// external system and is started, stopped, restarted and configured through this package.
package endpoint

import "strings"

// State is the operational status of an endpoint instance.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateFaulted  State = "faulted"
)

// States lists every lifecycle state, initial state first.
var States = []State{StateStopped, StateStarting, StateRunning, StateStopping, StateFaulted}

func (s State) String() string { return string(s) }

// StopMode tells a driver why it is being stopped.
type StopMode uint8

const (
	// StopModeStop is a plain graceful stop.
	StopModeStop StopMode = 1 << iota
	// StopModeRestart marks a stop issued as part of a restart.
	StopModeRestart
)

// Has reports whether every bit of flag is set in m.
func (m StopMode) Has(flag StopMode) bool {
	return flag != 0 && m&flag == flag
}

func (m StopMode) String() string {
	var parts []string
	if m.Has(StopModeStop) {
		parts = append(parts, "stop")
	}
	if m.Has(StopModeRestart) {
		parts = append(parts, "restart")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}
