package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of host event.
type EventType string

const (
	EventStateChanged       EventType = "state_changed"
	EventConfigured         EventType = "configured"
	EventConfigurationSaved EventType = "configuration_saved"
	EventInstanceCreated    EventType = "instance_created"
	EventInstanceRemoved    EventType = "instance_removed"
	EventAnything           EventType = "*"
)

// Event is published by the host manager for every observable change of an endpoint instance.
type Event struct {
	ID        uuid.UUID   `json:"id"`
	Type      EventType   `json:"type"`
	Instance  string      `json:"instance"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent stamps a new event with a random ID and the current time.
func NewEvent(eventType EventType, instance string, payload interface{}) Event {
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Instance:  instance,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Matches reports whether the event is of type t; EventAnything matches every event.
func (e Event) Matches(t EventType) bool {
	return t == EventAnything || e.Type == t
}
