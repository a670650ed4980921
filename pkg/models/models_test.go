package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestEndpointConfiguration(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		config   EndpointConfiguration
		validate func(EndpointConfiguration, *testing.T)
	}{
		{
			name: "valid endpoint configuration",
			config: EndpointConfiguration{
				InstanceName: "exporter-1",
				TypeID:       "file-exporter",
				Payload:      `{"path":"/var/lib/edgehost/out.jsonl"}`,
				CreatedAt:    now,
				UpdatedAt:    now,
			},
			validate: func(c EndpointConfiguration, t *testing.T) {
				assert.Equal(t, "exporter-1", c.InstanceName)
				assert.Equal(t, "file-exporter", c.TypeID)
				assert.JSONEq(t, `{"path":"/var/lib/edgehost/out.jsonl"}`, c.Payload)
				assert.WithinDuration(t, now, c.CreatedAt, time.Second)
				assert.Equal(t, "exporter-1", c.GetKey())
			},
		},
		{
			name:   "zero values endpoint configuration",
			config: EndpointConfiguration{},
			validate: func(c EndpointConfiguration, t *testing.T) {
				assert.Empty(t, c.GetKey())
				assert.True(t, c.CreatedAt.IsZero())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(tt.config, t)
			assert.Equal(t, "endpoint_configurations", tt.config.TableName())
		})
	}
}

func TestNewEvent(t *testing.T) {
	before := time.Now().UTC()
	event := NewEvent(EventStateChanged, "ep1", map[string]string{"state": "running"})

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, EventStateChanged, event.Type)
	assert.Equal(t, "ep1", event.Instance)
	assert.WithinDuration(t, before, event.Timestamp, time.Second)

	other := NewEvent(EventStateChanged, "ep1", nil)
	assert.NotEqual(t, event.ID, other.ID)
}

func TestEventMatches(t *testing.T) {
	event := NewEvent(EventConfigured, "ep1", nil)

	assert.True(t, event.Matches(EventConfigured))
	assert.True(t, event.Matches(EventAnything))
	assert.False(t, event.Matches(EventStateChanged))
}
