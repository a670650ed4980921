package models

import (
	"time"
)

// EndpointConfiguration represents the endpoint_configurations table
type EndpointConfiguration struct {
	InstanceName string    `gorm:"primaryKey" json:"instance_name"`
	TypeID       string    `gorm:"not null" json:"type"`
	Payload      string    `gorm:"not null" json:"payload" gocrypt:"aes"` // Encrypted configuration JSON
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName overrides the default table name logic
func (EndpointConfiguration) TableName() string { return "endpoint_configurations" }

// GetKey returns the primary key value
func (c EndpointConfiguration) GetKey() string { return c.InstanceName }

// EndpointSpec declares an endpoint instance in the host configuration file.
type EndpointSpec struct {
	Name      string         `mapstructure:"name" json:"name" validate:"required"`
	Type      string         `mapstructure:"type" json:"type" validate:"required"`
	AutoStart bool           `mapstructure:"auto_start" json:"auto_start"`
	Settings  map[string]any `mapstructure:"settings" json:"settings,omitempty"`
}
