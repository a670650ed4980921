package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"edgehost/pkg/endpoint"
	"edgehost/pkg/models"

	"gorm.io/gorm"
)

// ConfigStore persists endpoint configuration payloads in the endpoint_configurations table.
// Payloads are AES encrypted at rest when a secret is configured.
type ConfigStore struct {
	repo   Repository[models.EndpointConfiguration]
	cipher *payloadCipher
	logger *slog.Logger
}

var _ endpoint.ConfigStore = (*ConfigStore)(nil)

// NewConfigStore fails with ErrInvalidSecret when secretKey is set but is not a 64 hex character AES key.
func NewConfigStore(db *gorm.DB, secretKey string) (*ConfigStore, error) {
	cipher, err := newPayloadCipher(secretKey)
	if err != nil {
		return nil, err
	}
	return &ConfigStore{
		repo:   NewGormRepository[models.EndpointConfiguration](db, "instance_name", "type_id", "payload", "updated_at"),
		cipher: cipher,
		logger: slog.Default().With("component", "ConfigStore", "encrypted", cipher != nil),
	}, nil
}

func (s *ConfigStore) Load(ctx context.Context, instance string) ([]byte, error) {
	record, err := s.repo.Get(ctx, instance)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", endpoint.ErrConfigNotFound, instance)
		}
		return nil, fmt.Errorf("failed to load configuration of %s: %w", instance, err)
	}

	payload, err := s.cipher.open(record)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration of %s: %w", instance, err)
	}
	return []byte(payload), nil
}

func (s *ConfigStore) Save(ctx context.Context, instance, typeID string, payload []byte) error {
	record := models.EndpointConfiguration{
		InstanceName: instance,
		TypeID:       typeID,
		Payload:      string(payload),
	}

	record, err := s.cipher.seal(record)
	if err != nil {
		return fmt.Errorf("failed to save configuration of %s: %w", instance, err)
	}

	if _, err := s.repo.Upsert(ctx, &record); err != nil {
		return fmt.Errorf("failed to save configuration of %s: %w", instance, err)
	}
	s.logger.Debug("Configuration saved", "instance", instance, "type", typeID)
	return nil
}

// Delete drops the stored configuration of an instance; a missing row is not an error.
func (s *ConfigStore) Delete(ctx context.Context, instance string) error {
	if err := s.repo.Delete(ctx, instance); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to delete configuration of %s: %w", instance, err)
	}
	return nil
}

// Instances lists the names of every instance with a stored configuration.
func (s *ConfigStore) Instances(ctx context.Context) ([]string, error) {
	records, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(records))
	for _, record := range records {
		names = append(names, record.InstanceName)
	}
	return names, nil
}
