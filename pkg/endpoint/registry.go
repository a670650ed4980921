package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownType   = errors.New("unknown endpoint type")
	ErrDuplicateType = errors.New("endpoint type already registered")
)

// ConfigStore is the host's persistence for per-instance configuration payloads.
type ConfigStore interface {
	// Load returns the stored payload or an error matching ErrConfigNotFound.
	Load(ctx context.Context, instance string) ([]byte, error)
	Save(ctx context.Context, instance, typeID string, payload []byte) error
}

// Services are the host collaborators handed to every instance at construction.
type Services struct {
	Store     ConfigStore // Optional; without it store refresh and save are not supported
	Logger    *slog.Logger
	Validator *validator.Validate
}

func (s Services) withDefaults() Services {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Validator == nil {
		s.Validator = NewValidator()
	}
	return s
}

// NewValidator returns the validator used for configuration models.
func NewValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// Descriptor is the type-level registry entry of an endpoint type.
// It is usable before any instance of the type exists.
type Descriptor struct {
	TypeID     string
	Name       string
	Definition Definition
	Default    func() any // Fresh default configuration, never fails
	New        func(instanceName string, services Services) (Endpoint, error)
}

// Registry maps endpoint type identifiers to their descriptors.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Descriptor)}
}

// Add registers a descriptor. Type identifiers are unique.
func (r *Registry) Add(d Descriptor) error {
	if d.TypeID == "" {
		return fmt.Errorf("%w: empty type id", ErrUnknownType)
	}
	if d.New == nil || d.Default == nil {
		return fmt.Errorf("descriptor %q is incomplete", d.TypeID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[d.TypeID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateType, d.TypeID)
	}
	r.types[d.TypeID] = d
	return nil
}

// Lookup returns the descriptor of typeID.
func (r *Registry) Lookup(typeID string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[typeID]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownType, typeID)
	}
	return d, nil
}

// Types returns the registered type identifiers in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ConfigurationDefinition returns the static definition of typeID.
func (r *Registry) ConfigurationDefinition(typeID string) (Definition, error) {
	d, err := r.Lookup(typeID)
	if err != nil {
		return Definition{}, err
	}
	return d.Definition, nil
}

// DefaultConfiguration returns a fresh default configuration of typeID.
func (r *Registry) DefaultConfiguration(typeID string) (any, error) {
	d, err := r.Lookup(typeID)
	if err != nil {
		return nil, err
	}
	return d.Default(), nil
}

// Registration describes an endpoint type whose configuration model is C.
type Registration[C any] struct {
	TypeID    string // Also used as the instance PluginType
	Name      string
	FQN       string
	Version   string
	Form      string
	Schema    string
	Default   func() C
	NewDriver func(services Services) (Driver[C], error)
}

// Definition returns the type's configuration definition.
func (reg Registration[C]) Definition() Definition {
	return Definition{
		Form:   reg.Form,
		Schema: reg.Schema,
		Model:  reflect.TypeOf((*C)(nil)).Elem(),
	}
}

// DefaultConfiguration returns the type's default configuration.
// A missing or panicking default factory yields the zero value of C.
func (reg Registration[C]) DefaultConfiguration() (cfg C) {
	if reg.Default == nil {
		return cfg
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Default configuration factory panicked", "component", "Endpoint", "type", reg.TypeID, "panic", r)
			var zero C
			cfg = zero
		}
	}()
	return reg.Default()
}

// Descriptor builds the registry entry for the type.
func (reg Registration[C]) Descriptor() Descriptor {
	return Descriptor{
		TypeID:     reg.TypeID,
		Name:       reg.Name,
		Definition: reg.Definition(),
		Default:    func() any { return reg.DefaultConfiguration() },
		New: func(instanceName string, services Services) (Endpoint, error) {
			instance, err := reg.NewInstance(instanceName, services)
			if err != nil {
				return nil, err
			}
			return instance, nil
		},
	}
}

// NewInstance constructs a typed instance of the registration.
func (reg Registration[C]) NewInstance(instanceName string, services Services) (*Instance[C], error) {
	if reg.NewDriver == nil {
		return nil, fmt.Errorf("endpoint type %q has no driver factory", reg.TypeID)
	}
	services = services.withDefaults()
	driverServices := services
	driverServices.Logger = services.Logger.With("instance", instanceName, "type", reg.TypeID)
	driver, err := reg.NewDriver(driverServices)
	if err != nil {
		return nil, fmt.Errorf("create %s driver: %w", reg.TypeID, err)
	}
	meta := Metadata{
		Name:         reg.Name,
		InstanceName: instanceName,
		FQN:          reg.FQN,
		Version:      reg.Version,
		PluginType:   reg.TypeID,
	}
	return newInstance(meta, reg, driver, services), nil
}

// Register adds reg to r.
func Register[C any](r *Registry, reg Registration[C]) error {
	return r.Add(reg.Descriptor())
}
