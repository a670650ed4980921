// Package host owns the endpoint instances of a running edgehost: it creates them from the
// type registry, applies their initial configuration, serializes every call made on an
// instance and publishes what happens to them as models.Event values.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"edgehost/pkg/endpoint"
	"edgehost/pkg/models"

	"golang.org/x/sync/errgroup"
)

var (
	ErrInstanceNotFound  = errors.New("endpoint instance not found")
	ErrDuplicateInstance = errors.New("endpoint instance already exists")
)

const defaultStartConcurrency = 4

// managed is one instance plus the lock that serializes calls on it.
type managed struct {
	mu          sync.Mutex
	endpoint    endpoint.Endpoint
	spec        models.EndpointSpec
	unsubscribe func()
	removed     bool
}

// Manager is the host application manager.
type Manager struct {
	registry    *endpoint.Registry
	services    endpoint.Services
	events      chan<- models.Event
	fingerprint string
	concurrency int
	logger      *slog.Logger

	mu        sync.RWMutex
	instances map[string]*managed
	reserved  map[string]struct{} // Names of instances still being created
}

// Option configures a Manager.
type Option func(*Manager)

// WithFingerprint sets the integrity token assigned to every instance the manager creates.
func WithFingerprint(fingerprint string) Option {
	return func(m *Manager) { m.fingerprint = fingerprint }
}

// WithStartConcurrency bounds how many instances StartAll and StopAll drive at once.
func WithStartConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// NewManager creates a manager. events may be nil when nobody listens.
func NewManager(registry *endpoint.Registry, services endpoint.Services, events chan<- models.Event, opts ...Option) *Manager {
	if services.Logger == nil {
		services.Logger = slog.Default()
	}
	if services.Validator == nil {
		services.Validator = endpoint.NewValidator()
	}
	m := &Manager{
		registry:    registry,
		services:    services,
		events:      events,
		concurrency: defaultStartConcurrency,
		logger:      services.Logger.With("component", "HostManager"),
		instances:   make(map[string]*managed),
		reserved:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the type registry instances are created from.
func (m *Manager) Registry() *endpoint.Registry { return m.registry }

// Create builds an instance of spec.Type named spec.Name. Its initial configuration comes from
// the configuration store when it holds one, then from spec.Settings, then from the type default.
func (m *Manager) Create(ctx context.Context, spec models.EndpointSpec) (endpoint.Endpoint, error) {
	if err := m.services.Validator.Struct(spec); err != nil {
		return nil, fmt.Errorf("%w: invalid endpoint spec: %v", endpoint.ErrConfiguration, err)
	}
	desc, err := m.registry.Lookup(spec.Type)
	if err != nil {
		return nil, err
	}

	// The name is reserved while the store is read so other calls are not held up.
	if err := m.reserve(spec.Name); err != nil {
		return nil, err
	}
	created := false
	defer func() {
		if !created {
			m.release(spec.Name)
		}
	}()

	ep, err := desc.New(spec.Name, m.services)
	if err != nil {
		return nil, err
	}
	ep.SetFingerprint(m.fingerprint)

	source, err := m.applyInitialConfiguration(ctx, ep, desc, spec)
	if err != nil {
		return nil, err
	}

	mi := &managed{endpoint: ep, spec: spec}
	mi.unsubscribe = ep.Subscribe(endpoint.ObserverFunc(m.publishStateChange))
	m.mu.Lock()
	delete(m.reserved, spec.Name)
	m.instances[spec.Name] = mi
	m.mu.Unlock()
	created = true

	m.logger.Info("Endpoint instance created", "instance", spec.Name, "type", spec.Type, "configuration", source)
	m.publish(models.NewEvent(models.EventInstanceCreated, spec.Name, ep.Metadata()))
	return ep, nil
}

func (m *Manager) reserve(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.instances[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateInstance, name)
	}
	if _, pending := m.reserved[name]; pending {
		return fmt.Errorf("%w: %s", ErrDuplicateInstance, name)
	}
	m.reserved[name] = struct{}{}
	return nil
}

func (m *Manager) release(name string) {
	m.mu.Lock()
	delete(m.reserved, name)
	m.mu.Unlock()
}

// applyInitialConfiguration returns where the applied configuration came from.
func (m *Manager) applyInitialConfiguration(ctx context.Context, ep endpoint.Endpoint, desc endpoint.Descriptor, spec models.EndpointSpec) (string, error) {
	if m.services.Store != nil {
		result := ep.ConfigureFromStore(ctx)
		if result.Succeeded() {
			return "store", nil
		}
		if !errors.Is(result.Err(), endpoint.ErrConfigNotFound) {
			m.logger.Warn("Stored configuration rejected, falling back", "instance", spec.Name, "error", result.Err())
		}
	}

	if len(spec.Settings) > 0 {
		cfg, err := endpoint.DecodeMap(desc.Definition, desc.Default(), spec.Settings)
		if err != nil {
			return "", fmt.Errorf("endpoint %s: %w", spec.Name, err)
		}
		if err := ep.Configure(ctx, cfg).Err(); err != nil {
			return "", err
		}
		return "settings", nil
	}

	if err := ep.Configure(ctx, desc.Default()).Err(); err != nil {
		m.logger.Warn("Default configuration rejected, instance left unconfigured", "instance", spec.Name, "error", err)
		return "none", nil
	}
	return "default", nil
}

// Get returns the instance called name.
func (m *Manager) Get(name string) (endpoint.Endpoint, error) {
	mi, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return mi.endpoint, nil
}

// List returns every instance, sorted by instance name.
func (m *Manager) List() []endpoint.Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]endpoint.Endpoint, 0, len(m.instances))
	for _, mi := range m.instances {
		list = append(list, mi.endpoint)
	}
	sort.Slice(list, func(a, b int) bool { return list[a].InstanceName() < list[b].InstanceName() })
	return list
}

// Remove stops the instance unless it is already stopped and forgets it. The instance is
// removed even when stopping fails.
func (m *Manager) Remove(ctx context.Context, name string) endpoint.Result {
	mi, err := m.lookup(name)
	if err != nil {
		return endpoint.Failure(err)
	}

	mi.mu.Lock()
	defer mi.mu.Unlock()
	if mi.removed {
		return endpoint.Failure(fmt.Errorf("%w: %s", ErrInstanceNotFound, name))
	}

	var result endpoint.Result
	if !mi.endpoint.IsInState(endpoint.StateStopped) {
		result = mi.endpoint.Stop(ctx, endpoint.StopModeStop)
	}
	mi.unsubscribe()
	mi.removed = true

	m.mu.Lock()
	delete(m.instances, name)
	m.mu.Unlock()

	m.logger.Info("Endpoint instance removed", "instance", name)
	m.publish(models.NewEvent(models.EventInstanceRemoved, name, nil))
	return result
}

// configDeleter is implemented by configuration stores that can drop an instance's payload.
type configDeleter interface {
	Delete(ctx context.Context, instance string) error
}

// Purge removes the instance and deletes its stored configuration.
func (m *Manager) Purge(ctx context.Context, name string) endpoint.Result {
	result := m.Remove(ctx, name)
	if errors.Is(result.Err(), ErrInstanceNotFound) {
		return result
	}

	deleter, ok := m.services.Store.(configDeleter)
	if !ok {
		result.Add(&endpoint.Error{Kind: endpoint.ErrNotSupported, Op: "purge", Instance: name, Err: errors.New("configuration store cannot delete")})
		return result
	}
	if err := deleter.Delete(ctx, name); err != nil {
		result.Add(&endpoint.Error{Kind: endpoint.ErrConfiguration, Op: "purge", Instance: name, Err: err})
		return result
	}
	m.logger.Info("Stored configuration deleted", "instance", name)
	return result
}

func (m *Manager) Start(ctx context.Context, name string) endpoint.Result {
	return m.with(name, func(ep endpoint.Endpoint) endpoint.Result {
		return ep.Start(ctx)
	})
}

// Recover starts the instance again if it is still faulted once its lock is held. An instance
// that left the faulted state in the meantime, because it was stopped or restarted, is left alone
// and recovered is false.
func (m *Manager) Recover(ctx context.Context, name string) (recovered bool, result endpoint.Result) {
	result = m.with(name, func(ep endpoint.Endpoint) endpoint.Result {
		if !ep.IsInState(endpoint.StateFaulted) {
			m.logger.Debug("Recovery skipped, endpoint not faulted", "instance", name, "state", ep.State())
			return endpoint.Success()
		}
		recovered = true
		return ep.Start(ctx)
	})
	return recovered, result
}

func (m *Manager) Stop(ctx context.Context, name string, mode endpoint.StopMode) endpoint.Result {
	return m.with(name, func(ep endpoint.Endpoint) endpoint.Result {
		return ep.Stop(ctx, mode)
	})
}

func (m *Manager) Restart(ctx context.Context, name string, mode endpoint.StopMode) endpoint.Result {
	return m.with(name, func(ep endpoint.Endpoint) endpoint.Result {
		return ep.Restart(ctx, mode)
	})
}

// Configure applies cfg, a value of the instance's configuration model.
func (m *Manager) Configure(ctx context.Context, name string, cfg any) endpoint.Result {
	return m.with(name, func(ep endpoint.Endpoint) endpoint.Result {
		return m.configured(ep, ep.Configure(ctx, cfg))
	})
}

// ConfigureJSON decodes data into the instance's configuration model and applies it.
func (m *Manager) ConfigureJSON(ctx context.Context, name string, data []byte) endpoint.Result {
	return m.with(name, func(ep endpoint.Endpoint) endpoint.Result {
		cfg, err := endpoint.DecodeJSON(ep.Definition(), data)
		if err != nil {
			return endpoint.Failure(&endpoint.Error{Kind: endpoint.ErrConfiguration, Op: "configure", Instance: name, Err: err})
		}
		return m.configured(ep, ep.Configure(ctx, cfg))
	})
}

func (m *Manager) ConfigureFromStore(ctx context.Context, name string) endpoint.Result {
	return m.with(name, func(ep endpoint.Endpoint) endpoint.Result {
		return m.configured(ep, ep.ConfigureFromStore(ctx))
	})
}

func (m *Manager) SaveConfiguration(ctx context.Context, name string) endpoint.Result {
	return m.with(name, func(ep endpoint.Endpoint) endpoint.Result {
		result := ep.SaveConfiguration(ctx)
		if result.Succeeded() {
			m.publish(models.NewEvent(models.EventConfigurationSaved, name, nil))
		}
		return result
	})
}

func (m *Manager) Send(ctx context.Context, name string, value any) endpoint.Result {
	return m.with(name, func(ep endpoint.Endpoint) endpoint.Result {
		return ep.Send(ctx, value)
	})
}

// StartAll starts the named instances, or every instance when names is empty.
func (m *Manager) StartAll(ctx context.Context, names ...string) endpoint.Result {
	if len(names) == 0 {
		names = m.names(func(*managed) bool { return true })
	}
	return m.fanOut(ctx, names, func(ctx context.Context, name string) endpoint.Result {
		return m.Start(ctx, name)
	})
}

// StopAll stops every instance that is not already stopped.
func (m *Manager) StopAll(ctx context.Context) endpoint.Result {
	names := m.names(func(mi *managed) bool { return !mi.endpoint.IsInState(endpoint.StateStopped) })
	return m.fanOut(ctx, names, func(ctx context.Context, name string) endpoint.Result {
		return m.Stop(ctx, name, endpoint.StopModeStop)
	})
}

// AutoStart starts the instances declared with auto_start.
func (m *Manager) AutoStart(ctx context.Context) endpoint.Result {
	names := m.names(func(mi *managed) bool { return mi.spec.AutoStart })
	if len(names) == 0 {
		return endpoint.Success()
	}
	m.logger.Info("Auto-starting endpoints", "count", len(names))
	return m.StartAll(ctx, names...)
}

func (m *Manager) fanOut(ctx context.Context, names []string, op func(context.Context, string) endpoint.Result) endpoint.Result {
	results := make([]endpoint.Result, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for idx, name := range names {
		idx, name := idx, name
		g.Go(func() error {
			results[idx] = op(gctx, name)
			return nil
		})
	}
	_ = g.Wait()
	return endpoint.Combine(results...)
}

func (m *Manager) with(name string, fn func(endpoint.Endpoint) endpoint.Result) endpoint.Result {
	mi, err := m.lookup(name)
	if err != nil {
		return endpoint.Failure(err)
	}
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if mi.removed {
		return endpoint.Failure(fmt.Errorf("%w: %s", ErrInstanceNotFound, name))
	}
	return fn(mi.endpoint)
}

func (m *Manager) configured(ep endpoint.Endpoint, result endpoint.Result) endpoint.Result {
	if result.Succeeded() {
		cfg, _ := ep.Configuration()
		m.publish(models.NewEvent(models.EventConfigured, ep.InstanceName(), cfg))
	}
	return result
}

func (m *Manager) lookup(name string) (*managed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mi, ok := m.instances[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, name)
	}
	return mi, nil
}

func (m *Manager) names(keep func(*managed) bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.instances))
	for name, mi := range m.instances {
		if keep(mi) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
