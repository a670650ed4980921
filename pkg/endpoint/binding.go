package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Config returns the current typed configuration, if one was applied.
func (i *Instance[C]) Config() (C, bool) {
	if p := i.config.Load(); p != nil {
		return *p, true
	}
	var zero C
	return zero, false
}

// Configuration returns the current configuration as an untyped value.
func (i *Instance[C]) Configuration() (any, bool) {
	cfg, ok := i.Config()
	if !ok {
		return nil, false
	}
	return cfg, true
}

// Configure validates cfg and replaces the current configuration with it.
// cfg must be a C or a non-nil *C.
func (i *Instance[C]) Configure(ctx context.Context, cfg any) Result {
	typed, err := i.coerce(cfg)
	if err != nil {
		return i.finish("configure", Failure(i.wrap(ErrConfiguration, "configure", err)))
	}
	return i.Apply(ctx, typed)
}

// Apply validates cfg and atomically replaces the current configuration. On failure the
// previous configuration is kept. When the instance is running and the driver implements
// Reconfigurer, the driver is told about the change first. The change is measured against the
// effective configuration, which is the type default for an instance started unconfigured;
// re-applying an equal value is a no-op for the driver.
func (i *Instance[C]) Apply(ctx context.Context, cfg C) Result {
	i.logger.Debug("Applying configuration", "state", i.State())

	if err := i.validateConfig(cfg); err != nil {
		return i.finish("configure", Failure(i.wrap(ErrConfiguration, "configure", err)))
	}

	previous := i.effectiveConfig()
	if reflect.DeepEqual(previous, cfg) {
		i.config.Store(&cfg)
		return i.finish("configure", Success())
	}

	if r, ok := i.driver.(Reconfigurer[C]); ok && i.IsInState(StateRunning) {
		if err := guard(func() error { return r.Reconfigure(ctx, previous, cfg) }); err != nil {
			return i.finish("configure", Failure(i.wrap(ErrConfiguration, "configure", err)))
		}
	}

	i.config.Store(&cfg)
	return i.finish("configure", Success())
}

// ConfigureFromStore re-applies whatever the host's configuration store holds for this instance.
func (i *Instance[C]) ConfigureFromStore(ctx context.Context) Result {
	if i.store == nil {
		return i.finish("reload", Failure(i.wrap(ErrNotSupported, "reload", errors.New("no configuration store"))))
	}

	payload, err := i.store.Load(ctx, i.meta.InstanceName)
	if err != nil {
		return i.finish("reload", Failure(i.wrap(ErrConfiguration, "reload", err)))
	}

	cfg := i.reg.DefaultConfiguration()
	if err := decodeStrict(payload, &cfg); err != nil {
		return i.finish("reload", Failure(i.wrap(ErrConfiguration, "reload", fmt.Errorf("decode stored configuration: %w", err))))
	}
	return i.Apply(ctx, cfg)
}

// SaveConfiguration writes the current configuration to the host's configuration store.
func (i *Instance[C]) SaveConfiguration(ctx context.Context) Result {
	if i.store == nil {
		return i.finish("save", Failure(i.wrap(ErrNotSupported, "save", errors.New("no configuration store"))))
	}

	cfg, ok := i.Config()
	if !ok {
		return i.finish("save", Failure(i.wrap(ErrConfiguration, "save", errors.New("endpoint is not configured"))))
	}

	payload, err := json.Marshal(cfg)
	if err != nil {
		return i.finish("save", Failure(i.wrap(ErrConfiguration, "save", err)))
	}
	if err := i.store.Save(ctx, i.meta.InstanceName, i.meta.PluginType, payload); err != nil {
		return i.finish("save", Failure(i.wrap(ErrConfiguration, "save", err)))
	}
	return i.finish("save", Success())
}

// effectiveConfig is what the driver runs with: the applied configuration, else the type default.
func (i *Instance[C]) effectiveConfig() C {
	if cfg, ok := i.Config(); ok {
		return cfg
	}
	return i.reg.DefaultConfiguration()
}

func (i *Instance[C]) coerce(cfg any) (C, error) {
	var zero C
	switch v := cfg.(type) {
	case C:
		return v, nil
	case *C:
		if v == nil {
			return zero, errors.New("configuration is nil")
		}
		return *v, nil
	case nil:
		return zero, errors.New("configuration is nil")
	default:
		return zero, fmt.Errorf("configuration is %T, want %s", cfg, reflect.TypeOf((*C)(nil)).Elem())
	}
}

func (i *Instance[C]) validateConfig(cfg C) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return errors.New("configuration is nil")
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		if err := i.validate.Struct(cfg); err != nil {
			return err
		}
	}
	if v, ok := any(cfg).(Validatable); ok {
		return v.Validate()
	}
	if v, ok := any(&cfg).(Validatable); ok {
		return v.Validate()
	}
	return nil
}
