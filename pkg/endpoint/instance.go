package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
)

// Metadata is the identity of an instance. Only the fingerprint changes after construction.
type Metadata struct {
	Name         string `json:"name"`
	InstanceName string `json:"instance_name"`
	FQN          string `json:"fqn"`
	Version      string `json:"version"`
	PluginType   string `json:"plugin_type"`
}

// Endpoint is the management surface the host sees for every instance, whatever its driver.
type Endpoint interface {
	Metadata() Metadata
	Name() string
	InstanceName() string
	FQN() string
	Version() string
	PluginType() string
	Fingerprint() string
	SetFingerprint(fingerprint string)

	State() State
	IsInState(candidates ...State) bool
	Subscribe(o Observer) (unsubscribe func())

	Start(ctx context.Context) Result
	Stop(ctx context.Context, mode StopMode) Result
	Restart(ctx context.Context, mode StopMode) Result

	Definition() Definition
	Configuration() (any, bool)
	Configure(ctx context.Context, cfg any) Result
	ConfigureFromStore(ctx context.Context) Result
	SaveConfiguration(ctx context.Context) Result

	Send(ctx context.Context, value any) Result
}

// Driver is the transport specific part of an endpoint. Drivers are only ever called by
// their Instance, which converts returned errors and panics into Results.
type Driver[C any] interface {
	Start(ctx context.Context, cfg C) error
	Stop(ctx context.Context, mode StopMode) error
	Send(ctx context.Context, cfg C, value any) error
}

// Reconfigurer is implemented by drivers that must react to a configuration change while running.
type Reconfigurer[C any] interface {
	Reconfigure(ctx context.Context, previous, next C) error
}

// Validatable is implemented by configuration models with checks beyond struct tags.
type Validatable interface {
	Validate() error
}

// Instance is the generic Endpoint implementation: it owns the state machine and the
// configuration of one instance and delegates transport work to a Driver.
type Instance[C any] struct {
	meta     Metadata
	reg      Registration[C]
	driver   Driver[C]
	machine  *Machine
	store    ConfigStore
	validate *validator.Validate
	logger   *slog.Logger

	fingerprintMu sync.RWMutex
	fingerprint   string

	config atomic.Pointer[C]
}

func newInstance[C any](meta Metadata, reg Registration[C], driver Driver[C], services Services) *Instance[C] {
	logger := services.Logger.With("component", "Endpoint", "instance", meta.InstanceName, "type", meta.PluginType)
	return &Instance[C]{
		meta:     meta,
		reg:      reg,
		driver:   driver,
		machine:  NewMachine(meta.InstanceName, logger),
		store:    services.Store,
		validate: services.Validator,
		logger:   logger,
	}
}

func (i *Instance[C]) Metadata() Metadata     { return i.meta }
func (i *Instance[C]) Name() string           { return i.meta.Name }
func (i *Instance[C]) InstanceName() string   { return i.meta.InstanceName }
func (i *Instance[C]) FQN() string            { return i.meta.FQN }
func (i *Instance[C]) Version() string        { return i.meta.Version }
func (i *Instance[C]) PluginType() string     { return i.meta.PluginType }
func (i *Instance[C]) Definition() Definition { return i.reg.Definition() }

// Driver exposes the underlying driver.
func (i *Instance[C]) Driver() Driver[C] { return i.driver }

func (i *Instance[C]) Fingerprint() string {
	i.fingerprintMu.RLock()
	defer i.fingerprintMu.RUnlock()
	return i.fingerprint
}

// SetFingerprint records the integrity token assigned by the host. No transition is emitted.
func (i *Instance[C]) SetFingerprint(fingerprint string) {
	i.fingerprintMu.Lock()
	i.fingerprint = fingerprint
	i.fingerprintMu.Unlock()
}

func (i *Instance[C]) State() State { return i.machine.State() }

func (i *Instance[C]) IsInState(candidates ...State) bool { return i.machine.IsInState(candidates...) }

func (i *Instance[C]) Subscribe(o Observer) func() { return i.machine.Subscribe(o) }

// Start moves the instance through starting to running, or to faulted when the driver fails.
// Without an applied configuration the driver receives the type default.
func (i *Instance[C]) Start(ctx context.Context) Result {
	i.logger.Debug("Starting endpoint", "state", i.State())

	if err := i.machine.fire(ctx, eventStart, ""); err != nil {
		return i.finish("start", Failure(i.wrap(ErrLifecycle, "start", err)))
	}

	cfg := i.effectiveConfig()
	if err := guard(func() error { return i.driver.Start(ctx, cfg) }); err != nil {
		return i.finish("start", i.fault(ctx, "start", err))
	}

	var result Result
	if err := i.machine.fire(ctx, eventStarted, ""); err != nil {
		result.Add(i.wrap(ErrLifecycle, "start", err))
	}
	return i.finish("start", result)
}

// Stop moves the instance through stopping to stopped, or to faulted when the driver fails.
// A zero mode is treated as StopModeStop.
func (i *Instance[C]) Stop(ctx context.Context, mode StopMode) Result {
	if mode == 0 {
		mode = StopModeStop
	}
	i.logger.Debug("Stopping endpoint", "state", i.State(), "mode", mode.String())

	if err := i.machine.fire(ctx, eventStop, ""); err != nil {
		return i.finish("stop", Failure(i.wrap(ErrLifecycle, "stop", err)))
	}

	if err := guard(func() error { return i.driver.Stop(ctx, mode) }); err != nil {
		return i.finish("stop", i.fault(ctx, "stop", err))
	}

	var result Result
	if err := i.machine.fire(ctx, eventStopped, ""); err != nil {
		result.Add(i.wrap(ErrLifecycle, "stop", err))
	}
	return i.finish("stop", result)
}

// Restart runs Start followed by Stop with the restart flag added to mode and combines both results.
func (i *Instance[C]) Restart(ctx context.Context, mode StopMode) Result {
	started := i.Start(ctx)
	stopped := i.Stop(ctx, mode|StopModeRestart)
	return i.finish("restart", Combine(started, stopped))
}

// Send hands value to the driver. It is refused outside the running state.
func (i *Instance[C]) Send(ctx context.Context, value any) Result {
	if !i.IsInState(StateRunning) {
		return Failure(i.wrap(ErrNotSupported, "send", ErrNotRunning))
	}
	cfg := i.effectiveConfig()
	if err := guard(func() error { return i.driver.Send(ctx, cfg, value) }); err != nil {
		i.logger.Warn("Send failed", "error", err)
		return Failure(i.wrap(ErrSend, "send", err))
	}
	return Success()
}

// fault records a driver failure and moves the machine to faulted.
func (i *Instance[C]) fault(ctx context.Context, op string, cause error) Result {
	err := i.wrap(ErrLifecycle, op, cause)
	result := Failure(err)
	if ferr := i.machine.fire(ctx, eventFault, err.Error()); ferr != nil {
		result.Add(i.wrap(ErrLifecycle, op, ferr))
	}
	return result
}

func (i *Instance[C]) wrap(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Instance: i.meta.InstanceName, Err: err}
}

func (i *Instance[C]) finish(op string, result Result) Result {
	if result.Succeeded() {
		i.logger.Info("Endpoint operation completed", "op", op, "state", i.State())
	} else {
		i.logger.Error("Endpoint operation failed", "op", op, "state", i.State(), "error", result.Err())
	}
	return result
}

// guard runs fn and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
