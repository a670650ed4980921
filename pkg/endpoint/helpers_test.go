package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

type testConfig struct {
	Target  string `json:"target" mapstructure:"target" validate:"required"`
	Retries int    `json:"retries" mapstructure:"retries" validate:"gte=0,lte=10"`
}

var errBoom = errors.New("boom")

type fakeDriver struct {
	mu sync.Mutex

	startErr       error
	stopErr        error
	sendErr        error
	reconfigureErr error
	panicOnStart   bool

	started      []testConfig
	stopModes    []StopMode
	sent         []any
	reconfigured [][2]testConfig
}

func (d *fakeDriver) Start(_ context.Context, cfg testConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.panicOnStart {
		panic("driver exploded")
	}
	d.started = append(d.started, cfg)
	return d.startErr
}

func (d *fakeDriver) Stop(_ context.Context, mode StopMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopModes = append(d.stopModes, mode)
	return d.stopErr
}

func (d *fakeDriver) Send(_ context.Context, _ testConfig, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return d.sendErr
	}
	d.sent = append(d.sent, value)
	return nil
}

func (d *fakeDriver) Reconfigure(_ context.Context, previous, next testConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reconfigureErr != nil {
		return d.reconfigureErr
	}
	d.reconfigured = append(d.reconfigured, [2]testConfig{previous, next})
	return nil
}

func (d *fakeDriver) failOn(op string, fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if fail {
		err = errBoom
	}
	switch op {
	case "start":
		d.startErr = err
	case "stop":
		d.stopErr = err
	}
}

type recorder struct {
	mu     sync.Mutex
	events []StateChanged
}

func (r *recorder) StateChanged(event StateChanged) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) Events() []StateChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StateChanged, len(r.events))
	copy(out, r.events)
	return out
}

type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	types   map[string]string
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte), types: make(map[string]string)}
}

func (s *memStore) Load(_ context.Context, instance string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.data[instance]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, instance)
	}
	return payload, nil
}

func (s *memStore) Save(_ context.Context, instance, typeID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.data[instance] = payload
	s.types[instance] = typeID
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistration(driver *fakeDriver) Registration[testConfig] {
	return Registration[testConfig]{
		TypeID:  "test-endpoint",
		Name:    "Test Endpoint",
		FQN:     "edgehost.test.Endpoint",
		Version: "1.0.0",
		Form:    `{"fields":["target","retries"]}`,
		Schema:  `{"type":"object"}`,
		Default: func() testConfig { return testConfig{Target: "default", Retries: 3} },
		NewDriver: func(Services) (Driver[testConfig], error) {
			return driver, nil
		},
	}
}

// newTestInstance builds an "ep1" instance; store may be nil.
func newTestInstance(driver *fakeDriver, store ConfigStore) *Instance[testConfig] {
	inst, err := testRegistration(driver).NewInstance("ep1", Services{Store: store, Logger: discardLogger()})
	if err != nil {
		panic(err)
	}
	return inst
}
