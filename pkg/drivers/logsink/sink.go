// Package logsink is an endpoint that turns every value sent to it into a structured log record.
package logsink

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"edgehost/pkg/endpoint"
)

const TypeID = "log-sink"

// Config is the configuration model of a log sink.
type Config struct {
	Level      string            `json:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Message    string            `json:"message" mapstructure:"message" validate:"required"`
	Attributes map[string]string `json:"attributes,omitempty" mapstructure:"attributes"`
}

func DefaultConfig() Config {
	return Config{Level: "info", Message: "endpoint value"}
}

const form = `{"fields":[` +
	`{"name":"level","label":"Level","widget":"select","options":["debug","info","warn","error"]},` +
	`{"name":"message","label":"Message","widget":"text"},` +
	`{"name":"attributes","label":"Extra attributes","widget":"map"}]}`

const schema = `{"type":"object","required":["message"],"properties":{` +
	`"level":{"type":"string","enum":["debug","info","warn","error"]},` +
	`"message":{"type":"string","minLength":1},` +
	`"attributes":{"type":"object","additionalProperties":{"type":"string"}}}}`

func Registration() endpoint.Registration[Config] {
	return endpoint.Registration[Config]{
		TypeID:  TypeID,
		Name:    "Log Sink",
		FQN:     "edgehost.drivers.logsink.Sink",
		Version: "1.0.0",
		Form:    form,
		Schema:  schema,
		Default: DefaultConfig,
		NewDriver: func(services endpoint.Services) (endpoint.Driver[Config], error) {
			return NewSink(services.Logger), nil
		},
	}
}

// Register adds the log sink type to r.
func Register(r *endpoint.Registry) error {
	return endpoint.Register(r, Registration())
}

// Sink logs sent values through slog.
type Sink struct {
	logger *slog.Logger
	count  atomic.Int64
}

func NewSink(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{logger: logger.With("component", "LogSink")}
}

func (s *Sink) Start(ctx context.Context, cfg Config) error {
	if _, err := parseLevel(cfg.Level); err != nil {
		return err
	}
	s.count.Store(0)
	s.logger.InfoContext(ctx, "Log sink started", "level", cfg.Level)
	return nil
}

func (s *Sink) Stop(ctx context.Context, mode endpoint.StopMode) error {
	s.logger.InfoContext(ctx, "Log sink stopped", "records", s.count.Load(), "mode", mode.String())
	return nil
}

func (s *Sink) Send(ctx context.Context, cfg Config, value any) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	args := make([]any, 0, 2+2*len(cfg.Attributes))
	args = append(args, "value", value)
	for k, v := range cfg.Attributes {
		args = append(args, k, v)
	}
	s.logger.Log(ctx, level, cfg.Message, args...)
	s.count.Add(1)
	return nil
}

// Records returns how many values were logged since the last start.
func (s *Sink) Records() int64 { return s.count.Load() }

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}
