// Package fileexport is an endpoint that appends every value sent to it to a local file,
// one JSON document or text line per value.
package fileexport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"edgehost/pkg/endpoint"
)

const TypeID = "file-exporter"

const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config is the configuration model of a file exporter.
type Config struct {
	Path       string `json:"path" mapstructure:"path" validate:"required"`
	Format     string `json:"format" mapstructure:"format" validate:"oneof=json text"`
	Append     bool   `json:"append" mapstructure:"append"`
	SyncOnStop bool   `json:"sync_on_stop" mapstructure:"sync_on_stop"`
}

// Validate rejects paths that point at a directory.
func (c Config) Validate() error {
	if info, err := os.Stat(c.Path); err == nil && info.IsDir() {
		return fmt.Errorf("path %s is a directory", c.Path)
	}
	return nil
}

func DefaultConfig() Config {
	return Config{
		Path:       "edgehost-export.jsonl",
		Format:     FormatJSON,
		Append:     true,
		SyncOnStop: true,
	}
}

const form = `{"fields":[` +
	`{"name":"path","label":"Output file","widget":"text"},` +
	`{"name":"format","label":"Format","widget":"select","options":["json","text"]},` +
	`{"name":"append","label":"Append to existing file","widget":"checkbox"},` +
	`{"name":"sync_on_stop","label":"Flush to disk on stop","widget":"checkbox"}]}`

const schema = `{"type":"object","required":["path"],"properties":{` +
	`"path":{"type":"string","minLength":1},` +
	`"format":{"type":"string","enum":["json","text"]},` +
	`"append":{"type":"boolean"},` +
	`"sync_on_stop":{"type":"boolean"}}}`

// Registration describes the file exporter type.
func Registration() endpoint.Registration[Config] {
	return endpoint.Registration[Config]{
		TypeID:  TypeID,
		Name:    "File Exporter",
		FQN:     "edgehost.drivers.fileexport.Exporter",
		Version: "1.0.0",
		Form:    form,
		Schema:  schema,
		Default: DefaultConfig,
		NewDriver: func(services endpoint.Services) (endpoint.Driver[Config], error) {
			return NewExporter(services.Logger), nil
		},
	}
}

// Register adds the file exporter type to r.
func Register(r *endpoint.Registry) error {
	return endpoint.Register(r, Registration())
}

type record struct {
	Timestamp time.Time `json:"timestamp"`
	Value     any       `json:"value"`
}

// Exporter writes sent values to the configured file.
type Exporter struct {
	mu     sync.Mutex
	file   *os.File
	cfg    Config
	lines  int64
	logger *slog.Logger
}

func NewExporter(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logger: logger.With("component", "FileExporter")}
}

func (e *Exporter) Start(_ context.Context, cfg Config) error {
	file, err := openFile(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	previous := e.file
	e.file, e.cfg, e.lines = file, cfg, 0
	e.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	e.logger.Info("Export file opened", "path", cfg.Path, "format", cfg.Format)
	return nil
}

// Stop closes the file. The fsync is skipped when the stop is part of a restart.
func (e *Exporter) Stop(_ context.Context, mode endpoint.StopMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file == nil {
		return nil
	}

	var errs []error
	if e.cfg.SyncOnStop && !mode.Has(endpoint.StopModeRestart) {
		errs = append(errs, e.file.Sync())
	}
	errs = append(errs, e.file.Close())
	e.logger.Info("Export file closed", "path", e.cfg.Path, "lines", e.lines, "mode", mode.String())
	e.file = nil
	return errors.Join(errs...)
}

func (e *Exporter) Send(_ context.Context, cfg Config, value any) error {
	line, err := formatLine(cfg.Format, value)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file == nil {
		return errors.New("export file is not open")
	}
	if _, err := e.file.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", e.cfg.Path, err)
	}
	e.lines++
	return nil
}

// Reconfigure reopens the file when the path or the append mode changes.
func (e *Exporter) Reconfigure(_ context.Context, previous, next Config) error {
	if previous.Path == next.Path && previous.Append == next.Append {
		e.mu.Lock()
		e.cfg = next
		e.mu.Unlock()
		return nil
	}

	file, err := openFile(next)
	if err != nil {
		return err
	}

	e.mu.Lock()
	old := e.file
	e.file, e.cfg, e.lines = file, next, 0
	e.mu.Unlock()

	if old != nil {
		old.Close()
	}
	e.logger.Info("Export file switched", "from", previous.Path, "to", next.Path)
	return nil
}

// Lines returns how many values were written since the file was opened.
func (e *Exporter) Lines() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lines
}

func openFile(cfg Config) (*os.File, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	flags := os.O_CREATE | os.O_WRONLY
	if cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(cfg.Path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
	}
	return file, nil
}

func formatLine(format string, value any) ([]byte, error) {
	now := time.Now().UTC()
	switch format {
	case FormatText:
		return fmt.Appendf(nil, "%s %v\n", now.Format(time.RFC3339), value), nil
	case FormatJSON, "":
		data, err := json.Marshal(record{Timestamp: now, Value: value})
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}
