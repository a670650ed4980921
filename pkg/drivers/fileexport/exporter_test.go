package fileexport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"edgehost/pkg/endpoint"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInstance(t *testing.T) *endpoint.Instance[Config] {
	t.Helper()
	inst, err := Registration().NewInstance("export-1", endpoint.Services{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return inst
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestExportJSONLines(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out", "values.jsonl")
	inst := newTestInstance(t)

	cfg := DefaultConfig()
	cfg.Path = path
	require.True(t, inst.Configure(ctx, cfg).Succeeded())
	require.True(t, inst.Start(ctx).Succeeded())

	require.True(t, inst.Send(ctx, map[string]any{"temp": 21.5}).Succeeded())
	require.True(t, inst.Send(ctx, "hello").Succeeded())
	assert.Equal(t, int64(2), inst.Driver().(*Exporter).Lines())
	require.True(t, inst.Stop(ctx, endpoint.StopModeStop).Succeeded())

	lines := readLines(t, path)
	require.Len(t, lines, 2)

	var first record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, map[string]any{"temp": 21.5}, first.Value)
	assert.False(t, first.Timestamp.IsZero())

	var second record
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "hello", second.Value)
}

func TestExportTextAndTruncate(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "values.txt")
	require.NoError(t, os.WriteFile(path, []byte("stale\n"), 0o600))
	inst := newTestInstance(t)

	require.True(t, inst.Configure(ctx, Config{Path: path, Format: FormatText}).Succeeded())
	require.True(t, inst.Start(ctx).Succeeded())
	require.True(t, inst.Send(ctx, 42).Succeeded())
	require.True(t, inst.Stop(ctx, endpoint.StopModeStop|endpoint.StopModeRestart).Succeeded())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.True(t, strings.HasSuffix(lines[0], " 42"), lines[0])
}

func TestExportAppends(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "values.jsonl")
	inst := newTestInstance(t)
	require.True(t, inst.Configure(ctx, Config{Path: path, Format: FormatJSON, Append: true}).Succeeded())

	for i := 0; i < 2; i++ {
		require.True(t, inst.Start(ctx).Succeeded())
		require.True(t, inst.Send(ctx, i).Succeeded())
		require.True(t, inst.Stop(ctx, 0).Succeeded())
	}
	assert.Len(t, readLines(t, path), 2)
}

func TestReconfigureSwitchesFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first, second := filepath.Join(dir, "a.jsonl"), filepath.Join(dir, "b.jsonl")
	inst := newTestInstance(t)

	require.True(t, inst.Configure(ctx, Config{Path: first, Format: FormatJSON}).Succeeded())
	require.True(t, inst.Start(ctx).Succeeded())
	require.True(t, inst.Send(ctx, "one").Succeeded())

	require.True(t, inst.Configure(ctx, Config{Path: second, Format: FormatJSON}).Succeeded())
	assert.Equal(t, endpoint.StateRunning, inst.State())
	require.True(t, inst.Send(ctx, "two").Succeeded())

	require.True(t, inst.Configure(ctx, Config{Path: second, Format: FormatText}).Succeeded())
	require.True(t, inst.Send(ctx, "three").Succeeded())
	require.True(t, inst.Stop(ctx, 0).Succeeded())

	assert.Len(t, readLines(t, first), 1)
	lines := readLines(t, second)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"two"`)
	assert.True(t, strings.HasSuffix(lines[1], " three"))
}

func TestConfigureAfterUnconfiguredStartSwitchesFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	target := filepath.Join(dir, "configured.jsonl")
	inst := newTestInstance(t)

	require.True(t, inst.Start(ctx).Succeeded())
	require.True(t, inst.Send(ctx, "on default").Succeeded())

	require.True(t, inst.Configure(ctx, Config{Path: target, Format: FormatJSON}).Succeeded())
	require.True(t, inst.Send(ctx, "on target").Succeeded())
	require.True(t, inst.Stop(ctx, 0).Succeeded())

	assert.Len(t, readLines(t, filepath.Join(dir, DefaultConfig().Path)), 1)
	lines := readLines(t, target)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"on target"`)
}

func TestExportFailures(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	t.Run("directory path rejected", func(t *testing.T) {
		inst := newTestInstance(t)
		result := inst.Configure(ctx, Config{Path: dir, Format: FormatJSON})
		assert.ErrorIs(t, result.Err(), endpoint.ErrConfiguration)
	})

	t.Run("unknown format rejected", func(t *testing.T) {
		inst := newTestInstance(t)
		result := inst.Configure(ctx, Config{Path: filepath.Join(dir, "x"), Format: "xml"})
		assert.ErrorIs(t, result.Err(), endpoint.ErrConfiguration)
	})

	t.Run("unopenable path faults", func(t *testing.T) {
		inst := newTestInstance(t)
		require.True(t, inst.Configure(ctx, Config{Path: filepath.Join(blocker, "out.jsonl"), Format: FormatJSON}).Succeeded())

		result := inst.Start(ctx)
		assert.ErrorIs(t, result.Err(), endpoint.ErrLifecycle)
		assert.Equal(t, endpoint.StateFaulted, inst.State())
	})

	t.Run("send while stopped", func(t *testing.T) {
		inst := newTestInstance(t)
		assert.ErrorIs(t, inst.Send(ctx, "x").Err(), endpoint.ErrNotRunning)
	})

	t.Run("driver send without open file", func(t *testing.T) {
		e := NewExporter(nil)
		assert.Error(t, e.Send(ctx, DefaultConfig(), "x"))
		assert.NoError(t, e.Stop(ctx, endpoint.StopModeStop))
	})
}

func TestRegistration(t *testing.T) {
	r := endpoint.NewRegistry()
	require.NoError(t, Register(r))

	def, err := r.ConfigurationDefinition(TypeID)
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(def.Form)))
	assert.True(t, json.Valid([]byte(def.Schema)))

	cfg, err := r.DefaultConfiguration(TypeID)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
