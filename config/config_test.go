package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"workers_per_tag": [2, 1],
		"run_queue_cap": 512,
		"pin_workers": true,
		"steal_cross_tag": true,
		"trace": {"enabled": true, "path": "/tmp/trace.db", "interval_ms": 250}
	}`), 0o644))

	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, cfg.WorkersPerTag)
	assert.Equal(t, 512, cfg.RunQueueCap)
	assert.True(t, cfg.PinWorkers)
	assert.True(t, cfg.StealCrossTag)
	assert.True(t, cfg.Trace.Enabled)
	assert.Equal(t, "/tmp/trace.db", cfg.Trace.Path)
	assert.Equal(t, 250, cfg.Trace.IntervalMs)

	opts := cfg.ControlOptions()
	assert.Equal(t, []int{2, 1}, opts.WorkersPerTag)
	assert.Equal(t, 512, opts.RunQueueCap)
	assert.True(t, opts.PinWorkers)
	assert.True(t, opts.StealCrossTag)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.WorkersPerTag)
	assert.Positive(t, cfg.RunQueueCap)
	assert.Positive(t, cfg.Trace.IntervalMs)
	assert.False(t, cfg.Trace.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"), zerolog.Nop())
	assert.Error(t, err)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"workers_per_tag": "nope"`), 0o644))
	_, err := Load(path, zerolog.Nop())
	assert.Error(t, err)
}
