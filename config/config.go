// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: config.go — Runtime configuration loading
//
// Purpose:
//   - Decodes the scheduler's JSON configuration file: worker layout,
//     queue capacity, steal policy, pinning, trace output.
//   - Applies compile-time defaults for anything the file omits.
//
// Notes:
//   - Decoding happens once at startup; nothing here is hot.
// ─────────────────────────────────────────────────────────────────────────────

package config

import (
	"os"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/sugawarayuuta/sonnet"

	"ltask/constants"
	"ltask/sched"
)

// TraceConfig controls the statistics persistence loop.
type TraceConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	IntervalMs int    `json:"interval_ms"`
}

// Config is the on-disk configuration shape.
type Config struct {
	// WorkersPerTag lists worker counts per tag partition; a single
	// entry means one default partition.
	WorkersPerTag []int `json:"workers_per_tag"`
	RunQueueCap   int   `json:"run_queue_cap"`
	PinWorkers    bool  `json:"pin_workers"`
	StealCrossTag bool  `json:"steal_cross_tag"`

	Trace TraceConfig `json:"trace"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		WorkersPerTag: []int{runtime.GOMAXPROCS(0)},
		RunQueueCap:   constants.DefaultRunQueueCap,
		Trace: TraceConfig{
			Path:       "schedtrace.db",
			IntervalMs: 1000,
		},
	}
}

// Load reads and decodes path, filling gaps with defaults.
func Load(path string, log zerolog.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := sonnet.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if len(cfg.WorkersPerTag) == 0 {
		cfg.WorkersPerTag = []int{runtime.GOMAXPROCS(0)}
	}
	if cfg.RunQueueCap <= 0 {
		cfg.RunQueueCap = constants.DefaultRunQueueCap
	}
	if cfg.Trace.IntervalMs <= 0 {
		cfg.Trace.IntervalMs = 1000
	}
	log.Info().
		Ints("workers_per_tag", cfg.WorkersPerTag).
		Int("run_queue_cap", cfg.RunQueueCap).
		Bool("pin_workers", cfg.PinWorkers).
		Bool("steal_cross_tag", cfg.StealCrossTag).
		Msg("configuration loaded")
	return cfg, nil
}

// ControlOptions maps the file shape onto scheduler options.
func (c *Config) ControlOptions() *sched.Options {
	return &sched.Options{
		WorkersPerTag: c.WorkersPerTag,
		RunQueueCap:   c.RunQueueCap,
		PinWorkers:    c.PinWorkers,
		StealCrossTag: c.StealCrossTag,
	}
}
