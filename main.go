// ════════════════════════════════════════════════════════════════════════════════════════════════
// M:N Scheduler Demo - Main Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Demo Orchestration
//
// Description:
//   Boots a TaskControl from configuration, runs a mixed workload over
//   it (spawn fan-out, yield ping-pong, sleeps, cross-tag spawns),
//   samples scheduling statistics into sqlite, and shuts down on
//   SIGINT/SIGTERM.
//
// Architecture:
//   - Phase 1: Configuration and control startup
//   - Phase 2: Workload
//   - Phase 3: Signal-driven graceful shutdown
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ltask/config"
	"ltask/sched"
	"ltask/schedtrace"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	// PHASE 1: configuration and control startup
	cfg := config.Default()
	if len(os.Args) > 1 {
		loaded, err := config.Load(os.Args[1], log)
		if err != nil {
			log.Fatal().Err(err).Str("path", os.Args[1]).Msg("config load failed")
		}
		cfg = loaded
	}

	c := sched.NewControl(cfg.ControlOptions())
	if err := c.Start(); err != nil {
		log.Fatal().Err(err).Msg("control start failed")
	}
	log.Info().Msg("control started")

	var tracer *schedtrace.Tracer
	if cfg.Trace.Enabled {
		t, err := schedtrace.New(c, cfg.Trace.Path,
			time.Duration(cfg.Trace.IntervalMs)*time.Millisecond, log)
		if err != nil {
			log.Fatal().Err(err).Msg("trace setup failed")
		}
		tracer = t
		tracer.Start()
		log.Info().Str("path", cfg.Trace.Path).Msg("trace sampling started")
	}

	// PHASE 2: workload — a spawner ltask fans out workers that yield,
	// sleep, and are joined before the spawner reports.
	done := make(chan struct{})
	_, err := c.StartBackground(nil, func(w *sched.W, _ any) any {
		const fanout = 256
		tids := make([]sched.Tid, 0, fanout)
		for i := 0; i < fanout; i++ {
			tid, err := w.StartBackground(nil, func(w *sched.W, arg any) any {
				n := arg.(int)
				for j := 0; j < 100; j++ {
					w.Yield()
				}
				if n%8 == 0 {
					w.Usleep(2000) // 2ms nap
				}
				return n * n
			}, i)
			if err != nil {
				continue
			}
			tids = append(tids, tid)
		}
		for _, tid := range tids {
			w.Join(tid, nil)
		}
		close(done)
		return nil
	}, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("workload spawn failed")
	}

	// PHASE 3: run until the workload completes or a signal arrives.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-done:
		log.Info().Msg("workload complete")
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	if tracer != nil {
		tracer.Stop()
	}
	c.Stop()
	log.Info().Msg("all subsystems shutdown complete")
}
