// ════════════════════════════════════════════════════════════════════════════════════════════════
// Scheduling Trace Harvester
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Per-group statistics persistence
//
// Description:
//   Periodically samples every TaskGroup's accounting — the 128-bit
//   (last_run_ns, main bit, cumulated_cputime_ns) snapshot plus queue
//   depths and switch counts — and appends the samples to a sqlite
//   database, one transaction a sweep.  Samples are taken with the
//   same atomic load peers use for steal heuristics, so a row can
//   never pair a timestamp from one switch with a cumulated value
//   from another.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package schedtrace

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"ltask/sched"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS sched_samples (
	sampled_at_ns   INTEGER NOT NULL,
	tag             INTEGER NOT NULL,
	worker          INTEGER NOT NULL,
	os_tid          INTEGER NOT NULL,
	last_run_ns     INTEGER NOT NULL,
	running_main    INTEGER NOT NULL,
	cumulated_ns    INTEGER NOT NULL,
	nswitch         INTEGER NOT NULL,
	rq_size         INTEGER NOT NULL,
	remote_size     INTEGER NOT NULL,
	tasks_alive     INTEGER NOT NULL
)`

const insertSQL = `
INSERT INTO sched_samples (
	sampled_at_ns, tag, worker, os_tid, last_run_ns, running_main,
	cumulated_ns, nswitch, rq_size, remote_size, tasks_alive
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Tracer samples one control into one database.
type Tracer struct {
	c        *sched.TaskControl
	db       *sql.DB
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	done     chan struct{}
}

// New opens (or creates) the trace database and prepares the schema.
func New(c *sched.TaskControl, path string, interval time.Duration, log zerolog.Logger) (*Tracer, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, err
	}
	return &Tracer{
		c:        c,
		db:       db,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the sampling loop.
func (t *Tracer) Start() {
	go t.run()
}

// Stop halts sampling, flushes the last sweep, and closes the database.
func (t *Tracer) Stop() {
	close(t.stop)
	<-t.done
	t.db.Close()
}

func (t *Tracer) run() {
	defer close(t.done)
	tick := time.NewTicker(t.interval)
	defer tick.Stop()
	for {
		select {
		case <-t.stop:
			t.sweep() // final sample so shutdown state is recorded
			return
		case <-tick.C:
			t.sweep()
		}
	}
}

// Sweep takes one sample of every group.  Exported for tests and for
// callers that want an on-demand snapshot.
func (t *Tracer) Sweep() error { return t.sweep() }

func (t *Tracer) sweep() error {
	tx, err := t.db.Begin()
	if err != nil {
		t.log.Error().Err(err).Msg("trace sweep: begin failed")
		return err
	}
	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		tx.Rollback()
		t.log.Error().Err(err).Msg("trace sweep: prepare failed")
		return err
	}
	now := time.Now().UnixNano()
	rows := 0
	for tag := 0; tag < t.c.NumTags(); tag++ {
		alive := t.c.TasksAlive(sched.Tag(tag))
		for worker, g := range t.c.Groups(sched.Tag(tag)) {
			lastRun, isMain, cumulated := g.CPUTimeSnapshot()
			mainFlag := 0
			if isMain {
				mainFlag = 1
			}
			if _, err := stmt.Exec(
				now, tag, worker, g.OSTid(), lastRun, mainFlag,
				cumulated, int64(g.NSwitch()), g.RqSize(), g.RemoteSize(), alive,
			); err != nil {
				stmt.Close()
				tx.Rollback()
				t.log.Error().Err(err).Msg("trace sweep: insert failed")
				return err
			}
			rows++
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		t.log.Error().Err(err).Msg("trace sweep: commit failed")
		return err
	}
	t.log.Debug().Int("rows", rows).Msg("trace sweep committed")
	return nil
}
