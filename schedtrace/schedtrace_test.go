package schedtrace

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ltask/sched"
)

func TestSweepPersistsSamples(t *testing.T) {
	c := sched.NewControl(&sched.Options{WorkersPerTag: []int{2}})
	require.NoError(t, c.Start())
	defer c.Stop()

	// Burn some scheduler activity so the counters are non-trivial.
	tids := make([]sched.Tid, 0, 64)
	for i := 0; i < 64; i++ {
		tid, err := c.StartBackground(nil, func(w *sched.W, _ any) any {
			for j := 0; j < 20; j++ {
				w.Yield()
			}
			return nil
		}, nil)
		require.NoError(t, err)
		tids = append(tids, tid)
	}
	for _, tid := range tids {
		require.NoError(t, c.Join(tid, nil))
	}

	path := filepath.Join(t.TempDir(), "trace.db")
	tr, err := New(c, path, time.Hour, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, tr.Sweep())
	require.NoError(t, tr.Sweep())
	tr.Start()
	tr.Stop() // flushes one final sweep

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var rows int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sched_samples").Scan(&rows))
	// Two explicit sweeps plus the shutdown sweep, two workers each.
	assert.GreaterOrEqual(t, rows, 6)

	var nswitch int64
	require.NoError(t, db.QueryRow("SELECT MAX(nswitch) FROM sched_samples").Scan(&nswitch))
	assert.Positive(t, nswitch)

	// Per-worker cumulated time never decreases across sweeps.
	res, err := db.Query(`SELECT worker, cumulated_ns FROM sched_samples ORDER BY worker, sampled_at_ns`)
	require.NoError(t, err)
	defer res.Close()
	last := map[int]int64{}
	for res.Next() {
		var worker int
		var cum int64
		require.NoError(t, res.Scan(&worker, &cum))
		assert.GreaterOrEqual(t, cum, last[worker])
		last[worker] = cum
	}
	require.NoError(t, res.Err())
}

func TestNewRejectsBadPath(t *testing.T) {
	c := sched.NewControl(nil)
	require.NoError(t, c.Start())
	defer c.Stop()

	_, err := New(c, filepath.Join(t.TempDir(), "no", "such", "dir", "x.db"), time.Second, zerolog.Nop())
	assert.Error(t, err)
}
