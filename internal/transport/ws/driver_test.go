package ws

import (
	"bytes"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mareichhoff/football/internal/persistence/snapshot"
	"github.com/mareichhoff/football/internal/persistence/statedb"
	"github.com/mareichhoff/football/internal/persistence/tracelog"
	"github.com/mareichhoff/football/internal/sim/engine"
	"github.com/mareichhoff/football/internal/sim/match"
	"github.com/mareichhoff/football/internal/sim/scenario"
)

type testDriver struct {
	d      *Driver
	envDir string
	steps  *tracelog.StepLogger
	divs   *tracelog.DivergenceLogger
	dbPath string
}

func newTestDriver(t *testing.T, snapshotEvery int) *testDriver {
	t.Helper()
	envDir := t.TempDir()
	steps := tracelog.NewStepLogger(envDir)
	divs := tracelog.NewDivergenceLogger(envDir)
	dbPath := filepath.Join(envDir, "index.db")
	idx, err := statedb.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	env := engine.New(nil, scenario.EnvConfig{}, match.Wire)
	d := NewDriver(env, DriverConfig{
		EnvID:              "env-test",
		SnapshotDir:        filepath.Join(envDir, "snapshots"),
		SnapshotEverySteps: snapshotEvery,
		ArchiveDir:         envDir,
		Logger:             log.New(io.Discard, "", 0),
	}, steps, divs, idx)
	if err := d.Start(); err != nil {
		t.Fatalf("start driver: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
		steps.Close()
		divs.Close()
		idx.Close()
	})
	return &testDriver{d: d, envDir: envDir, steps: steps, divs: divs, dbPath: dbPath}
}

// reopenIndex flushes the write queue and reopens the database read-only
// fresh, so the asserts see committed rows.
func (td *testDriver) reopenIndex(t *testing.T) *statedb.SQLiteIndex {
	t.Helper()
	if err := td.d.idx.Close(); err != nil {
		t.Fatalf("close index: %v", err)
	}
	idx, err := statedb.OpenSQLite(td.dbPath)
	if err != nil {
		t.Fatalf("reopen index: %v", err)
	}
	td.d.idx = nil
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestDriver_CloseIsIdempotent(t *testing.T) {
	td := newTestDriver(t, 0)

	td.d.Close()
	td.d.Close()

	if err := td.d.Act(int(engine.ActionTop), true, 0); !errors.Is(err, ErrDriverClosed) {
		t.Fatalf("Act after close: %v", err)
	}
	if _, err := td.d.Step(); !errors.Is(err, ErrDriverClosed) {
		t.Fatalf("Step after close: %v", err)
	}
	if _, err := td.d.GetState(); !errors.Is(err, ErrDriverClosed) {
		t.Fatalf("GetState after close: %v", err)
	}
	if ep := td.d.Episode(); ep != 0 {
		t.Fatalf("episode after close: %d", ep)
	}
}

func TestDriver_StepIndexesDigestsAndSnapshots(t *testing.T) {
	td := newTestDriver(t, 2)

	if err := td.d.Act(int(engine.ActionRight), true, 0); err != nil {
		t.Fatalf("act: %v", err)
	}
	var lastStep int
	for i := 0; i < 4; i++ {
		info, err := td.d.Step()
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		lastStep = info.Step
	}
	if lastStep != 4 {
		t.Fatalf("step counter = %d, want 4", lastStep)
	}
	if got := td.steps.Lines(); got != 4 {
		t.Fatalf("step log lines = %d, want 4", got)
	}

	idx := td.reopenIndex(t)
	digest, err := idx.StepDigest(1, 4)
	if err != nil {
		t.Fatalf("step digest: %v", err)
	}
	if digest == "" {
		t.Fatal("step 4 has no indexed digest")
	}
	snaps, err := idx.Snapshots(1)
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("snapshot count = %d, want 2 (steps 2 and 4)", len(snaps))
	}
	for _, s := range snaps {
		if s.Final {
			t.Fatalf("periodic snapshot at step %d marked final", s.Step)
		}
	}
}

func TestDriver_ResetCapturesFinalSnapshot(t *testing.T) {
	td := newTestDriver(t, 0)

	for i := 0; i < 3; i++ {
		if _, err := td.d.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	info, err := td.d.Reset(func(env *engine.Env) error {
		return env.Reset(nil)
	})
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if info.Step != 0 {
		t.Fatalf("step after reset = %d, want 0", info.Step)
	}

	path := filepath.Join(td.d.cfg.SnapshotDir, "ep001-step000003.snap.zst")
	snap, err := snapshot.ReadEpisode(path)
	if err != nil {
		t.Fatalf("read final snapshot: %v", err)
	}
	if !snap.Final {
		t.Fatal("episode-end snapshot not marked final")
	}
	if snap.Header.Episode != 1 || snap.Header.Step != 3 {
		t.Fatalf("snapshot header = ep%d step%d, want ep1 step3", snap.Header.Episode, snap.Header.Step)
	}
	if snap.Digest != snapshot.StateDigest(snap.State) {
		t.Fatal("snapshot digest does not cover the stored state")
	}

	archived := filepath.Join(td.envDir, "archives", "episode_001", "ep001-step000003.snap.zst")
	if _, err := snapshot.ReadEpisode(archived); err != nil {
		t.Fatalf("archived snapshot: %v", err)
	}

	idx := td.reopenIndex(t)
	snaps, err := idx.Snapshots(2)
	if err != nil {
		t.Fatalf("snapshots ep2: %v", err)
	}
	if len(snaps) != 0 {
		t.Fatalf("fresh episode already has %d snapshots", len(snaps))
	}
}

func TestDriver_ResetAppliesScenarioOverride(t *testing.T) {
	td := newTestDriver(t, 0)

	info, err := td.d.Reset(func(env *engine.Env) error {
		cfg := env.Scenario().Clone()
		cfg.LeftAgents = 2
		return env.Reset(cfg)
	})
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	active := 0
	for _, p := range info.LeftTeam {
		if p.IsActive {
			active++
		}
	}
	if active != 2 {
		t.Fatalf("active left players = %d, want 2", active)
	}
}

func TestDriver_StateRoundTripThroughLoop(t *testing.T) {
	td := newTestDriver(t, 0)

	saved, err := td.d.GetState()
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if _, err := td.d.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if err := td.d.SetState(saved); err != nil {
		t.Fatalf("set state: %v", err)
	}
	got, err := td.d.GetState()
	if err != nil {
		t.Fatalf("get state after restore: %v", err)
	}
	if !bytes.Equal(saved, got) {
		t.Fatal("restored state differs from the captured one")
	}
}

// The engine is not safe for concurrent use; the driver must serialize
// callers arriving from different connections.
func TestDriver_SerializesConcurrentCallers(t *testing.T) {
	td := newTestDriver(t, 0)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				switch g % 3 {
				case 0:
					if _, err := td.d.Step(); err != nil {
						errs <- err
						return
					}
				case 1:
					if _, err := td.d.Info(); err != nil {
						errs <- err
						return
					}
				default:
					if err := td.d.Act(int(engine.ActionSprint), true, 0); err != nil {
						errs <- err
						return
					}
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent op: %v", err)
	}
}
