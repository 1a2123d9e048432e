package statedb

import (
	"path/filepath"
	"testing"

	"github.com/mareichhoff/football/internal/persistence/snapshot"
	"github.com/mareichhoff/football/internal/persistence/tracelog"
)

func TestSQLiteIndex_WritesAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenSQLite(filepath.Join(dir, "env.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	idx.RecordEpisode(1, 42, 1, 0)
	for i := 0; i < 10; i++ {
		err := idx.WriteStep(tracelog.StepLogEntry{
			Episode: 1, Step: i, LeftGoals: int32(i / 5), InPlay: true, Digest: "d",
		})
		if err != nil {
			t.Fatalf("WriteStep: %v", err)
		}
	}
	state := []byte{1, 2, 3}
	idx.RecordSnapshot("/tmp/ep1-step9.snap.zst", snapshot.EpisodeV1{
		Header: snapshot.Header{Version: 1, EnvID: "e", Episode: 1, Step: 9},
		State:  state,
		Digest: snapshot.StateDigest(state),
		Final:  true,
	})
	idx.RecordDivergence(tracelog.DivergenceEntry{
		Session: 2, Pos: 700, Start: 600, End: 700, Stride: 1,
		Detail: "state mismatch", RecordedAt: "2026-08-31T00:00:00Z",
	})

	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx, err = OpenSQLite(filepath.Join(dir, "env.sqlite"))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	snaps, err := idx.Snapshots(1)
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Step != 9 || !snaps[0].Final || snaps[0].Bytes != 3 {
		t.Fatalf("snapshots: %+v", snaps)
	}

	digest, err := idx.StepDigest(1, 4)
	if err != nil {
		t.Fatalf("StepDigest: %v", err)
	}
	if digest != "d" {
		t.Fatalf("digest: %q", digest)
	}
	if digest, _ := idx.StepDigest(1, 999); digest != "" {
		t.Fatalf("digest for unknown step: %q", digest)
	}

	divs, err := idx.Divergences()
	if err != nil {
		t.Fatalf("Divergences: %v", err)
	}
	if len(divs) != 1 || divs[0].Pos != 700 || divs[0].Stride != 1 {
		t.Fatalf("divergences: %+v", divs)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqStep}

	_ = s.WriteStep(tracelog.StepLogEntry{Episode: 1, Step: 1})
	s.RecordEpisode(1, 42, 1, 0)
	s.RecordSnapshot("/tmp/x.snap.zst", snapshot.EpisodeV1{})
	s.RecordDivergence(tracelog.DivergenceEntry{})

	st := s.Stats()
	if st.DropStepTotal != 1 {
		t.Fatalf("DropStepTotal=%d want=1", st.DropStepTotal)
	}
	if st.DropEpisodeTotal != 1 {
		t.Fatalf("DropEpisodeTotal=%d want=1", st.DropEpisodeTotal)
	}
	if st.DropSnapshotTotal != 1 {
		t.Fatalf("DropSnapshotTotal=%d want=1", st.DropSnapshotTotal)
	}
	if st.DropDivergenceTotal != 1 {
		t.Fatalf("DropDivergenceTotal=%d want=1", st.DropDivergenceTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}
