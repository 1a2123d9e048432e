package snapshot

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteReadEpisode_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshots", "ep3-step120.snap.zst")

	state := []byte{1, 2, 3, 4, 5, 250, 0, 0, 9}
	snap := EpisodeV1{
		Header:     Header{Version: 1, EnvID: "env-a", Episode: 3, Step: 120},
		Seed:       42,
		LeftAgents: 1,
		LeftGoals:  2,
		RightGoals: 1,
		Final:      true,
		State:      state,
		Digest:     StateDigest(state),
	}
	if err := WriteEpisode(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadEpisode(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header != snap.Header {
		t.Fatalf("header mismatch: %+v", got.Header)
	}
	if !bytes.Equal(got.State, state) {
		t.Fatalf("state mismatch: %v", got.State)
	}
	if got.LeftGoals != 2 || got.RightGoals != 1 || !got.Final {
		t.Fatalf("fields mismatch: %+v", got)
	}
}

func TestReadEpisode_RejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ep.snap.zst")

	state := []byte("serialized environment state")
	snap := EpisodeV1{
		Header: Header{Version: Version + 1, EnvID: "env-a", Episode: 1},
		State:  state,
		Digest: StateDigest(state),
	}
	if err := WriteEpisode(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadEpisode(path); err == nil || !strings.Contains(err.Error(), "unsupported snapshot version") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestReadEpisode_DetectsTamperedState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ep.snap.zst")

	state := []byte("serialized environment state")
	snap := EpisodeV1{
		Header: Header{Version: 1, EnvID: "env-a", Episode: 1},
		State:  state,
		Digest: StateDigest([]byte("different state")),
	}
	if err := WriteEpisode(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadEpisode(path); err == nil {
		t.Fatal("expected digest mismatch error")
	}
}
