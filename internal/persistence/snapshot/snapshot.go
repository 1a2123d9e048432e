// Package snapshot reads and writes episode state snapshot files. A snapshot
// is a zstd-compressed file holding a JSON header line (greppable without
// decoding the body) followed by a gob payload with the serialized
// environment state.
package snapshot

import (
	"bufio"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Version is the current snapshot format. Readers reject anything else;
// snapshots only promise stability within one build.
const Version = 1

type Header struct {
	Version int    `json:"version"`
	EnvID   string `json:"env_id"`
	Episode int    `json:"episode"`
	Step    int    `json:"step"`
}

// EpisodeV1 is one captured environment state plus the scenario facts needed
// to interpret it without stepping the simulation.
type EpisodeV1 struct {
	Header Header `json:"header"`

	Seed        uint32 `json:"seed"`
	LeftAgents  int    `json:"left_agents"`
	RightAgents int    `json:"right_agents"`
	LeftGoals   int32  `json:"left_goals"`
	RightGoals  int32  `json:"right_goals"`

	// Final marks the snapshot taken when the episode ended, as opposed to a
	// periodic mid-episode capture.
	Final bool `json:"final"`

	// State is the opaque serialized environment state.
	State []byte `json:"-"`
	// Digest is the hex sha256 of State.
	Digest string `json:"digest"`
}

// StateDigest computes the canonical digest of a serialized state.
func StateDigest(state []byte) string {
	sum := sha256.Sum256(state)
	return hex.EncodeToString(sum[:])
}

func WriteEpisode(path string, snap EpisodeV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadEpisode(path string) (EpisodeV1, error) {
	var snap EpisodeV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is informational, gob carries it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d in %s", snap.Header.Version, path)
	}
	if snap.Digest != "" && snap.Digest != StateDigest(snap.State) {
		return snap, fmt.Errorf("state digest mismatch in %s", path)
	}
	return snap, nil
}
