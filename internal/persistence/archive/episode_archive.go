// Package archive moves finished-episode snapshots out of the live snapshot
// directory into a per-episode archive with a small metadata file, so the
// live directory can be pruned without losing episode history.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mareichhoff/football/internal/persistence/snapshot"
)

type EpisodeArchiveMeta struct {
	Episode    int    `json:"episode"`
	FinalStep  int    `json:"final_step"`
	Seed       uint32 `json:"seed"`
	LeftGoals  int32  `json:"left_goals"`
	RightGoals int32  `json:"right_goals"`
	Snapshot   string `json:"snapshot"`
	Digest     string `json:"digest"`
	CreatedAt  string `json:"created_at"`
}

// ArchiveEpisodeSnapshot copies a final episode snapshot into
// `envDir/archives/episode_<NNN>/`. Non-final snapshots are skipped.
func ArchiveEpisodeSnapshot(envDir, snapshotPath string, snap snapshot.EpisodeV1) (episode int, archivedPath string, archived bool, err error) {
	if !snap.Final {
		return 0, "", false, nil
	}
	episode = snap.Header.Episode
	if episode <= 0 {
		return 0, "", false, nil
	}

	archiveDir := filepath.Join(envDir, "archives", fmt.Sprintf("episode_%03d", episode))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	meta := EpisodeArchiveMeta{
		Episode:    episode,
		FinalStep:  snap.Header.Step,
		Seed:       snap.Seed,
		LeftGoals:  snap.LeftGoals,
		RightGoals: snap.RightGoals,
		Snapshot:   filepath.Base(dst),
		Digest:     snap.Digest,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return episode, dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
