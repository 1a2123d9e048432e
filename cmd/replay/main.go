package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/mareichhoff/football/internal/persistence/snapshot"
	"github.com/mareichhoff/football/internal/persistence/tracelog"
	"github.com/mareichhoff/football/internal/sim/engine"
	"github.com/mareichhoff/football/internal/sim/match"
	"github.com/mareichhoff/football/internal/sim/scenario"
)

// Replays a recorded step log against a fresh environment and verifies the
// per-step state digests. A mismatch pinpoints the first step where the
// rebuilt run diverges from the recorded one.
func main() {
	var (
		stepsDir     = flag.String("steps", "", "dir containing steps-*.jsonl.zst")
		scenarioPath = flag.String("scenario", "", "path to scenario yaml (default: built-in 11v11)")
		snapPath     = flag.String("snapshot", "", "snapshot to resume from before replaying (optional)")
		fromStep     = flag.Int("from_step", 0, "start verifying from step (inclusive, optional)")
		toStep       = flag.Int("to_step", 0, "stop at step (inclusive, optional)")
	)
	flag.Parse()

	if *stepsDir == "" {
		fmt.Fprintln(os.Stderr, "missing -steps")
		os.Exit(2)
	}

	cfg := scenario.Default()
	if strings.TrimSpace(*scenarioPath) != "" {
		var err error
		cfg, err = scenario.Load(*scenarioPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load scenario:", err)
			os.Exit(1)
		}
	}

	env := engine.New(cfg, scenario.EnvConfig{}, match.Wire)
	if err := env.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "start environment:", err)
		os.Exit(1)
	}
	defer env.Shutdown()

	episode := 1
	if strings.TrimSpace(*snapPath) != "" {
		snap, err := snapshot.ReadEpisode(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		if err := env.SetState(snap.State); err != nil {
			fmt.Fprintln(os.Stderr, "apply snapshot:", err)
			os.Exit(1)
		}
		episode = snap.Header.Episode
		fmt.Printf("resumed snapshot v%d env=%s episode=%d step=%d score=%d-%d\n",
			snap.Header.Version, snap.Header.EnvID, snap.Header.Episode, snap.Header.Step,
			snap.LeftGoals, snap.RightGoals)
	}

	files, err := listStepFiles(*stepsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list step logs:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no step logs found in", *stepsDir)
		os.Exit(1)
	}

	var checked int
	for _, path := range files {
		done, err := replayFile(env, path, &episode, *fromStep, *toStep, &checked)
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
		if done {
			break
		}
	}
	fmt.Printf("replay ok: checked=%d steps\n", checked)
}

func listStepFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "steps-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func replayFile(env *engine.Env, path string, episode *int, fromStep, toStep int, checked *int) (done bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return false, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for sc.Scan() {
		line := sc.Bytes()
		var entry tracelog.StepLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return false, fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if entry.Episode < *episode {
			continue
		}
		if entry.Episode > *episode {
			if err := env.Reset(nil); err != nil {
				return false, fmt.Errorf("reset for episode %d: %w", entry.Episode, err)
			}
			*episode = entry.Episode
		}
		// Skip steps already baked into a resumed snapshot or replayed from
		// an earlier log file.
		if entry.Episode == *episode && entry.Step <= env.StepCount() {
			continue
		}
		if toStep != 0 && entry.Step > toStep {
			return true, nil
		}

		for _, a := range entry.Actions {
			if err := env.Action(engine.Action(a.Action), a.LeftTeam, a.Player); err != nil {
				return false, fmt.Errorf("action at episode %d step %d: %w", entry.Episode, entry.Step, err)
			}
		}
		if err := env.Step(); err != nil {
			return false, fmt.Errorf("step at episode %d step %d: %w", entry.Episode, entry.Step, err)
		}
		if got := env.StepCount(); got != entry.Step {
			return false, fmt.Errorf("step counter mismatch: want=%d got=%d (file=%s)", entry.Step, got, filepath.Base(path))
		}

		if entry.Step >= fromStep && entry.Digest != "" {
			state, err := env.GetState()
			if err != nil {
				return false, err
			}
			*checked++
			if got := snapshot.StateDigest(state); got != entry.Digest {
				return false, fmt.Errorf("digest mismatch at episode %d step %d: got=%s want=%s", entry.Episode, entry.Step, got, entry.Digest)
			}
		}
	}
	return false, sc.Err()
}
