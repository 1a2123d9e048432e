package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mareichhoff/football/internal/persistence/snapshot"
	"github.com/mareichhoff/football/internal/persistence/statedb"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	envID := fs.String("env", "", "environment id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "envs")
	if *envID != "" {
		base = filepath.Join(base, *envID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// dbCmd queries the sqlite index of one environment.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	envID := fs.String("env", "env_1", "environment id")
	episode := fs.Int("episode", 0, "episode for snapshots/digest queries")
	step := fs.Int("step", 0, "step for digest query")
	what := fs.String("what", "episodes", "episodes | snapshots | digest | divergences")
	_ = fs.Parse(args)

	idx, err := statedb.OpenSQLite(filepath.Join(*dataDir, "envs", *envID, "index.db"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open index:", err)
		os.Exit(1)
	}
	defer idx.Close()

	switch *what {
	case "episodes":
		eps, err := idx.Episodes()
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		printJSON(eps)
	case "snapshots":
		snaps, err := idx.Snapshots(*episode)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		printJSON(snaps)
	case "digest":
		digest, err := idx.StepDigest(*episode, *step)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		if digest == "" {
			fmt.Fprintf(os.Stderr, "no digest for episode %d step %d\n", *episode, *step)
			os.Exit(1)
		}
		fmt.Println(digest)
	case "divergences":
		divs, err := idx.Divergences()
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		printJSON(divs)
	default:
		fmt.Fprintln(os.Stderr, "unknown -what:", *what)
		os.Exit(2)
	}
}

// stateCmd fetches the live server state over the loopback admin endpoint.
func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	addr := fs.String("addr", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	resp, err := http.Get(*addr + "/admin/v1/state")
	if err != nil {
		fmt.Fprintln(os.Stderr, "get:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintln(os.Stderr, "server:", resp.Status)
		os.Exit(1)
	}
	_, _ = io.Copy(os.Stdout, resp.Body)
}

// snapshotCmd prints a snapshot header and verifies its state digest.
func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	path := fs.String("path", "", "path to .snap.zst")
	_ = fs.Parse(args)

	if *path == "" {
		fmt.Fprintln(os.Stderr, "missing -path")
		os.Exit(2)
	}
	snap, err := snapshot.ReadEpisode(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d env=%s episode=%d step=%d seed=%d agents=%d/%d score=%d-%d final=%v bytes=%d digest=%s\n",
		snap.Header.Version, snap.Header.EnvID, snap.Header.Episode, snap.Header.Step,
		snap.Seed, snap.LeftAgents, snap.RightAgents, snap.LeftGoals, snap.RightGoals,
		snap.Final, len(snap.State), snap.Digest)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
