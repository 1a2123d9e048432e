package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/mareichhoff/football/internal/persistence/snapshot"
	"github.com/mareichhoff/football/internal/persistence/statedb"
	"github.com/mareichhoff/football/internal/persistence/tracelog"
	"github.com/mareichhoff/football/internal/sim/engine"
	"github.com/mareichhoff/football/internal/sim/match"
	"github.com/mareichhoff/football/internal/sim/scenario"
	"github.com/mareichhoff/football/internal/sim/tracker"
	"github.com/mareichhoff/football/internal/transport/ws"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		envID        = flag.String("env", "env_1", "environment id")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		scenarioPath = flag.String("scenario", "", "path to scenario yaml (default: built-in 11v11)")
		disableDB    = flag.Bool("disable_db", false, "disable the sqlite step/snapshot index")

		snapEvery  = flag.Int("snapshot_every", 1000, "write a state snapshot every N steps (0 disables)")
		snapPath   = flag.String("snapshot", "", "path to snapshot to resume from (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", false, "resume from the newest snapshot in the data dir (when -snapshot is empty)")

		trackSession = flag.Int("track_session", -1, "divergence tracker session id (-1 disables tracking)")
		trackStart   = flag.Int("track_start", 0, "tracker window start position")
		trackEnd     = flag.Int("track_end", 1000000, "tracker window end position")
		trackStride  = flag.Int("track_stride", 10000, "tracker window stride")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg := scenario.Default()
	if strings.TrimSpace(*scenarioPath) != "" {
		var err error
		cfg, err = scenario.Load(*scenarioPath)
		if err != nil {
			logger.Fatalf("load scenario: %v", err)
		}
	}

	envDir := filepath.Join(*dataDir, "envs", *envID)
	_ = os.MkdirAll(envDir, 0o755)

	var opts []engine.Option
	if *trackSession >= 0 {
		trk := tracker.New()
		trk.SetWindow(*trackStart, *trackEnd, *trackStride)
		trk.SetSession(*trackSession)
		opts = append(opts, engine.WithTracker(trk))
	}
	env := engine.New(cfg, scenario.EnvConfig{}, match.Wire, opts...)

	// Optional: read-model index backend (does not affect determinism).
	var idx *statedb.SQLiteIndex
	if !*disableDB {
		var err error
		idx, err = statedb.OpenSQLite(filepath.Join(envDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index backend: %v", err)
		}
		defer idx.Close()
	}

	steps := tracelog.NewStepLogger(envDir)
	divs := tracelog.NewDivergenceLogger(envDir)
	defer steps.Close()
	defer divs.Close()

	driver := ws.NewDriver(env, ws.DriverConfig{
		EnvID:              *envID,
		SnapshotDir:        filepath.Join(envDir, "snapshots"),
		SnapshotEverySteps: *snapEvery,
		ArchiveDir:         envDir,
		Logger:             logger,
	}, steps, divs, idx)
	if err := driver.Start(); err != nil {
		logger.Fatalf("start environment: %v", err)
	}
	defer driver.Close()

	resume := strings.TrimSpace(*snapPath)
	if resume == "" && *loadLatest {
		resume = latestSnapshot(envDir)
	}
	if resume != "" {
		snap, err := snapshot.ReadEpisode(resume)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.EnvID != "" && snap.Header.EnvID != *envID {
			logger.Fatalf("snapshot env id mismatch: flag=%s snap=%s", *envID, snap.Header.EnvID)
		}
		if err := driver.SetState(snap.State); err != nil {
			logger.Fatalf("apply snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s episode=%d step=%d", filepath.Base(resume), snap.Header.Episode, snap.Header.Step)
	}

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		info, err := driver.Info()
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP football_env_step Current environment step.\n")
		fmt.Fprintf(rw, "# TYPE football_env_step gauge\n")
		fmt.Fprintf(rw, "football_env_step{env=%q} %d\n", *envID, info.Step)

		fmt.Fprintf(rw, "# HELP football_env_episode Current 1-based episode.\n")
		fmt.Fprintf(rw, "# TYPE football_env_episode gauge\n")
		fmt.Fprintf(rw, "football_env_episode{env=%q} %d\n", *envID, driver.Episode())

		fmt.Fprintf(rw, "# HELP football_env_score Goals scored so far this episode.\n")
		fmt.Fprintf(rw, "# TYPE football_env_score gauge\n")
		fmt.Fprintf(rw, "football_env_score{env=%q,team=%q} %d\n", *envID, "left", info.LeftGoals)
		fmt.Fprintf(rw, "football_env_score{env=%q,team=%q} %d\n", *envID, "right", info.RightGoals)

		if trk := env.Tracker(); trk != nil {
			failed := 0
			if trk.Failure() {
				failed = 1
			}
			start, end, stride := trk.Window()
			fmt.Fprintf(rw, "# HELP football_tracker_failure Whether a divergence has been detected.\n")
			fmt.Fprintf(rw, "# TYPE football_tracker_failure gauge\n")
			fmt.Fprintf(rw, "football_tracker_failure{env=%q} %d\n", *envID, failed)
			fmt.Fprintf(rw, "# HELP football_tracker_window Current bisection window bound.\n")
			fmt.Fprintf(rw, "# TYPE football_tracker_window gauge\n")
			fmt.Fprintf(rw, "football_tracker_window{env=%q,bound=%q} %d\n", *envID, "start", start)
			fmt.Fprintf(rw, "football_tracker_window{env=%q,bound=%q} %d\n", *envID, "end", end)
			fmt.Fprintf(rw, "football_tracker_window{env=%q,bound=%q} %d\n", *envID, "stride", stride)
		}

		writeIndexMetrics(rw, idx)
	})

	enableAdminHTTP := envBool("FOOTBALL_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("FOOTBALL_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			info, err := driver.Info()
			if err != nil {
				http.Error(rw, err.Error(), http.StatusServiceUnavailable)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				EnvID   string        `json:"env_id"`
				Episode int           `json:"episode"`
				Step    int           `json:"step"`
				Index   statedb.Stats `json:"index"`
				Info    any           `json:"info"`
			}{
				EnvID:   *envID,
				Episode: driver.Episode(),
				Step:    info.Step,
				Index:   idx.Stats(),
				Info:    info,
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
	} else {
		logger.Printf("admin endpoints disabled (FOOTBALL_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (FOOTBALL_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(driver, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// latestSnapshot picks the newest snapshot file by name; the fixed-width
// episode/step naming sorts chronologically.
func latestSnapshot(envDir string) string {
	dir := filepath.Join(envDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1])
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func writeIndexMetrics(rw http.ResponseWriter, idx *statedb.SQLiteIndex) {
	if idx == nil {
		return
	}
	s := idx.Stats()
	fmt.Fprintf(rw, "# HELP football_index_queue_depth Current index write queue depth.\n")
	fmt.Fprintf(rw, "# TYPE football_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "football_index_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(rw, "# HELP football_index_queue_capacity Index write queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE football_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "football_index_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(rw, "# HELP football_index_dropped_total Writes dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE football_index_dropped_total counter\n")
	fmt.Fprintf(rw, "football_index_dropped_total{kind=%q} %d\n", "step", s.DropStepTotal)
	fmt.Fprintf(rw, "football_index_dropped_total{kind=%q} %d\n", "episode", s.DropEpisodeTotal)
	fmt.Fprintf(rw, "football_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
	fmt.Fprintf(rw, "football_index_dropped_total{kind=%q} %d\n", "divergence", s.DropDivergenceTotal)
}
