// Package statedb keeps a queryable SQLite index over episodes, step traces
// and state snapshots. It is a secondary index: writes are queued and may be
// dropped under pressure, the JSONL trace logs and snapshot files remain the
// source of truth.
package statedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mareichhoff/football/internal/persistence/snapshot"
	"github.com/mareichhoff/football/internal/persistence/tracelog"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropSteps       atomic.Int64
	dropSnapshots   atomic.Int64
	dropDivergences atomic.Int64
	dropEpisodes    atomic.Int64
}

type reqKind int

const (
	reqStep reqKind = iota + 1
	reqEpisode
	reqSnapshot
	reqDivergence
)

type req struct {
	kind reqKind

	step       tracelog.StepLogEntry
	episode    episodeRow
	snapshot   snapshotRow
	divergence tracelog.DivergenceEntry
}

type episodeRow struct {
	Episode     int
	Seed        uint32
	LeftAgents  int
	RightAgents int
	StartedAt   string
}

type snapshotRow struct {
	Episode int
	Step    int
	Path    string
	Bytes   int
	Digest  string
	Final   bool
}

// SnapshotInfo is one indexed snapshot file, as returned by Snapshots.
type SnapshotInfo struct {
	Episode int
	Step    int
	Path    string
	Bytes   int
	Digest  string
	Final   bool
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Buffered high enough to absorb a burst of per-step writes without
		// stalling the environment loop.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads; NORMAL durability is
	// acceptable for a derived index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS episodes (
			episode INTEGER PRIMARY KEY,
			seed INTEGER NOT NULL,
			left_agents INTEGER NOT NULL,
			right_agents INTEGER NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS steps (
			episode INTEGER NOT NULL,
			step INTEGER NOT NULL,
			left_goals INTEGER NOT NULL,
			right_goals INTEGER NOT NULL,
			game_mode INTEGER NOT NULL,
			in_play INTEGER NOT NULL,
			digest TEXT,
			PRIMARY KEY (episode, step)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			episode INTEGER NOT NULL,
			step INTEGER NOT NULL,
			path TEXT NOT NULL,
			bytes INTEGER NOT NULL,
			digest TEXT NOT NULL,
			final INTEGER NOT NULL,
			PRIMARY KEY (episode, step)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_final ON snapshots(final, episode);`,
		`CREATE TABLE IF NOT EXISTS divergences (
			session INTEGER NOT NULL,
			pos INTEGER NOT NULL,
			win_start INTEGER NOT NULL,
			win_end INTEGER NOT NULL,
			stride INTEGER NOT NULL,
			fatal INTEGER NOT NULL,
			detail TEXT,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (session, pos)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteStep(entry tracelog.StepLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqStep, step: entry}:
	default:
		s.dropSteps.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordEpisode(episode int, seed uint32, leftAgents, rightAgents int) {
	if s == nil || s.closed.Load() {
		return
	}
	r := episodeRow{
		Episode:     episode,
		Seed:        seed,
		LeftAgents:  leftAgents,
		RightAgents: rightAgents,
		StartedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqEpisode, episode: r}:
	default:
		s.dropEpisodes.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.EpisodeV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Episode: snap.Header.Episode,
		Step:    snap.Header.Step,
		Path:    path,
		Bytes:   len(snap.State),
		Digest:  snap.Digest,
		Final:   snap.Final,
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshots.Add(1)
	}
}

func (s *SQLiteIndex) RecordDivergence(entry tracelog.DivergenceEntry) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqDivergence, divergence: entry}:
	default:
		s.dropDivergences.Add(1)
	}
}

// Stats reports queue health for the admin surface.
type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	DropStepTotal       int64
	DropEpisodeTotal    int64
	DropSnapshotTotal   int64
	DropDivergenceTotal int64
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(s.ch),
		QueueCapacity:       cap(s.ch),
		DropStepTotal:       s.dropSteps.Load(),
		DropEpisodeTotal:    s.dropEpisodes.Load(),
		DropSnapshotTotal:   s.dropSnapshots.Load(),
		DropDivergenceTotal: s.dropDivergences.Load(),
	}
}

// EpisodeInfo is one indexed episode.
type EpisodeInfo struct {
	Episode     int    `json:"episode"`
	Seed        uint32 `json:"seed"`
	LeftAgents  int    `json:"left_agents"`
	RightAgents int    `json:"right_agents"`
	StartedAt   string `json:"started_at"`
}

// Episodes lists indexed episodes in order.
func (s *SQLiteIndex) Episodes() ([]EpisodeInfo, error) {
	rows, err := s.db.Query(
		`SELECT episode, seed, left_agents, right_agents, started_at FROM episodes ORDER BY episode`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EpisodeInfo
	for rows.Next() {
		var e EpisodeInfo
		if err := rows.Scan(&e.Episode, &e.Seed, &e.LeftAgents, &e.RightAgents, &e.StartedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Snapshots lists indexed snapshots of one episode, ordered by step.
func (s *SQLiteIndex) Snapshots(episode int) ([]SnapshotInfo, error) {
	rows, err := s.db.Query(
		`SELECT episode, step, path, bytes, digest, final FROM snapshots WHERE episode = ? ORDER BY step`,
		episode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var final int
		if err := rows.Scan(&info.Episode, &info.Step, &info.Path, &info.Bytes, &info.Digest, &final); err != nil {
			return nil, err
		}
		info.Final = final != 0
		out = append(out, info)
	}
	return out, rows.Err()
}

// StepDigest returns the recorded state digest of one step, "" if unknown.
func (s *SQLiteIndex) StepDigest(episode, step int) (string, error) {
	var digest sql.NullString
	err := s.db.QueryRow(
		`SELECT digest FROM steps WHERE episode = ? AND step = ?`, episode, step).Scan(&digest)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return digest.String, nil
}

// Divergences lists all recorded divergence reports, newest window first.
func (s *SQLiteIndex) Divergences() ([]tracelog.DivergenceEntry, error) {
	rows, err := s.db.Query(
		`SELECT session, pos, win_start, win_end, stride, fatal, detail, recorded_at FROM divergences ORDER BY recorded_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tracelog.DivergenceEntry
	for rows.Next() {
		var e tracelog.DivergenceEntry
		var fatal int
		var detail sql.NullString
		if err := rows.Scan(&e.Session, &e.Pos, &e.Start, &e.End, &e.Stride, &fatal, &detail, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.Fatal = fatal != 0
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEpisode, _ := s.db.Prepare(`INSERT OR REPLACE INTO episodes(episode,seed,left_agents,right_agents,started_at) VALUES(?,?,?,?,?)`)
	insertStep, _ := s.db.Prepare(`INSERT OR REPLACE INTO steps(episode,step,left_goals,right_goals,game_mode,in_play,digest) VALUES(?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(episode,step,path,bytes,digest,final) VALUES(?,?,?,?,?,?)`)
	insertDivergence, _ := s.db.Prepare(`INSERT OR REPLACE INTO divergences(session,pos,win_start,win_end,stride,fatal,detail,recorded_at) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertEpisode, insertStep, insertSnapshot, insertDivergence} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEpisode:
			e := r.episode
			if insertEpisode != nil {
				if _, err := tx.Stmt(insertEpisode).Exec(e.Episode, int64(e.Seed), e.LeftAgents, e.RightAgents, e.StartedAt); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqStep:
			e := r.step
			if insertStep != nil {
				inPlay := 0
				if e.InPlay {
					inPlay = 1
				}
				if _, err := tx.Stmt(insertStep).Exec(e.Episode, e.Step, e.LeftGoals, e.RightGoals, e.GameMode, inPlay, e.Digest); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				final := 0
				if sn.Final {
					final = 1
				}
				if _, err := tx.Stmt(insertSnapshot).Exec(sn.Episode, sn.Step, sn.Path, sn.Bytes, sn.Digest, final); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqDivergence:
			d := r.divergence
			if insertDivergence != nil {
				fatal := 0
				if d.Fatal {
					fatal = 1
				}
				if _, err := tx.Stmt(insertDivergence).Exec(d.Session, d.Pos, d.Start, d.End, d.Stride, fatal, d.Detail, d.RecordedAt); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
