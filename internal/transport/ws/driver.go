package ws

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/mareichhoff/football/internal/persistence/archive"
	"github.com/mareichhoff/football/internal/persistence/snapshot"
	"github.com/mareichhoff/football/internal/persistence/statedb"
	"github.com/mareichhoff/football/internal/persistence/tracelog"
	"github.com/mareichhoff/football/internal/protocol"
	"github.com/mareichhoff/football/internal/sim/engine"
)

// DriverConfig carries the environment-hosting knobs of one driver.
type DriverConfig struct {
	EnvID string
	// SnapshotDir receives periodic state snapshot files; empty disables
	// snapshotting.
	SnapshotDir string
	// SnapshotEverySteps is the capture period, 0 disables periodic capture.
	SnapshotEverySteps int
	// ArchiveDir receives a copy of every final episode snapshot; empty
	// disables archiving.
	ArchiveDir string
	Logger     *log.Logger
}

// Driver owns an environment instance. The engine is single-goroutine by
// contract, so every operation, no matter which connection it came from, is
// funneled through the driver's loop.
type Driver struct {
	cfg  DriverConfig
	env  *engine.Env
	logg *log.Logger

	steps *tracelog.StepLogger
	divs  *tracelog.DivergenceLogger
	idx   *statedb.SQLiteIndex

	ch   chan func()
	done chan struct{}

	mu     sync.Mutex
	closed bool

	// Loop-owned fields below, never touched outside the loop goroutine.
	episode        int
	pendingActions []tracelog.ActionEntry
	lastFailurePos int
}

func NewDriver(env *engine.Env, cfg DriverConfig, steps *tracelog.StepLogger, divs *tracelog.DivergenceLogger, idx *statedb.SQLiteIndex) *Driver {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Driver{
		cfg:            cfg,
		env:            env,
		logg:           logger,
		steps:          steps,
		divs:           divs,
		idx:            idx,
		ch:             make(chan func(), 64),
		done:           make(chan struct{}),
		lastFailurePos: -1,
	}
}

// Start brings the environment up and begins serving operations.
func (d *Driver) Start() error {
	if err := d.env.Start(); err != nil {
		return err
	}
	d.episode = 1
	sc := d.env.Scenario()
	if d.idx != nil {
		d.idx.RecordEpisode(d.episode, sc.GameEngineRandomSeed, sc.LeftAgents, sc.RightAgents)
	}
	go d.loop()
	return nil
}

func (d *Driver) loop() {
	for {
		select {
		case <-d.done:
			// Run out what was queued before shutdown so no caller is left
			// waiting. Nothing new arrives once the closed flag is up.
			for {
				select {
				case f := <-d.ch:
					f()
				default:
					return
				}
			}
		case f := <-d.ch:
			f()
		}
	}
}

// ErrDriverClosed reports an operation submitted after Close.
var ErrDriverClosed = errors.New("ws: driver closed")

// Close shuts the environment down and stops the loop once the queued
// operations have drained. Safe to call more than once.
func (d *Driver) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	fin := make(chan struct{})
	d.ch <- func() { d.env.Shutdown(); close(fin) }
	close(d.done)
	d.mu.Unlock()
	<-fin
}

// do runs f on the driver goroutine and waits for it. Once the driver is
// closed, f is not run and ErrDriverClosed comes back instead.
func (d *Driver) do(f func()) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDriverClosed
	}
	fin := make(chan struct{})
	d.ch <- func() { f(); close(fin) }
	d.mu.Unlock()
	<-fin
	return nil
}

func (d *Driver) Act(action int, leftTeam bool, player int) error {
	var err error
	if derr := d.do(func() {
		err = d.env.Action(engine.Action(action), leftTeam, player)
		if err == nil {
			d.pendingActions = append(d.pendingActions, tracelog.ActionEntry{
				Action: action, LeftTeam: leftTeam, Player: player,
			})
		}
	}); derr != nil {
		return derr
	}
	return err
}

func (d *Driver) Step() (protocol.SharedInfo, error) {
	var info protocol.SharedInfo
	var err error
	if derr := d.do(func() {
		if err = d.env.Step(); err != nil {
			return
		}
		info, err = d.env.Info()
		if err != nil {
			return
		}
		d.logStep(info)
		d.maybeSnapshot(info, false)
		d.checkDivergence()
	}); derr != nil {
		return info, derr
	}
	return info, err
}

func (d *Driver) Reset(apply func(*engine.Env) error) (protocol.SharedInfo, error) {
	var info protocol.SharedInfo
	var err error
	if derr := d.do(func() {
		// Capture the finished episode before tearing it down.
		if prev, infoErr := d.env.Info(); infoErr == nil {
			d.maybeSnapshot(prev, true)
		}
		if err = apply(d.env); err != nil {
			return
		}
		d.episode++
		d.pendingActions = nil
		sc := d.env.Scenario()
		if d.idx != nil {
			d.idx.RecordEpisode(d.episode, sc.GameEngineRandomSeed, sc.LeftAgents, sc.RightAgents)
		}
		if err = d.env.Step(); err != nil {
			return
		}
		info, err = d.env.Info()
	}); derr != nil {
		return info, derr
	}
	return info, err
}

func (d *Driver) Info() (protocol.SharedInfo, error) {
	var info protocol.SharedInfo
	var err error
	if derr := d.do(func() { info, err = d.env.Info() }); derr != nil {
		return info, derr
	}
	return info, err
}

func (d *Driver) GetState() ([]byte, error) {
	var b []byte
	var err error
	if derr := d.do(func() { b, err = d.env.GetState() }); derr != nil {
		return nil, derr
	}
	return b, err
}

func (d *Driver) SetState(b []byte) error {
	var err error
	if derr := d.do(func() { err = d.env.SetState(b) }); derr != nil {
		return derr
	}
	return err
}

func (d *Driver) Frame() (protocol.Frame, error) {
	var frame protocol.Frame
	var err error
	if derr := d.do(func() { frame, err = d.env.Frame() }); derr != nil {
		return frame, derr
	}
	return frame, err
}

func (d *Driver) Env() *engine.Env { return d.env }

// Episode returns the 1-based episode counter, 0 once the driver is closed.
func (d *Driver) Episode() int {
	var ep int
	_ = d.do(func() { ep = d.episode })
	return ep
}

func (d *Driver) logStep(info protocol.SharedInfo) {
	entry := tracelog.StepLogEntry{
		Episode:    d.episode,
		Step:       info.Step,
		Actions:    d.pendingActions,
		LeftGoals:  info.LeftGoals,
		RightGoals: info.RightGoals,
		GameMode:   info.GameMode,
		InPlay:     info.IsInPlay,
	}
	if state, err := d.env.GetState(); err == nil {
		entry.Digest = snapshot.StateDigest(state)
	}
	d.pendingActions = nil
	if d.steps != nil {
		if err := d.steps.WriteStep(entry); err != nil {
			d.logg.Printf("step log: %v", err)
		}
	}
	if d.idx != nil {
		_ = d.idx.WriteStep(entry)
	}
}

func (d *Driver) maybeSnapshot(info protocol.SharedInfo, final bool) {
	if d.cfg.SnapshotDir == "" {
		return
	}
	if !final && (d.cfg.SnapshotEverySteps <= 0 || info.Step <= 0 || info.Step%d.cfg.SnapshotEverySteps != 0) {
		return
	}
	state, err := d.env.GetState()
	if err != nil {
		d.logg.Printf("snapshot capture: %v", err)
		return
	}
	sc := d.env.Scenario()
	snap := snapshot.EpisodeV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			EnvID:   d.cfg.EnvID,
			Episode: d.episode,
			Step:    info.Step,
		},
		Seed:        sc.GameEngineRandomSeed,
		LeftAgents:  sc.LeftAgents,
		RightAgents: sc.RightAgents,
		LeftGoals:   info.LeftGoals,
		RightGoals:  info.RightGoals,
		Final:       final,
		State:       state,
		Digest:      snapshot.StateDigest(state),
	}
	path := filepath.Join(d.cfg.SnapshotDir, fmt.Sprintf("ep%03d-step%06d.snap.zst", d.episode, info.Step))
	if err := snapshot.WriteEpisode(path, snap); err != nil {
		d.logg.Printf("snapshot write: %v", err)
		return
	}
	if d.idx != nil {
		d.idx.RecordSnapshot(path, snap)
	}
	if final && d.cfg.ArchiveDir != "" {
		if _, archived, ok, err := archive.ArchiveEpisodeSnapshot(d.cfg.ArchiveDir, path, snap); err != nil {
			d.logg.Printf("archive episode snapshot: %v", err)
		} else if ok {
			d.logg.Printf("archived episode %d snapshot to %s", snap.Header.Episode, archived)
		}
	}
}

func (d *Driver) checkDivergence() {
	trk := d.env.Tracker()
	if trk == nil || !trk.Failure() || trk.FailurePos() == d.lastFailurePos {
		return
	}
	d.lastFailurePos = trk.FailurePos()
	start, end, stride := trk.Window()
	entry := tracelog.DivergenceEntry{
		Session:    trk.Session(),
		Pos:        d.lastFailurePos,
		Start:      start,
		End:        end,
		Stride:     stride,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	d.logg.Printf("divergence at position %d, window [%d,%d] stride %d", entry.Pos, start, end, stride)
	if d.divs != nil {
		if err := d.divs.WriteDivergence(entry); err != nil {
			d.logg.Printf("divergence log: %v", err)
		}
	}
	if d.idx != nil {
		d.idx.RecordDivergence(entry)
	}
}
