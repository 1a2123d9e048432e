package engine

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mareichhoff/football/internal/envstate"
	"github.com/mareichhoff/football/internal/protocol"
	"github.com/mareichhoff/football/internal/sim/scenario"
	"github.com/mareichhoff/football/internal/sim/tracker"
)

// LifecycleState tracks where an environment is between construction and
// shutdown. The value is part of the serialized state.
type LifecycleState int32

const (
	LifecycleCreated LifecycleState = iota
	LifecycleInitiated
	LifecycleRunning
	LifecycleDone
)

var (
	ErrAlreadyStarted = errors.New("engine: environment already started")
	ErrNotStarted     = errors.New("engine: environment not started")
	ErrRenderDisabled = errors.New("engine: rendering is disabled")
	ErrStalled        = errors.New("engine: menu flow stalled, no match appeared")
)

// maxSetupPhases caps how many menu phases may run back to back without a
// match appearing before the environment gives up.
const maxSetupPhases = 10000

// stepPhaseMillis is the real-time budget of one physics sub-step. The
// adaptive render pacing compares wall time per environment step against
// this budget to decide how many sub-steps it can afford to render.
const stepPhaseMillis = 9

// Env is the environment facade: one simulated match driven step by step
// from the outside. All methods must be called from a single goroutine; the
// transport layer funnels every client through one driver goroutine per
// environment.
type Env struct {
	ctx      *Context
	wiring   Wiring
	scenario *scenario.Config
	envCfg   scenario.EnvConfig

	state          LifecycleState
	waitingForGame int
	// renderedFrames is how many of the sub-steps of one environment step
	// are actually rendered. Adapted between 1 and PhysicsStepsPerFrame.
	renderedFrames int

	trk    *tracker.Tracker
	now    func() time.Time
	logger *log.Logger
}

// Option configures an Env at construction time.
type Option func(*Env)

// WithClock overrides the wall clock used by the adaptive render pacing.
func WithClock(now func() time.Time) Option {
	return func(e *Env) { e.now = now }
}

// WithTracker attaches a divergence tracker. Trackers may be shared between
// environments; see tracker.Tracker.
func WithTracker(t *tracker.Tracker) Option {
	return func(e *Env) { e.trk = t }
}

func WithLogger(l *log.Logger) Option {
	return func(e *Env) { e.logger = l }
}

// New builds an environment around a scenario. The collaborators are not
// created until Start.
func New(cfg *scenario.Config, envCfg scenario.EnvConfig, wiring Wiring, opts ...Option) *Env {
	if cfg == nil {
		cfg = scenario.Default()
	}
	envCfg.ApplyDefaults()
	e := &Env{
		wiring:         wiring,
		scenario:       cfg,
		envCfg:         envCfg,
		renderedFrames: 1,
		now:            time.Now,
		logger:         log.New(os.Stdout, "[env] ", log.LstdFlags|log.Lmicroseconds),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tracker returns the attached divergence tracker, nil if none.
func (e *Env) Tracker() *tracker.Tracker { return e.trk }

// SetTracker swaps the divergence tracker, typically to share one tracker
// across two environments being compared.
func (e *Env) SetTracker(t *tracker.Tracker) { e.trk = t }

// StepCount returns the number of completed in-play environment steps.
func (e *Env) StepCount() int {
	if e.ctx == nil {
		return 0
	}
	return e.ctx.Step
}

// Scenario returns the active scenario configuration.
func (e *Env) Scenario() *scenario.Config { return e.scenario }

// EnvConfig returns the environment-level configuration after defaulting
// and environment-variable overrides.
func (e *Env) EnvConfig() scenario.EnvConfig { return e.envCfg }

// RenderEnabled reports whether this environment produces frames.
func (e *Env) RenderEnabled() bool {
	return e.envCfg.RenderMode != scenario.RenderDisabled && e.scenario.Render
}

// Start creates the context, wires the collaborators, applies the scenario
// and pumps the menu flow until the first match exists. The FOOTBALL_DATA_DIR
// and FOOTBALL_FONT environment variables override the configured resource
// locations.
func (e *Env) Start() error {
	if e.state != LifecycleCreated {
		return ErrAlreadyStarted
	}
	if d := os.Getenv("FOOTBALL_DATA_DIR"); d != "" {
		e.envCfg.DataDir = d
	}
	if f := os.Getenv("FOOTBALL_FONT"); f != "" {
		e.envCfg.FontFile = f
	}
	e.ctx = newContext(e.envCfg)
	collab, err := e.wiring(e.ctx)
	if err != nil {
		return fmt.Errorf("wire collaborators: %w", err)
	}
	e.ctx.Menu = collab.Menu
	e.ctx.Game = collab.Game
	e.ctx.Graphics = collab.Graphics
	e.state = LifecycleInitiated
	e.setConfig(e.scenario)
	if err := e.doStep(1, e.RenderEnabled()); err != nil {
		return err
	}
	e.state = LifecycleRunning
	e.logger.Printf("started: left_agents=%d right_agents=%d render=%v seed=%d",
		e.scenario.LeftAgents, e.scenario.RightAgents, e.RenderEnabled(), e.scenario.GameEngineRandomSeed)
	return nil
}

// setConfig applies a scenario to the live context: seeds both random
// streams, converts the ball start into physics units and assigns controller
// sides, external agents first on each team.
func (e *Env) setConfig(cfg *scenario.Config) {
	e.ctx.Scenario = cfg
	e.ctx.Rng.Seed(uint64(cfg.GameEngineRandomSeed))
	e.ctx.RngNonDeterministic.Seed(uint64(cfg.GameEngineRandomSeed) ^ 0x9e3779b97f4a7c15)
	e.ctx.BallStart = Position{Value: [3]float32{
		cfg.BallPosition[0] * FieldScaleX,
		cfg.BallPosition[1] * FieldScaleY,
		cfg.BallPosition[2] * FieldScaleZ,
	}}
	setup := make([]SideSelection, 2*scenario.MaxPlayers)
	for i := range setup {
		side := SideUnassigned
		if i < scenario.MaxPlayers {
			if i < cfg.LeftAgents {
				side = SideLeft
			}
		} else if i-scenario.MaxPlayers < cfg.RightAgents {
			side = SideRight
		}
		e.ctx.Controllers[i].SetSide(side)
		setup[i] = SideSelection{Side: side}
	}
	e.ctx.Menu.SetControllerSetup(setup)
}

func (e *Env) match() Match {
	if e.ctx == nil || e.ctx.Game == nil {
		return nil
	}
	return e.ctx.Game.Match()
}

// doStep pumps count simulation phases once a match exists. While the menu
// flow is still setting the match up, phases run without consuming count.
func (e *Env) doStep(count int, render bool) error {
	for {
		if e.match() != nil {
			if count <= 0 {
				return nil
			}
			count--
		} else {
			e.waitingForGame++
			if e.waitingForGame > maxSetupPhases {
				return fmt.Errorf("%w after %d phases", ErrStalled, e.waitingForGame)
			}
		}
		e.ctx.Menu.ProcessPhase()
		e.ctx.Game.ProcessPhase()
		if render {
			e.ctx.Graphics.GetPhase()
			e.ctx.Graphics.ProcessPhase()
		}
		if err := e.checkpoint("phase"); err != nil {
			return err
		}
	}
}

func (e *Env) checkpoint(site string) error {
	if e.trk == nil {
		return nil
	}
	return e.trk.Checkpoint(site, e)
}

// Step advances the environment by one full step of PhysicsStepsPerFrame
// sub-steps. In real-time render mode the sub-steps to render are spread
// evenly and their number adapts to the measured wall time, so slow hosts
// degrade frame rate instead of simulation speed. The step counter advances
// only while the match is in play.
func (e *Env) Step() error {
	if e.state != LifecycleRunning {
		return ErrNotStarted
	}
	n := e.ctx.EnvConfig.PhysicsStepsPerFrame
	render := e.RenderEnabled()
	if e.ctx.Scenario.RealTime && render {
		begin := e.now()
		for x := 1; x <= n; x++ {
			sub := x*e.renderedFrames/n != (x-1)*e.renderedFrames/n
			if err := e.doStep(1, sub); err != nil {
				return err
			}
		}
		elapsed := e.now().Sub(begin)
		if elapsed > time.Duration(stepPhaseMillis*(n+1))*time.Millisecond && e.renderedFrames > 1 {
			e.renderedFrames--
		} else if elapsed < time.Duration(stepPhaseMillis*(n-1))*time.Millisecond && e.renderedFrames < n {
			e.renderedFrames++
		}
	} else {
		if err := e.doStep(n-1, false); err != nil {
			return err
		}
		if err := e.doStep(1, render); err != nil {
			return err
		}
	}
	if m := e.match(); m != nil && m.InPlay() {
		e.ctx.Step++
	}
	return nil
}

// Action applies one action code to one player's controller. Unknown codes
// and out-of-range player slots are ignored.
func (e *Env) Action(a Action, leftTeam bool, player int) error {
	if e.state != LifecycleRunning {
		return ErrNotStarted
	}
	if a < 0 || a >= ActionCount {
		return nil
	}
	if player < 0 || player >= scenario.MaxPlayers {
		return nil
	}
	id := player
	if !leftTeam {
		id += scenario.MaxPlayers
	}
	a.apply(e.ctx.Controllers[id])
	return nil
}

// Reset tears the running match down and starts a fresh one. A non-nil
// override replaces the scenario for this and later episodes.
func (e *Env) Reset(override *scenario.Config) error {
	if e.state != LifecycleRunning {
		return ErrNotStarted
	}
	if override != nil {
		e.scenario = override
	}
	e.ctx.Step = -1
	e.waitingForGame = 0
	for _, c := range e.ctx.Controllers {
		c.Reset()
	}
	e.ctx.GeometryPool.RemoveUnused()
	e.ctx.SurfacePool.RemoveUnused()
	e.ctx.TexturePool.RemoveUnused()
	e.ctx.VertexPool.RemoveUnused()
	e.ctx.Menu.TopLevel()
	e.setConfig(e.scenario)
	// Two phases: one for the menu to tear the old match down, one to begin
	// setting up the new one. Step pumps the rest on demand.
	render := e.RenderEnabled()
	for i := 0; i < 2; i++ {
		e.ctx.Menu.ProcessPhase()
		e.ctx.Game.ProcessPhase()
		if render {
			e.ctx.Graphics.GetPhase()
			e.ctx.Graphics.ProcessPhase()
		}
	}
	return nil
}

// Info returns the current observation.
func (e *Env) Info() (protocol.SharedInfo, error) {
	if e.state != LifecycleRunning {
		return protocol.SharedInfo{}, ErrNotStarted
	}
	var info protocol.SharedInfo
	info.BallOwnedTeam = -1
	if m := e.match(); m != nil {
		m.FillInfo(&info)
	}
	info.Step = e.ctx.Step
	return info, nil
}

// Frame returns the most recently rendered frame.
func (e *Env) Frame() (protocol.Frame, error) {
	if e.state != LifecycleRunning {
		return protocol.Frame{}, ErrNotStarted
	}
	if !e.RenderEnabled() {
		return protocol.Frame{}, ErrRenderDisabled
	}
	return e.ctx.Graphics.Frame(), nil
}

// GetState serializes the complete environment state.
func (e *Env) GetState() ([]byte, error) {
	if e.state != LifecycleRunning {
		return nil, ErrNotStarted
	}
	s := envstate.NewWriter()
	if err := e.processState(s); err != nil {
		return nil, err
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return s.Bytes(), nil
}

// SetState restores a state captured by GetState on an environment with the
// same shape. Anything short of a byte-exact consume of the input is
// reported as corruption.
func (e *Env) SetState(b []byte) error {
	if e.state != LifecycleRunning {
		return ErrNotStarted
	}
	s := envstate.NewReader(b)
	if err := e.processState(s); err != nil {
		return err
	}
	if err := s.Err(); err != nil {
		return err
	}
	if !s.EOS() {
		return fmt.Errorf("%w: trailing bytes after environment state", envstate.ErrCorrupted)
	}
	return nil
}

// processState runs the fixed serialization order over the whole context.
// With a tracker attached, every processed field issues a validation
// checkpoint, so serializing a context advances the same checkpoint stream as
// stepping it. The tracker's in-progress guard keeps the state captures made
// during verification from recursing.
func (e *Env) processState(s *envstate.State) error {
	var cpErr error
	if e.trk != nil {
		s.Checkpoint = func() {
			if err := e.checkpoint("state"); err != nil && cpErr == nil {
				cpErr = err
			}
		}
	}
	err := e.processFields(s)
	if cpErr != nil {
		return cpErr
	}
	return err
}

func (e *Env) processFields(s *envstate.State) error {
	v := int32(e.state)
	s.ProcessInt32(&v)
	e.state = LifecycleState(v)
	s.ProcessInt(&e.ctx.Step)
	e.ctx.Rng.ProcessState(s)
	e.ctx.RngNonDeterministic.ProcessState(s)
	e.ctx.Scenario.ProcessState(s)
	for _, c := range e.ctx.Controllers {
		c.ProcessState(s)
	}
	m := e.match()
	has := m != nil
	s.ProcessBool(&has)
	if s.Err() != nil {
		return nil
	}
	if s.Reading() && has != (m != nil) {
		return fmt.Errorf("%w: match presence mismatch", envstate.ErrCorrupted)
	}
	if has {
		m.ProcessState(s)
	}
	return nil
}

// Ready implements tracker.Target.
func (e *Env) Ready() bool {
	return e.state == LifecycleRunning && e.match() != nil
}

// CaptureState implements tracker.Target.
func (e *Env) CaptureState() ([]byte, error) { return e.GetState() }

// RestoreState implements tracker.Target.
func (e *Env) RestoreState(b []byte) error { return e.SetState(b) }

// Shutdown releases the context. The environment cannot be restarted.
func (e *Env) Shutdown() {
	if e.state == LifecycleCreated || e.state == LifecycleDone {
		return
	}
	e.state = LifecycleDone
	e.ctx = nil
}
