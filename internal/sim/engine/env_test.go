package engine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/mareichhoff/football/internal/envstate"
	"github.com/mareichhoff/football/internal/protocol"
	"github.com/mareichhoff/football/internal/sim/scenario"
	"github.com/mareichhoff/football/internal/sim/tracker"
)

type fakeMenu struct {
	phase int
	ready bool
	gen   int
	setup []SideSelection
}

func (m *fakeMenu) ProcessPhase() {
	if m.ready {
		return
	}
	m.phase++
	if m.phase >= 3 {
		m.ready = true
	}
}

func (m *fakeMenu) TopLevel() {
	m.phase = 0
	m.ready = false
	m.gen++
}

func (m *fakeMenu) ControllerSetup() []SideSelection     { return m.setup }
func (m *fakeMenu) SetControllerSetup(s []SideSelection) { m.setup = s }

type fakeMatch struct {
	inPlay  bool
	ticks   int
	payload uint64
}

func (m *fakeMatch) InPlay() bool { return m.inPlay }

func (m *fakeMatch) FillInfo(info *protocol.SharedInfo) {
	info.IsInPlay = m.inPlay
	info.BallPosition[0] = float32(m.ticks)
}

func (m *fakeMatch) ProcessState(s *envstate.State) {
	s.ProcessBool(&m.inPlay)
	s.ProcessInt(&m.ticks)
	s.ProcessUint64(&m.payload)
}

type fakeGame struct {
	menu   *fakeMenu
	gen    int
	m      *fakeMatch
	phases int
}

func (g *fakeGame) ProcessPhase() {
	if g.gen != g.menu.gen {
		g.gen = g.menu.gen
		g.m = nil
	}
	if g.m == nil {
		if g.menu.ready {
			g.m = &fakeMatch{inPlay: true}
		}
		return
	}
	g.phases++
	g.m.ticks++
}

func (g *fakeGame) Match() Match {
	if g.m == nil {
		return nil
	}
	return g.m
}

type fakeGfx struct {
	got      int
	rendered int
}

func (g *fakeGfx) GetPhase() { g.got++ }

func (g *fakeGfx) ProcessPhase() {
	if g.got > g.rendered {
		g.rendered++
	}
}

func (g *fakeGfx) Frame() protocol.Frame {
	return protocol.Frame{Width: 1, Height: 1, Pixels: []byte{byte(g.rendered), 0, 0}}
}

type fakes struct {
	menu *fakeMenu
	game *fakeGame
	gfx  *fakeGfx
}

func (f *fakes) wiring(ctx *Context) (Collaborators, error) {
	f.menu = &fakeMenu{}
	f.game = &fakeGame{menu: f.menu}
	f.gfx = &fakeGfx{}
	return Collaborators{Menu: f.menu, Game: f.game, Graphics: f.gfx}, nil
}

func startedEnv(t *testing.T, cfg *scenario.Config, envCfg scenario.EnvConfig, opts ...Option) (*Env, *fakes) {
	t.Helper()
	f := &fakes{}
	e := New(cfg, envCfg, f.wiring, opts...)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return e, f
}

func TestStart_PumpsMenuUntilMatchExists(t *testing.T) {
	e, f := startedEnv(t, nil, scenario.EnvConfig{})
	if f.game.m == nil {
		t.Fatal("no match after Start")
	}
	if !e.Ready() {
		t.Fatal("env should be ready once the match exists")
	}
	if err := e.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start: %v", err)
	}
}

func TestLifecycle_OpsBeforeStart(t *testing.T) {
	f := &fakes{}
	e := New(nil, scenario.EnvConfig{}, f.wiring)
	if err := e.Step(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Step: %v", err)
	}
	if err := e.Action(ActionTop, true, 0); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Action: %v", err)
	}
	if _, err := e.GetState(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("GetState: %v", err)
	}
	if err := e.Reset(nil); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Reset: %v", err)
	}
}

func TestStep_RunsPhysicsStepsPerFrame(t *testing.T) {
	e, f := startedEnv(t, nil, scenario.EnvConfig{PhysicsStepsPerFrame: 10})
	before := f.game.phases
	if err := e.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := f.game.phases - before; got != 10 {
		t.Fatalf("match phases per step: got %d want 10", got)
	}
	if e.StepCount() != 1 {
		t.Fatalf("step count: got %d want 1", e.StepCount())
	}
}

func TestStep_CounterHoldsWhileNotInPlay(t *testing.T) {
	e, f := startedEnv(t, nil, scenario.EnvConfig{})
	f.game.m.inPlay = false
	if err := e.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if e.StepCount() != 0 {
		t.Fatalf("step count advanced while out of play: %d", e.StepCount())
	}
}

func TestStep_RendersExactlyOnceWithoutRealTime(t *testing.T) {
	cfg := scenario.Default()
	e, f := startedEnv(t, cfg, scenario.EnvConfig{RenderMode: scenario.RenderOffscreen})
	before := f.gfx.rendered
	if err := e.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := f.gfx.rendered - before; got != 1 {
		t.Fatalf("rendered sub-steps: got %d want 1", got)
	}
}

func TestStep_AdaptiveRenderPacing(t *testing.T) {
	cfg := scenario.Default()
	cfg.RealTime = true
	cur := time.Unix(0, 0)
	perCall := time.Duration(0)
	now := func() time.Time {
		cur = cur.Add(perCall)
		return cur
	}
	e, f := startedEnv(t, cfg, scenario.EnvConfig{RenderMode: scenario.RenderOffscreen, PhysicsStepsPerFrame: 10}, WithClock(now))

	if e.renderedFrames != 1 {
		t.Fatalf("initial rendered frames: %d", e.renderedFrames)
	}

	// A fast host (under 81ms per step) ramps rendering up to every
	// sub-step.
	for i := 0; i < 9; i++ {
		if err := e.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if e.renderedFrames != 10 {
		t.Fatalf("rendered frames after fast steps: got %d want 10", e.renderedFrames)
	}
	before := f.gfx.rendered
	if err := e.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := f.gfx.rendered - before; got != 10 {
		t.Fatalf("sub-steps rendered at full rate: got %d want 10", got)
	}

	// A slow host (over 99ms per step) sheds one rendered sub-step per
	// environment step until only one remains.
	perCall = 120 * time.Millisecond
	for i := 0; i < 9; i++ {
		if err := e.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if e.renderedFrames != 1 {
		t.Fatalf("rendered frames after slow steps: got %d want 1", e.renderedFrames)
	}
	before = f.gfx.rendered
	if err := e.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := f.gfx.rendered - before; got != 1 {
		t.Fatalf("sub-steps rendered at min rate: got %d want 1", got)
	}
}

func TestSetConfig_AssignsControllerSides(t *testing.T) {
	cfg := scenario.Default()
	cfg.LeftAgents = 2
	cfg.RightAgents = 1
	e, f := startedEnv(t, cfg, scenario.EnvConfig{})

	for i, c := range e.ctx.Controllers {
		want := SideUnassigned
		if i < 2 {
			want = SideLeft
		}
		if i == scenario.MaxPlayers {
			want = SideRight
		}
		if c.Side() != want {
			t.Fatalf("controller %d side: got %d want %d", i, c.Side(), want)
		}
	}
	setup := f.menu.ControllerSetup()
	if len(setup) != 2*scenario.MaxPlayers {
		t.Fatalf("setup length: %d", len(setup))
	}
	if setup[0].Side != SideLeft || setup[scenario.MaxPlayers].Side != SideRight {
		t.Fatal("menu controller setup does not match assignment")
	}
}

func TestAction_MapsOntoControllers(t *testing.T) {
	e, _ := startedEnv(t, nil, scenario.EnvConfig{})

	dirs := map[Action][3]float32{
		ActionLeft:        {-1, 0, 0},
		ActionTopLeft:     {-1, 1, 0},
		ActionTop:         {0, 1, 0},
		ActionTopRight:    {1, 1, 0},
		ActionRight:       {1, 0, 0},
		ActionBottomRight: {1, -1, 0},
		ActionBottom:      {0, -1, 0},
		ActionBottomLeft:  {-1, -1, 0},
	}
	for a, want := range dirs {
		if err := e.Action(a, true, 0); err != nil {
			t.Fatalf("Action(%d): %v", a, err)
		}
		if got := e.ctx.Controllers[0].Direction(); got != want {
			t.Fatalf("action %d direction: got %v want %v", a, got, want)
		}
	}
	if err := e.Action(ActionReleaseDirection, true, 0); err != nil {
		t.Fatalf("release direction: %v", err)
	}
	if got := e.ctx.Controllers[0].Direction(); got != ([3]float32{}) {
		t.Fatalf("direction after release: %v", got)
	}

	for b := Button(0); b < buttonCount; b++ {
		press := ActionLongPass + Action(b)
		release := ActionReleaseLongPass + Action(b)
		if err := e.Action(press, false, 4); err != nil {
			t.Fatalf("press %d: %v", press, err)
		}
		c := e.ctx.Controllers[scenario.MaxPlayers+4]
		if !c.Pressed(b) {
			t.Fatalf("button %d not pressed by action %d", b, press)
		}
		if err := e.Action(release, false, 4); err != nil {
			t.Fatalf("release %d: %v", release, err)
		}
		if c.Pressed(b) {
			t.Fatalf("button %d still pressed after action %d", b, release)
		}
	}

	// Out-of-range codes and slots are silent no-ops.
	if err := e.Action(ActionCount, true, 0); err != nil {
		t.Fatalf("unknown action: %v", err)
	}
	if err := e.Action(-1, true, 0); err != nil {
		t.Fatalf("negative action: %v", err)
	}
	if err := e.Action(ActionTop, true, scenario.MaxPlayers); err != nil {
		t.Fatalf("player out of range: %v", err)
	}
	if err := e.Action(ActionTop, true, -1); err != nil {
		t.Fatalf("negative player: %v", err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	e, _ := startedEnv(t, nil, scenario.EnvConfig{})
	for i := 0; i < 3; i++ {
		if err := e.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	ref, err := e.GetState()
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}

	// Mutating and restoring gets back to the exact bytes.
	if err := e.Action(ActionSprint, true, 0); err != nil {
		t.Fatalf("Action: %v", err)
	}
	if err := e.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	mutated, err := e.GetState()
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if bytes.Equal(ref, mutated) {
		t.Fatal("state did not change after action and step")
	}
	if err := e.SetState(ref); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	restored, err := e.GetState()
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if !bytes.Equal(ref, restored) {
		t.Fatal("restored state is not byte-identical")
	}
	if e.StepCount() != 3 {
		t.Fatalf("step count after restore: got %d want 3", e.StepCount())
	}
}

func TestSetState_RejectsCorruptedInput(t *testing.T) {
	e, _ := startedEnv(t, nil, scenario.EnvConfig{})
	ref, err := e.GetState()
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}

	trailing := append(append([]byte{}, ref...), 0)
	if err := e.SetState(trailing); !errors.Is(err, envstate.ErrCorrupted) {
		t.Fatalf("trailing bytes: %v", err)
	}
	if err := e.SetState(ref[:len(ref)/2]); !errors.Is(err, envstate.ErrCorrupted) {
		t.Fatalf("truncated state: %v", err)
	}
	// A team length field pointing far past the buffer is corruption, not an
	// allocation request. The field sits after the lifecycle value, the step
	// counter, both random streams and the ball position.
	const leftTeamCountOffset = 4 + 8 + 8 + 8 + 12
	huge := append([]byte{}, ref...)
	binary.LittleEndian.PutUint64(huge[leftTeamCountOffset:], 1<<40)
	if err := e.SetState(huge); !errors.Is(err, envstate.ErrCorrupted) {
		t.Fatalf("oversized team count: %v", err)
	}
	// A clean state still applies after the failed attempts.
	if err := e.SetState(ref); err != nil {
		t.Fatalf("SetState after corruption: %v", err)
	}
}

func TestReset_StartsFreshEpisode(t *testing.T) {
	e, f := startedEnv(t, nil, scenario.EnvConfig{})
	for i := 0; i < 2; i++ {
		if err := e.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	e.ctx.TexturePool.Acquire("old-scene")
	e.ctx.TexturePool.Release("old-scene")

	if err := e.Reset(nil); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if e.StepCount() != -1 {
		t.Fatalf("step count after reset: got %d want -1", e.StepCount())
	}
	if f.game.m != nil {
		t.Fatal("match survived reset")
	}
	if e.ctx.TexturePool.Len() != 0 {
		t.Fatal("unused resources survived reset")
	}
	if err := e.Step(); err != nil {
		t.Fatalf("Step after reset: %v", err)
	}
	if f.game.m == nil {
		t.Fatal("no new match after reset and step")
	}
	if e.StepCount() != 0 {
		t.Fatalf("step count after first post-reset step: got %d want 0", e.StepCount())
	}
}

func TestReset_PumpsGraphicsWhenRendering(t *testing.T) {
	e, f := startedEnv(t, scenario.Default(), scenario.EnvConfig{RenderMode: scenario.RenderOffscreen})
	before := f.gfx.got
	if err := e.Reset(nil); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := f.gfx.got - before; got != 2 {
		t.Fatalf("graphics phases during reset: got %d want 2", got)
	}

	e2, f2 := startedEnv(t, nil, scenario.EnvConfig{})
	before = f2.gfx.got
	if err := e2.Reset(nil); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if f2.gfx.got != before {
		t.Fatalf("graphics pumped with rendering disabled: %d phases", f2.gfx.got-before)
	}
}

func TestFrame_RequiresRendering(t *testing.T) {
	e, _ := startedEnv(t, nil, scenario.EnvConfig{})
	if _, err := e.Frame(); !errors.Is(err, ErrRenderDisabled) {
		t.Fatalf("Frame without rendering: %v", err)
	}

	e2, _ := startedEnv(t, scenario.Default(), scenario.EnvConfig{RenderMode: scenario.RenderOffscreen})
	frame, err := e2.Frame()
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if frame.Width != 1 || frame.Height != 1 {
		t.Fatalf("frame shape: %dx%d", frame.Width, frame.Height)
	}
}

func TestSharedTracker_DetectsControllerDivergence(t *testing.T) {
	trk := tracker.New()
	trk.SetWindow(0, 1000000, 7)

	e1, _ := startedEnv(t, nil, scenario.EnvConfig{}, WithTracker(trk))
	e2, _ := startedEnv(t, nil, scenario.EnvConfig{}, WithTracker(trk))

	step := func(e *Env, session int) {
		trk.SetSession(session)
		if err := e.Step(); err != nil {
			t.Fatalf("Step session %d: %v", session, err)
		}
	}

	for i := 0; i < 20; i++ {
		step(e1, 1)
		step(e2, 2)
	}
	if trk.Failure() {
		t.Fatalf("identical runs flagged at %d", trk.FailurePos())
	}

	// Diverge the second run's controller state only.
	if err := e2.Action(ActionSprint, true, 0); err != nil {
		t.Fatalf("Action: %v", err)
	}
	for i := 0; i < 20; i++ {
		step(e1, 1)
		step(e2, 2)
	}
	trk.Disable()
	if !trk.Failure() {
		t.Fatal("divergence not detected")
	}
}

func TestGetState_IssuesTrackerCheckpoints(t *testing.T) {
	trk := tracker.New()
	trk.SetWindow(0, 1000000, 7)

	e1, _ := startedEnv(t, nil, scenario.EnvConfig{}, WithTracker(trk))
	e2, _ := startedEnv(t, nil, scenario.EnvConfig{}, WithTracker(trk))

	capture := func(e *Env, session int) {
		trk.SetSession(session)
		if _, err := e.GetState(); err != nil {
			t.Fatalf("GetState session %d: %v", session, err)
		}
	}

	capture(e1, 1)
	capture(e2, 2)
	if trk.Failure() {
		t.Fatalf("identical states flagged at %d", trk.FailurePos())
	}

	// Diverge the second run's controller state only; serialization alone
	// must surface it at the next verified position.
	if err := e2.Action(ActionSprint, true, 0); err != nil {
		t.Fatalf("Action: %v", err)
	}
	capture(e1, 1)
	capture(e2, 2)
	trk.Disable()
	if !trk.Failure() {
		t.Fatal("divergence not detected through serialization checkpoints")
	}
}

func TestShutdown_ReleasesContext(t *testing.T) {
	e, _ := startedEnv(t, nil, scenario.EnvConfig{})
	e.Shutdown()
	if err := e.Step(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Step after shutdown: %v", err)
	}
	if e.StepCount() != 0 {
		t.Fatalf("step count after shutdown: %d", e.StepCount())
	}
	e.Shutdown()
}
