package match

import (
	"math"

	"github.com/mareichhoff/football/internal/envstate"
	"github.com/mareichhoff/football/internal/protocol"
	"github.com/mareichhoff/football/internal/sim/engine"
	"github.com/mareichhoff/football/internal/sim/scenario"
)

const (
	// kickoffPhases holds the ball dead after every restart.
	kickoffPhases = 5

	// Movement magnitudes, in observable field units per phase.
	walkSpeed   = 0.0015
	sprintSpeed = 0.0025
	aiSpeed     = 0.0012
	aiJitter    = 0.3

	// shotSpeed is the ball velocity right after a shot, short passes leave
	// at half of it.
	shotSpeed    = 0.02
	ballFriction = 0.95

	// captureDist is how close (in physics units) a player must be to take
	// the ball over.
	captureDist = 2.0

	// magnetPull drags the active player's position towards a nearby ball.
	magnetPull = 0.05

	// halfFieldY is the sideline, in observable units.
	halfFieldY = 0.42

	tireRate    = 0.0005
	recoverRate = 0.0002
)

type player struct {
	pos    engine.Position
	dir    [3]float32
	tired  float32
	role   int32
	active bool
	lazy   bool
}

// playerWireSize is the encoded size of one player: position, direction,
// tiredness, role and the two flags.
const playerWireSize = 12 + 12 + 4 + 4 + 1 + 1

func (p *player) processState(s *envstate.State) {
	p.pos.ProcessState(s)
	s.ProcessVec3(&p.dir)
	s.ProcessFloat32(&p.tired)
	s.ProcessInt32(&p.role)
	s.ProcessBool(&p.active)
	s.ProcessBool(&p.lazy)
}

// Sim is the deterministic match simulation. Everything it computes depends
// only on the context's deterministic random stream, the controllers and its
// own serialized state, so two instances fed the same inputs stay
// byte-identical.
type Sim struct {
	ctx *engine.Context

	ball    engine.Position
	ballDir [3]float32 // observable units per phase
	left    []player
	right   []player

	leftGoals  int32
	rightGoals int32
	gameMode   int32
	kickoff    int
	ballOwned  int32 // -1 none, 0 left, 1 right
}

func newSim(ctx *engine.Context) *Sim {
	cfg := ctx.Scenario
	s := &Sim{
		ctx:       ctx,
		ball:      ctx.BallStart,
		gameMode:  protocol.GameModeKickOff,
		kickoff:   kickoffPhases,
		ballOwned: -1,
	}
	s.left = buildTeam(cfg.LeftTeam, cfg.LeftAgents)
	s.right = buildTeam(cfg.RightTeam, cfg.RightAgents)
	return s
}

func buildTeam(entries []scenario.FormationEntry, agents int) []player {
	team := make([]player, len(entries))
	for i := range entries {
		e := &entries[i]
		team[i] = player{
			pos:    physicsFromEnv(e.Start),
			role:   int32(e.Role),
			lazy:   e.Lazy,
			active: i < agents && e.Controllable,
		}
	}
	return team
}

// InPlay reports whether the ball is live.
func (s *Sim) InPlay() bool { return s.kickoff == 0 }

func (s *Sim) processPhase() {
	if s.kickoff > 0 {
		s.kickoff--
		if s.kickoff == 0 {
			s.gameMode = protocol.GameModeNormal
		}
		return
	}
	if s.ctx.Scenario.ReverseTeamProcessing {
		s.updateTeam(s.right, false)
		s.updateTeam(s.left, true)
	} else {
		s.updateTeam(s.left, true)
		s.updateTeam(s.right, false)
	}
	s.updateBall()
}

func (s *Sim) updateTeam(team []player, left bool) {
	cfg := s.ctx.Scenario
	base := 0
	difficulty := cfg.LeftTeamDifficulty
	if !left {
		base = scenario.MaxPlayers
		difficulty = cfg.RightTeamDifficulty
	}
	for i := range team {
		p := &team[i]
		c := s.ctx.Controllers[base+i]
		if p.active && c.Side() != engine.SideUnassigned {
			s.updateControlled(p, c, left)
			continue
		}
		if p.lazy {
			continue
		}
		s.updateAI(p, difficulty)
	}
}

func (s *Sim) updateControlled(p *player, c *engine.Controller, left bool) {
	speed := float32(walkSpeed)
	if c.Pressed(engine.ButtonSprint) {
		speed = sprintSpeed
		p.tired += tireRate
		if p.tired > 1 {
			p.tired = 1
		}
	} else if p.tired > 0 {
		p.tired -= recoverRate
		if p.tired < 0 {
			p.tired = 0
		}
	}
	if d, ok := normalize(c.Direction()); ok {
		p.dir = d
		moveEnv(&p.pos, d, speed)
	}
	near := s.nearBall(p)
	if s.ctx.Scenario.UseMagnet && near {
		for a := 0; a < 3; a++ {
			p.pos.Value[a] += (s.ball.Value[a] - p.pos.Value[a]) * magnetPull
		}
	}
	if !near {
		return
	}
	towardGoal := float32(1)
	if !left {
		towardGoal = -1
	}
	switch {
	case c.Pressed(engine.ButtonShot):
		s.ballDir = [3]float32{towardGoal * shotSpeed, 0, 0}
		s.ballOwned = -1
	case c.Pressed(engine.ButtonShortPass), c.Pressed(engine.ButtonLongPass), c.Pressed(engine.ButtonHighPass):
		s.ballDir = [3]float32{towardGoal * shotSpeed / 2, p.dir[1] * shotSpeed / 2, 0}
		s.ballOwned = -1
	}
}

// updateAI drifts a player towards the ball. The jitter comes from the
// deterministic stream, so AI behaviour replays exactly under the same seed.
func (s *Sim) updateAI(p *player, difficulty float32) {
	to := [3]float32{
		(s.ball.Value[0] - p.pos.Value[0]) / engine.FieldScaleX,
		(s.ball.Value[1] - p.pos.Value[1]) / engine.FieldScaleY,
		0,
	}
	to[0] += (s.ctx.Rng.Float32() - 0.5) * aiJitter
	to[1] += (s.ctx.Rng.Float32() - 0.5) * aiJitter
	d, ok := normalize(to)
	if !ok {
		return
	}
	p.dir = d
	moveEnv(&p.pos, d, aiSpeed*difficulty)
	if p.tired > 0 {
		p.tired -= recoverRate
		if p.tired < 0 {
			p.tired = 0
		}
	}
}

func (s *Sim) updateBall() {
	// Possession goes to the closest player in capture range, processed in
	// team order so ties resolve deterministically.
	ownerTeam, owner := s.closestInRange()
	if owner != nil {
		s.ballOwned = ownerTeam
		s.ballDir = [3]float32{owner.dir[0] * walkSpeed, owner.dir[1] * walkSpeed, 0}
	}

	s.ball.Value[0] += s.ballDir[0] * engine.FieldScaleX
	s.ball.Value[1] += s.ballDir[1] * engine.FieldScaleY
	s.ball.Value[2] += s.ballDir[2] * engine.FieldScaleZ
	s.ballDir[0] *= ballFriction
	s.ballDir[1] *= ballFriction
	s.ballDir[2] *= ballFriction

	// Sideline: dead ball becomes a throw-in restart.
	if y := s.ball.Value[1] / engine.FieldScaleY; y > halfFieldY || y < -halfFieldY {
		s.restart(protocol.GameModeThrowIn)
		return
	}

	switch x := s.ball.Value[0] / engine.FieldScaleX; {
	case x > 1:
		s.leftGoals++
		s.restart(protocol.GameModeKickOff)
	case x < -1:
		s.rightGoals++
		s.restart(protocol.GameModeKickOff)
	}
}

func (s *Sim) restart(mode int32) {
	s.ball = engine.Position{}
	s.ballDir = [3]float32{}
	s.ballOwned = -1
	s.gameMode = mode
	s.kickoff = kickoffPhases
}

func (s *Sim) closestInRange() (int32, *player) {
	best := float32(captureDist)
	var owner *player
	team := int32(-1)
	for i := range s.left {
		if d := dist(s.left[i].pos, s.ball); d < best {
			best, owner, team = d, &s.left[i], 0
		}
	}
	for i := range s.right {
		if d := dist(s.right[i].pos, s.ball); d < best {
			best, owner, team = d, &s.right[i], 1
		}
	}
	return team, owner
}

func (s *Sim) nearBall(p *player) bool {
	return dist(p.pos, s.ball) < captureDist
}

// FillInfo writes the observation, everything converted to field units.
func (s *Sim) FillInfo(info *protocol.SharedInfo) {
	info.BallPosition = s.ball.EnvCoords()
	info.BallDirection = s.ballDir
	info.LeftTeam = teamInfo(s.left)
	info.RightTeam = teamInfo(s.right)
	info.LeftGoals = s.leftGoals
	info.RightGoals = s.rightGoals
	info.GameMode = s.gameMode
	info.IsInPlay = s.InPlay()
	info.BallOwnedTeam = s.ballOwned
}

func teamInfo(team []player) []protocol.PlayerInfo {
	out := make([]protocol.PlayerInfo, len(team))
	for i := range team {
		p := &team[i]
		out[i] = protocol.PlayerInfo{
			Position:    p.pos.EnvCoords(),
			Direction:   p.dir,
			TiredFactor: p.tired,
			Role:        p.role,
			IsActive:    p.active,
		}
	}
	return out
}

// ProcessState serializes the complete match state in fixed order.
func (s *Sim) ProcessState(st *envstate.State) {
	s.ball.ProcessState(st)
	st.ProcessVec3(&s.ballDir)

	n := len(s.left)
	st.ProcessCount(&n, playerWireSize)
	if st.Reading() {
		envstate.ResizeSlice(&s.left, n)
	}
	for i := range s.left {
		s.left[i].processState(st)
	}

	n = len(s.right)
	st.ProcessCount(&n, playerWireSize)
	if st.Reading() {
		envstate.ResizeSlice(&s.right, n)
	}
	for i := range s.right {
		s.right[i].processState(st)
	}

	st.ProcessInt32(&s.leftGoals)
	st.ProcessInt32(&s.rightGoals)
	st.ProcessInt32(&s.gameMode)
	st.ProcessInt(&s.kickoff)
	st.ProcessInt32(&s.ballOwned)
}

func physicsFromEnv(v [3]float32) engine.Position {
	return engine.Position{Value: [3]float32{
		v[0] * engine.FieldScaleX,
		v[1] * engine.FieldScaleY,
		v[2] * engine.FieldScaleZ,
	}}
}

// moveEnv shifts a physics position by an observable-space direction scaled
// to mag field units.
func moveEnv(p *engine.Position, dir [3]float32, mag float32) {
	p.Value[0] += dir[0] * mag * engine.FieldScaleX
	p.Value[1] += dir[1] * mag * engine.FieldScaleY
	p.Value[2] += dir[2] * mag * engine.FieldScaleZ
}

func normalize(v [3]float32) ([3]float32, bool) {
	n := math.Sqrt(float64(v[0])*float64(v[0]) + float64(v[1])*float64(v[1]) + float64(v[2])*float64(v[2]))
	if n == 0 {
		return v, false
	}
	inv := float32(1 / n)
	return [3]float32{v[0] * inv, v[1] * inv, v[2] * inv}, true
}

func dist(a, b engine.Position) float32 {
	dx := float64(a.Value[0] - b.Value[0])
	dy := float64(a.Value[1] - b.Value[1])
	dz := float64(a.Value[2] - b.Value[2])
	return float32(math.Sqrt(dx*dx + dy*dy + dz*dz))
}
