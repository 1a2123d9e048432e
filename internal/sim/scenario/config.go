package scenario

import (
	"math"

	"github.com/mareichhoff/football/internal/envstate"
)

// MaxPlayers is the roster size of one side. Controller slots always cover
// the full 2*MaxPlayers range regardless of how many agents are external.
const MaxPlayers = 11

// RenderMode selects the rendering backend of the graphics collaborator.
type RenderMode int32

const (
	RenderDisabled RenderMode = iota
	RenderOnscreen
	RenderOffscreen
)

// PlayerRole is the formation role of one roster entry.
type PlayerRole int32

const (
	RoleGK PlayerRole = iota
	RoleCB
	RoleLB
	RoleRB
	RoleDM
	RoleCM
	RoleLM
	RoleRM
	RoleAM
	RoleCF
)

// FormationEntry describes one player of a team's initial setup.
type FormationEntry struct {
	Role         PlayerRole `yaml:"role"`
	Start        [3]float32 `yaml:"start"`
	Lazy         bool       `yaml:"lazy"`
	Controllable bool       `yaml:"controllable"`
}

func (e *FormationEntry) ProcessState(s *envstate.State) {
	r := int32(e.Role)
	s.ProcessInt32(&r)
	e.Role = PlayerRole(r)
	s.ProcessVec3(&e.Start)
	s.ProcessBool(&e.Lazy)
	s.ProcessBool(&e.Controllable)
}

// Config describes one match setup. It is immutable after construction and
// shared by reference into the context for the session's duration; there is
// exactly one authoritative instance per running scenario, which is why the
// struct carries a noCopy guard and is only handed out as a pointer.
type Config struct {
	noCopy noCopy

	// Start ball position, in environment units until the engine applies the
	// field scaling.
	BallPosition [3]float32 `yaml:"ball_position"`
	// Initial configuration of both teams.
	LeftTeam  []FormationEntry `yaml:"left_team"`
	RightTeam []FormationEntry `yaml:"right_team"`
	// How many players of each team are controlled externally.
	LeftAgents  int `yaml:"left_agents"`
	RightAgents int `yaml:"right_agents"`
	// Magnet logic pushes the active player towards the ball.
	UseMagnet bool `yaml:"use_magnet"`
	Offsides  bool `yaml:"offsides"`
	// RealTime paces sub-steps against the 100Hz physics target instead of
	// running them back-to-back.
	RealTime bool `yaml:"real_time"`
	// Seed for the deterministic random stream.
	GameEngineRandomSeed uint32 `yaml:"game_engine_random_seed"`
	// Reverse order of team processing, used for symmetry testing.
	ReverseTeamProcessing bool `yaml:"reverse_team_processing"`
	Render                bool `yaml:"render"`
	// AI difficulty per team, in [0,1].
	LeftTeamDifficulty  float32 `yaml:"left_team_difficulty"`
	RightTeamDifficulty float32 `yaml:"right_team_difficulty"`
}

// Default returns a freshly constructed scenario with the stock 11v11 setup
// and one externally controlled left player.
func Default() *Config {
	c := &Config{
		LeftTeam:             defaultFormation(-1),
		RightTeam:            defaultFormation(1),
		LeftAgents:           1,
		RightAgents:          0,
		UseMagnet:            true,
		Offsides:             true,
		GameEngineRandomSeed: 42,
		Render:               true,
		LeftTeamDifficulty:   1.0,
		RightTeamDifficulty:  0.8,
	}
	return c
}

// defaultFormation lays out a 4-3-3 on one half of the pitch. side is -1 for
// the left team and 1 for the right; positions mirror across the center line.
func defaultFormation(side float32) []FormationEntry {
	roles := []PlayerRole{RoleGK, RoleLB, RoleCB, RoleCB, RoleRB, RoleDM, RoleLM, RoleCM, RoleRM, RoleAM, RoleCF}
	rows := []float32{1.0, 0.7, 0.7, 0.7, 0.7, 0.4, 0.2, 0.2, 0.2, 0.1, 0.02}
	cols := []float32{0.0, 0.6, 0.2, -0.2, -0.6, 0.0, 0.6, 0.0, -0.6, 0.0, 0.0}
	out := make([]FormationEntry, 0, MaxPlayers)
	for i := 0; i < MaxPlayers; i++ {
		out = append(out, FormationEntry{
			Role:         roles[i],
			Start:        [3]float32{side * rows[i], cols[i], 0},
			Controllable: true,
		})
	}
	return out
}

// Clone returns a deep copy, the only sanctioned way to derive a modified
// scenario from a live one.
func (c *Config) Clone() *Config {
	out := &Config{
		BallPosition:          c.BallPosition,
		LeftTeam:              append([]FormationEntry(nil), c.LeftTeam...),
		RightTeam:             append([]FormationEntry(nil), c.RightTeam...),
		LeftAgents:            c.LeftAgents,
		RightAgents:           c.RightAgents,
		UseMagnet:             c.UseMagnet,
		Offsides:              c.Offsides,
		RealTime:              c.RealTime,
		GameEngineRandomSeed:  c.GameEngineRandomSeed,
		ReverseTeamProcessing: c.ReverseTeamProcessing,
		Render:                c.Render,
		LeftTeamDifficulty:    c.LeftTeamDifficulty,
		RightTeamDifficulty:   c.RightTeamDifficulty,
	}
	return out
}

// LeftTeamOwnsBall reports which team starts closer to the ball.
func (c *Config) LeftTeamOwnsBall() bool {
	left := float32(math.MaxFloat32)
	right := float32(math.MaxFloat32)
	for i := range c.LeftTeam {
		left = minf(left, dist(c.LeftTeam[i].Start, c.BallPosition))
	}
	for i := range c.RightTeam {
		right = minf(right, dist(c.RightTeam[i].Start, c.BallPosition))
	}
	return left < right
}

func dist(a, b [3]float32) float32 {
	dx := float64(a[0] - b[0])
	dy := float64(a[1] - b[1])
	dz := float64(a[2] - b[2])
	return float32(math.Sqrt(dx*dx + dy*dy + dz*dz))
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

// formationEntryWireSize is the encoded size of one FormationEntry: role,
// start vector and the two flags.
const formationEntryWireSize = 4 + 12 + 1 + 1

// ProcessState serializes every field in the fixed wire order. Team lists are
// length-prefixed and resized before their entries are processed.
func (c *Config) ProcessState(s *envstate.State) {
	s.ProcessVec3(&c.BallPosition)

	n := len(c.LeftTeam)
	s.ProcessCount(&n, formationEntryWireSize)
	if s.Reading() {
		envstate.ResizeSlice(&c.LeftTeam, n)
	}
	for i := range c.LeftTeam {
		c.LeftTeam[i].ProcessState(s)
	}

	n = len(c.RightTeam)
	s.ProcessCount(&n, formationEntryWireSize)
	if s.Reading() {
		envstate.ResizeSlice(&c.RightTeam, n)
	}
	for i := range c.RightTeam {
		c.RightTeam[i].ProcessState(s)
	}

	s.ProcessInt(&c.LeftAgents)
	s.ProcessInt(&c.RightAgents)
	s.ProcessBool(&c.UseMagnet)
	s.ProcessBool(&c.Offsides)
	s.ProcessBool(&c.RealTime)
	s.ProcessUint32(&c.GameEngineRandomSeed)
	s.ProcessBool(&c.ReverseTeamProcessing)
	s.ProcessBool(&c.Render)
	s.ProcessFloat32(&c.LeftTeamDifficulty)
	s.ProcessFloat32(&c.RightTeamDifficulty)
}

// noCopy triggers a go vet complaint when a Config is copied by value.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
