package engine

import (
	"github.com/mareichhoff/football/internal/envstate"
	"github.com/mareichhoff/football/internal/protocol"
)

// The collaborator interfaces below are the only surface through which the
// engine touches the match simulation, menu flow and rendering. The real
// physics/animation/AI machinery lives behind them and is out of scope here;
// internal/sim/match provides deterministic in-process implementations.

// Match is one running game.
type Match interface {
	// InPlay reports whether the ball is live (not paused, not in a menu or
	// celebration cutscene). The environment step counter only advances
	// while this holds.
	InPlay() bool
	// FillInfo writes the observable match state.
	FillInfo(info *protocol.SharedInfo)
	// ProcessState serializes or applies the complete match state.
	ProcessState(s *envstate.State)
}

// GameTask advances the match by one phase per call.
type GameTask interface {
	ProcessPhase()
	// Match returns the running match, or nil while menu/setup phases are
	// still completing.
	Match() Match
}

// MenuTask advances menu/setup flow and owns the controller setup screen.
type MenuTask interface {
	ProcessPhase()
	// TopLevel forces the menu back to its top-level state, ending any
	// running match.
	TopLevel()
	ControllerSetup() []SideSelection
	SetControllerSetup(setup []SideSelection)
}

// Graphics renders one phase at a time and serves the most recent frame.
type Graphics interface {
	// GetPhase pulls the next render phase from the pipeline.
	GetPhase()
	ProcessPhase()
	Frame() protocol.Frame
}

// Collaborators bundles the three subsystem handles for one context.
type Collaborators struct {
	Menu     MenuTask
	Game     GameTask
	Graphics Graphics
}

// Wiring builds the collaborators for a freshly created context. It runs
// once per Start, after the context exists and before the first scenario is
// applied.
type Wiring func(ctx *Context) (Collaborators, error)
