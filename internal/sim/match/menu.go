package match

import "github.com/mareichhoff/football/internal/sim/engine"

// setupPhases is how many menu phases it takes to get from the top level to
// a ready-to-play state (mode select, controller setup, loading screen).
const setupPhases = 3

// Menu drives the pre-match flow. It owns no game state; it only gates when
// the game task may create a match, and its generation counter tells the
// game task when a running match has been abandoned.
type Menu struct {
	phase      int
	ready      bool
	generation int
	setup      []engine.SideSelection
}

func newMenu() *Menu {
	return &Menu{}
}

func (m *Menu) ProcessPhase() {
	if m.ready {
		return
	}
	m.phase++
	if m.phase >= setupPhases {
		m.ready = true
	}
}

// TopLevel returns to the top-level menu. Any match created under the old
// generation is dead from this point on.
func (m *Menu) TopLevel() {
	m.phase = 0
	m.ready = false
	m.generation++
}

func (m *Menu) Ready() bool { return m.ready }

func (m *Menu) ControllerSetup() []engine.SideSelection {
	out := make([]engine.SideSelection, len(m.setup))
	copy(out, m.setup)
	return out
}

func (m *Menu) SetControllerSetup(setup []engine.SideSelection) {
	m.setup = make([]engine.SideSelection, len(setup))
	copy(m.setup, setup)
}
