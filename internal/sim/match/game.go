package match

import "github.com/mareichhoff/football/internal/sim/engine"

// Game owns the running simulation. It creates a Sim once the menu flow is
// ready and drops it when the menu's generation moves on.
type Game struct {
	ctx        *engine.Context
	menu       *Menu
	generation int
	sim        *Sim
}

func newGame(ctx *engine.Context, menu *Menu) *Game {
	return &Game{ctx: ctx, menu: menu}
}

func (g *Game) ProcessPhase() {
	if g.generation != g.menu.generation {
		g.generation = g.menu.generation
		g.sim = nil
	}
	if g.sim == nil {
		if g.menu.Ready() {
			g.sim = newSim(g.ctx)
		}
		return
	}
	g.sim.processPhase()
}

// Match returns the running match. The nil check happens on the concrete
// type so that callers comparing the interface against nil get the answer
// they expect.
func (g *Game) Match() engine.Match {
	if g.sim == nil {
		return nil
	}
	return g.sim
}
