// Package match implements the simulation side of the environment: the menu
// flow gating match creation, the deterministic match model and an offscreen
// renderer.
package match

import "github.com/mareichhoff/football/internal/sim/engine"

// Wire builds the collaborator set for one context.
func Wire(ctx *engine.Context) (engine.Collaborators, error) {
	menu := newMenu()
	game := newGame(ctx, menu)
	return engine.Collaborators{
		Menu:     menu,
		Game:     game,
		Graphics: newGraphics(ctx, game),
	}, nil
}
