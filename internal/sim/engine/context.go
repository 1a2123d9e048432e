package engine

import (
	"github.com/mareichhoff/football/internal/sim/rng"
	"github.com/mareichhoff/football/internal/sim/scenario"
)

// Context owns all mutable simulation state of one environment instance.
// Exactly one context is live per instance: created on Start, dropped on
// Shutdown. It is exclusively owned by its Env and must only be touched from
// the goroutine driving that Env.
type Context struct {
	// Step counts completed environment steps while the match is in play.
	Step int

	// Rng feeds every computation that ends up in deterministic game state.
	Rng *rng.Stream
	// RngNonDeterministic serves purely cosmetic randomness (sun position,
	// crowd detail) that must never leak into observations.
	RngNonDeterministic *rng.Stream

	Scenario  *scenario.Config
	EnvConfig scenario.EnvConfig

	// BallStart is the scenario's ball position converted to physics units.
	BallStart Position

	Controllers []*Controller

	Menu     MenuTask
	Game     GameTask
	Graphics Graphics

	// Cached graphics resources, reclaimed on reset.
	GeometryPool *ResourcePool
	SurfacePool  *ResourcePool
	TexturePool  *ResourcePool
	VertexPool   *ResourcePool
}

func newContext(cfg scenario.EnvConfig) *Context {
	ctx := &Context{
		Rng:                 rng.New(0),
		RngNonDeterministic: rng.New(0),
		EnvConfig:           cfg,
		GeometryPool:        NewResourcePool("geometry"),
		SurfacePool:         NewResourcePool("surface"),
		TexturePool:         NewResourcePool("texture"),
		VertexPool:          NewResourcePool("vertices"),
	}
	for i := 0; i < 2*scenario.MaxPlayers; i++ {
		ctx.Controllers = append(ctx.Controllers, &Controller{})
	}
	return ctx
}

// ResourcePool caches named graphics resources by reference count so that
// scene rebuilds can reuse what the previous scene loaded.
type ResourcePool struct {
	name    string
	entries map[string]int
}

func NewResourcePool(name string) *ResourcePool {
	return &ResourcePool{name: name, entries: make(map[string]int)}
}

func (p *ResourcePool) Name() string { return p.name }

func (p *ResourcePool) Acquire(key string) {
	p.entries[key]++
}

func (p *ResourcePool) Release(key string) {
	if n, ok := p.entries[key]; ok && n > 0 {
		p.entries[key] = n - 1
	}
}

// RemoveUnused drops entries with no live references and reports how many
// were reclaimed.
func (p *ResourcePool) RemoveUnused() int {
	removed := 0
	for k, n := range p.entries {
		if n <= 0 {
			delete(p.entries, k)
			removed++
		}
	}
	return removed
}

func (p *ResourcePool) Len() int { return len(p.entries) }
