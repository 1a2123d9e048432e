// Package rng provides the deterministic random streams of the simulation.
//
// Two independent streams exist per environment instance: one feeding every
// computation that ends up in observations or serialized state, and one for
// purely cosmetic randomness that must never leak into either. The generator
// state is a single word so it serializes through the state protocol and
// replays bit-identically for a given seed.
package rng

import "github.com/mareichhoff/football/internal/envstate"

// Stream is a splitmix64 generator. Not safe for concurrent use; each
// environment instance owns its streams exclusively.
type Stream struct {
	state uint64
}

func New(seed uint64) *Stream {
	return &Stream{state: seed}
}

func (g *Stream) Seed(seed uint64) {
	g.state = seed
}

func (g *Stream) Uint64() uint64 {
	g.state += 0x9E3779B97F4A7C15
	z := g.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// Float32 returns a value in [0, 1).
func (g *Stream) Float32() float32 {
	return float32(g.Uint64()>>40) / float32(1<<24)
}

// Intn returns a value in [0, n). n must be positive.
func (g *Stream) Intn(n int) int {
	return int(g.Uint64() % uint64(n))
}

func (g *Stream) ProcessState(s *envstate.State) {
	s.ProcessUint64(&g.state)
}
