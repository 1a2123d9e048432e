package match

import (
	"github.com/mareichhoff/football/internal/protocol"
	"github.com/mareichhoff/football/internal/sim/engine"
)

// Offscreen frame dimensions. Onscreen mode uses the same buffer; there is
// no window system behind it, the frame is the product either way.
const (
	frameWidth  = 96
	frameHeight = 72
)

// Graphics is the offscreen renderer. It consumes one render phase per
// GetPhase/ProcessPhase pair and keeps the last finished frame around for
// Frame. Rendering reads match state but never mutates it, so a rendering
// and a non-rendering environment stay byte-identical.
type Graphics struct {
	ctx     *engine.Context
	game    *Game
	pending int
	frame   protocol.Frame
}

func newGraphics(ctx *engine.Context, game *Game) *Graphics {
	ctx.TexturePool.Acquire("pitch")
	ctx.TexturePool.Acquire("ball")
	ctx.GeometryPool.Acquire("stadium")
	ctx.SurfacePool.Acquire("scoreboard")
	ctx.VertexPool.Acquire("players")
	g := &Graphics{ctx: ctx, game: game}
	g.render()
	return g
}

func (g *Graphics) GetPhase() { g.pending++ }

func (g *Graphics) ProcessPhase() {
	if g.pending == 0 {
		return
	}
	g.pending--
	g.render()
}

// Frame returns a copy of the last rendered frame.
func (g *Graphics) Frame() protocol.Frame {
	pixels := make([]byte, len(g.frame.Pixels))
	copy(pixels, g.frame.Pixels)
	return protocol.Frame{Width: g.frame.Width, Height: g.frame.Height, Pixels: pixels}
}

func (g *Graphics) render() {
	pixels := make([]byte, frameWidth*frameHeight*3)
	for i := 0; i < len(pixels); i += 3 {
		pixels[i] = 20
		pixels[i+1] = 110
		pixels[i+2] = 35
	}
	if g.ctx.EnvConfig.HighQuality {
		// Mowing stripes.
		for y := 0; y < frameHeight; y++ {
			if (y/8)%2 == 0 {
				continue
			}
			for x := 0; x < frameWidth; x++ {
				pixels[(y*frameWidth+x)*3+1] = 125
			}
		}
	}

	var sim *Sim
	if g.game != nil {
		sim = g.game.sim
	}
	if sim != nil {
		for i := range sim.left {
			plot(pixels, sim.left[i].pos.EnvCoords(), 230, 40, 40)
		}
		for i := range sim.right {
			plot(pixels, sim.right[i].pos.EnvCoords(), 40, 40, 230)
		}
		plot(pixels, sim.ball.EnvCoords(), 255, 255, 255)
	}

	g.frame = protocol.Frame{Width: frameWidth, Height: frameHeight, Pixels: pixels}
}

// plot maps observable coordinates ([-1,1] x, [-0.42,0.42] y) onto the frame
// and writes a single pixel.
func plot(pixels []byte, pos [3]float32, r, gr, b byte) {
	x := int((pos[0] + 1) / 2 * float32(frameWidth))
	y := int((pos[1] + halfFieldY) / (2 * halfFieldY) * float32(frameHeight))
	if x < 0 || x >= frameWidth || y < 0 || y >= frameHeight {
		return
	}
	i := (y*frameWidth + x) * 3
	pixels[i] = r
	pixels[i+1] = gr
	pixels[i+2] = b
}
