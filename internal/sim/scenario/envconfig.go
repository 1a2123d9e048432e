package scenario

import (
	"strings"

	"github.com/mareichhoff/football/internal/envstate"
)

// EnvConfig is the environment-level configuration read once at start.
type EnvConfig struct {
	// Should the game render in high quality.
	HighQuality bool `yaml:"high_quality"`
	// Rendering backend selection.
	RenderMode RenderMode `yaml:"render_mode"`
	// Directory with textures and other resources.
	DataDir string `yaml:"data_dir"`
	// Font file override; empty selects the stock font.
	FontFile string `yaml:"font_file"`
	// How many physics animation sub-steps compose one environment step.
	PhysicsStepsPerFrame int `yaml:"physics_steps_per_frame"`
	// Match duration property handed to the menu/game tasks.
	MatchDuration float64 `yaml:"match_duration"`
}

func (c *EnvConfig) ApplyDefaults() {
	if c.PhysicsStepsPerFrame <= 0 {
		c.PhysicsStepsPerFrame = 10
	}
	if c.MatchDuration <= 0 {
		c.MatchDuration = 0.027
	}
	if c.FontFile == "" {
		c.FontFile = "media/fonts/alegreya/AlegreyaSansSC-ExtraBold.ttf"
	}
}

// UpdatePath resolves a resource path against the data directory.
func (c *EnvConfig) UpdatePath(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return c.DataDir + "/" + path
}

func (c *EnvConfig) ProcessState(s *envstate.State) {
	s.ProcessBool(&c.HighQuality)
	m := int32(c.RenderMode)
	s.ProcessInt32(&m)
	c.RenderMode = RenderMode(m)
	s.ProcessString(&c.DataDir)
	s.ProcessInt(&c.PhysicsStepsPerFrame)
}
