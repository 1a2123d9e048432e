package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a scenario file. Missing fields keep the defaults of Default(),
// so scenario files only need to spell out what they change.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	if c.LeftAgents < 0 || c.LeftAgents > MaxPlayers {
		return nil, fmt.Errorf("scenario %s: left_agents %d out of [0,%d]", path, c.LeftAgents, MaxPlayers)
	}
	if c.RightAgents < 0 || c.RightAgents > MaxPlayers {
		return nil, fmt.Errorf("scenario %s: right_agents %d out of [0,%d]", path, c.RightAgents, MaxPlayers)
	}
	return c, nil
}
