package scenario

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mareichhoff/football/internal/envstate"
)

func TestDefaults(t *testing.T) {
	c := Default()
	if len(c.LeftTeam) != MaxPlayers || len(c.RightTeam) != MaxPlayers {
		t.Fatalf("default teams must field %d players", MaxPlayers)
	}
	if c.LeftAgents != 1 || c.RightAgents != 0 {
		t.Fatalf("default agents: %d/%d", c.LeftAgents, c.RightAgents)
	}
	if !c.UseMagnet || !c.Offsides || !c.Render || c.RealTime {
		t.Fatal("default flags wrong")
	}
	if c.GameEngineRandomSeed != 42 {
		t.Fatalf("default seed: %d", c.GameEngineRandomSeed)
	}
	if c.LeftTeamDifficulty != 1.0 || c.RightTeamDifficulty != 0.8 {
		t.Fatalf("default difficulty: %v/%v", c.LeftTeamDifficulty, c.RightTeamDifficulty)
	}
}

func TestEnvConfigDefaults(t *testing.T) {
	var c EnvConfig
	c.ApplyDefaults()
	if c.PhysicsStepsPerFrame != 10 {
		t.Fatalf("physics steps: %d", c.PhysicsStepsPerFrame)
	}
	if c.MatchDuration != 0.027 {
		t.Fatalf("match duration: %v", c.MatchDuration)
	}
}

func TestUpdatePath(t *testing.T) {
	c := EnvConfig{DataDir: "/data"}
	if got := c.UpdatePath("media/ball.png"); got != "/data/media/ball.png" {
		t.Fatalf("relative path: %s", got)
	}
	if got := c.UpdatePath("/abs/ball.png"); got != "/abs/ball.png" {
		t.Fatalf("absolute path: %s", got)
	}
}

func TestProcessStateRoundTrip(t *testing.T) {
	c := Default()
	c.BallPosition = [3]float32{0.5, -0.25, 0}
	c.LeftAgents = 3
	c.RightAgents = 2
	c.RealTime = true
	c.LeftTeam = c.LeftTeam[:5]

	w := envstate.NewWriter()
	c.ProcessState(w)
	if err := w.Err(); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := Default()
	r := envstate.NewReader(w.Bytes())
	got.ProcessState(r)
	if err := r.Err(); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !r.EOS() {
		t.Fatal("trailing bytes")
	}

	w2 := envstate.NewWriter()
	got.ProcessState(w2)
	if !bytes.Equal(w.Bytes(), w2.Bytes()) {
		t.Fatal("round-tripped scenario serializes differently")
	}
	if len(got.LeftTeam) != 5 {
		t.Fatalf("team not resized on read: %d", len(got.LeftTeam))
	}
	if got.LeftAgents != 3 || got.RightAgents != 2 || !got.RealTime {
		t.Fatal("field values lost")
	}
}

func TestProcessStateRejectsOversizedTeamCount(t *testing.T) {
	c := Default()
	w := envstate.NewWriter()
	c.ProcessState(w)
	buf := append([]byte{}, w.Bytes()...)

	// The left team length field sits right after the 12-byte ball position.
	binary.LittleEndian.PutUint64(buf[12:], 1<<40)

	got := Default()
	r := envstate.NewReader(buf)
	got.ProcessState(r)
	if !errors.Is(r.Err(), envstate.ErrCorrupted) {
		t.Fatalf("want ErrCorrupted, got %v", r.Err())
	}
	if len(got.LeftTeam) > MaxPlayers {
		t.Fatalf("team grew to match a corrupted count: %d", len(got.LeftTeam))
	}
}

func TestLeftTeamOwnsBall(t *testing.T) {
	c := Default()
	c.BallPosition = [3]float32{-0.9, 0, 0}
	if !c.LeftTeamOwnsBall() {
		t.Fatal("ball at left end must belong to left team")
	}
	c.BallPosition = [3]float32{0.9, 0, 0}
	if c.LeftTeamOwnsBall() {
		t.Fatal("ball at right end must belong to right team")
	}
}

func TestLoadScenarioFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "academy.yaml")
	body := []byte("ball_position: [0.2, 0.1, 0]\nleft_agents: 2\nright_agents: 1\nreal_time: true\nrender: false\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.LeftAgents != 2 || c.RightAgents != 1 || !c.RealTime || c.Render {
		t.Fatalf("loaded fields wrong: %+v", c)
	}
	if c.BallPosition != [3]float32{0.2, 0.1, 0} {
		t.Fatalf("ball position: %v", c.BallPosition)
	}
	// Unspecified fields keep defaults.
	if len(c.LeftTeam) != MaxPlayers || c.GameEngineRandomSeed != 42 {
		t.Fatal("defaults not preserved for unspecified fields")
	}
}

func TestLoadRejectsBadAgentCounts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("left_agents: 30\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for left_agents out of range")
	}
}
