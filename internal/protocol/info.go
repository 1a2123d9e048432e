package protocol

// PlayerInfo is the observable state of one player.
type PlayerInfo struct {
	Position    [3]float32 `json:"position"`
	Direction   [3]float32 `json:"direction"`
	TiredFactor float32    `json:"tired_factor"`
	Role        int32      `json:"role"`
	IsActive    bool       `json:"is_active"`
}

// GameMode mirrors the match phase exposed to observations.
const (
	GameModeNormal int32 = iota
	GameModeKickOff
	GameModeGoalKick
	GameModeFreeKick
	GameModeCorner
	GameModeThrowIn
	GameModePenalty
)

// SharedInfo is the side-effect-free observation of the current match state
// plus the environment step counter.
type SharedInfo struct {
	BallPosition  [3]float32   `json:"ball_position"`
	BallDirection [3]float32   `json:"ball_direction"`
	LeftTeam      []PlayerInfo `json:"left_team"`
	RightTeam     []PlayerInfo `json:"right_team"`
	LeftGoals     int32        `json:"left_goals"`
	RightGoals    int32        `json:"right_goals"`
	GameMode      int32        `json:"game_mode"`
	IsInPlay      bool         `json:"is_in_play"`
	BallOwnedTeam int32        `json:"ball_owned_team"` // -1 none, 0 left, 1 right
	Step          int          `json:"step"`
}

// Frame is one rendered RGB frame.
type Frame struct {
	Width  int
	Height int
	Pixels []byte // 3 bytes per pixel, row-major
}
