package protocol

import (
	"encoding/json"
	"fmt"
)

const Version = "1.0"

const (
	TypeHello    = "HELLO"
	TypeWelcome  = "WELCOME"
	TypeAct      = "ACT"
	TypeStep     = "STEP"
	TypeReset    = "RESET"
	TypeInfo     = "INFO"
	TypeFrame    = "FRAME"
	TypeGetState = "GET_STATE"
	TypeSetState = "SET_STATE"
	TypeState    = "STATE"
	TypeResult   = "RESULT"
	TypeError    = "ERROR"
)

type BaseMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

func DecodeBase(b []byte) (BaseMsg, error) {
	var m BaseMsg
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("decode base: %w", err)
	}
	if m.Type == "" {
		return m, fmt.Errorf("decode base: missing type")
	}
	return m, nil
}

type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	HarnessName     string `json:"harness_name"`
}

type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	EnvID           string `json:"env_id"`

	StepsPerFrame int  `json:"steps_per_frame"`
	RenderEnabled bool `json:"render_enabled"`
	ActionCount   int  `json:"action_count"`
}

// ActMsg applies one discrete action to one addressed player.
type ActMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	Action   int  `json:"action"`
	LeftTeam bool `json:"left_team"`
	Player   int  `json:"player"`
}

type StepMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// ResetMsg carries the scenario overrides for the next episode. Fields are
// pointers so that absent keys keep the scenario defaults.
type ResetMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	BallPosition *[3]float32 `json:"ball_position,omitempty"`
	LeftAgents   *int        `json:"left_agents,omitempty"`
	RightAgents  *int        `json:"right_agents,omitempty"`
	RealTime     *bool       `json:"real_time,omitempty"`
	Render       *bool       `json:"render,omitempty"`
	Seed         *uint32     `json:"game_engine_random_seed,omitempty"`
	Offsides     *bool       `json:"offsides,omitempty"`
	UseMagnet    *bool       `json:"use_magnet,omitempty"`
}

type GetStateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

type SetStateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// State is the base64 form of the opaque serialized context.
	State string `json:"state"`
}

type InfoMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Info            SharedInfo `json:"info"`
}

type StateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	State           string `json:"state"`
}

// FrameMsg carries one rendered frame, RLE-compressed.
type FrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Encoding string `json:"encoding"` // "RLE"
	Data     string `json:"data"`
}

type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Op              string `json:"op"`
	OK              bool   `json:"ok"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
