// Package ws exposes one environment instance over a websocket
// request/response protocol. Any number of harness connections may attach;
// their operations are serialized by the driver, so the protocol behaves as
// if there were a single caller.
package ws

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mareichhoff/football/internal/envstate"
	"github.com/mareichhoff/football/internal/protocol"
	"github.com/mareichhoff/football/internal/sim/encoding"
	"github.com/mareichhoff/football/internal/sim/engine"
	"github.com/mareichhoff/football/internal/sim/scenario"
)

type Server struct {
	driver *Driver
	log    *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(d *Driver, logger *log.Logger) *Server {
	return &Server{
		driver: d,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if !s.handshake(conn) {
			return
		}

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				s.writeError(conn, protocol.ErrProtoBadRequest, "undecodable message")
				continue
			}
			if base.ProtocolVersion != protocol.Version {
				s.writeError(conn, protocol.ErrProtoBadRequest, "bad protocol_version")
				continue
			}
			s.dispatch(conn, base.Type, msg)
		}
	}
}

func (s *Server) dispatch(conn *websocket.Conn, typ string, msg []byte) {
	switch typ {
	case protocol.TypeAct:
		var act protocol.ActMsg
		if err := json.Unmarshal(msg, &act); err != nil {
			s.writeError(conn, protocol.ErrProtoBadRequest, "bad ACT")
			return
		}
		if err := s.driver.Act(act.Action, act.LeftTeam, act.Player); err != nil {
			s.writeEnvError(conn, err)
			return
		}
		s.writeResult(conn, protocol.TypeAct)

	case protocol.TypeStep:
		info, err := s.driver.Step()
		if err != nil {
			s.writeEnvError(conn, err)
			return
		}
		s.writeInfo(conn, info)

	case protocol.TypeReset:
		var reset protocol.ResetMsg
		if err := json.Unmarshal(msg, &reset); err != nil {
			s.writeError(conn, protocol.ErrProtoBadRequest, "bad RESET")
			return
		}
		info, err := s.driver.Reset(func(env *engine.Env) error {
			return env.Reset(overriddenScenario(env.Scenario(), reset))
		})
		if err != nil {
			s.writeEnvError(conn, err)
			return
		}
		s.writeInfo(conn, info)

	case protocol.TypeInfo:
		info, err := s.driver.Info()
		if err != nil {
			s.writeEnvError(conn, err)
			return
		}
		s.writeInfo(conn, info)

	case protocol.TypeGetState:
		state, err := s.driver.GetState()
		if err != nil {
			s.writeEnvError(conn, err)
			return
		}
		s.write(conn, protocol.StateMsg{
			Type:            protocol.TypeState,
			ProtocolVersion: protocol.Version,
			State:           base64.StdEncoding.EncodeToString(state),
		})

	case protocol.TypeSetState:
		var set protocol.SetStateMsg
		if err := json.Unmarshal(msg, &set); err != nil {
			s.writeError(conn, protocol.ErrProtoBadRequest, "bad SET_STATE")
			return
		}
		raw, err := base64.StdEncoding.DecodeString(set.State)
		if err != nil {
			s.writeError(conn, protocol.ErrProtoBadRequest, "state is not base64")
			return
		}
		if err := s.driver.SetState(raw); err != nil {
			s.writeEnvError(conn, err)
			return
		}
		s.writeResult(conn, protocol.TypeSetState)

	case protocol.TypeFrame:
		frame, err := s.driver.Frame()
		if err != nil {
			s.writeEnvError(conn, err)
			return
		}
		s.write(conn, protocol.FrameMsg{
			Type:            protocol.TypeFrame,
			ProtocolVersion: protocol.Version,
			Width:           frame.Width,
			Height:          frame.Height,
			Encoding:        "RLE",
			Data:            encoding.EncodeFrameRLE(frame.Pixels),
		})

	default:
		s.writeError(conn, protocol.ErrProtoBadRequest, "unknown type "+typ)
	}
}

func (s *Server) handshake(conn *websocket.Conn) bool {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return false
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return false
	}

	env := s.driver.Env()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		EnvID:           s.driver.cfg.EnvID,
		StepsPerFrame:   env.EnvConfig().PhysicsStepsPerFrame,
		RenderEnabled:   env.RenderEnabled(),
		ActionCount:     int(engine.ActionCount),
	}
	return s.write(conn, welcome)
}

// overriddenScenario folds the optional RESET fields onto a copy of the live
// scenario.
func overriddenScenario(cur *scenario.Config, reset protocol.ResetMsg) *scenario.Config {
	cfg := cur.Clone()
	if reset.BallPosition != nil {
		cfg.BallPosition = *reset.BallPosition
	}
	if reset.LeftAgents != nil {
		cfg.LeftAgents = *reset.LeftAgents
	}
	if reset.RightAgents != nil {
		cfg.RightAgents = *reset.RightAgents
	}
	if reset.RealTime != nil {
		cfg.RealTime = *reset.RealTime
	}
	if reset.Render != nil {
		cfg.Render = *reset.Render
	}
	if reset.Seed != nil {
		cfg.GameEngineRandomSeed = *reset.Seed
	}
	if reset.Offsides != nil {
		cfg.Offsides = *reset.Offsides
	}
	if reset.UseMagnet != nil {
		cfg.UseMagnet = *reset.UseMagnet
	}
	return cfg
}

func (s *Server) writeInfo(conn *websocket.Conn, info protocol.SharedInfo) {
	s.write(conn, protocol.InfoMsg{
		Type:            protocol.TypeInfo,
		ProtocolVersion: protocol.Version,
		Info:            info,
	})
}

func (s *Server) writeResult(conn *websocket.Conn, op string) {
	s.write(conn, protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		Op:              op,
		OK:              true,
	})
}

func (s *Server) writeEnvError(conn *websocket.Conn, err error) {
	s.writeError(conn, errCode(err), err.Error())
}

func (s *Server) writeError(conn *websocket.Conn, code, message string) {
	s.write(conn, protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
	})
}

func errCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrNotStarted):
		return protocol.ErrNotStarted
	case errors.Is(err, engine.ErrAlreadyStarted):
		return protocol.ErrAlreadyStarted
	case errors.Is(err, engine.ErrRenderDisabled):
		return protocol.ErrRenderDisabled
	case errors.Is(err, envstate.ErrCorrupted):
		return protocol.ErrCorruptedState
	default:
		return protocol.ErrInternal
	}
}

func (s *Server) write(conn *websocket.Conn, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return false
	}
	return true
}
