package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mareichhoff/football/internal/protocol"
)

// A scripted harness: presses a random action on each controlled player,
// steps, and prints the score as it changes. Useful for soaking the server
// and for producing step logs to replay.
func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name  = flag.String("name", "bot", "harness name")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "action sampling seed")
		steps = flag.Int("steps", 0, "stop after N steps (0 runs until interrupted)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		HarnessName:     *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if err := readMsg(conn, protocol.TypeWelcome, &welcome); err != nil {
		logger.Fatalf("handshake: %v", err)
	}
	logger.Printf("WELCOME env=%s steps_per_frame=%d actions=%d render=%v",
		welcome.EnvID, welcome.StepsPerFrame, welcome.ActionCount, welcome.RenderEnabled)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	rng := rand.New(rand.NewSource(*seed))
	var lastLeft, lastRight int32
	for n := 0; *steps == 0 || n < *steps; n++ {
		select {
		case <-stop:
			return
		default:
		}

		act := protocol.ActMsg{
			Type:            protocol.TypeAct,
			ProtocolVersion: protocol.Version,
			Action:          rng.Intn(welcome.ActionCount),
			LeftTeam:        true,
			Player:          0,
		}
		if err := conn.WriteJSON(act); err != nil {
			logger.Fatalf("send ACT: %v", err)
		}
		var res protocol.ResultMsg
		if err := readMsg(conn, protocol.TypeResult, &res); err != nil {
			logger.Fatalf("ACT reply: %v", err)
		}

		if err := conn.WriteJSON(protocol.StepMsg{Type: protocol.TypeStep, ProtocolVersion: protocol.Version}); err != nil {
			logger.Fatalf("send STEP: %v", err)
		}
		var info protocol.InfoMsg
		if err := readMsg(conn, protocol.TypeInfo, &info); err != nil {
			logger.Fatalf("STEP reply: %v", err)
		}
		if info.Info.LeftGoals != lastLeft || info.Info.RightGoals != lastRight {
			lastLeft, lastRight = info.Info.LeftGoals, info.Info.RightGoals
			logger.Printf("step=%d score=%d-%d", info.Info.Step, lastLeft, lastRight)
		}
	}
}

func readMsg(conn *websocket.Conn, want string, out any) error {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return err
	}
	if base.Type == protocol.TypeError {
		var em protocol.ErrorMsg
		_ = json.Unmarshal(msg, &em)
		return fmt.Errorf("server error %s: %s", em.Code, em.Message)
	}
	if base.Type != want {
		return fmt.Errorf("unexpected %s, want %s", base.Type, want)
	}
	return json.Unmarshal(msg, out)
}
