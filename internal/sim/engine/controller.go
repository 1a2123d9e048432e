package engine

import "github.com/mareichhoff/football/internal/envstate"

// Button is one named controller button.
type Button int

const (
	ButtonLongPass Button = iota
	ButtonHighPass
	ButtonShortPass
	ButtonShot
	ButtonKeeperRush
	ButtonSliding
	ButtonPressure
	ButtonTeamPressure
	ButtonSwitch
	ButtonSprint
	ButtonDribble

	buttonCount
)

// Side assignment of a controller slot.
const (
	SideLeft       int8 = -1
	SideUnassigned int8 = 0
	SideRight      int8 = 1
)

// SideSelection is one controller slot of the menu's setup screen.
type SideSelection struct {
	Side int8
}

// Controller is the input device of one player slot. Its direction and
// button states persist until changed or released, which is why they are
// part of the serialized context.
type Controller struct {
	direction [3]float32
	buttons   [buttonCount]bool
	side      int8
}

func (c *Controller) SetDirection(d [3]float32) { c.direction = d }
func (c *Controller) Direction() [3]float32     { return c.direction }

func (c *Controller) SetButton(b Button, pressed bool) {
	if b < 0 || b >= buttonCount {
		return
	}
	c.buttons[b] = pressed
}

func (c *Controller) Pressed(b Button) bool {
	if b < 0 || b >= buttonCount {
		return false
	}
	return c.buttons[b]
}

func (c *Controller) SetSide(side int8) { c.side = side }
func (c *Controller) Side() int8        { return c.side }

// Reset clears direction and all buttons but keeps the side assignment.
func (c *Controller) Reset() {
	c.direction = [3]float32{}
	c.buttons = [buttonCount]bool{}
}

func (c *Controller) ProcessState(s *envstate.State) {
	s.ProcessVec3(&c.direction)
	for i := range c.buttons {
		s.ProcessBool(&c.buttons[i])
	}
	v := int32(c.side)
	s.ProcessInt32(&v)
	c.side = int8(v)
}
