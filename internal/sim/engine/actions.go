package engine

// Action is one discrete environment action code. The enumeration is closed:
// the harness supplies codes from this set, and anything outside it is a
// silent no-op.
type Action int

const (
	ActionIdle Action = iota
	ActionLeft
	ActionTopLeft
	ActionTop
	ActionTopRight
	ActionRight
	ActionBottomRight
	ActionBottom
	ActionBottomLeft
	ActionLongPass
	ActionHighPass
	ActionShortPass
	ActionShot
	ActionKeeperRush
	ActionSliding
	ActionPressure
	ActionTeamPressure
	ActionSwitch
	ActionSprint
	ActionDribble
	ActionReleaseDirection
	ActionReleaseLongPass
	ActionReleaseHighPass
	ActionReleaseShortPass
	ActionReleaseShot
	ActionReleaseKeeperRush
	ActionReleaseSliding
	ActionReleasePressure
	ActionReleaseTeamPressure
	ActionReleaseSwitch
	ActionReleaseSprint
	ActionReleaseDribble

	ActionCount
)

// apply maps an action code onto one controller. Unknown codes do nothing.
func (a Action) apply(c *Controller) {
	switch a {
	case ActionIdle:
	case ActionLeft:
		c.SetDirection([3]float32{-1, 0, 0})
	case ActionTopLeft:
		c.SetDirection([3]float32{-1, 1, 0})
	case ActionTop:
		c.SetDirection([3]float32{0, 1, 0})
	case ActionTopRight:
		c.SetDirection([3]float32{1, 1, 0})
	case ActionRight:
		c.SetDirection([3]float32{1, 0, 0})
	case ActionBottomRight:
		c.SetDirection([3]float32{1, -1, 0})
	case ActionBottom:
		c.SetDirection([3]float32{0, -1, 0})
	case ActionBottomLeft:
		c.SetDirection([3]float32{-1, -1, 0})
	case ActionReleaseDirection:
		c.SetDirection([3]float32{0, 0, 0})

	case ActionLongPass:
		c.SetButton(ButtonLongPass, true)
	case ActionHighPass:
		c.SetButton(ButtonHighPass, true)
	case ActionShortPass:
		c.SetButton(ButtonShortPass, true)
	case ActionShot:
		c.SetButton(ButtonShot, true)
	case ActionKeeperRush:
		c.SetButton(ButtonKeeperRush, true)
	case ActionSliding:
		c.SetButton(ButtonSliding, true)
	case ActionPressure:
		c.SetButton(ButtonPressure, true)
	case ActionTeamPressure:
		c.SetButton(ButtonTeamPressure, true)
	case ActionSwitch:
		c.SetButton(ButtonSwitch, true)
	case ActionSprint:
		c.SetButton(ButtonSprint, true)
	case ActionDribble:
		c.SetButton(ButtonDribble, true)

	case ActionReleaseLongPass:
		c.SetButton(ButtonLongPass, false)
	case ActionReleaseHighPass:
		c.SetButton(ButtonHighPass, false)
	case ActionReleaseShortPass:
		c.SetButton(ButtonShortPass, false)
	case ActionReleaseShot:
		c.SetButton(ButtonShot, false)
	case ActionReleaseKeeperRush:
		c.SetButton(ButtonKeeperRush, false)
	case ActionReleaseSliding:
		c.SetButton(ButtonSliding, false)
	case ActionReleasePressure:
		c.SetButton(ButtonPressure, false)
	case ActionReleaseTeamPressure:
		c.SetButton(ButtonTeamPressure, false)
	case ActionReleaseSwitch:
		c.SetButton(ButtonSwitch, false)
	case ActionReleaseSprint:
		c.SetButton(ButtonSprint, false)
	case ActionReleaseDribble:
		c.SetButton(ButtonDribble, false)
	}
}
