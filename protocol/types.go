package protocol

// Wire command names carried in the "command" field.
const (
	CommandMove             = "move"
	CommandSwitchState      = "switch_state"
	CommandStop             = "stop"
	CommandArmIn            = "arm_in"
	CommandArmOut           = "arm_out"
	CommandArmStop          = "arm_stop"
	CommandArmGrab          = "arm_grab"
	CommandArmResetPosition = "arm_reset_position"
	CommandArmSetPosition   = "arm_set_position"
	CommandSetAIActive      = "set_ai_active"

	// Robot -> controller
	CommandStatus = "status"
)

// Values of switch_state metadata.state.
const (
	StateRoaming  = "roaming"
	StateCommands = "commands"
	StateGrabbing = "grabbing"
)

// Kind discriminates the Instruction variants.
type Kind int

const (
	KindMove Kind = iota + 1
	KindSwitchState
	KindStartPickup
	KindStop
	KindArmIn
	KindArmOut
	KindArmStop
	KindArmGrab
	KindArmResetPosition
	KindArmSetPosition
	KindSetAIActive
)

var kindNames = map[Kind]string{
	KindMove:             "move",
	KindSwitchState:      "switch_state",
	KindStartPickup:      "start_pickup",
	KindStop:             "stop",
	KindArmIn:            "arm_in",
	KindArmOut:           "arm_out",
	KindArmStop:          "arm_stop",
	KindArmGrab:          "arm_grab",
	KindArmResetPosition: "arm_reset_position",
	KindArmSetPosition:   "arm_set_position",
	KindSetAIActive:      "set_ai_active",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Mode is the robot-level operating mode a SwitchState instruction selects.
type Mode string

const (
	ModeRoaming  Mode = StateRoaming
	ModeCommands Mode = StateCommands
)
