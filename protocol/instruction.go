package protocol

import (
	"encoding/json"
	"fmt"
)

// Instruction is a single controller -> robot command. Values are built with
// the constructors below and never mutated afterwards.
type Instruction struct {
	kind     Kind
	x, y     float64
	mode     Mode
	speed    float64
	hasSpeed bool
	active   bool
}

// Move requests motion along the intent vector (x = left/right, y = forward/back).
func Move(x, y float64) Instruction {
	return Instruction{kind: KindMove, x: x, y: y}
}

// SwitchState requests the robot to change its operating mode.
func SwitchState(mode Mode) Instruction {
	return Instruction{kind: KindSwitchState, mode: mode}
}

// StartPickup asks the robot to run its arm pickup sequence.
func StartPickup() Instruction { return Instruction{kind: KindStartPickup} }

// Stop brakes both drive wheels.
func Stop() Instruction { return Instruction{kind: KindStop} }

// ArmIn runs the arm inward. A zero speed means "robot default".
func ArmIn(speed float64) Instruction {
	return Instruction{kind: KindArmIn, speed: speed, hasSpeed: speed != 0}
}

// ArmOut runs the arm outward. A zero speed means "robot default".
func ArmOut(speed float64) Instruction {
	return Instruction{kind: KindArmOut, speed: speed, hasSpeed: speed != 0}
}

func ArmStop() Instruction { return Instruction{kind: KindArmStop} }
func ArmGrab() Instruction { return Instruction{kind: KindArmGrab} }
func ArmResetPosition() Instruction { return Instruction{kind: KindArmResetPosition} }
func ArmSetPosition() Instruction { return Instruction{kind: KindArmSetPosition} }

// SetAIActive toggles autonomous behaviour on the receiving side.
func SetAIActive(active bool) Instruction {
	return Instruction{kind: KindSetAIActive, active: active}
}

func (i Instruction) Kind() Kind { return i.kind }
func (i Instruction) X() float64 { return i.x }
func (i Instruction) Y() float64 { return i.y }
func (i Instruction) Mode() Mode { return i.mode }
func (i Instruction) Active() bool { return i.active }
func (i Instruction) IsZero() bool { return i.kind == 0 }

// Speed returns the optional arm speed and whether one was given.
func (i Instruction) Speed() (float64, bool) { return i.speed, i.hasSpeed }

func (i Instruction) String() string {
	switch i.kind {
	case KindMove:
		return fmt.Sprintf("move(x=%.3f, y=%.3f)", i.x, i.y)
	case KindSwitchState:
		return fmt.Sprintf("switch_state(%s)", i.mode)
	case KindSetAIActive:
		return fmt.Sprintf("set_ai_active(%t)", i.active)
	case KindArmIn, KindArmOut:
		if i.hasSpeed {
			return fmt.Sprintf("%s(speed=%.2f)", i.kind, i.speed)
		}
	}
	return i.kind.String()
}

// wireMessage is the single JSON shape every instruction travels in.
type wireMessage struct {
	Command  string `json:"command"`
	Metadata any    `json:"metadata,omitempty"`
}

type moveMetadata struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type switchStateMetadata struct {
	State string `json:"state"`
}

type armMetadata struct {
	Speed *float64 `json:"speed,omitempty"`
}

type aiActiveMetadata struct {
	Active bool `json:"active"`
}

// Encode marshals the instruction to its wire form.
func (i Instruction) Encode() ([]byte, error) {
	var msg wireMessage
	switch i.kind {
	case KindMove:
		msg = wireMessage{Command: CommandMove, Metadata: moveMetadata{X: i.x, Y: i.y}}
	case KindSwitchState:
		if i.mode != ModeRoaming && i.mode != ModeCommands {
			return nil, fmt.Errorf("encode switch_state: invalid mode %q", i.mode)
		}
		msg = wireMessage{Command: CommandSwitchState, Metadata: switchStateMetadata{State: string(i.mode)}}
	case KindStartPickup:
		msg = wireMessage{Command: CommandSwitchState, Metadata: switchStateMetadata{State: StateGrabbing}}
	case KindStop:
		msg = wireMessage{Command: CommandStop}
	case KindArmIn, KindArmOut:
		cmd := CommandArmIn
		if i.kind == KindArmOut {
			cmd = CommandArmOut
		}
		msg = wireMessage{Command: cmd}
		if i.hasSpeed {
			speed := i.speed
			msg.Metadata = armMetadata{Speed: &speed}
		}
	case KindArmStop:
		msg = wireMessage{Command: CommandArmStop}
	case KindArmGrab:
		msg = wireMessage{Command: CommandArmGrab}
	case KindArmResetPosition:
		msg = wireMessage{Command: CommandArmResetPosition}
	case KindArmSetPosition:
		msg = wireMessage{Command: CommandArmSetPosition}
	case KindSetAIActive:
		msg = wireMessage{Command: CommandSetAIActive, Metadata: aiActiveMetadata{Active: i.active}}
	default:
		return nil, fmt.Errorf("encode: unknown instruction kind %d", i.kind)
	}
	return json.Marshal(msg)
}
