package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnknownCommand is returned for a well-formed message whose command
	// name is not part of the instruction set.
	ErrUnknownCommand = errors.New("protocol: unknown command")
	// ErrMalformed is returned when a message or its metadata cannot be decoded.
	ErrMalformed = errors.New("protocol: malformed message")
)

// RawHeader is the routing part of every message. Metadata stays raw until
// the command is known.
type RawHeader struct {
	Command  string          `json:"command"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// PeekCommand decodes only the command name.
func PeekCommand(data []byte) (string, error) {
	hdr, err := decodeHeader(data)
	if err != nil {
		return "", err
	}
	return hdr.Command, nil
}

func decodeHeader(data []byte) (*RawHeader, error) {
	var hdr RawHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if hdr.Command == "" {
		return nil, fmt.Errorf("%w: missing command", ErrMalformed)
	}
	return &hdr, nil
}

// Decode parses one wire message into an Instruction.
func Decode(data []byte) (Instruction, error) {
	// Phase 1: command name only
	hdr, err := decodeHeader(data)
	if err != nil {
		return Instruction{}, err
	}

	// Phase 2: metadata by command
	switch hdr.Command {
	case CommandMove:
		m, err := decodeMetadata[moveMetadata](hdr)
		if err != nil {
			return Instruction{}, err
		}
		if !finite(m.X) || !finite(m.Y) {
			return Instruction{}, fmt.Errorf("%w: move values must be finite", ErrMalformed)
		}
		return Move(m.X, m.Y), nil
	case CommandSwitchState:
		m, err := decodeMetadata[switchStateMetadata](hdr)
		if err != nil {
			return Instruction{}, err
		}
		switch m.State {
		case StateRoaming:
			return SwitchState(ModeRoaming), nil
		case StateCommands:
			return SwitchState(ModeCommands), nil
		case StateGrabbing:
			return StartPickup(), nil
		}
		return Instruction{}, fmt.Errorf("%w: switch_state %q", ErrMalformed, m.State)
	case CommandStop:
		return Stop(), nil
	case CommandArmIn, CommandArmOut:
		m, err := decodeMetadata[armMetadata](hdr)
		if err != nil {
			return Instruction{}, err
		}
		var speed float64
		if m.Speed != nil {
			speed = *m.Speed
		}
		if hdr.Command == CommandArmIn {
			return ArmIn(speed), nil
		}
		return ArmOut(speed), nil
	case CommandArmStop:
		return ArmStop(), nil
	case CommandArmGrab:
		return ArmGrab(), nil
	case CommandArmResetPosition:
		return ArmResetPosition(), nil
	case CommandArmSetPosition:
		return ArmSetPosition(), nil
	case CommandSetAIActive:
		m, err := decodeMetadata[aiActiveMetadata](hdr)
		if err != nil {
			return Instruction{}, err
		}
		return SetAIActive(m.Active), nil
	}
	return Instruction{}, fmt.Errorf("%w: %q", ErrUnknownCommand, hdr.Command)
}

// decodeMetadata unmarshals the metadata object into T. Missing metadata
// yields the zero T.
func decodeMetadata[T any](hdr *RawHeader) (T, error) {
	var m T
	if len(hdr.Metadata) == 0 || string(hdr.Metadata) == "null" {
		return m, nil
	}
	if err := json.Unmarshal(hdr.Metadata, &m); err != nil {
		return m, fmt.Errorf("%w: %s metadata: %v", ErrMalformed, hdr.Command, err)
	}
	return m, nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
