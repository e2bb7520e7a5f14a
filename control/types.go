package control

import "time"

// Mode is the robot-level operating mode.
type Mode int

const (
	ModeCommand Mode = iota + 1
	ModeRoam
)

func (m Mode) String() string {
	switch m {
	case ModeCommand:
		return "command"
	case ModeRoam:
		return "roam"
	}
	return "unknown"
}

// ParseMode accepts "command" or "roam".
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "command", "commands":
		return ModeCommand, true
	case "roam", "roaming":
		return ModeRoam, true
	}
	return 0, false
}

// RoamState is the autonomous roaming sub-state.
type RoamState int

const (
	RoamStopped RoamState = iota
	RoamMoving
	RoamTurning
)

func (s RoamState) String() string {
	switch s {
	case RoamStopped:
		return "stopped"
	case RoamMoving:
		return "moving"
	case RoamTurning:
		return "turning"
	}
	return "unknown"
}

// Direction is a turn-in-place direction.
type Direction int

const (
	DirNone Direction = iota
	DirLeft
	DirRight
)

func (d Direction) String() string {
	switch d {
	case DirLeft:
		return "left"
	case DirRight:
		return "right"
	}
	return "none"
}

// Config tunes the control machine. Speeds are fractions of full scale.
type Config struct {
	InitialMode Mode

	// Roaming
	SafeDistance float64 // cm; readings at or below are unsafe
	RoamSpeed    float64
	TurnSpeed    float64
	TurnMin      time.Duration
	TurnMax      time.Duration
	TickInterval time.Duration

	// Move values outside [-1, 1] are pixel offsets scaled by these.
	MaxXSpeed        float64
	MaxYSpeed        float64
	LegacySaturation float64

	// Arm
	ArmSpeed        float64
	ArmRetractAngle float64
	ArmExtendAngle  float64
	ArmGrabAngle    float64
	ArmPause        time.Duration
}

// DefaultConfig returns the tuning of the reference robot.
func DefaultConfig() Config {
	return Config{
		InitialMode:      ModeRoam,
		SafeDistance:     20,
		RoamSpeed:        0.2,
		TurnSpeed:        0.4,
		TurnMin:          10 * time.Second,
		TurnMax:          15 * time.Second,
		TickInterval:     100 * time.Millisecond,
		MaxXSpeed:        1,
		MaxYSpeed:        1,
		LegacySaturation: 100,
		ArmSpeed:         0.1,
		ArmRetractAngle:  -130,
		ArmExtendAngle:   0,
		ArmGrabAngle:     -40,
		ArmPause:         time.Second,
	}
}

// Status is a snapshot of the machine.
type Status struct {
	Mode          string `json:"mode"`
	RoamState     string `json:"roam_state"`
	TurnDirection string `json:"turn_direction"`
	PickingUp     bool   `json:"picking_up"`
}
