package engine

import "time"

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// Session events
	EventSessionChanged EventType = iota + 1

	// State machine events
	EventPhaseChanged
	EventModeChanged
	EventRoamStateChanged

	// Instruction events
	EventInstructionSent
	EventInstructionHandled

	// Robot status reports received by the controller
	EventStatusReport
)

var eventNames = map[EventType]string{
	EventSessionChanged:     "session",
	EventPhaseChanged:       "phase",
	EventModeChanged:        "mode",
	EventRoamStateChanged:   "roam",
	EventInstructionSent:    "instruction-sent",
	EventInstructionHandled: "instruction-handled",
	EventStatusReport:       "status-report",
}

func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return "unknown"
}

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// SessionChangedEvent is emitted on every session state transition.
type SessionChangedEvent struct {
	LocalID string `json:"local_id"`
	PeerID  string `json:"peer_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// PhaseChangedEvent is emitted when the decider changes phase.
type PhaseChangedEvent struct {
	From             string `json:"from"`
	To               string `json:"to"`
	FailedDetections int    `json:"failed_detections"`
}

// ModeChangedEvent is emitted when the robot switches mode.
type ModeChangedEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RoamStateChangedEvent is emitted on roam sub-state changes, including
// re-entry into turning.
type RoamStateChangedEvent struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Direction string `json:"direction"`
}

// InstructionEvent describes one instruction sent or handled.
type InstructionEvent struct {
	Kind    string `json:"kind"`
	Detail  string `json:"detail"`
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

// StatusReportEvent carries a robot status report.
type StatusReportEvent struct {
	PeerID    string    `json:"peer_id"`
	Mode      string    `json:"mode"`
	RoamState string    `json:"roam_state"`
	UptimeS   int64     `json:"uptime_s"`
	Received  time.Time `json:"received"`
}
