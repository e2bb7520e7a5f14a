package control

// EventEmitter is the interface the control package uses to emit events.
type EventEmitter interface {
	EmitModeChanged(oldMode, newMode string)
	EmitRoamStateChanged(oldState, newState, direction string)
	EmitInstructionHandled(kind, detail string, applied bool)
}
