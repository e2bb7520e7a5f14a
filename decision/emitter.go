package decision

// EventEmitter is the interface the decision package uses to emit events.
type EventEmitter interface {
	EmitPhaseChanged(oldPhase, newPhase string, failedDetections int)
}
