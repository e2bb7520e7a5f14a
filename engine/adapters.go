package engine

import (
	"cleanee/control"
	"cleanee/decision"
	"cleanee/session"
)

var (
	_ session.EventEmitter  = (*sessionEmitter)(nil)
	_ decision.EventEmitter = (*decisionEmitter)(nil)
	_ control.EventEmitter  = (*controlEmitter)(nil)
)

// sessionEmitter adapts the engine's EventBus to the session.EventEmitter interface.
type sessionEmitter struct {
	bus *EventBus
}

func (e *sessionEmitter) EmitSessionChanged(localID, peerID string, from, to session.State) {
	e.bus.Emit(Event{Type: EventSessionChanged, Payload: SessionChangedEvent{
		LocalID: localID, PeerID: peerID, From: from.String(), To: to.String(),
	}})
}

// decisionEmitter adapts the engine's EventBus to the decision.EventEmitter interface.
type decisionEmitter struct {
	bus *EventBus
}

func (e *decisionEmitter) EmitPhaseChanged(oldPhase, newPhase string, failed int) {
	e.bus.Emit(Event{Type: EventPhaseChanged, Payload: PhaseChangedEvent{
		From: oldPhase, To: newPhase, FailedDetections: failed,
	}})
}

// controlEmitter adapts the engine's EventBus to the control.EventEmitter interface.
type controlEmitter struct {
	bus *EventBus
}

func (e *controlEmitter) EmitModeChanged(oldMode, newMode string) {
	e.bus.Emit(Event{Type: EventModeChanged, Payload: ModeChangedEvent{From: oldMode, To: newMode}})
}

func (e *controlEmitter) EmitRoamStateChanged(oldState, newState, direction string) {
	e.bus.Emit(Event{Type: EventRoamStateChanged, Payload: RoamStateChangedEvent{
		From: oldState, To: newState, Direction: direction,
	}})
}

func (e *controlEmitter) EmitInstructionHandled(kind, detail string, applied bool) {
	e.bus.Emit(Event{Type: EventInstructionHandled, Payload: InstructionEvent{
		Kind: kind, Detail: detail, Applied: applied,
	}})
}
