package engine

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"cleanee/store"
)

// wireEventHandlers records every state and instruction event in the
// flight recorder.
func (e *Engine) wireEventHandlers() {
	if e.db == nil {
		return
	}

	e.Events.SubscribeTypes(func(evt Event) {
		p := evt.Payload.(SessionChangedEvent)
		if _, err := e.db.InsertSessionLog(p.LocalID, p.PeerID, p.From, p.To); err != nil {
			log.Error().Str("component", "engine").Err(err).Msg("record session transition")
		}
	}, EventSessionChanged)

	e.Events.SubscribeTypes(func(evt Event) {
		machine, from, to, detail := transitionFields(evt)
		if _, err := e.db.InsertTransition(machine, from, to, detail); err != nil {
			log.Error().Str("component", "engine").Err(err).Str("machine", machine).Msg("record transition")
		}
	}, EventPhaseChanged, EventModeChanged, EventRoamStateChanged)

	e.Events.SubscribeTypes(func(evt Event) {
		p := evt.Payload.(InstructionEvent)
		direction := store.DirectionSent
		if evt.Type == EventInstructionHandled {
			direction = store.DirectionReceived
		}
		if _, err := e.db.InsertInstructionLog(direction, p.Kind, p.Detail, p.Applied, p.Error); err != nil {
			log.Error().Str("component", "engine").Err(err).Msg("record instruction")
		}
	}, EventInstructionSent, EventInstructionHandled)
}

func transitionFields(evt Event) (machine, from, to, detail string) {
	switch p := evt.Payload.(type) {
	case PhaseChangedEvent:
		return store.MachineDecision, p.From, p.To, fmt.Sprintf("failed=%d", p.FailedDetections)
	case ModeChangedEvent:
		return store.MachineMode, p.From, p.To, ""
	case RoamStateChangedEvent:
		return store.MachineRoam, p.From, p.To, p.Direction
	}
	return "unknown", "", "", ""
}
