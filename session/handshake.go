package session

import (
	"time"

	"cleanee/protocol"
)

// handleConnect runs on the bus delivery goroutine for every message on the
// connection topic.
func (s *Session) handleConnect(_ string, payload []byte) {
	hs, err := protocol.ParseHandshake(string(payload))
	if err != nil {
		s.log.Debug().Err(err).Msg("ignoring connection message")
		return
	}
	if hs.ID == s.cfg.LocalID {
		return
	}

	var eff effects
	s.mu.Lock()
	switch hs.Kind {
	case protocol.HandshakeInit:
		s.onInit(&eff, hs.ID)
	case protocol.HandshakeOK:
		s.onOK(&eff, hs.Target, hs.ID)
	case protocol.HandshakeClose:
		s.onClose(&eff, hs.ID)
	}
	s.mu.Unlock()
	s.apply(eff)
}

// Caller holds mu for the on* handlers.

func (s *Session) onInit(eff *effects, from string) {
	switch s.state {
	case Idle:
		s.bindResponder(eff, from)
	case Initiating:
		switch {
		case s.peer == "" && s.cfg.LocalID > from:
			// Both sides initiated; the higher id answers.
			s.log.Debug().Str("other", from).Msg("simultaneous init, yielding")
			s.bindResponder(eff, from)
		case s.peer == from && !s.initiator:
			// Initiator retried; our answer was probably lost.
			eff.publish = append(eff.publish, protocol.OKMessage(from, s.cfg.LocalID))
		default:
			s.log.Debug().Str("from", from).Msg("ignoring init while handshaking")
		}
	default:
		s.log.Debug().Str("from", from).Str("state", s.state.String()).Msg("ignoring init")
	}
}

func (s *Session) bindResponder(eff *effects, initiator string) {
	s.peer = initiator
	s.initiator = false
	s.bindSeq++
	seq := s.bindSeq
	if s.state == Idle {
		s.transition(eff, Initiating)
	}
	// The initiator may send as soon as it reads our con_ok, before its
	// confirmation reaches us.
	eff.subscribe = s.peerTopicLocked()
	eff.publish = append(eff.publish, protocol.OKMessage(initiator, s.cfg.LocalID))
	time.AfterFunc(s.cfg.HandshakeTimeout, func() { s.expireBind(seq) })
}

// expireBind releases a responder bind the initiator never confirmed.
func (s *Session) expireBind(seq uint64) {
	var eff effects
	s.mu.Lock()
	if s.state == Initiating && s.bindSeq == seq && !s.initiator {
		s.log.Info().Str("peer_id", s.peer).Msg("pending bind expired")
		eff.unsubscribe = s.peerTopicLocked()
		s.transition(&eff, Idle)
		s.peer = ""
	}
	s.mu.Unlock()
	s.apply(eff)
}

func (s *Session) onOK(eff *effects, target, from string) {
	if target != s.cfg.LocalID || s.state != Initiating {
		return
	}
	switch {
	case s.peer == "":
		s.peer = from
		s.establish(eff)
		eff.publish = append(eff.publish, protocol.OKMessage(from, s.cfg.LocalID))
	case s.peer == from:
		s.establish(eff)
	default:
		s.log.Debug().Str("from", from).Str("peer_id", s.peer).Msg("ignoring con_ok from another peer")
	}
}

func (s *Session) establish(eff *effects) {
	s.done = make(chan struct{})
	s.transition(eff, Established)
	if s.initiator {
		eff.subscribe = s.controlTopicLocked()
	}
}

func (s *Session) onClose(eff *effects, from string) {
	if s.peer == "" || from != s.peer {
		s.log.Debug().Str("from", from).Msg("ignoring close from unbound id")
		return
	}
	eff.unsubscribe = s.peerTopicLocked()
	s.endBinding()
	s.transition(eff, Idle)
	s.peer = ""
	s.initiator = false
	s.log.Info().Str("peer_id", from).Msg("peer closed")
}
