// Package session binds one controller to one robot over the shared
// connection topic.
//
// Both sides run the same state machine. The initiator publishes
// init_con:<id>; an idle responder binds and answers con_ok:<initiator>:<responder>;
// the initiator binds and confirms with con_ok:<responder>:<initiator>.
// Each side then listens on <prefix>/<peer> and publishes on <prefix>/<self>.
// The responder subscribes when it answers, and control traffic from its
// pending peer completes the bind if the confirmation is still in flight.
// A close_con:<id> naming the bound peer, usually the broker-delivered
// last-will, returns the side to Idle.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cleanee/messaging"
	"cleanee/protocol"
)

var (
	// ErrHandshakeTimeout is returned by Establish when no peer completes the
	// handshake in time.
	ErrHandshakeTimeout = errors.New("session: handshake timed out")
	// ErrPeerClosed is returned to waiters when the bound peer leaves.
	ErrPeerClosed = errors.New("session: peer closed")
	// ErrSessionClosed is returned after a local Close.
	ErrSessionClosed = errors.New("session: closed")
	// ErrNotEstablished is returned by Send without a bound peer.
	ErrNotEstablished = errors.New("session: not established")
)

// State is the session lifecycle.
type State int

const (
	Idle State = iota
	Initiating
	Established
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initiating:
		return "initiating"
	case Established:
		return "established"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// EventEmitter receives session state transitions.
type EventEmitter interface {
	EmitSessionChanged(localID, peerID string, from, to State)
}

// Config holds the identity and topics of one side.
type Config struct {
	LocalID          string
	ConnectTopic     string
	ControlPrefix    string
	HandshakeTimeout time.Duration
	RetryInterval    time.Duration
}

// Info is a point-in-time view of the session.
type Info struct {
	LocalID string `json:"local_id"`
	PeerID  string `json:"peer_id"`
	State   string `json:"state"`
}

// Session is safe for concurrent use.
type Session struct {
	bus     messaging.Bus
	cfg     Config
	emitter EventEmitter
	log     zerolog.Logger

	mu        sync.Mutex
	state     State
	peer      string
	initiator bool
	bindSeq   uint64
	endSeq    uint64
	changed   chan struct{}
	done      chan struct{}
	onControl func([]byte)
	started   bool
}

// New creates an idle session. emitter may be nil.
func New(bus messaging.Bus, cfg Config, emitter EventEmitter) *Session {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	done := make(chan struct{})
	close(done)
	return &Session{
		bus:     bus,
		cfg:     cfg,
		emitter: emitter,
		log:     log.With().Str("component", "session").Str("local_id", cfg.LocalID).Logger(),
		changed: make(chan struct{}),
		done:    done,
	}
}

// WillMessage is the last-will payload a client for localID must register.
func WillMessage(localID string) string { return protocol.CloseMessage(localID) }

// Start subscribes the connection topic.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.started = true
	s.mu.Unlock()
	if err := s.bus.Subscribe(s.cfg.ConnectTopic, messaging.ExactlyOnce, s.handleConnect); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.ConnectTopic, err)
	}
	return nil
}

// OnControl registers the handler for payloads from the bound peer.
func (s *Session) OnControl(fn func(payload []byte)) {
	s.mu.Lock()
	s.onControl = fn
	s.mu.Unlock()
}

// LocalID returns this side's id.
func (s *Session) LocalID() string { return s.cfg.LocalID }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PeerID returns the bound peer, or "" when unbound.
func (s *Session) PeerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// Info returns a snapshot for status reporting.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{LocalID: s.cfg.LocalID, PeerID: s.peer, State: s.state.String()}
}

// ControlTopic is the topic the bound peer publishes on. Valid only while
// Established.
func (s *Session) ControlTopic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controlTopicLocked()
}

func (s *Session) controlTopicLocked() string {
	if s.state != Established {
		return ""
	}
	return s.cfg.ControlPrefix + "/" + s.peer
}

// peerTopicLocked is the bound peer's topic, Established or not. Caller
// holds mu.
func (s *Session) peerTopicLocked() string {
	if s.peer == "" {
		return ""
	}
	return s.cfg.ControlPrefix + "/" + s.peer
}

func (s *Session) outboundTopic() string {
	return s.cfg.ControlPrefix + "/" + s.cfg.LocalID
}

// Done returns a channel closed when the current binding ends. Before the
// first binding it is already closed.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Send publishes payload on this side's outbound control topic.
func (s *Session) Send(payload []byte) error {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	switch st {
	case Closed:
		return ErrSessionClosed
	case Established:
	default:
		return ErrNotEstablished
	}
	return s.bus.Publish(s.outboundTopic(), messaging.AtLeastOnce, payload)
}

// Establish runs the handshake as initiator and blocks until a peer is
// bound, the handshake timeout elapses, or ctx is done.
func (s *Session) Establish(ctx context.Context) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	var eff effects
	s.mu.Lock()
	switch s.state {
	case Closed:
		s.mu.Unlock()
		return "", ErrSessionClosed
	case Established:
		peer := s.peer
		s.mu.Unlock()
		return peer, nil
	case Idle:
		s.initiator = true
		s.transition(&eff, Initiating)
	}
	endSeq := s.endSeq
	sendInit := s.state == Initiating && s.peer == "" && s.initiator
	s.mu.Unlock()
	s.apply(eff)

	if sendInit {
		s.log.Info().Msg("initiating handshake")
		s.publishConnect(protocol.InitMessage(s.cfg.LocalID))
	}

	retry := time.NewTicker(s.cfg.RetryInterval)
	defer retry.Stop()

	for {
		s.mu.Lock()
		st, peer, changed, ended := s.state, s.peer, s.changed, s.endSeq != endSeq
		unbound := st == Initiating && peer == "" && s.initiator
		s.mu.Unlock()

		switch {
		case st == Established:
			return peer, nil
		case st == Closed:
			return "", ErrSessionClosed
		case ended:
			return "", ErrPeerClosed
		case st == Idle:
			// A yielded bind expired; resume as initiator.
			var eff effects
			s.mu.Lock()
			if s.state == Idle {
				s.initiator = true
				s.transition(&eff, Initiating)
				unbound = true
			}
			changed = s.changed
			s.mu.Unlock()
			s.apply(eff)
		}

		select {
		case <-changed:
		case <-retry.C:
			if unbound {
				s.publishConnect(protocol.InitMessage(s.cfg.LocalID))
			}
		case <-tctx.Done():
			s.abandon()
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("%w after %s", ErrHandshakeTimeout, s.cfg.HandshakeTimeout)
		}
	}
}

// Await blocks as responder until a peer is bound.
func (s *Session) Await(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		st, peer, changed := s.state, s.peer, s.changed
		s.mu.Unlock()

		switch st {
		case Established:
			return peer, nil
		case Closed:
			return "", ErrSessionClosed
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Close announces departure and tears the session down. It is idempotent
// and wakes every waiter with ErrSessionClosed.
func (s *Session) Close() error {
	var eff effects
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	eff.unsubscribe = s.peerTopicLocked()
	announce := s.started
	s.endBinding()
	s.transition(&eff, Closed)
	s.peer = ""
	s.initiator = false
	s.mu.Unlock()

	s.apply(eff)
	var err error
	if announce {
		if perr := s.bus.Publish(s.cfg.ConnectTopic, messaging.ExactlyOnce, []byte(protocol.CloseMessage(s.cfg.LocalID))); perr != nil {
			err = fmt.Errorf("publish close: %w", perr)
		}
		if uerr := s.bus.Unsubscribe(s.cfg.ConnectTopic); uerr != nil && err == nil {
			err = fmt.Errorf("unsubscribe %s: %w", s.cfg.ConnectTopic, uerr)
		}
	}
	s.log.Info().Msg("session closed")
	return err
}

// abandon drops an unfinished handshake back to Idle.
func (s *Session) abandon() {
	var eff effects
	s.mu.Lock()
	if s.state == Initiating {
		eff.unsubscribe = s.peerTopicLocked()
		s.transition(&eff, Idle)
		s.peer = ""
		s.initiator = false
	}
	s.mu.Unlock()
	s.apply(eff)
}

func (s *Session) publishConnect(msg string) {
	if err := s.bus.Publish(s.cfg.ConnectTopic, messaging.ExactlyOnce, []byte(msg)); err != nil {
		s.log.Warn().Err(err).Str("message", msg).Msg("publish handshake")
	}
}

// effects are bus operations and events collected under the lock and
// performed after it is released.
type effects struct {
	publish     []string
	subscribe   string
	unsubscribe string
	events      []transitionEvent
}

type transitionEvent struct {
	from, to State
	peer     string
}

// transition changes state and wakes waiters. Caller holds mu.
func (s *Session) transition(eff *effects, to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	close(s.changed)
	s.changed = make(chan struct{})
	eff.events = append(eff.events, transitionEvent{from: from, to: to, peer: s.peer})
}

// endBinding closes the Done channel of the current binding. Caller holds mu.
func (s *Session) endBinding() {
	s.endSeq++
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *Session) apply(eff effects) {
	if eff.unsubscribe != "" {
		if err := s.bus.Unsubscribe(eff.unsubscribe); err != nil {
			s.log.Warn().Err(err).Str("topic", eff.unsubscribe).Msg("unsubscribe control topic")
		}
	}
	if eff.subscribe != "" {
		if err := s.bus.Subscribe(eff.subscribe, messaging.AtLeastOnce, s.handleControl); err != nil {
			s.log.Error().Err(err).Str("topic", eff.subscribe).Msg("subscribe control topic")
		}
	}
	for _, msg := range eff.publish {
		s.publishConnect(msg)
	}
	for _, ev := range eff.events {
		s.log.Info().Str("from", ev.from.String()).Str("to", ev.to.String()).Str("peer_id", ev.peer).Msg("session state")
		if s.emitter != nil {
			s.emitter.EmitSessionChanged(s.cfg.LocalID, ev.peer, ev.from, ev.to)
		}
	}
}

func (s *Session) handleControl(topic string, payload []byte) {
	var eff effects
	s.mu.Lock()
	if s.state == Initiating && !s.initiator && topic == s.peerTopicLocked() {
		// A peer sends only once bound; its traffic confirms the bind.
		s.log.Debug().Str("peer_id", s.peer).Msg("control traffic before confirmation; binding")
		s.establish(&eff)
	}
	ok := s.state == Established && topic == s.controlTopicLocked()
	fn := s.onControl
	s.mu.Unlock()
	s.apply(eff)
	if !ok {
		s.log.Debug().Str("topic", topic).Msg("dropping control message from unbound peer")
		return
	}
	if fn != nil {
		fn(payload)
	}
}
