// Package engine ties the session, state machines and flight recorder
// together behind one event bus.
package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"cleanee/control"
	"cleanee/decision"
	"cleanee/protocol"
	"cleanee/session"
	"cleanee/store"
)

// Roles
const (
	RoleController = "controller"
	RoleRobot      = "robot"
)

// ErrNotSupported is returned for operations the running role lacks.
var ErrNotSupported = errors.New("engine: not supported by this role")

// Config holds the parameters needed to create an Engine.
type Config struct {
	Role    string
	LocalID string
	DB      *store.DB // may be nil
}

// Engine owns the event bus and exposes status for the operator API.
type Engine struct {
	role    string
	localID string
	db      *store.DB
	started time.Time

	Events *EventBus

	mu         sync.RWMutex
	sess       *session.Session
	decider    *decision.Decider
	machine    *control.Machine
	lastReport *StatusReportEvent
	autonomyFn func() error
}

// Status is the aggregate view served at /api/status.
type Status struct {
	Role     string             `json:"role"`
	LocalID  string             `json:"local_id"`
	UptimeS  int64              `json:"uptime_s"`
	Session  *session.Info      `json:"session,omitempty"`
	Decision *decision.Info     `json:"decision,omitempty"`
	Control  *control.Status    `json:"control,omitempty"`
	Robot    *StatusReportEvent `json:"robot,omitempty"`
}

// New creates an Engine. Call Start to wire the recorder.
func New(c Config) *Engine {
	return &Engine{
		role:    c.Role,
		localID: c.LocalID,
		db:      c.DB,
		started: time.Now(),
		Events:  NewEventBus(),
	}
}

// Start wires event handlers.
func (e *Engine) Start() {
	e.wireEventHandlers()
	log.Info().Str("component", "engine").Str("role", e.role).Str("local_id", e.localID).Msg("engine started")
}

// Role returns the process role.
func (e *Engine) Role() string { return e.role }

// DB returns the database handle, or nil.
func (e *Engine) DB() *store.DB { return e.db }

// SessionEmitter returns an adapter for session.New.
func (e *Engine) SessionEmitter() session.EventEmitter { return &sessionEmitter{bus: e.Events} }

// DecisionEmitter returns an adapter for decision.New.
func (e *Engine) DecisionEmitter() decision.EventEmitter { return &decisionEmitter{bus: e.Events} }

// ControlEmitter returns an adapter for control.New.
func (e *Engine) ControlEmitter() control.EventEmitter { return &controlEmitter{bus: e.Events} }

// AttachSession registers the session for status reporting.
func (e *Engine) AttachSession(s *session.Session) {
	e.mu.Lock()
	e.sess = s
	e.mu.Unlock()
}

// AttachDecider registers the controller's decider.
func (e *Engine) AttachDecider(d *decision.Decider) {
	e.mu.Lock()
	e.decider = d
	e.mu.Unlock()
}

// AttachControl registers the robot's control machine.
func (e *Engine) AttachControl(m *control.Machine) {
	e.mu.Lock()
	e.machine = m
	e.mu.Unlock()
}

// OnAutonomyReset sets the action behind ResetAutonomy.
func (e *Engine) OnAutonomyReset(fn func() error) {
	e.mu.Lock()
	e.autonomyFn = fn
	e.mu.Unlock()
}

// ResetAutonomy hands control back to autonomous behaviour.
func (e *Engine) ResetAutonomy() error {
	e.mu.RLock()
	fn := e.autonomyFn
	e.mu.RUnlock()
	if fn == nil {
		return ErrNotSupported
	}
	return fn()
}

// RecordSent emits an instruction-sent event for a controller publish.
func (e *Engine) RecordSent(inst protocol.Instruction, err error) {
	ev := InstructionEvent{Kind: inst.Kind().String(), Detail: inst.String(), Applied: err == nil}
	if err != nil {
		ev.Error = err.Error()
	}
	e.Events.Emit(Event{Type: EventInstructionSent, Payload: ev})
}

// HandleReport records a robot status report.
func (e *Engine) HandleReport(peerID string, r protocol.StatusReport) {
	ev := StatusReportEvent{
		PeerID:    peerID,
		Mode:      r.Mode,
		RoamState: r.RoamState,
		UptimeS:   r.UptimeS,
		Received:  time.Now(),
	}
	e.mu.Lock()
	e.lastReport = &ev
	e.mu.Unlock()
	e.Events.Emit(Event{Type: EventStatusReport, Payload: ev})
}

// Status returns the aggregate status.
func (e *Engine) Status() Status {
	e.mu.RLock()
	sess, decider, machine, report := e.sess, e.decider, e.machine, e.lastReport
	e.mu.RUnlock()

	st := Status{
		Role:    e.role,
		LocalID: e.localID,
		UptimeS: int64(time.Since(e.started).Seconds()),
	}
	if sess != nil {
		info := sess.Info()
		st.Session = &info
	}
	if decider != nil {
		info := decider.Info()
		st.Decision = &info
	}
	if machine != nil {
		cs := machine.Status()
		st.Control = &cs
	}
	if report != nil {
		r := *report
		st.Robot = &r
	}
	return st
}
