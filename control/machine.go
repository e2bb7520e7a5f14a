// Package control runs the robot side: it arbitrates between commanded
// motion and autonomous roaming, and drives the hardware.
package control

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cleanee/hardware"
	"cleanee/kinematics"
	"cleanee/protocol"
)

// Options injects time and randomness. Zero fields use the real clock,
// math/rand/v2 and time.Sleep.
type Options struct {
	Now   func() time.Time
	Rand  func() float64
	Sleep func(time.Duration)
}

// Machine is the robot control state machine. OnInstruction is called from
// message delivery, Tick from the fixed-cadence loop.
type Machine struct {
	mu         sync.Mutex
	cfg        Config
	robot      hardware.Robot
	translator *kinematics.Translator
	emitter    EventEmitter
	log        zerolog.Logger

	now   func() time.Time
	rand  func() float64
	sleep func(time.Duration)

	mode         Mode
	roam         RoamState
	turnDeadline time.Time
	turnDir      Direction
	restAngle    float64
	pickingUp    bool

	pickups sync.WaitGroup
}

// New creates a machine in cfg.InitialMode. emitter may be nil.
func New(cfg Config, robot hardware.Robot, translator *kinematics.Translator, emitter EventEmitter, opts Options) *Machine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if cfg.InitialMode == 0 {
		cfg.InitialMode = ModeRoam
	}
	if cfg.LegacySaturation <= 0 {
		cfg.LegacySaturation = 100
	}
	return &Machine{
		cfg:        cfg,
		robot:      robot,
		translator: translator,
		emitter:    emitter,
		log:        log.With().Str("component", "control").Logger(),
		now:        opts.Now,
		rand:       opts.Rand,
		sleep:      opts.Sleep,
		mode:       cfg.InitialMode,
		roam:       RoamStopped,
	}
}

// Mode returns the active mode.
func (m *Machine) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// RoamState returns the roaming sub-state.
func (m *Machine) RoamState() RoamState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roam
}

// Status returns a snapshot for reporting.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Mode:          m.mode.String(),
		RoamState:     m.roam.String(),
		TurnDirection: m.turnDir.String(),
		PickingUp:     m.pickingUp,
	}
}

// SetMode switches mode, braking the drive first. Switching to the active
// mode is a no-op.
func (m *Machine) SetMode(next Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setMode(next)
}

// setMode is the only place mode changes. Caller holds mu.
func (m *Machine) setMode(next Mode) {
	if m.mode == next {
		return
	}
	m.brake()
	old := m.mode
	m.mode = next
	if next == ModeRoam {
		m.setRoam(RoamStopped)
		m.turnDir = DirNone
		m.turnDeadline = time.Time{}
	}
	m.log.Info().Str("from", old.String()).Str("to", next.String()).Msg("mode changed")
	if m.emitter != nil {
		m.emitter.EmitModeChanged(old.String(), next.String())
	}
}

// OnInstruction applies one decoded instruction. It never blocks on the arm:
// StartPickup runs the sequence in the background, and motion or arm
// instructions arriving before it finishes are dropped.
func (m *Machine) OnInstruction(inst protocol.Instruction) {
	m.mu.Lock()

	switch inst.Kind() {
	case protocol.KindSwitchState:
		switch inst.Mode() {
		case protocol.ModeRoaming:
			m.setMode(ModeRoam)
		case protocol.ModeCommands:
			m.setMode(ModeCommand)
		}
		m.mu.Unlock()
		m.handled(inst, true)
		return
	case protocol.KindSetAIActive:
		if inst.Active() {
			m.setMode(ModeRoam)
		} else {
			m.setMode(ModeCommand)
		}
		m.mu.Unlock()
		m.handled(inst, true)
		return
	}

	if m.mode == ModeRoam || m.pickingUp {
		m.mu.Unlock()
		m.log.Debug().Str("instruction", inst.String()).Msg("ignored while roaming or picking up")
		m.handled(inst, false)
		return
	}

	switch inst.Kind() {
	case protocol.KindMove:
		m.move(inst.X(), inst.Y())
		m.mu.Unlock()
	case protocol.KindStop:
		m.brake()
		m.mu.Unlock()
	case protocol.KindStartPickup:
		m.pickingUp = true
		m.brake()
		m.pickups.Add(1)
		m.mu.Unlock()
		go func() {
			defer m.pickups.Done()
			m.pickup()
			m.mu.Lock()
			m.pickingUp = false
			m.mu.Unlock()
		}()
	default:
		m.mu.Unlock()
		m.arm(inst)
	}
	m.handled(inst, true)
}

func (m *Machine) handled(inst protocol.Instruction, applied bool) {
	if m.emitter != nil {
		m.emitter.EmitInstructionHandled(inst.Kind().String(), inst.String(), applied)
	}
}

// move drives toward (x, y). Caller holds mu.
func (m *Machine) move(x, y float64) {
	x = m.legacyScale(x, m.cfg.MaxXSpeed)
	y = m.legacyScale(y, m.cfg.MaxYSpeed)
	if _, err := m.translator.Drive(m.robot.Drive, x, y); err != nil {
		m.log.Error().Err(err).Msg("drive")
	}
}

// legacyScale maps a pixel offset outside [-1, 1] to a bounded speed.
func (m *Machine) legacyScale(v, limit float64) float64 {
	if math.Abs(v) <= 1 {
		return v
	}
	return kinematics.Saturate(v, m.cfg.LegacySaturation, limit)
}

func (m *Machine) brake() {
	if err := m.robot.Drive.Brake(); err != nil {
		m.log.Error().Err(err).Msg("brake")
	}
}

// Tick advances roaming. It does nothing in Command mode or while the
// pickup sequence is running.
func (m *Machine) Tick(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != ModeRoam || m.pickingUp {
		return
	}
	m.tickRoam(now)
}

// Wait blocks until a running pickup sequence has finished.
func (m *Machine) Wait() { m.pickups.Wait() }

// Run calls Tick every cfg.TickInterval until ctx is done, then brakes and
// waits for a running pickup.
func (m *Machine) Run(ctx context.Context) error {
	interval := m.cfg.TickInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.brake()
			m.mu.Unlock()
			m.pickups.Wait()
			return nil
		case <-ticker.C:
			m.Tick(m.now())
		}
	}
}
