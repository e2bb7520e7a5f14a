// Package decision turns per-frame detections into motion instructions.
package decision

import (
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"cleanee/kinematics"
	"cleanee/perception"
	"cleanee/protocol"
)

// Decider tracks a single target across frames. It is safe for concurrent
// use: OnFrame runs on the detection loop, Reset on message delivery.
type Decider struct {
	mu      sync.Mutex
	cfg     Config
	emitter EventEmitter
	phase   string
	failed  int
}

// New creates a decider in the Roaming phase. emitter may be nil.
func New(cfg Config, emitter EventEmitter) *Decider {
	return &Decider{
		cfg:     cfg.withDefaults(),
		emitter: emitter,
		phase:   PhaseRoaming,
	}
}

// Info returns the current phase and failure count.
func (d *Decider) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Info{Phase: d.phase, FailedDetections: d.failed}
}

// Reset forces the Roaming phase and clears the failure counter.
func (d *Decider) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed = 0
	d.setPhase(PhaseRoaming)
}

// OnFrame consumes one detection result and returns the instruction to send,
// if any.
func (d *Decider) OnFrame(res perception.DetectionResult) (protocol.Instruction, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	single := len(res.Boxes) == 1
	if single {
		d.failed = 0
	}

	switch d.phase {
	case PhasePickingUp:
		return protocol.Instruction{}, false

	case PhaseRoaming:
		if !single {
			return protocol.Instruction{}, false
		}
		d.setPhase(PhaseTracking)
		return protocol.SwitchState(protocol.ModeCommands), true

	default: // tracking
		if !single {
			d.failed++
			if d.failed < d.cfg.FailedThreshold {
				return protocol.Instruction{}, false
			}
			d.failed = 0
			d.setPhase(PhaseRoaming)
			return protocol.SwitchState(protocol.ModeRoaming), true
		}
		return d.steer(res, res.Boxes[0]), true
	}
}

// steer aims at box. Caller holds mu.
func (d *Decider) steer(res perception.DetectionResult, box perception.BoundingBox) protocol.Instruction {
	h := float64(res.FrameWidth)/2 - box.CenterX()
	v := float64(res.FrameHeight) - box.YMax
	tol := d.cfg.AlignmentTolerance

	if v < d.cfg.PickupDistance && math.Abs(h) < tol {
		d.setPhase(PhasePickingUp)
		return protocol.StartPickup()
	}
	switch {
	case h > tol:
		// Target is left of centre.
		return protocol.Move(-d.turn(h), 0)
	case h < -tol:
		return protocol.Move(d.turn(h), 0)
	}
	return protocol.Move(0, d.cfg.ForwardSpeed)
}

func (d *Decider) turn(offset float64) float64 {
	return kinematics.Saturate(math.Abs(offset), d.cfg.SaturationDistance, d.cfg.MaxTurnSpeed)
}

// setPhase changes phase and emits. Caller holds mu.
func (d *Decider) setPhase(next string) {
	if d.phase == next {
		return
	}
	old := d.phase
	d.phase = next
	if next == PhaseRoaming {
		d.failed = 0
	}
	log.Info().Str("component", "decision").Str("from", old).Str("to", next).Msg("phase changed")
	if d.emitter != nil {
		d.emitter.EmitPhaseChanged(old, next, d.failed)
	}
}
