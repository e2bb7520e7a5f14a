// Package kinematics maps a 2D intent vector onto differential-drive wheel
// speeds.
package kinematics

import (
	"fmt"
	"math"

	"cleanee/hardware"
)

// DefaultMaxSpeed is the full-scale wheel speed of the reference robot.
const DefaultMaxSpeed = 250

// steeringEpsilon absorbs float noise from atan2 on the pure forward/back axis.
const steeringEpsilon = 1e-9

// Setpoint is a pair of wheel speeds.
type Setpoint struct {
	Left  float64
	Right float64
}

// Translator converts intent vectors to setpoints for one drive.
type Translator struct {
	MaxSpeed float64
}

// New creates a translator. A non-positive maxSpeed selects DefaultMaxSpeed.
func New(maxSpeed float64) *Translator {
	if maxSpeed <= 0 {
		maxSpeed = DefaultMaxSpeed
	}
	return &Translator{MaxSpeed: maxSpeed}
}

// Translate maps (x, y), each clamped to [-1, 1], to wheel speeds.
// x is left/right, y is forward/back.
func (t *Translator) Translate(x, y float64) Setpoint {
	x, y = clamp(x), clamp(y)
	speed := math.Hypot(x, y)
	if speed == 0 {
		return Setpoint{}
	}
	steering := 1 - 2*math.Abs(math.Atan2(y, x)/math.Pi)
	full := t.MaxSpeed

	switch {
	case steering > steeringEpsilon:
		return Setpoint{Left: speed * full, Right: speed * full * (1 - 2*steering)}
	case math.Abs(steering) <= steeringEpsilon && y < 0:
		return Setpoint{Left: -speed * full, Right: -speed * full}
	case math.Abs(steering) <= steeringEpsilon:
		return Setpoint{Left: speed * full, Right: speed * full}
	default:
		return Setpoint{Left: speed * full * (1 + 2*steering), Right: speed * full}
	}
}

// Drive translates (x, y) and applies it to d.
func (t *Translator) Drive(d hardware.Drive, x, y float64) (Setpoint, error) {
	sp := t.Translate(x, y)
	if err := d.SetSpeeds(sp.Left, sp.Right); err != nil {
		return sp, fmt.Errorf("set wheel speeds: %w", err)
	}
	return sp, nil
}

// Saturate scales an offset into a bounded speed:
// sign(d) * min(|d|/saturation, 1) * limit.
func Saturate(d, saturation, limit float64) float64 {
	if saturation <= 0 || d == 0 || math.IsNaN(d) {
		return 0
	}
	return math.Copysign(math.Min(math.Abs(d)/saturation, 1)*limit, d)
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}
