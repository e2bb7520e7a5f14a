package hardware

import (
	"errors"
	"sync"
)

var (
	_ Drive          = (*SimDrive)(nil)
	_ DistanceSensor = (*SimSensor)(nil)
	_ Arm            = (*SimArm)(nil)
)

// ErrNoReading is returned by SimSensor when it has nothing to report.
var ErrNoReading = errors.New("hardware: no sensor reading")

// SimDrive records the last commanded wheel speeds.
type SimDrive struct {
	mu      sync.Mutex
	left    float64
	right   float64
	braked  bool
	history []Setpoint
}

// Setpoint is one recorded wheel command.
type Setpoint struct {
	Left, Right float64
	Brake       bool
}

func (d *SimDrive) SetSpeeds(left, right float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.left, d.right, d.braked = left, right, false
	d.history = append(d.history, Setpoint{Left: left, Right: right})
	return nil
}

func (d *SimDrive) Brake() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.left, d.right, d.braked = 0, 0, true
	d.history = append(d.history, Setpoint{Brake: true})
	return nil
}

// Speeds returns the current wheel speeds.
func (d *SimDrive) Speeds() (left, right float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.left, d.right
}

// Braked reports whether the last command was a brake.
func (d *SimDrive) Braked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.braked
}

// History returns a copy of every command received.
func (d *SimDrive) History() []Setpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Setpoint, len(d.history))
	copy(out, d.history)
	return out
}

// SimSensor replays a scripted sequence of readings, then repeats the last
// one. A Fn, when set, takes precedence over the script.
type SimSensor struct {
	mu       sync.Mutex
	readings []float64
	next     int
	Fn       func() (float64, error)
}

// NewSimSensor creates a sensor that replays readings in order.
func NewSimSensor(readings ...float64) *SimSensor {
	return &SimSensor{readings: readings}
}

func (s *SimSensor) Distance() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fn != nil {
		return s.Fn()
	}
	if len(s.readings) == 0 {
		return 0, ErrNoReading
	}
	i := s.next
	if i >= len(s.readings) {
		i = len(s.readings) - 1
	} else {
		s.next++
	}
	return s.readings[i], nil
}

// Set replaces the script with a single constant reading.
func (s *SimSensor) Set(cm float64) {
	s.mu.Lock()
	s.readings = []float64{cm}
	s.next = 0
	s.mu.Unlock()
}

// SimArm is an arm that moves instantly.
type SimArm struct {
	mu    sync.Mutex
	angle float64
	speed float64
	moves []float64
}

func (a *SimArm) Run(speed float64) error {
	a.mu.Lock()
	a.speed = speed
	a.mu.Unlock()
	return nil
}

func (a *SimArm) Stop() error {
	a.mu.Lock()
	a.speed = 0
	a.mu.Unlock()
	return nil
}

func (a *SimArm) Angle() (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.angle, nil
}

func (a *SimArm) MoveTo(angle, speed float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.angle = angle
	a.speed = 0
	a.moves = append(a.moves, angle)
	return nil
}

// Speed returns the current free-running speed.
func (a *SimArm) Speed() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speed
}

// Moves returns every MoveTo target in order.
func (a *SimArm) Moves() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, len(a.moves))
	copy(out, a.moves)
	return out
}

// NewSimRobot returns a robot built from simulated parts whose sensor
// reports a constant distance.
func NewSimRobot(distance float64) Robot {
	return Robot{
		Drive:  &SimDrive{},
		Sensor: NewSimSensor(distance),
		Arm:    &SimArm{},
	}
}
