// Package hardware defines the capability interfaces the robot runtime drives.
//
// Real motor drivers live outside this module. The Sim* types back the
// simulator and tests.
package hardware

// Drive sets the two drive-wheel speeds. Speeds are signed, in the
// driver's native units (degrees per second on the reference robot).
type Drive interface {
	SetSpeeds(left, right float64) error
	Brake() error
}

// DistanceSensor reads the forward obstacle distance in centimetres.
type DistanceSensor interface {
	Distance() (float64, error)
}

// Arm drives the pickup arm motor.
type Arm interface {
	// Run spins the arm at a signed speed fraction: positive extends,
	// negative retracts.
	Run(speed float64) error
	Stop() error
	// Angle reports the current arm angle in degrees.
	Angle() (float64, error)
	// MoveTo blocks until the arm reaches angle.
	MoveTo(angle, speed float64) error
}

// Robot bundles the capabilities of one physical robot.
type Robot struct {
	Drive  Drive
	Sensor DistanceSensor
	Arm    Arm
}
