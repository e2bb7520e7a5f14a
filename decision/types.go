package decision

// Detector phases
const (
	PhaseRoaming   = "roaming"
	PhaseTracking  = "tracking"
	PhasePickingUp = "picking_up"
)

// Defaults for the steering parameters.
const (
	DefaultAlignmentTolerance = 10.0
	DefaultSaturationDistance = 100.0
	DefaultMaxTurnSpeed       = 0.5
	DefaultForwardSpeed       = 0.5
)

// Config tunes the decider.
type Config struct {
	// FailedThreshold is the number of consecutive frames without exactly
	// one box that ends tracking.
	FailedThreshold int
	// PickupDistance is the maximum gap, in pixels, between the box bottom
	// and the frame bottom at which a pickup starts.
	PickupDistance float64
	// AlignmentTolerance is the horizontal offset, in pixels, treated as
	// centred.
	AlignmentTolerance float64
	// SaturationDistance is the offset at which turn speed saturates.
	SaturationDistance float64
	MaxTurnSpeed       float64
	ForwardSpeed       float64
}

func (c Config) withDefaults() Config {
	if c.FailedThreshold < 1 {
		c.FailedThreshold = 1
	}
	if c.AlignmentTolerance <= 0 {
		c.AlignmentTolerance = DefaultAlignmentTolerance
	}
	if c.SaturationDistance <= 0 {
		c.SaturationDistance = DefaultSaturationDistance
	}
	if c.MaxTurnSpeed <= 0 {
		c.MaxTurnSpeed = DefaultMaxTurnSpeed
	}
	if c.ForwardSpeed <= 0 {
		c.ForwardSpeed = DefaultForwardSpeed
	}
	return c
}

// Info is a snapshot of the decider.
type Info struct {
	Phase            string `json:"phase"`
	FailedDetections int    `json:"failed_detections"`
}
