// Package config loads the YAML configuration shared by the controller and
// robot binaries.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"cleanee/control"
	"cleanee/decision"
	"cleanee/messaging"
	"cleanee/session"
)

// Roles
const (
	RoleController = "controller"
	RoleRobot      = "robot"
)

// Config is the top-level application configuration.
type Config struct {
	LogLevel     string `yaml:"log_level"`
	DatabasePath string `yaml:"database_path"`
	LogRetention int    `yaml:"log_retention"`

	Broker    BrokerConfig    `yaml:"broker"`
	Topics    TopicsConfig    `yaml:"topics"`
	Session   SessionConfig   `yaml:"session"`
	Detection DetectionConfig `yaml:"detection"`
	Robot     RobotConfig     `yaml:"robot"`
	Web       WebConfig       `yaml:"web"`

	present map[string]bool
	idOnce  sync.Once
	localID string
}

// BrokerConfig defines the MQTT broker connection.
type BrokerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ClientID       string        `yaml:"client_id"`
	ConnectRetries int           `yaml:"connect_retries"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
}

// TopicsConfig names the handshake and control topics.
type TopicsConfig struct {
	Connect       string `yaml:"connect"`
	ControlPrefix string `yaml:"control_prefix"`
}

// SessionConfig tunes the handshake.
type SessionConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
	ReportInterval   time.Duration `yaml:"report_interval"`
}

// DetectionConfig defines the controller's perception pipeline and decider.
type DetectionConfig struct {
	Source             string        `yaml:"source"`
	InferenceURL       string        `yaml:"inference_url"`
	FailedThreshold    int           `yaml:"failed_threshold"`
	BottomBlackout     int           `yaml:"bottom_blackout"`
	PickupDistance     float64       `yaml:"pickup_distance"`
	FrameInterval      time.Duration `yaml:"frame_interval"`
	GrabInterval       time.Duration `yaml:"grab_interval"`
	ResizeWidth        int           `yaml:"resize_width"`
	MinConfidence      float64       `yaml:"min_confidence"`
	Labels             []string      `yaml:"labels"`
	AlignmentTolerance float64       `yaml:"alignment_tolerance"`
	SaturationDistance float64       `yaml:"saturation_distance"`
	MaxTurnSpeed       float64       `yaml:"max_turn_speed"`
	ForwardSpeed       float64       `yaml:"forward_speed"`
}

// RobotConfig tunes the robot's control machine and drive.
type RobotConfig struct {
	InitialMode     string        `yaml:"initial_mode"`
	MaxSpeed        float64       `yaml:"max_speed"`
	MaxXSpeed       float64       `yaml:"max_x_speed"`
	MaxYSpeed       float64       `yaml:"max_y_speed"`
	SafeDistance    float64       `yaml:"safe_distance"`
	RoamSpeed       float64       `yaml:"roam_speed"`
	TurnSpeed       float64       `yaml:"turn_speed"`
	TurnMin         time.Duration `yaml:"turn_min"`
	TurnMax         time.Duration `yaml:"turn_max"`
	TickInterval    time.Duration `yaml:"tick_interval"`
	ArmSpeed        float64       `yaml:"arm_speed"`
	ArmRetractAngle float64       `yaml:"arm_retract_angle"`
	ArmExtendAngle  float64       `yaml:"arm_extend_angle"`
	ArmGrabAngle    float64       `yaml:"arm_grab_angle"`
	ArmPause        time.Duration `yaml:"arm_pause"`
}

// WebConfig defines the operator HTTP server. Port 0 disables it.
type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Defaults returns a Config with the tuning defaults. Connection settings
// have no defaults; they must come from the file.
func Defaults() *Config {
	ctl := control.DefaultConfig()
	return &Config{
		LogLevel:     "info",
		LogRetention: 10000,
		Broker: BrokerConfig{
			ConnectRetries: 5,
			RetryInterval:  2 * time.Second,
		},
		Session: SessionConfig{
			HandshakeTimeout: 15 * time.Second,
			RetryInterval:    2 * time.Second,
			ReportInterval:   5 * time.Second,
		},
		Detection: DetectionConfig{
			FrameInterval:      100 * time.Millisecond,
			GrabInterval:       50 * time.Millisecond,
			ResizeWidth:        400,
			MinConfidence:      0.7,
			AlignmentTolerance: decision.DefaultAlignmentTolerance,
			SaturationDistance: decision.DefaultSaturationDistance,
			MaxTurnSpeed:       decision.DefaultMaxTurnSpeed,
			ForwardSpeed:       decision.DefaultForwardSpeed,
		},
		Robot: RobotConfig{
			InitialMode:     ctl.InitialMode.String(),
			MaxSpeed:        250,
			MaxXSpeed:       ctl.MaxXSpeed,
			MaxYSpeed:       ctl.MaxYSpeed,
			SafeDistance:    ctl.SafeDistance,
			RoamSpeed:       ctl.RoamSpeed,
			TurnSpeed:       ctl.TurnSpeed,
			TurnMin:         ctl.TurnMin,
			TurnMax:         ctl.TurnMax,
			TickInterval:    ctl.TickInterval,
			ArmSpeed:        ctl.ArmSpeed,
			ArmRetractAngle: ctl.ArmRetractAngle,
			ArmExtendAngle:  ctl.ArmExtendAngle,
			ArmGrabAngle:    ctl.ArmGrabAngle,
			ArmPause:        ctl.ArmPause,
		},
		Web: WebConfig{
			Host: "0.0.0.0",
		},
		present: map[string]bool{},
	}
}

// Load reads a YAML config file on top of Defaults. If the file doesn't
// exist, defaults are returned and Validate reports every required key.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := cfg.parse(data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes on top of Defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := cfg.parse(data); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parse(data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if len(doc.Content) == 0 {
		return nil
	}
	if err := doc.Decode(c); err != nil {
		return err
	}
	collectKeys(doc.Content[0], "", c.present)
	return nil
}

// collectKeys records the dotted path of every non-null mapping key.
func collectKeys(n *yaml.Node, prefix string, out map[string]bool) {
	if n.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		if prefix != "" {
			key = prefix + "." + key
		}
		if val.Tag == "!!null" {
			continue
		}
		out[key] = true
		collectKeys(val, key, out)
	}
}

// Has reports whether key, in dotted form, was set in the loaded file.
func (c *Config) Has(key string) bool { return c.present[key] }

var requiredKeys = map[string][]string{
	"": {
		"broker.host",
		"broker.port",
		"broker.keep_alive",
		"topics.connect",
		"topics.control_prefix",
	},
	RoleController: {
		"detection.source",
		"detection.failed_threshold",
		"detection.bottom_blackout",
		"detection.pickup_distance",
	},
}

// ValidationError lists every problem found by Validate.
type ValidationError struct {
	Missing  []string
	Problems []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required keys: "+strings.Join(e.Missing, ", "))
	}
	parts = append(parts, e.Problems...)
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Validate checks the required keys of role and the ranges of the loaded
// values. All problems are reported in one *ValidationError.
func (c *Config) Validate(role string) error {
	if role != RoleController && role != RoleRobot {
		return fmt.Errorf("unknown role %q", role)
	}
	verr := &ValidationError{}
	for _, k := range append(requiredKeys[""], requiredKeys[role]...) {
		if !c.present[k] {
			verr.Missing = append(verr.Missing, k)
		}
	}
	sort.Strings(verr.Missing)

	problem := func(format string, args ...interface{}) {
		verr.Problems = append(verr.Problems, fmt.Sprintf(format, args...))
	}
	if c.present["broker.port"] && (c.Broker.Port < 1 || c.Broker.Port > 65535) {
		problem("broker.port %d out of range", c.Broker.Port)
	}
	if c.present["broker.keep_alive"] && c.Broker.KeepAlive <= 0 {
		problem("broker.keep_alive must be positive")
	}
	if c.Session.HandshakeTimeout <= 0 {
		problem("session.handshake_timeout must be positive")
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		problem("web.port %d out of range", c.Web.Port)
	}
	switch role {
	case RoleController:
		if c.present["detection.failed_threshold"] && c.Detection.FailedThreshold < 1 {
			problem("detection.failed_threshold must be at least 1")
		}
		if c.Detection.BottomBlackout < 0 {
			problem("detection.bottom_blackout must not be negative")
		}
		if c.Detection.MinConfidence < 0 || c.Detection.MinConfidence > 1 {
			problem("detection.min_confidence must be in [0, 1]")
		}
		if c.Detection.FrameInterval <= 0 {
			problem("detection.frame_interval must be positive")
		}
	case RoleRobot:
		if _, ok := control.ParseMode(c.Robot.InitialMode); !ok {
			problem("robot.initial_mode %q is not roam or command", c.Robot.InitialMode)
		}
		if c.Robot.TurnMin <= 0 || c.Robot.TurnMax < c.Robot.TurnMin {
			problem("robot.turn_min must be positive and not above robot.turn_max")
		}
		if c.Robot.TickInterval <= 0 {
			problem("robot.tick_interval must be positive")
		}
	}

	if len(verr.Missing) == 0 && len(verr.Problems) == 0 {
		return nil
	}
	return verr
}

// LocalID returns broker.client_id, or a generated "<role>-<uuid>" that
// stays fixed for the life of the Config.
func (c *Config) LocalID(role string) string {
	c.idOnce.Do(func() {
		c.localID = c.Broker.ClientID
		if c.localID == "" {
			c.localID = role + "-" + uuid.NewString()
		}
	})
	return c.localID
}

// MessagingOptions returns the bus client options for localID, including
// the close_con last-will.
func (c *Config) MessagingOptions(localID string) messaging.Options {
	return messaging.Options{
		Host:           c.Broker.Host,
		Port:           c.Broker.Port,
		ClientID:       localID,
		KeepAlive:      c.Broker.KeepAlive,
		ConnectRetries: c.Broker.ConnectRetries,
		RetryInterval:  c.Broker.RetryInterval,
		WillTopic:      c.Topics.Connect,
		WillPayload:    session.WillMessage(localID),
	}
}

// SessionConfig returns the session parameters for localID.
func (c *Config) SessionConfig(localID string) session.Config {
	return session.Config{
		LocalID:          localID,
		ConnectTopic:     c.Topics.Connect,
		ControlPrefix:    c.Topics.ControlPrefix,
		HandshakeTimeout: c.Session.HandshakeTimeout,
		RetryInterval:    c.Session.RetryInterval,
	}
}

// DecisionConfig returns the decider tuning.
func (c *Config) DecisionConfig() decision.Config {
	d := c.Detection
	return decision.Config{
		FailedThreshold:    d.FailedThreshold,
		PickupDistance:     d.PickupDistance,
		AlignmentTolerance: d.AlignmentTolerance,
		SaturationDistance: d.SaturationDistance,
		MaxTurnSpeed:       d.MaxTurnSpeed,
		ForwardSpeed:       d.ForwardSpeed,
	}
}

// ControlConfig returns the robot control tuning.
func (c *Config) ControlConfig() control.Config {
	r := c.Robot
	cc := control.DefaultConfig()
	if m, ok := control.ParseMode(r.InitialMode); ok {
		cc.InitialMode = m
	}
	cc.SafeDistance = r.SafeDistance
	cc.RoamSpeed = r.RoamSpeed
	cc.TurnSpeed = r.TurnSpeed
	cc.TurnMin = r.TurnMin
	cc.TurnMax = r.TurnMax
	cc.TickInterval = r.TickInterval
	cc.MaxXSpeed = r.MaxXSpeed
	cc.MaxYSpeed = r.MaxYSpeed
	cc.ArmSpeed = r.ArmSpeed
	cc.ArmRetractAngle = r.ArmRetractAngle
	cc.ArmExtendAngle = r.ArmExtendAngle
	cc.ArmGrabAngle = r.ArmGrabAngle
	cc.ArmPause = r.ArmPause
	return cc
}
