package node

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cleanee/control"
	"cleanee/decision"
	"cleanee/engine"
	"cleanee/hardware"
	"cleanee/kinematics"
	"cleanee/messaging"
	"cleanee/perception"
	"cleanee/protocol"
	"cleanee/session"
)

const (
	connectTopic  = "topic/connect"
	controlPrefix = "topic/control"
)

func waitFor(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

// scriptedDetector returns a single centred box whose bottom edge is set by
// the test, or nothing once blind is set.
type scriptedDetector struct {
	ymax  atomic.Int64
	blind atomic.Bool
}

func (d *scriptedDetector) Detect(ctx context.Context, img image.Image) (perception.DetectionResult, error) {
	b := img.Bounds()
	if d.blind.Load() {
		return perception.DetectionResult{FrameWidth: b.Dx(), FrameHeight: b.Dy()}, nil
	}
	ymax := float64(d.ymax.Load())
	cx := float64(b.Dx()) / 2
	return perception.DetectionResult{
		FrameWidth:  b.Dx(),
		FrameHeight: b.Dy(),
		Boxes: []perception.BoundingBox{
			{XMin: cx - 20, XMax: cx + 20, YMin: ymax - 40, YMax: ymax, Confidence: 0.9, Label: "bottle"},
		},
	}, nil
}

type rig struct {
	ctlSess   *session.Session
	robotSess *session.Session
	ctlEng    *engine.Engine
	ctl       *Controller
	machine   *control.Machine
	robot     hardware.Robot
	detector  *scriptedDetector
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func newSession(t *testing.T, b *messaging.Loopback, id string, em session.EventEmitter) *session.Session {
	t.Helper()
	ep := b.Connect(id, connectTopic, session.WillMessage(id))
	s := session.New(ep, session.Config{
		LocalID:          id,
		ConnectTopic:     connectTopic,
		ControlPrefix:    controlPrefix,
		HandshakeTimeout: time.Second,
		RetryInterval:    20 * time.Millisecond,
	}, em)
	if err := s.Start(); err != nil {
		t.Fatalf("Start(%s): %v", id, err)
	}
	t.Cleanup(ep.Close)
	return s
}

func newRig(t *testing.T) *rig {
	t.Helper()
	b := messaging.NewLoopback()
	r := &rig{detector: &scriptedDetector{}}
	r.detector.ymax.Store(200)

	r.ctlEng = engine.New(engine.Config{Role: engine.RoleController, LocalID: "ctl-1"})
	r.ctlEng.Start()
	robotEng := engine.New(engine.Config{Role: engine.RoleRobot, LocalID: "robot-1"})
	robotEng.Start()

	r.ctlSess = newSession(t, b, "ctl-1", r.ctlEng.SessionEmitter())
	r.robotSess = newSession(t, b, "robot-1", robotEng.SessionEmitter())

	cfg := control.DefaultConfig()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.SafeDistance = 20
	r.robot = hardware.NewSimRobot(100)
	r.machine = control.New(cfg, r.robot, kinematics.New(100), robotEng.ControlEmitter(),
		control.Options{Sleep: func(time.Duration) {}})

	slot := perception.NewSlot()
	r.ctl = &Controller{
		Session:       r.ctlSess,
		Decider:       decision.New(decision.Config{FailedThreshold: 3, PickupDistance: 30}, r.ctlEng.DecisionEmitter()),
		Engine:        r.ctlEng,
		Slot:          slot,
		Detector:      r.detector,
		FrameInterval: 5 * time.Millisecond,
		RetryDelay:    10 * time.Millisecond,
	}
	rb := &Robot{
		Session:        r.robotSess,
		Machine:        r.machine,
		Engine:         robotEng,
		ReportInterval: 10 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(3)
	go func() {
		defer r.wg.Done()
		frame := image.NewRGBA(image.Rect(0, 0, 640, 480))
		ticker := time.NewTicker(3 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				slot.Put(frame)
			}
		}
	}()
	go func() {
		defer r.wg.Done()
		if err := rb.Run(ctx); err != nil {
			t.Errorf("robot Run = %v", err)
		}
	}()
	go func() {
		defer r.wg.Done()
		if err := r.ctl.Run(ctx); err != nil {
			t.Errorf("controller Run = %v", err)
		}
	}()
	t.Cleanup(r.stop)
	return r
}

func (r *rig) stop() {
	r.cancel()
	r.wg.Wait()
}

func TestControllerTracksAndRobotFollows(t *testing.T) {
	r := newRig(t)
	drive := r.robot.Drive.(*hardware.SimDrive)

	waitFor(t, 2*time.Second, func() bool { return r.machine.Mode() == control.ModeCommand })
	waitFor(t, 2*time.Second, func() bool {
		l, rt := drive.Speeds()
		return l > 0 && l == rt
	})
	if got := r.ctl.Decider.Info().Phase; got != decision.PhaseTracking {
		t.Errorf("phase = %s, want tracking", got)
	}
	if r.robotSess.PeerID() != "ctl-1" || r.ctlSess.PeerID() != "robot-1" {
		t.Errorf("peers = %q / %q", r.robotSess.PeerID(), r.ctlSess.PeerID())
	}
}

func TestPickupAndAutonomyReset(t *testing.T) {
	r := newRig(t)
	arm := r.robot.Arm.(*hardware.SimArm)

	waitFor(t, 2*time.Second, func() bool { return r.machine.Mode() == control.ModeCommand })
	r.detector.ymax.Store(470)
	waitFor(t, 2*time.Second, func() bool { return len(arm.Moves()) >= 3 })
	if got := arm.Moves()[0]; got != control.DefaultConfig().ArmRetractAngle {
		t.Errorf("first arm move = %v, want retract", got)
	}
	if got := r.ctl.Decider.Info().Phase; got != decision.PhasePickingUp {
		t.Errorf("phase = %s, want picking_up", got)
	}

	r.detector.blind.Store(true)
	if err := r.ctlEng.ResetAutonomy(); err != nil {
		t.Fatalf("ResetAutonomy: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return r.machine.Mode() == control.ModeRoam })
}

func TestControllerReceivesStatusReports(t *testing.T) {
	r := newRig(t)
	waitFor(t, 2*time.Second, func() bool { return r.ctlEng.Status().Robot != nil })
	rep := r.ctlEng.Status().Robot
	if rep.PeerID != "robot-1" {
		t.Errorf("report peer = %q, want robot-1", rep.PeerID)
	}
	if rep.Mode == "" || rep.RoamState == "" {
		t.Errorf("report = %+v", rep)
	}
}

func TestRobotRoamsWhenControllerLeaves(t *testing.T) {
	r := newRig(t)
	waitFor(t, 2*time.Second, func() bool { return r.machine.Mode() == control.ModeCommand })

	r.ctlSess.Close()
	waitFor(t, 2*time.Second, func() bool { return r.robotSess.State() == session.Idle })
	waitFor(t, 2*time.Second, func() bool { return r.machine.Mode() == control.ModeRoam })
}

func TestControllerHandlesPeerCommands(t *testing.T) {
	eng := engine.New(engine.Config{Role: engine.RoleController, LocalID: "ctl-1"})
	d := decision.New(decision.Config{FailedThreshold: 3, PickupDistance: 30}, nil)
	ep := messaging.NewLoopback().Connect("ctl-1", "", "")
	defer ep.Close()
	c := &Controller{
		Session: session.New(ep, session.Config{LocalID: "ctl-1", ConnectTopic: connectTopic, ControlPrefix: controlPrefix}, nil),
		Decider: d,
		Engine:  eng,
		log:     zerolog.Nop(),
	}

	d.OnFrame(perception.DetectionResult{FrameWidth: 640, FrameHeight: 480, Boxes: []perception.BoundingBox{{XMin: 300, XMax: 340, YMax: 200}}})
	if got := d.Info().Phase; got != decision.PhaseTracking {
		t.Fatalf("phase = %s, want tracking", got)
	}

	payload, err := protocol.SetAIActive(true).Encode()
	if err != nil {
		t.Fatal(err)
	}
	c.handleControl(payload)
	if got := d.Info().Phase; got != decision.PhaseRoaming {
		t.Errorf("phase = %s, want roaming after set_ai_active", got)
	}

	report, _ := protocol.StatusReport{Mode: "roam", RoamState: "moving", UptimeS: 3}.Encode()
	c.handleControl(report)
	if st := eng.Status().Robot; st == nil || st.RoamState != "moving" {
		t.Errorf("robot status = %+v", st)
	}

	c.handleControl([]byte("not json"))
	c.handleControl([]byte(`{"command":"move","metadata":{"x":0,"y":1}}`))
}
