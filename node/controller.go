// Package node runs the long-lived loops of the controller and robot
// processes on top of an established session.
package node

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cleanee/decision"
	"cleanee/engine"
	"cleanee/perception"
	"cleanee/protocol"
	"cleanee/session"
)

// Controller binds to a robot and steers it from detection results.
type Controller struct {
	Session  *session.Session
	Decider  *decision.Decider
	Engine   *engine.Engine
	Slot     *perception.Slot
	Detector perception.Detector

	// FrameInterval is the decision cadence.
	FrameInterval time.Duration
	// RetryDelay is the pause after a failed handshake.
	RetryDelay time.Duration

	log zerolog.Logger
}

// Run handshakes with a robot, runs the decision loop while bound, and
// handshakes again when the binding ends. It returns nil when ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.log = log.With().Str("component", "controller").Logger()
	if c.FrameInterval <= 0 {
		c.FrameInterval = 100 * time.Millisecond
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	c.Session.OnControl(c.handleControl)
	c.Engine.AttachSession(c.Session)
	c.Engine.AttachDecider(c.Decider)
	c.Engine.OnAutonomyReset(c.ResetAutonomy)

	for {
		peer, err := c.Session.Establish(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, session.ErrSessionClosed):
			return nil
		case err != nil:
			c.log.Warn().Err(err).Msg("handshake failed; retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.RetryDelay):
			}
			continue
		}

		c.log.Info().Str("peer_id", peer).Msg("robot bound")
		c.Decider.Reset()
		c.drive(ctx, c.Session.Done())
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn().Str("peer_id", peer).Msg("robot left; waiting for a new binding")
	}
}

// drive runs the decision loop until done is closed or ctx ends.
func (c *Controller) drive(ctx context.Context, done <-chan struct{}) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(c.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if inst, ok := c.step(ctx); ok {
			c.send(inst)
		}
	}
}

// step consumes the latest frame, if it is new, and returns the decider's
// instruction for it.
func (c *Controller) step(ctx context.Context) (protocol.Instruction, bool) {
	frame, fresh, err := c.Slot.Latest(ctx)
	if err != nil || !fresh {
		return protocol.Instruction{}, false
	}
	res, err := c.Detector.Detect(ctx, frame.Image)
	if err != nil {
		if ctx.Err() != nil {
			return protocol.Instruction{}, false
		}
		// An undetected frame counts against the tracking budget.
		c.log.Warn().Err(err).Uint64("seq", frame.Seq).Msg("detection failed")
		b := frame.Image.Bounds()
		res = perception.DetectionResult{FrameWidth: b.Dx(), FrameHeight: b.Dy()}
	}
	return c.Decider.OnFrame(res)
}

func (c *Controller) send(inst protocol.Instruction) error {
	payload, err := inst.Encode()
	if err == nil {
		err = c.Session.Send(payload)
	}
	c.Engine.RecordSent(inst, err)
	if err != nil {
		c.log.Warn().Err(err).Str("instruction", inst.String()).Msg("send instruction")
		return err
	}
	c.log.Debug().Str("instruction", inst.String()).Msg("instruction sent")
	return nil
}

// ResetAutonomy returns the decider to roaming and tells the robot to roam.
func (c *Controller) ResetAutonomy() error {
	c.Decider.Reset()
	return c.send(protocol.SwitchState(protocol.ModeRoaming))
}

// handleControl takes status reports and set_ai_active from the peer.
func (c *Controller) handleControl(payload []byte) {
	cmd, err := protocol.PeekCommand(payload)
	if err != nil {
		c.log.Debug().Err(err).Msg("dropping peer message")
		return
	}
	switch cmd {
	case protocol.CommandStatus:
		r, err := protocol.DecodeReport(payload)
		if err != nil {
			c.log.Debug().Err(err).Msg("dropping status report")
			return
		}
		c.Engine.HandleReport(c.Session.PeerID(), r)
	case protocol.CommandSetAIActive:
		inst, err := protocol.Decode(payload)
		if err != nil {
			c.log.Debug().Err(err).Msg("dropping set_ai_active")
			return
		}
		if inst.Active() {
			c.log.Info().Msg("autonomy re-enabled by peer")
			c.Decider.Reset()
		}
	default:
		c.log.Debug().Str("command", cmd).Msg("ignoring peer command")
	}
}
