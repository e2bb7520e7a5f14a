package node

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"cleanee/control"
	"cleanee/engine"
	"cleanee/messaging"
	"cleanee/protocol"
	"cleanee/session"
)

// Robot accepts one controller at a time and applies its instructions.
type Robot struct {
	Session *session.Session
	Machine *control.Machine
	Engine  *engine.Engine

	// ReportInterval is the status report period while bound.
	ReportInterval time.Duration
}

// Run drives the tick loop and serves bindings until ctx is done.
func (r *Robot) Run(ctx context.Context) error {
	r.Engine.AttachSession(r.Session)
	r.Engine.AttachControl(r.Machine)

	ingestor := protocol.NewIngestor(r.Machine.OnInstruction, nil)
	r.Session.OnControl(ingestor.HandleRaw)

	hb := messaging.NewHeartbeater(r.Session.Send, func(uptime time.Duration) ([]byte, error) {
		st := r.Machine.Status()
		return protocol.StatusReport{
			Mode:      st.Mode,
			RoamState: st.RoamState,
			UptimeS:   int64(uptime.Seconds()),
		}.Encode()
	}, r.ReportInterval)
	hb.Start()
	defer hb.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Machine.Run(gctx) })
	g.Go(func() error { return r.serve(gctx) })
	return g.Wait()
}

func (r *Robot) serve(ctx context.Context) error {
	logger := log.With().Str("component", "robot").Logger()
	for {
		peer, err := r.Session.Await(ctx)
		switch {
		case ctx.Err() != nil, errors.Is(err, session.ErrSessionClosed):
			return nil
		case err != nil:
			return err
		}
		logger.Info().Str("peer_id", peer).Msg("controller bound")

		select {
		case <-ctx.Done():
			return nil
		case <-r.Session.Done():
		}
		logger.Warn().Str("peer_id", peer).Msg("controller left; roaming")
		r.Machine.SetMode(control.ModeRoam)
	}
}
