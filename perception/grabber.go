package perception

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Grabber polls a Source and overwrites a Slot with each frame.
type Grabber struct {
	source   Source
	slot     *Slot
	interval time.Duration
	blackout int
	width    int
}

// GrabberConfig sets the preprocessing applied to every frame.
type GrabberConfig struct {
	Interval time.Duration
	// Blackout is the number of bottom rows masked out.
	Blackout int
	// Width, when positive, resizes frames to this width.
	Width int
}

// NewGrabber creates a grabber feeding slot.
func NewGrabber(source Source, slot *Slot, cfg GrabberConfig) *Grabber {
	if cfg.Interval <= 0 {
		cfg.Interval = 50 * time.Millisecond
	}
	return &Grabber{
		source:   source,
		slot:     slot,
		interval: cfg.Interval,
		blackout: cfg.Blackout,
		width:    cfg.Width,
	}
}

// Run grabs frames until ctx is done. Grab errors are logged and retried on
// the next interval.
func (g *Grabber) Run(ctx context.Context) error {
	logger := log.With().Str("component", "grabber").Logger()
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	failing := false
	for {
		img, err := g.source.Grab(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			if !failing {
				logger.Warn().Err(err).Msg("grab frame")
			}
			failing = true
		default:
			if failing {
				logger.Info().Msg("frame source recovered")
			}
			failing = false
			g.slot.Put(Resize(Blackout(img, g.blackout), g.width))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
