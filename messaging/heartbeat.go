package messaging

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Heartbeater publishes a periodic payload built from the process uptime.
type Heartbeater struct {
	send      func([]byte) error
	build     func(uptime time.Duration) ([]byte, error)
	interval  time.Duration
	startTime time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHeartbeater creates a heartbeater. send failures are logged at debug,
// since they are expected while no peer is bound.
func NewHeartbeater(send func([]byte) error, build func(uptime time.Duration) ([]byte, error), interval time.Duration) *Heartbeater {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Heartbeater{
		send:     send,
		build:    build,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the heartbeat loop.
func (h *Heartbeater) Start() {
	h.startTime = time.Now()
	go h.loop()
}

// Stop halts the heartbeat loop.
func (h *Heartbeater) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

func (h *Heartbeater) beat() {
	data, err := h.build(time.Since(h.startTime))
	if err != nil {
		log.Error().Str("component", "heartbeat").Err(err).Msg("build payload")
		return
	}
	if err := h.send(data); err != nil {
		log.Debug().Str("component", "heartbeat").Err(err).Msg("send skipped")
	}
}

func (h *Heartbeater) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.beat()
		}
	}
}
