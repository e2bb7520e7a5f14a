package perception

import (
	"context"
	"image"
	"sync"
	"time"
)

// Frame is one captured image.
type Frame struct {
	Image    image.Image
	Seq      uint64
	Captured time.Time
}

// Slot holds only the most recent frame. Writers never block; the reader
// blocks only until the first frame ever arrives.
type Slot struct {
	mu    sync.Mutex
	frame Frame
	taken uint64
	ready chan struct{}
	once  sync.Once
}

// NewSlot creates an empty slot.
func NewSlot() *Slot {
	return &Slot{ready: make(chan struct{})}
}

// Put overwrites the held frame.
func (s *Slot) Put(img image.Image) {
	s.mu.Lock()
	s.frame = Frame{Image: img, Seq: s.frame.Seq + 1, Captured: time.Now()}
	s.mu.Unlock()
	s.once.Do(func() { close(s.ready) })
}

// Latest returns the newest frame and whether it has not been returned
// before. It blocks until the first Put or ctx is done.
func (s *Slot) Latest(ctx context.Context) (Frame, bool, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return Frame{}, false, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := s.frame.Seq != s.taken
	s.taken = s.frame.Seq
	return s.frame, fresh, nil
}
