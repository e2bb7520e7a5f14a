package messaging

import (
	"errors"
	"sync"
)

// QoS levels used by the session and control traffic.
const (
	AtMostOnce  byte = 0
	AtLeastOnce byte = 1
	ExactlyOnce byte = 2
)

var (
	// ErrNotConnected is returned when publishing before the broker
	// connection is up.
	ErrNotConnected = errors.New("messaging: not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("messaging: client closed")
)

// Handler receives one message. Handlers run on the client's delivery
// goroutine in arrival order and may publish.
type Handler func(topic string, payload []byte)

// Bus is the publish/subscribe surface the session and binaries use.
// Client and Endpoint both implement it.
type Bus interface {
	Publish(topic string, qos byte, payload []byte) error
	Subscribe(topic string, qos byte, h Handler) error
	Unsubscribe(topic string) error
}

var (
	_ Bus = (*Client)(nil)
	_ Bus = (*Endpoint)(nil)
)

type delivery struct {
	topic   string
	payload []byte
}

// mailbox is an unbounded FIFO drained by one goroutine, so a handler that
// publishes never blocks the network reader.
type mailbox struct {
	mu      sync.Mutex
	queue   []delivery
	wake    chan struct{}
	done    chan struct{}
	closed  bool
	deliver func(topic string, payload []byte)
}

func newMailbox(deliver func(topic string, payload []byte)) *mailbox {
	m := &mailbox{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		deliver: deliver,
	}
	go m.run()
	return m
}

func (m *mailbox) push(topic string, payload []byte) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, delivery{topic: topic, payload: payload})
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.queue = nil
	m.mu.Unlock()
	close(m.done)
}

func (m *mailbox) run() {
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}
		for {
			m.mu.Lock()
			if m.closed || len(m.queue) == 0 {
				m.mu.Unlock()
				break
			}
			d := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()
			m.deliver(d.topic, d.payload)
		}
	}
}
