package messaging

import (
	"sync"
)

// Loopback is an in-process broker with MQTT delivery semantics: exact topic
// match, per-subscriber ordering, publishers receive their own messages, and
// an endpoint's will is published when it is dropped without Close.
type Loopback struct {
	mu   sync.Mutex
	subs map[string]map[*Endpoint]struct{}
}

// NewLoopback creates an empty broker.
func NewLoopback() *Loopback {
	return &Loopback{subs: make(map[string]map[*Endpoint]struct{})}
}

// Endpoint is one client attached to a Loopback broker.
type Endpoint struct {
	broker *Loopback
	id     string

	mu          sync.RWMutex
	handlers    map[string]Handler
	willTopic   string
	willPayload []byte
	closed      bool
	inbox       *mailbox
}

// Connect attaches a new client. willTopic may be empty.
func (b *Loopback) Connect(id, willTopic, willPayload string) *Endpoint {
	e := &Endpoint{
		broker:      b,
		id:          id,
		handlers:    make(map[string]Handler),
		willTopic:   willTopic,
		willPayload: []byte(willPayload),
	}
	e.inbox = newMailbox(e.dispatch)
	return e
}

func (b *Loopback) publish(topic string, payload []byte) {
	b.mu.Lock()
	targets := make([]*Endpoint, 0, len(b.subs[topic]))
	for e := range b.subs[topic] {
		targets = append(targets, e)
	}
	b.mu.Unlock()

	for _, e := range targets {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		e.inbox.push(topic, cp)
	}
}

func (b *Loopback) subscribe(topic string, e *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[topic]
	if !ok {
		set = make(map[*Endpoint]struct{})
		b.subs[topic] = set
	}
	set[e] = struct{}{}
}

func (b *Loopback) unsubscribe(topic string, e *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[topic], e)
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

func (b *Loopback) detach(e *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, set := range b.subs {
		delete(set, e)
		if len(set) == 0 {
			delete(b.subs, topic)
		}
	}
}

// ID returns the client id given at Connect.
func (e *Endpoint) ID() string { return e.id }

func (e *Endpoint) Publish(topic string, _ byte, payload []byte) error {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	e.broker.publish(topic, payload)
	return nil
}

func (e *Endpoint) Subscribe(topic string, _ byte, h Handler) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.handlers[topic] = h
	e.mu.Unlock()
	e.broker.subscribe(topic, e)
	return nil
}

func (e *Endpoint) Unsubscribe(topic string) error {
	e.mu.Lock()
	delete(e.handlers, topic)
	e.mu.Unlock()
	e.broker.unsubscribe(topic, e)
	return nil
}

func (e *Endpoint) dispatch(topic string, payload []byte) {
	e.mu.RLock()
	h, ok := e.handlers[topic]
	e.mu.RUnlock()
	if ok {
		h(topic, payload)
	}
}

// Close detaches gracefully; no will is sent.
func (e *Endpoint) Close() { e.detach(false) }

// Drop simulates an ungraceful disconnect: the broker publishes the will.
func (e *Endpoint) Drop() { e.detach(true) }

func (e *Endpoint) detach(sendWill bool) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.handlers = map[string]Handler{}
	e.mu.Unlock()

	e.broker.detach(e)
	e.inbox.close()
	if sendWill && e.willTopic != "" {
		e.broker.publish(e.willTopic, e.willPayload)
	}
}
