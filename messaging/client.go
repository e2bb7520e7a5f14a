package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// Options configures a broker connection.
type Options struct {
	Host           string
	Port           int
	ClientID       string
	KeepAlive      time.Duration
	ConnectRetries int           // attempts before Connect gives up; <1 means 1
	RetryInterval  time.Duration // pause between attempts
	PublishTimeout time.Duration

	// Last-will, delivered by the broker if this client disappears
	// without disconnecting.
	WillTopic   string
	WillPayload string
}

// Client is an MQTT client with a topic handler registry. Subscriptions are
// restored after an automatic reconnect.
type Client struct {
	mu       sync.RWMutex
	opts     Options
	conn     mqtt.Client
	handlers map[string]subscription
	inbox    *mailbox

	connectedOnce sync.Once
	connected     chan struct{}
	closed        bool
}

type subscription struct {
	qos     byte
	handler Handler
}

// NewClient creates an unconnected client.
func NewClient(opts Options) *Client {
	if opts.ConnectRetries < 1 {
		opts.ConnectRetries = 1
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 2 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	c := &Client{
		opts:      opts,
		handlers:  make(map[string]subscription),
		connected: make(chan struct{}),
	}
	c.inbox = newMailbox(c.dispatch)
	return c
}

// BrokerURL returns the tcp URL of the configured broker.
func (o Options) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", o.Host, o.Port)
}

// Connect dials the broker, retrying up to ConnectRetries times.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	mopts := mqtt.NewClientOptions().
		AddBroker(c.opts.BrokerURL()).
		SetClientID(c.opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Str("component", "messaging").Err(err).Msg("broker connection lost")
		})
	if c.opts.KeepAlive > 0 {
		mopts.SetKeepAlive(c.opts.KeepAlive)
	}
	if c.opts.WillTopic != "" {
		mopts.SetWill(c.opts.WillTopic, c.opts.WillPayload, ExactlyOnce, false)
	}
	client := mqtt.NewClient(mopts)

	var err error
	for attempt := 1; attempt <= c.opts.ConnectRetries; attempt++ {
		if err = waitToken(ctx, client.Connect(), 0); err == nil {
			break
		}
		log.Warn().Str("component", "messaging").Err(err).
			Int("attempt", attempt).Int("max", c.opts.ConnectRetries).
			Str("broker", c.opts.BrokerURL()).Msg("connect failed")
		if attempt == c.opts.ConnectRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.RetryInterval):
		}
	}
	if err != nil {
		return fmt.Errorf("mqtt connect %s: %w", c.opts.BrokerURL(), err)
	}

	c.mu.Lock()
	c.conn = client
	c.mu.Unlock()
	log.Info().Str("component", "messaging").Str("broker", c.opts.BrokerURL()).
		Str("client_id", c.opts.ClientID).Msg("connected")
	return nil
}

// Connected is closed after the first successful connection.
func (c *Client) Connected() <-chan struct{} { return c.connected }

func (c *Client) onConnect(client mqtt.Client) {
	c.connectedOnce.Do(func() { close(c.connected) })

	c.mu.RLock()
	subs := make(map[string]subscription, len(c.handlers))
	for topic, s := range c.handlers {
		subs[topic] = s
	}
	c.mu.RUnlock()

	for topic, s := range subs {
		tok := client.Subscribe(topic, s.qos, c.route)
		go func(topic string) {
			if tok.WaitTimeout(c.opts.PublishTimeout) && tok.Error() != nil {
				log.Error().Str("component", "messaging").Err(tok.Error()).Str("topic", topic).Msg("resubscribe failed")
			}
		}(topic)
	}
}

// route runs on the paho callback goroutine; it only enqueues.
func (c *Client) route(_ mqtt.Client, msg mqtt.Message) {
	c.inbox.push(msg.Topic(), msg.Payload())
}

func (c *Client) dispatch(topic string, payload []byte) {
	c.mu.RLock()
	s, ok := c.handlers[topic]
	c.mu.RUnlock()
	if ok {
		s.handler(topic, payload)
	}
}

// Publish sends payload to topic.
func (c *Client) Publish(topic string, qos byte, payload []byte) error {
	c.mu.RLock()
	conn, closed := c.conn, c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	if err := waitToken(context.Background(), conn.Publish(topic, qos, false, payload), c.opts.PublishTimeout); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers h for topic, replacing any earlier handler.
func (c *Client) Subscribe(topic string, qos byte, h Handler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.handlers[topic] = subscription{qos: qos, handler: h}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		// Applied by onConnect.
		return nil
	}
	if err := waitToken(context.Background(), conn.Subscribe(topic, qos, c.route), c.opts.PublishTimeout); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe removes the handler for topic.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.handlers, topic)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || !conn.IsConnected() {
		return nil
	}
	if err := waitToken(context.Background(), conn.Unsubscribe(topic), c.opts.PublishTimeout); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

// IsConnected returns whether the broker connection is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Close disconnects gracefully; the broker does not send the will.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Disconnect(1000)
	}
	c.inbox.close()
}

// waitToken waits for tok, ctx, or timeout (0 = none).
func waitToken(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return fmt.Errorf("timed out after %s", timeout)
	}
}
