package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cleanee/messaging"
)

const (
	connectTopic  = "topic/connect"
	controlPrefix = "topic/control"
)

type mockEmitter struct {
	mu     sync.Mutex
	events []string
}

func (m *mockEmitter) EmitSessionChanged(localID, peerID string, from, to State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, fmt.Sprintf("%s:%s->%s", localID, from, to))
}

func (m *mockEmitter) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

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

func newSide(t *testing.T, b *messaging.Loopback, id string, timeout time.Duration, em EventEmitter) (*Session, *messaging.Endpoint) {
	t.Helper()
	ep := b.Connect(id, connectTopic, WillMessage(id))
	s := New(ep, Config{
		LocalID:          id,
		ConnectTopic:     connectTopic,
		ControlPrefix:    controlPrefix,
		HandshakeTimeout: timeout,
		RetryInterval:    20 * time.Millisecond,
	}, em)
	if err := s.Start(); err != nil {
		t.Fatalf("Start(%s): %v", id, err)
	}
	t.Cleanup(ep.Close)
	return s, ep
}

func establishPair(t *testing.T, initiator, responder *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	awaited := make(chan error, 1)
	go func() {
		_, err := responder.Await(ctx)
		awaited <- err
	}()

	peer, err := initiator.Establish(ctx)
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if peer != responder.LocalID() {
		t.Errorf("initiator peer = %q, want %q", peer, responder.LocalID())
	}
	if err := <-awaited; err != nil {
		t.Fatalf("Await: %v", err)
	}
}

func TestHandshakeEitherOrder(t *testing.T) {
	for _, controllerFirst := range []bool{true, false} {
		t.Run(fmt.Sprintf("controller_initiates=%v", controllerFirst), func(t *testing.T) {
			b := messaging.NewLoopback()
			ctl, _ := newSide(t, b, "controller-1", time.Second, nil)
			bot, _ := newSide(t, b, "robot-1", time.Second, nil)

			if controllerFirst {
				establishPair(t, ctl, bot)
			} else {
				establishPair(t, bot, ctl)
			}

			if ctl.State() != Established || bot.State() != Established {
				t.Fatalf("states = %s/%s, want established", ctl.State(), bot.State())
			}
			if ctl.PeerID() != "robot-1" {
				t.Errorf("controller peer = %q, want robot-1", ctl.PeerID())
			}
			if bot.PeerID() != "controller-1" {
				t.Errorf("robot peer = %q, want controller-1", bot.PeerID())
			}
			if got := bot.ControlTopic(); got != "topic/control/controller-1" {
				t.Errorf("robot control topic = %q", got)
			}
		})
	}
}

func TestSimultaneousInit(t *testing.T) {
	b := messaging.NewLoopback()
	a, _ := newSide(t, b, "a-side", time.Second, nil)
	z, _ := newSide(t, b, "z-side", time.Second, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	peers := make([]string, 2)
	for i, s := range []*Session{a, z} {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			peers[i], errs[i] = s.Establish(ctx)
		}(i, s)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Establish[%d]: %v", i, err)
		}
	}
	if peers[0] != "z-side" || peers[1] != "a-side" {
		t.Errorf("peers = %v, want [z-side a-side]", peers)
	}
}

func TestControlDelivery(t *testing.T) {
	b := messaging.NewLoopback()
	ctl, _ := newSide(t, b, "ctl", time.Second, nil)
	bot, _ := newSide(t, b, "bot", time.Second, nil)

	if err := ctl.Send([]byte("early")); !errors.Is(err, ErrNotEstablished) {
		t.Errorf("Send before handshake = %v, want ErrNotEstablished", err)
	}

	got := make(chan string, 4)
	bot.OnControl(func(p []byte) { got <- string(p) })
	establishPair(t, ctl, bot)

	// A stranger publishing on its own control topic is not heard.
	stranger := b.Connect("stranger", "", "")
	defer stranger.Close()
	stranger.Publish(controlPrefix+"/stranger", messaging.AtLeastOnce, []byte("spoof"))

	if err := ctl.Send([]byte(`{"command":"stop"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case p := <-got:
		if p != `{"command":"stop"}` {
			t.Errorf("robot received %q", p)
		}
	case <-time.After(time.Second):
		t.Fatal("robot received nothing")
	}
}

func TestFirstSendAfterEstablishArrives(t *testing.T) {
	for i := 0; i < 100; i++ {
		b := messaging.NewLoopback()
		ctl, _ := newSide(t, b, "ctl", time.Second, nil)
		bot, _ := newSide(t, b, "bot", time.Second, nil)
		got := make(chan string, 1)
		bot.OnControl(func(p []byte) {
			select {
			case got <- string(p):
			default:
			}
		})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		go bot.Await(ctx)
		if _, err := ctl.Establish(ctx); err != nil {
			cancel()
			t.Fatalf("run %d: Establish: %v", i, err)
		}
		if err := ctl.Send([]byte(`{"command":"switch_state","metadata":{"state":"commands"}}`)); err != nil {
			cancel()
			t.Fatalf("run %d: Send: %v", i, err)
		}
		select {
		case <-got:
		case <-time.After(500 * time.Millisecond):
			cancel()
			t.Fatalf("run %d: first instruction after Establish was lost", i)
		}
		cancel()
		ctl.Close()
		bot.Close()
	}
}

func TestControlBeforeConfirmationBinds(t *testing.T) {
	b := messaging.NewLoopback()
	bot, _ := newSide(t, b, "bot", 300*time.Millisecond, nil)
	got := make(chan string, 1)
	bot.OnControl(func(p []byte) { got <- string(p) })

	ctl := b.Connect("ctl", "", "")
	defer ctl.Close()
	answered := make(chan struct{})
	var once sync.Once
	ctl.Subscribe(connectTopic, messaging.ExactlyOnce, func(_ string, p []byte) {
		if string(p) == "con_ok:ctl:bot" {
			once.Do(func() { close(answered) })
		}
	})
	ctl.Publish(connectTopic, messaging.ExactlyOnce, []byte("init_con:ctl"))
	select {
	case <-answered:
	case <-time.After(time.Second):
		t.Fatal("robot never answered init_con")
	}

	// The confirming con_ok is never sent; control traffic arrives first.
	ctl.Publish(controlPrefix+"/ctl", messaging.AtLeastOnce, []byte("hello"))
	select {
	case p := <-got:
		if p != "hello" {
			t.Errorf("robot received %q, want hello", p)
		}
	case <-time.After(time.Second):
		t.Fatal("control message before confirmation was dropped")
	}
	if bot.State() != Established || bot.PeerID() != "ctl" {
		t.Errorf("state = %s peer = %q, want established with ctl", bot.State(), bot.PeerID())
	}

	time.Sleep(400 * time.Millisecond)
	if bot.State() != Established {
		t.Errorf("state = %s after bind timeout, want established", bot.State())
	}
}

func TestPendingBindDropsControl(t *testing.T) {
	b := messaging.NewLoopback()
	bot, _ := newSide(t, b, "bot", 50*time.Millisecond, nil)
	got := make(chan string, 1)
	bot.OnControl(func(p []byte) { got <- string(p) })

	ghost := b.Connect("ghost", "", "")
	defer ghost.Close()
	ghost.Publish(connectTopic, messaging.ExactlyOnce, []byte("init_con:ghost"))
	waitFor(t, time.Second, func() bool { return bot.PeerID() == "ghost" })
	waitFor(t, time.Second, func() bool { return bot.State() == Idle })

	ghost.Publish(controlPrefix+"/ghost", messaging.AtLeastOnce, []byte("late"))
	select {
	case p := <-got:
		t.Errorf("robot received %q from an expired bind", p)
	case <-time.After(50 * time.Millisecond):
	}
	if bot.State() != Idle {
		t.Errorf("state = %s, want idle", bot.State())
	}
}

func TestForeignCloseIgnored(t *testing.T) {
	b := messaging.NewLoopback()
	ctl, _ := newSide(t, b, "ctl", time.Second, nil)
	bot, _ := newSide(t, b, "bot", time.Second, nil)
	establishPair(t, ctl, bot)

	stranger := b.Connect("stranger", "", "")
	defer stranger.Close()
	stranger.Publish(connectTopic, messaging.ExactlyOnce, []byte("close_con:someone-else"))
	stranger.Publish(connectTopic, messaging.ExactlyOnce, []byte("init_con:stranger"))
	stranger.Publish(connectTopic, messaging.ExactlyOnce, []byte("garbage"))

	// A marker message proves the earlier ones were processed.
	marker := make(chan struct{})
	probe := b.Connect("probe", "", "")
	defer probe.Close()
	probe.Subscribe(connectTopic, messaging.ExactlyOnce, func(_ string, p []byte) {
		if string(p) == "close_con:marker" {
			close(marker)
		}
	})
	stranger.Publish(connectTopic, messaging.ExactlyOnce, []byte("close_con:marker"))
	<-marker
	time.Sleep(20 * time.Millisecond)

	if ctl.State() != Established || bot.State() != Established {
		t.Errorf("states = %s/%s, want both established", ctl.State(), bot.State())
	}
	if bot.PeerID() != "ctl" {
		t.Errorf("robot peer = %q, want ctl", bot.PeerID())
	}
}

func TestPeerWillReturnsToIdle(t *testing.T) {
	b := messaging.NewLoopback()
	em := &mockEmitter{}
	ctl, ctlEP := newSide(t, b, "ctl", time.Second, nil)
	bot, _ := newSide(t, b, "bot", time.Second, em)
	establishPair(t, ctl, bot)

	done := bot.Done()
	ctlEP.Drop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Done not closed after peer will")
	}
	waitFor(t, time.Second, func() bool { return len(em.snapshot()) == 3 })
	if bot.State() != Idle {
		t.Errorf("state = %s, want idle", bot.State())
	}
	if bot.PeerID() != "" {
		t.Errorf("peer = %q, want empty", bot.PeerID())
	}
	if err := bot.Send([]byte("x")); !errors.Is(err, ErrNotEstablished) {
		t.Errorf("Send after peer close = %v, want ErrNotEstablished", err)
	}

	want := []string{"bot:idle->initiating", "bot:initiating->established", "bot:established->idle"}
	got := em.snapshot()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRebindAfterPeerClose(t *testing.T) {
	b := messaging.NewLoopback()
	ctl, _ := newSide(t, b, "ctl", time.Second, nil)
	bot, _ := newSide(t, b, "bot", time.Second, nil)
	establishPair(t, ctl, bot)

	if err := ctl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitFor(t, time.Second, func() bool { return bot.State() == Idle })

	ctl2, _ := newSide(t, b, "ctl-2", time.Second, nil)
	establishPair(t, ctl2, bot)
	if bot.PeerID() != "ctl-2" {
		t.Errorf("robot peer = %q, want ctl-2", bot.PeerID())
	}
}

func TestHandshakeTimeout(t *testing.T) {
	b := messaging.NewLoopback()
	ctl, _ := newSide(t, b, "ctl", 60*time.Millisecond, nil)

	start := time.Now()
	_, err := ctl.Establish(context.Background())
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("Establish = %v, want ErrHandshakeTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Establish took %s", elapsed)
	}
	if ctl.State() != Idle {
		t.Errorf("state = %s, want idle", ctl.State())
	}
}

func TestEstablishContextCancel(t *testing.T) {
	b := messaging.NewLoopback()
	ctl, _ := newSide(t, b, "ctl", 5*time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	if _, err := ctl.Establish(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Establish = %v, want context.Canceled", err)
	}
}

func TestPendingBindExpires(t *testing.T) {
	b := messaging.NewLoopback()
	bot, _ := newSide(t, b, "bot", 60*time.Millisecond, nil)

	ghost := b.Connect("ghost", "", "")
	defer ghost.Close()
	ghost.Publish(connectTopic, messaging.ExactlyOnce, []byte("init_con:ghost"))

	waitFor(t, time.Second, func() bool { return bot.PeerID() == "ghost" })
	if bot.State() != Initiating {
		t.Errorf("state = %s, want initiating", bot.State())
	}
	waitFor(t, time.Second, func() bool { return bot.State() == Idle })
	if bot.PeerID() != "" {
		t.Errorf("peer = %q after expiry, want empty", bot.PeerID())
	}
}

func TestCloseReleasesWaiters(t *testing.T) {
	b := messaging.NewLoopback()
	bot, _ := newSide(t, b, "bot", time.Second, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := bot.Await(context.Background())
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)

	if err := bot.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := bot.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, ErrSessionClosed) {
			t.Errorf("Await = %v, want ErrSessionClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Await not released by Close")
	}
	if _, err := bot.Establish(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Establish after Close = %v, want ErrSessionClosed", err)
	}
	if bot.State() != Closed {
		t.Errorf("state = %s, want closed", bot.State())
	}
}
