package sox_test

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/charliepilot/sox"
)

// testListener is a bare TCP listener standing in for a fabric server; it
// hands accepted connections to the test through a channel.
type testListener struct {
	ln    net.Listener
	conns chan net.Conn
}

func newTestListener(t *testing.T) *testListener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	tl := &testListener{ln: ln, conns: make(chan net.Conn, 10)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			tl.conns <- conn
		}
	}()

	t.Cleanup(func() { ln.Close() })
	return tl
}

func (tl *testListener) addr() string { return tl.ln.Addr().String() }

func (tl *testListener) accept(t *testing.T) net.Conn {
	t.Helper()

	select {
	case conn := <-tl.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for client connection")
		return nil
	}
}

// orderLog records which observer was notified, across observers, to assert
// notification order.
type orderLog struct {
	mu   sync.Mutex
	tags []string
}

func (l *orderLog) append(tag string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tags = append(l.tags, tag)
}

func (l *orderLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	tags := make([]string, len(l.tags))
	copy(tags, l.tags)
	return tags
}

// recordingObserver collects every notification it receives.
type recordingObserver struct {
	mu   sync.Mutex
	tag  string
	msgs []string

	seq *orderLog
}

func (o *recordingObserver) Notify(_ *sox.Client, msg string) {
	o.mu.Lock()
	o.msgs = append(o.msgs, msg)
	o.mu.Unlock()

	if o.seq != nil {
		o.seq.append(o.tag)
	}
}

func (o *recordingObserver) messages() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	msgs := make([]string, len(o.msgs))
	copy(msgs, o.msgs)
	return msgs
}

func newTestClient(tl *testListener, options ...sox.ClientOption) *sox.Client {
	opts := append([]sox.ClientOption{
		sox.WithClientAddress(tl.addr()),
		sox.WithReadTimeout(25 * time.Millisecond),
		sox.WithReconnectDelay(25 * time.Millisecond),
		sox.WithClientLogger(discardLogger()),
	}, options...)
	return sox.NewClient(opts...)
}

func waitForState(t *testing.T, c *sox.Client, want sox.State) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for c.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for state %v, have %v", want, c.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForMessages(t *testing.T, obs *recordingObserver, n int) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for len(obs.messages()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %d messages, have %v", n, obs.messages())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClientConnectAndNotify(t *testing.T) {
	tl := newTestListener(t)
	c := newTestClient(tl)
	defer c.Shutdown()

	obs := &recordingObserver{}
	c.RegisterObserver(obs)

	if got := c.State(); got != sox.StateIdle {
		t.Errorf("got state %v before connect, want %v", got, sox.StateIdle)
	}

	if err := c.Connect(); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	waitForState(t, c, sox.StateConnected)

	serverConn := tl.accept(t)
	if _, err := serverConn.Write([]byte("hello")); err != nil {
		t.Fatalf("failed to write to client: %v", err)
	}

	waitForMessages(t, obs, 1)
	if got := obs.messages()[0]; got != "hello" {
		t.Errorf("got message %q, want %q", got, "hello")
	}
}

func TestClientSend(t *testing.T) {
	tl := newTestListener(t)
	c := newTestClient(tl)
	defer c.Shutdown()

	// Send before connect fails immediately: there is no socket.
	if err := c.Send("too early"); err == nil {
		t.Error("expected error sending before connect, got nil")
	}

	if err := c.Connect(); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	serverConn := tl.accept(t)

	if err := c.Send("ping"); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	if err := serverConn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	buf := make([]byte, 64)
	n, err := serverConn.Read(buf)
	if err != nil {
		t.Fatalf("failed to read client message: %v", err)
	}
	if got := string(buf[:n]); got != "ping" {
		t.Errorf("server got %q, want %q", got, "ping")
	}
}

func TestObserverOrderingAndIdempotence(t *testing.T) {
	tl := newTestListener(t)
	c := newTestClient(tl)
	defer c.Shutdown()

	seq := &orderLog{}
	first := &recordingObserver{tag: "first", seq: seq}
	second := &recordingObserver{tag: "second", seq: seq}

	c.RegisterObserver(first)
	c.RegisterObserver(first) // duplicate, must not mutate
	c.RegisterObserver(second)

	if got := len(c.Observers()); got != 2 {
		t.Fatalf("got %d observers, want 2", got)
	}

	if err := c.Connect(); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	serverConn := tl.accept(t)
	if _, err := serverConn.Write([]byte("msg")); err != nil {
		t.Fatalf("failed to write to client: %v", err)
	}

	waitForMessages(t, first, 1)
	waitForMessages(t, second, 1)

	want := []string{"first", "second"}
	got := seq.snapshot()
	if len(got) < len(want) {
		t.Fatalf("got %d notifications, want at least %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d went to %q, want %q", i, got[i], want[i])
		}
	}

	// Unregistering an observer that was never registered is a no-op.
	c.UnregisterObserver(&recordingObserver{tag: "stranger"})
	if got := len(c.Observers()); got != 2 {
		t.Errorf("got %d observers after absent unregister, want 2", got)
	}

	c.UnregisterObserver(first)
	if got := len(c.Observers()); got != 1 {
		t.Errorf("got %d observers after unregister, want 1", got)
	}
}

func TestClientReconnectsAfterPeerClose(t *testing.T) {
	tl := newTestListener(t)
	c := newTestClient(tl)
	defer c.Shutdown()

	obs := &recordingObserver{}
	c.RegisterObserver(obs)

	if err := c.Connect(); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	serverConn := tl.accept(t)

	// Forcibly close the server side; the receive loop must re-enter
	// Connecting and come back to Connected without caller intervention.
	serverConn.Close()

	reconnected := tl.accept(t)
	waitForState(t, c, sox.StateConnected)

	// The replacement connection is live end to end.
	if _, err := reconnected.Write([]byte("back")); err != nil {
		t.Fatalf("failed to write to reconnected client: %v", err)
	}
	waitForMessages(t, obs, 1)
	if got := obs.messages()[0]; got != "back" {
		t.Errorf("got message %q, want %q", got, "back")
	}
}

func TestClientShutdownIsTerminalAndIdempotent(t *testing.T) {
	tl := newTestListener(t)
	c := newTestClient(tl)

	if err := c.Connect(); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	tl.accept(t)

	c.Shutdown()
	if got := c.State(); got != sox.StateClosed {
		t.Errorf("got state %v after shutdown, want %v", got, sox.StateClosed)
	}

	// No reconnect after shutdown: the listener must see no new connection.
	select {
	case <-tl.conns:
		t.Error("client reconnected after shutdown")
	case <-time.After(200 * time.Millisecond):
	}

	c.Shutdown()
	if got := c.State(); got != sox.StateClosed {
		t.Errorf("got state %v after repeated shutdown, want %v", got, sox.StateClosed)
	}
}

func TestClientConnectAbortsOnShutdown(t *testing.T) {
	// Dial a port nobody listens on; Connect retries until Shutdown begins.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := sox.NewClient(
		sox.WithClientAddress(addr),
		sox.WithReconnectDelay(50*time.Millisecond),
		sox.WithClientLogger(discardLogger()),
	)

	connectErr := make(chan error, 1)
	go func() {
		connectErr <- c.Connect()
	}()

	time.Sleep(100 * time.Millisecond)
	c.Shutdown()

	select {
	case err := <-connectErr:
		if err != sox.ErrShuttingDown {
			t.Errorf("got error %v, want %v", err, sox.ErrShuttingDown)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for connect to abort")
	}
}

func TestRunForever(t *testing.T) {
	tl := newTestListener(t)
	c := newTestClient(tl)

	var calls int
	err := c.RunForever(func(cli *sox.Client) bool {
		if cli.State() != sox.StateConnected {
			t.Errorf("execute saw state %v, want %v", cli.State(), sox.StateConnected)
		}
		calls++
		return calls < 3
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls != 3 {
		t.Errorf("execute called %d times, want 3", calls)
	}
	if got := c.State(); got != sox.StateClosed {
		t.Errorf("got state %v after RunForever, want %v", got, sox.StateClosed)
	}
}
