package sox

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State is the connection manager's lifecycle state.
type State int32

// Client lifecycle states. The normal path is Idle → Connecting → Connected;
// a lost connection moves through Disconnected back to Connecting without
// caller intervention, and Shutdown drives ShuttingDown → Closed, which is
// terminal.
const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateShuttingDown
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// ErrShuttingDown is returned by Connect when the client's shutdown began
// before a connection could be established.
var ErrShuttingDown = errors.New("client is shutting down")

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Client maintains a persistent connection to a fabric server. A background
// receive loop reads inbound messages and republishes each one synchronously
// to the registered Observers, in registration order. Send writes on the
// caller's goroutine with no queuing and no retry.
//
// When the server closes the connection the receive loop itself triggers
// reconnection, so the client re-enters Connected without caller
// intervention; connect attempts are retried indefinitely at a fixed delay.
// A Client must be created using NewClient and disposed of with Shutdown.
type Client struct {
	addr              string
	readTimeout       time.Duration
	receiveBufferSize int
	reconnectDelay    time.Duration

	logger  *slog.Logger
	metrics *ClientMetrics

	connMu sync.Mutex
	conn   net.Conn

	observersMu sync.Mutex
	observers   []Observer

	state        atomic.Int32
	loopContinue atomic.Bool
	shuttingDown atomic.Bool

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	loopWG       sync.WaitGroup
}

// NewClient creates a new fabric client with the specified configuration.
// Without options it targets 127.0.0.1:4000, polls its continue flag every
// 500ms, reads into a 2048-byte buffer and retries failed connects every 5
// seconds. The client is idle until Connect is called.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		addr:              defaultClientAddress,
		readTimeout:       defaultClientReadTimeout,
		receiveBufferSize: defaultReceiveBufferSize,
		reconnectDelay:    defaultReconnectDelay,
		logger:            slog.Default(),
		shutdownCh:        make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	c.loopContinue.Store(true)
	c.state.Store(int32(StateIdle))

	return c
}

// WithClientAddress sets the server address to connect to, in net.Dial form
// (e.g. "127.0.0.1:4000").
func WithClientAddress(addr string) ClientOption {
	return func(c *Client) {
		c.addr = addr
	}
}

// WithReadTimeout sets the per-read timeout of the receive loop. Like the
// server's poll interval, it is the cadence at which the loop observes a
// shutdown request, not an error condition.
func WithReadTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.readTimeout = timeout
	}
}

// WithReceiveBufferSize sets the receive buffer size in bytes.
func WithReceiveBufferSize(size int) ClientOption {
	return func(c *Client) {
		c.receiveBufferSize = size
	}
}

// WithReconnectDelay sets the fixed delay between connect attempts.
func WithReconnectDelay(delay time.Duration) ClientOption {
	return func(c *Client) {
		c.reconnectDelay = delay
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With(
			slog.String("package", "sox"),
			slog.String("component", "client"),
		)
	}
}

// WithClientMetrics sets the Prometheus metrics collection for the client.
func WithClientMetrics(m *ClientMetrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Connect dials the configured server address and spawns the background
// receive loop. A failed attempt is logged and retried after the configured
// reconnect delay, indefinitely: the client never gives up reaching the
// server. The only way Connect returns an error is when Shutdown begins, in
// which case it returns ErrShuttingDown.
func (c *Client) Connect() error {
	for {
		if c.shuttingDown.Load() {
			return ErrShuttingDown
		}

		c.setState(StateConnecting)
		c.logger.Info("connecting to server", slog.String("addr", c.addr))

		conn, err := net.Dial("tcp", c.addr)
		if err == nil {
			c.setConn(conn)
			c.setState(StateConnected)
			c.logger.Info("connected to server", slog.String("addr", c.addr))

			c.loopWG.Add(1)
			go c.receiveLoop()
			return nil
		}

		c.logger.Error("failed to connect to server",
			slog.String("addr", c.addr),
			slog.String("err", err.Error()))

		select {
		case <-c.shutdownCh:
			return ErrShuttingDown
		case <-time.After(c.reconnectDelay):
		}
	}
}

// Send writes payload on the caller's goroutine through the current socket.
// There is no queuing and no retry: a write failure propagates immediately.
func (c *Client) Send(payload string) error {
	conn := c.currentConn()
	if conn == nil {
		return errors.New("client is not connected")
	}
	if _, err := conn.Write([]byte(payload)); err != nil {
		return fmt.Errorf("failed to send to %s: %w", c.addr, err)
	}
	return nil
}

// Run connects, invokes execute once with the connected client, and shuts
// the client down when execute returns.
func (c *Client) Run(execute func(c *Client)) error {
	defer c.Shutdown()

	if err := c.Connect(); err != nil {
		return err
	}
	execute(c)
	return nil
}

// RunForever connects and then invokes execute repeatedly for as long as it
// returns true, shutting the client down afterwards. The execute function is
// the caller-supplied data producer; an interactive loop reading lines from
// a terminal is the typical one.
func (c *Client) RunForever(execute func(c *Client) bool) error {
	defer c.Shutdown()

	if err := c.Connect(); err != nil {
		return err
	}
	for execute(c) {
		if c.shuttingDown.Load() {
			break
		}
	}
	return nil
}

// Shutdown stops the receive loop, waits for it to exit, and closes the
// socket. The shutdown flag set here is what keeps the exiting loop from
// auto-reconnecting. Shutdown is idempotent and leaves the client in the
// terminal Closed state.
func (c *Client) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.logger.Info("client shutting down")
		c.shuttingDown.Store(true)
		c.setState(StateShuttingDown)
		c.loopContinue.Store(false)
		close(c.shutdownCh)

		c.loopWG.Wait()

		if conn := c.currentConn(); conn != nil {
			conn.Close()
		}

		c.setState(StateClosed)
		c.logger.Info("client shutdown complete")
	})
}

// receiveLoop reads from the current socket until the continue flag is
// cleared or the connection dies. Deadline expiry is the liveness poll. The
// socket is re-fetched every iteration because reconnection replaces it
// wholesale. On a dead connection the loop itself fires the
// Disconnected → Connecting transition, unless shutdown has begun.
func (c *Client) receiveLoop() {
	defer c.loopWG.Done()

	c.logger.Info("listening to server", slog.String("addr", c.addr))

	buf := make([]byte, c.receiveBufferSize)
	for c.loopContinue.Load() {
		conn := c.currentConn()
		if conn == nil {
			break
		}

		if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			break
		}

		n, err := conn.Read(buf)
		if n > 0 {
			msg := string(buf[:n])
			c.logger.Debug("received message from server", slog.String("msg", msg))
			c.metrics.messageObserved()
			c.notifyObservers(msg)
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Warn("read failed", slog.String("err", err.Error()))
			}
			break
		}
	}

	c.logger.Info("disconnected from server", slog.String("addr", c.addr))

	if c.shuttingDown.Load() {
		return
	}

	// The loop fires the reconnect transition itself before its goroutine
	// terminates; Connect spawns the replacement loop.
	c.setState(StateDisconnected)
	c.metrics.reconnectStarted()
	if err := c.Connect(); err != nil {
		c.logger.Info("reconnect abandoned", slog.String("err", err.Error()))
	}
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Client) setConn(conn net.Conn) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.conn = conn
}

func (c *Client) currentConn() net.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	return c.conn
}
