package sox

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// Server accepts TCP connections and runs one Session per connection. Every
// inbound message is handed to the configured Handler, which may reply to
// the sender or broadcast to every live session through the server's
// connection registry.
//
// A Server must be created using NewServer. Serve blocks running the accept
// loop until Shutdown is called; each accepted connection gets a dedicated
// goroutine, with no cap on the connection count.
type Server struct {
	addr         string
	pollInterval time.Duration

	handler        Handler
	handlerFactory func() Handler

	logger  *slog.Logger
	metrics *ServerMetrics
	tap     Tap

	registry *registry

	listenerMu sync.Mutex
	listener   net.Listener

	active       atomic.Bool
	sessionSeq   atomic.Int64
	shutdownOnce sync.Once

	sessionsWaitGroup sync.WaitGroup
}

// NewServer creates a new fabric server with the specified configuration.
// Without options it binds to all interfaces on port 4000, polls its
// shutdown flag every 500ms and replies to each message with the unicast
// ReplyHandler.
func NewServer(options ...ServerOption) *Server {
	s := &Server{
		addr:         defaultServerAddress,
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}

	if s.handler == nil && s.handlerFactory == nil {
		s.handler = ReplyHandler{}
	}

	s.registry = newRegistry(s.logger)
	s.active.Store(true)

	return s
}

// WithAddress sets the listen address for the server, in net.Listen form
// (e.g. ":4000" or "127.0.0.1:0").
func WithAddress(addr string) ServerOption {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithPollInterval sets the per-session read timeout. The same duration is
// the cadence at which sessions and the accept loop observe a shutdown
// request, so it bounds shutdown latency from above and trades it against
// wake-up overhead.
func WithPollInterval(interval time.Duration) ServerOption {
	return func(s *Server) {
		s.pollInterval = interval
	}
}

// WithHandler sets a single Handler instance shared by every session. The
// handler must not hold session-specific state.
func WithHandler(h Handler) ServerOption {
	return func(s *Server) {
		s.handler = h
	}
}

// WithHandlerFactory sets a factory invoked once per accepted connection, so
// each session owns a private Handler instance. Takes precedence over
// WithHandler when both are set.
func WithHandlerFactory(factory func() Handler) ServerOption {
	return func(s *Server) {
		s.handlerFactory = factory
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "sox"),
			slog.String("component", "server"),
		)
	}
}

// WithServerMetrics sets the Prometheus metrics collection for the server.
func WithServerMetrics(m *ServerMetrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithTap sets the Tap receiving fabric events (connects, disconnects,
// received messages, broadcasts, send failures).
func WithTap(t Tap) ServerOption {
	return func(s *Server) {
		s.tap = t
	}
}

// Serve binds the listen address and runs the accept loop, spawning one
// session goroutine per accepted connection. It blocks until Shutdown is
// called, and returns an error only if the initial bind fails.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.listenerMu.Lock()
	if !s.active.Load() {
		// Shutdown won the race before the accept loop started.
		s.listenerMu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	s.listenerMu.Unlock()

	s.logger.Info("server listening", slog.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.active.Load() {
				// The listener was closed by Shutdown, unblocking this accept.
				return nil
			}
			s.logger.Error("failed to accept connection", slog.String("err", err.Error()))
			continue
		}

		sess := s.newSession(conn)
		s.sessionsWaitGroup.Add(1)
		go sess.run()
	}
}

// Addr returns the address the server is listening on, or nil before Serve
// has bound the socket. Useful when the configured address picks a random
// port.
func (s *Server) Addr() net.Addr {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Broadcast delivers payload to every live session, best effort: a send
// failure on one session is logged and does not abort delivery to the rest.
// Delivery order is the registry's insertion order at the moment of the
// call.
func (s *Server) Broadcast(payload string) {
	s.metrics.broadcastSent()
	s.tapEvent(TapEvent{Kind: TapBroadcast, Payload: payload})

	s.registry.broadcast(payload, func(m member, err error) {
		s.metrics.sendFailed()
		s.tapEvent(TapEvent{Kind: TapSendFailure, Session: m.ID(), Payload: err.Error()})
	})
}

// NumSessions returns the number of currently registered sessions.
func (s *Server) NumSessions() int {
	return s.registry.len()
}

// Shutdown gracefully shuts down the server: it flips the active flag
// observed by every session within one poll interval, closes the listening
// socket to unblock the accept loop, then waits for all session goroutines
// to drain. The context bounds the wait. Shutdown is idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("server shutting down")
		s.active.Store(false)

		s.listenerMu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.listenerMu.Unlock()
	})

	drained := make(chan struct{})
	go func() {
		s.sessionsWaitGroup.Wait()
		close(drained)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to drain sessions: %w", ctx.Err())
	case <-drained:
	}

	s.logger.Info("server shutdown complete")
	return nil
}

func (s *Server) tapEvent(ev TapEvent) {
	if s.tap == nil {
		return
	}
	s.tap.Tap(ev)
}
