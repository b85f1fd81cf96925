package sox

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
)

// Session owns one accepted connection on the server side and runs its
// receive loop until the peer closes, the socket fails or the server shuts
// down. It is the capability surface handed to a Handler: Send replies to
// this session's peer, Broadcast fans out through the owning server's
// registry.
type Session struct {
	id   string
	name string
	conn net.Conn

	srv     *Server
	handler Handler
	logger  *slog.Logger
}

func (s *Server) newSession(conn net.Conn) *Session {
	handler := s.handler
	if s.handlerFactory != nil {
		handler = s.handlerFactory()
	}

	name := fmt.Sprintf("session-%d", s.sessionSeq.Add(1))
	return &Session{
		id:      uuid.New().String(),
		name:    name,
		conn:    conn,
		srv:     s,
		handler: handler,
		logger:  s.logger.With(slog.String("session", name)),
	}
}

// ID returns the unique identifier of this session.
func (s *Session) ID() string { return s.id }

// Name returns the human-readable session name, e.g. "session-3". The name
// is what EchoHandler embeds in its greeting.
func (s *Session) Name() string { return s.name }

// RemoteAddr returns the peer address of the underlying connection.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Send encodes payload as UTF-8 bytes and writes it fully to the session's
// connection. A write failure propagates to the caller; during a broadcast
// the registry catches it, a direct caller must handle it.
func (s *Session) Send(payload string) error {
	if _, err := s.conn.Write([]byte(payload)); err != nil {
		return fmt.Errorf("failed to send to %s: %w", s.name, err)
	}
	return nil
}

// Broadcast delivers payload to every live session of the owning server,
// including this one.
func (s *Session) Broadcast(payload string) {
	s.srv.Broadcast(payload)
}

// run is the per-connection receive loop. Reads are bounded by the server's
// poll interval; a deadline expiry is not an error but the point at which
// the loop re-checks the server's active flag, so every session observes a
// shutdown within one poll interval. Cleanup is unconditional: registry
// removal and the disconnect log run even if the handler panics.
func (s *Session) run() {
	defer s.srv.sessionsWaitGroup.Done()

	peer := s.conn.RemoteAddr().String()

	s.srv.registry.add(s)
	s.logger.Info("client connected", slog.String("peer", peer))
	s.srv.metrics.sessionOpened()
	s.srv.tapEvent(TapEvent{Kind: TapConnect, Session: s.id, Peer: peer})

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", slog.Any("panic", r))
		}

		s.srv.registry.remove(s)
		s.conn.Close()
		s.logger.Info("client disconnected", slog.String("peer", peer))
		s.srv.metrics.sessionClosed()
		s.srv.tapEvent(TapEvent{Kind: TapDisconnect, Session: s.id, Peer: peer})
	}()

	buf := make([]byte, serverReadBufferSize)
	for s.srv.active.Load() {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.srv.pollInterval)); err != nil {
			return
		}

		n, err := s.conn.Read(buf)
		if n > 0 {
			// No framing: one read is one message, whatever the transport
			// delivered.
			msg := string(buf[:n])
			s.logger.Debug("received message", slog.String("msg", msg))
			s.srv.metrics.messageReceived()
			s.srv.tapEvent(TapEvent{Kind: TapReceive, Session: s.id, Payload: msg})

			s.handler.Handle(msg, s)
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("read failed", slog.String("err", err.Error()))
			}
			return
		}
	}
}
