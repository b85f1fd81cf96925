package sox

import "time"

// Handler is the server-side dispatch strategy: it is invoked once per
// inbound message, on the goroutine of the session that received it. The
// session argument is the capability surface back into the fabric; a handler
// may reply to the sender with sess.Send or fan out with sess.Broadcast.
//
// A handler instance may be shared by every session (see WithHandler) or
// created per session (see WithHandlerFactory). Shared handlers must not keep
// per-session state.
type Handler interface {
	Handle(msg string, sess *Session)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(msg string, sess *Session)

// Handle calls f(msg, sess).
func (f HandlerFunc) Handle(msg string, sess *Session) { f(msg, sess) }

// Observer is the client-side notification sink. Notify is called
// synchronously on the receive-loop goroutine, in registration order, once
// per inbound message. Observers must not block for long: a slow observer
// stalls further message reception.
type Observer interface {
	Notify(c *Client, msg string)
}

// TapKind classifies the fabric events a Tap receives.
type TapKind string

// Tap event kinds reported by the server.
const (
	TapConnect     TapKind = "connect"
	TapDisconnect  TapKind = "disconnect"
	TapReceive     TapKind = "receive"
	TapBroadcast   TapKind = "broadcast"
	TapSendFailure TapKind = "send_failure"
)

// TapEvent describes one observable event inside the server fabric. Payload
// is the opaque message text where the kind carries one, otherwise empty.
type TapEvent struct {
	Kind    TapKind `json:"kind"`
	Session string  `json:"session,omitempty"`
	Peer    string  `json:"peer,omitempty"`
	Payload string  `json:"payload,omitempty"`
}

// Tap receives server fabric events. Implementations are called inline from
// session and broadcast paths and must return quickly. The Monitor type is
// the canonical implementation.
type Tap interface {
	Tap(ev TapEvent)
}

var (
	defaultServerAddress = ":4000"
	defaultPollInterval  = 500 * time.Millisecond

	defaultClientAddress     = "127.0.0.1:4000"
	defaultClientReadTimeout = 500 * time.Millisecond
	defaultReceiveBufferSize = 2048
	defaultReconnectDelay    = 5 * time.Second

	serverReadBufferSize = 1024
)
