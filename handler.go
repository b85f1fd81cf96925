package sox

import (
	"fmt"
	"strings"
)

// EchoHandler greets every inbound message: it composes
// "<session name>: Hello <trimmed message>!" and broadcasts the greeting to
// all live sessions, the sender included.
type EchoHandler struct{}

// Handle implements the Handler interface.
func (EchoHandler) Handle(msg string, sess *Session) {
	greeting := fmt.Sprintf("%s: Hello %s!", sess.Name(), strings.TrimSpace(msg))
	sess.Broadcast(greeting)
}

// BroadcastHandler re-broadcasts every inbound message verbatim to all live
// sessions. The sender receives its own message back; that is the point, not
// an oversight.
type BroadcastHandler struct{}

// Handle implements the Handler interface.
func (BroadcastHandler) Handle(msg string, sess *Session) {
	sess.Broadcast(msg)
}

// ReplyHandler sends every inbound message back to the originating session
// only. It is the default handler of a server configured without one.
type ReplyHandler struct{}

// Handle implements the Handler interface. A reply failure is the session's
// problem to log; the handler itself has nowhere to propagate it.
func (ReplyHandler) Handle(msg string, sess *Session) {
	if err := sess.Send(msg); err != nil {
		sess.logger.Warn("reply failed", "err", err.Error())
	}
}
