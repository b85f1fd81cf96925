// Package sox implements a minimal bidirectional TCP messaging fabric: a
// broadcast-capable server that hands every inbound message to a pluggable
// Handler, and a client that keeps a persistent, auto-reconnecting connection
// and republishes inbound messages to registered Observers.
//
// The wire format is deliberately bare: arbitrary byte sequences interpreted
// as UTF-8 text, one message per read. There is no framing, no handshake and
// no delivery guarantee beyond what TCP itself provides, which makes the
// package suitable as the transport core of chat servers, test harnesses and
// other tooling that needs many concurrent text streams without protocol
// ceremony.
package sox
