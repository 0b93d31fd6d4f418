// Package session models Transport Sessions: the logical connection or
// endpoint pair over which flow-export messages arrive. Each session owns
// decoding state (template tables, sequence counters) held by the parser's
// registry; this package only carries identity, transport capabilities and
// the lifecycle state.
package session

import (
	"fmt"
	"net/netip"

	"github.com/zeebo/xxh3"
)

// Transport identifies the transport protocol a session runs over.
type Transport int

const (
	// TransportUDP is a connectionless transport; malformed messages are
	// tolerated per message and graceful close is impossible
	TransportUDP Transport = iota
	// TransportTCP is a connection-oriented stream transport
	TransportTCP
	// TransportSCTP is a connection-oriented message transport
	TransportSCTP
)

// String returns the lowercase protocol name
func (t Transport) String() string {
	switch t {
	case TransportUDP:
		return "udp"
	case TransportTCP:
		return "tcp"
	case TransportSCTP:
		return "sctp"
	default:
		return "unknown"
	}
}

// Connectionless reports whether the transport has no delivery guarantees.
// Connectionless transports cannot signal errors back to the sender, so a
// malformed message never escalates to session removal.
func (t Transport) Connectionless() bool {
	return t == TransportUDP
}

// State represents the lifecycle state of a Transport Session
type State int

const (
	// StateActive indicates the session is processing messages normally
	StateActive State = iota
	// StateBlocked indicates a fatal per-session error occurred and a close
	// request is outstanding; messages are discarded until the close arrives
	StateBlocked
	// StateRemoved indicates no registry entry remains for the session
	StateRemoved
)

// String returns a string representation of the session state
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateBlocked:
		return "blocked"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Session identifies a Transport Session. Sessions are immutable after
// creation; all mutable per-session decoding state lives in the parser's
// registry keyed by Key().
type Session struct {
	ident     string
	transport Transport
	exporter  netip.AddrPort
	collector netip.AddrPort
}

// New creates a Session for the given transport and endpoint pair.
// The ident is derived from the endpoints and is stable for the lifetime
// of the session.
func New(transport Transport, exporter, collector netip.AddrPort) *Session {
	return &Session{
		ident:     fmt.Sprintf("%s@%s->%s", transport, exporter, collector),
		transport: transport,
		exporter:  exporter,
		collector: collector,
	}
}

// Ident returns the stable human-readable session identifier
func (s *Session) Ident() string {
	return s.ident
}

// Transport returns the transport protocol of the session
func (s *Session) Transport() Transport {
	return s.transport
}

// Exporter returns the exporting process endpoint
func (s *Session) Exporter() netip.AddrPort {
	return s.exporter
}

// Collector returns the collecting process endpoint
func (s *Session) Collector() netip.AddrPort {
	return s.collector
}

// Key returns the registry map key for the session. The key is an xxh3 hash
// of the ident so registry lookups on the per-message path stay cheap.
func (s *Session) Key() uint64 {
	return xxh3.HashString(s.ident)
}

// String returns the same as Ident()
func (s *Session) String() string {
	return s.ident
}
