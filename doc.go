// Package ipfixcol2 is the core of an IPFIX (RFC 7011) collector pipeline.
//
// # Architecture
//
// Flow records arrive as framed protocol messages over Transport Sessions
// (UDP, TCP or SCTP endpoint pairs). The collector is a chain of stages
// connected by order-preserving edges:
//
//	┌─────────────┐    ┌──────────────┐    ┌──────────────┐
//	│   Input     │ →  │  Flow Parser │ →  │   Outputs /  │
//	│  (framing)  │    │  (decoding)  │    │   Terminal   │
//	└─────────────┘    └──────────────┘    └──────────────┘
//
// Each stage processes one message at a time; the engine package hosts the
// chain in process and the pipeline package defines the edge contracts.
//
// # Deferred reclamation
//
// Decoded messages reference shared state owned by the parser stage:
// templates, template tables and the information-element dictionary. When
// that state is replaced or torn down, it cannot be freed immediately since
// messages already forwarded may still point into it. Instead the retired
// object rides the pipeline inside a garbage carrier (message.GarbageMessage)
// emitted after every message that may reference it. FIFO delivery then
// guarantees the carrier reaches the terminal stage last, where its
// destructor runs exactly once. No reference counting, no wall-clock grace
// periods.
//
// # Session lifecycle
//
// The parser keeps per-session, per-observation-domain template state in a
// registry (parser package). Sessions degrade by transport capability: a
// fatal per-session error over a transport whose input can close sessions
// gracefully blocks the session and publishes a close request on the
// feedback channel (feedback package, NATS); without that capability the
// session's state is removed on the spot. Malformed messages over
// connectionless transports only cost the single message.
//
// # Runtime reconfiguration
//
// The flow parser stage (processor/flowparser) takes part in a three-phase
// configuration update protocol. Committing a dictionary swap atomically
// rebinds every session's templates and retires the old dictionary through
// a garbage carrier; a failed swap force-removes every session so none is
// left half-migrated.
package ipfixcol2
