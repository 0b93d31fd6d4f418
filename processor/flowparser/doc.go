// Package flowparser implements the parser stage of the collector pipeline:
// the orchestrator that drives the stateful protocol parser through message
// processing, transport-session lifecycle transitions, and the epoch-style
// dictionary-update protocol.
//
// The stage subscribes to protocol-data and session-event messages. Decoded
// messages are forwarded in order, immediately followed by a garbage carrier
// whenever decoding retired shared state: the carrier must never precede the
// message whose validity depends on the templates it retires.
//
// Failure policy follows the transport: a malformed message over a
// connectionless transport costs only that message, while any other decode
// failure removes or blocks the offending session. The only stage-fatal
// conditions are internal invariant violations - a failing write to an
// available feedback channel, or a failing forced-removal sweep during a
// dictionary commit.
package flowparser
