// Package udp provides the UDP input stage: it listens for exported flow
// frames and feeds the pipeline inlet.
//
// Each remote endpoint gets its own Transport Session. The first datagram
// from an endpoint opens the session (a SessionOpen event precedes its first
// data message); endpoints idle past the configured timeout are closed with
// a SessionClose event, and stopping the input closes every remaining
// session. UDP cannot honor graceful close requests, so this input exposes
// no feedback channel; downstream stages fall back to hard session removal.
package udp
