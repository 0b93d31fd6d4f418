// Package engine hosts a collector pipeline in process.
//
// A Pipeline is an ordered chain of stages connected by bounded FIFO edges.
// Each stage runs on its own pump goroutine and processes one message at a
// time; messages the stage did not subscribe to pass through unchanged, in
// order. The pipeline's tail is the terminal: the single point where garbage
// carriers are destroyed, after FIFO delivery guarantees that nothing ahead
// of them still references the retired objects.
//
// Shutdown cascades: closing the inlet drains stage after stage, each stage
// is stopped once its inbound edge is exhausted (so a stage's final garbage
// still rides its outbound edge), and Wait returns once the terminal has
// consumed everything.
package engine
