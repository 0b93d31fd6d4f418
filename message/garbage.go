package message

import (
	"github.com/dperdices/ipfixcol2/errors"
)

// Garbage is a retired shared object awaiting deferred destruction. The set
// of retirable kinds is small and closed: template tables, dictionary
// snapshots, replaced templates and the parser state itself implement it.
//
// Dispose releases whatever the object holds. It runs exactly once, at the
// pipeline's terminal stage, after ordered delivery guarantees that no
// earlier message referencing the object remains in flight.
type Garbage interface {
	Dispose()
}

// GarbageFunc adapts a plain function to the Garbage interface
type GarbageFunc func()

// Dispose invokes the function
func (f GarbageFunc) Dispose() { f() }

// GarbageMessage is a pipeline message whose sole purpose is to carry a
// retired object to the point where destroying it is safe. It carries no
// decoding semantics and performs no interpretation of its payload.
//
// Ownership of the payload transfers to the carrier on creation; no other
// component may destroy the payload directly afterwards. The emitter must
// forward the carrier after every message that may reference the payload:
// FIFO delivery then substitutes for reference counting.
type GarbageMessage struct {
	header

	payload   Garbage
	destroyed bool
}

// NewGarbage wraps a retired object into a carrier. A nil payload is a
// caller bug and is rejected so that an empty carrier can never reach the
// terminal stage.
//
// Callers that fail to obtain a carrier for an object they must retire are
// expected to leak the object rather than free it synchronously; an
// immediate free would race with messages already forwarded.
func NewGarbage(payload Garbage, source string) (*GarbageMessage, error) {
	if payload == nil {
		return nil, errors.WrapInvalid(errors.ErrAllocationFailed,
			"GarbageMessage", "NewGarbage", "nil payload")
	}
	return &GarbageMessage{
		header:  newHeader(KindGarbage, source),
		payload: payload,
	}, nil
}

// Destroy disposes the payload and consumes the carrier. It must be invoked
// exactly once, only by the stage owning the terminal point of the
// pipeline's ordering guarantee; a second call reports the violation instead
// of double-freeing.
func (m *GarbageMessage) Destroy() error {
	if m.destroyed {
		return errors.WrapFatal(errors.ErrObjectRetired,
			"GarbageMessage", "Destroy", "double destruction")
	}
	m.destroyed = true
	m.payload.Dispose()
	m.payload = nil
	return nil
}

// Destroyed reports whether the carrier has been consumed
func (m *GarbageMessage) Destroyed() bool {
	return m.destroyed
}
