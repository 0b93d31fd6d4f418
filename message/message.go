package message

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the concrete type of a pipeline message. Kinds form a
// bitmask so stages can subscribe to several kinds at once.
type Kind uint16

const (
	// KindIPFIX marks framed protocol-data messages
	KindIPFIX Kind = 1 << iota
	// KindSession marks Transport Session lifecycle events
	KindSession
	// KindGarbage marks deferred-destruction carriers
	KindGarbage

	// KindAll matches every message kind
	KindAll Kind = KindIPFIX | KindSession | KindGarbage
)

// String returns a human-readable name for a single kind
func (k Kind) String() string {
	switch k {
	case KindIPFIX:
		return "ipfix"
	case KindSession:
		return "session"
	case KindGarbage:
		return "garbage"
	default:
		return "unknown"
	}
}

// Has reports whether the mask includes the given kind
func (k Kind) Has(other Kind) bool {
	return k&other != 0
}

// Message represents the core message interface for the collector pipeline.
// Messages are immutable in identity; only the parser decorates DataMessages
// with decoded state before they are forwarded.
type Message interface {
	// ID returns a unique identifier for this message instance
	ID() string

	// Kind returns the message kind used for subscription and dispatch
	Kind() Kind

	// Source identifies the component that created this message
	Source() string

	// CreatedAt returns the message creation time
	CreatedAt() time.Time
}

// header provides the standard Message implementation embedded by all
// concrete message types.
type header struct {
	id        string
	kind      Kind
	source    string
	createdAt time.Time
}

func newHeader(kind Kind, source string) header {
	return header{
		id:        uuid.New().String(),
		kind:      kind,
		source:    source,
		createdAt: time.Now(),
	}
}

// ID returns the unique message instance identifier
func (h header) ID() string { return h.id }

// Kind returns the message kind
func (h header) Kind() Kind { return h.kind }

// Source returns the creating component identifier
func (h header) Source() string { return h.source }

// CreatedAt returns the message creation time
func (h header) CreatedAt() time.Time { return h.createdAt }
