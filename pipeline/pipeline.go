// Package pipeline defines the contracts a stage needs from the host
// pipeline: order-preserving forwarding into the next stage, subscription by
// message kind, and a terminal that consumes garbage carriers.
//
// The host guarantees FIFO delivery per producer-consumer edge; every
// safety argument about deferred reclamation rests on that order, never on
// wall-clock time or reference counts. Each stage processes one message at a
// time; cross-stage parallelism is the host's business.
package pipeline

import (
	"sync"

	"github.com/dperdices/ipfixcol2/errors"
	"github.com/dperdices/ipfixcol2/message"
)

// Forwarder hands messages to the next pipeline stage. Forward preserves
// submission order end-to-end; a message is either eventually delivered or
// the whole stage fails.
type Forwarder interface {
	Forward(msg message.Message) error
}

// Bus is the stage-facing surface of the host pipeline: subscription at
// stage start plus ordered forwarding.
type Bus interface {
	Forwarder

	// Subscribe registers interest in the given message kinds. A rejected
	// subscription fails the whole stage start.
	Subscribe(kinds message.Kind) error
}

// Queue is a bounded in-process FIFO edge between two stages. It implements
// Bus for the producing stage; the consuming side drains it with Next or
// DrainTerminal.
//
// Subscribe only records the consuming stage's interest: the host pump reads
// it through Kinds to decide between dispatching a message to the stage and
// passing it through unchanged. Forward never filters; garbage carriers and
// unsubscribed kinds travel the edge in order like everything else.
//
// Close may race a blocked Forward: the host seals the inlet from a pump
// goroutine while an input source is still producing. Closure is therefore
// signalled through a separate done channel instead of closing the message
// channel, so a racing Forward fails instead of panicking.
type Queue struct {
	ch    chan message.Message
	done  chan struct{}
	kinds message.Kind

	mu     sync.Mutex
	closed bool
}

// NewQueue creates an edge holding at most capacity in-flight messages
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:    make(chan message.Message, capacity),
		done:  make(chan struct{}),
		kinds: message.KindAll,
	}
}

// Subscribe records the kinds the consuming stage wants dispatched
func (q *Queue) Subscribe(kinds message.Kind) error {
	if kinds == 0 {
		return errors.WrapInvalid(errors.ErrSubscriptionFailed,
			"Queue", "Subscribe", "empty kind mask")
	}
	q.kinds = kinds
	return nil
}

// Kinds returns the consuming stage's subscription mask
func (q *Queue) Kinds() message.Kind {
	return q.kinds
}

// Forward enqueues a message in submission order. Forwarding blocks when the
// consumer lags; back-pressure is the host's flow control, not an error. A
// Forward blocked on a full edge fails fatally when the edge closes under it.
func (q *Queue) Forward(msg message.Message) error {
	select {
	case <-q.done:
		return errors.WrapFatal(errors.ErrForwardFailed,
			"Queue", "Forward", "edge already closed")
	default:
	}
	select {
	case q.ch <- msg:
		return nil
	case <-q.done:
		return errors.WrapFatal(errors.ErrForwardFailed,
			"Queue", "Forward", "edge closed while forwarding")
	}
}

// Close marks the producing side done and unblocks any Forward waiting on a
// full edge. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

// Next returns the oldest undelivered message; ok is false once the edge is
// closed and drained.
func (q *Queue) Next() (message.Message, bool) {
	select {
	case msg := <-q.ch:
		return msg, true
	case <-q.done:
		// Drain what was buffered before closure.
		select {
		case msg := <-q.ch:
			return msg, true
		default:
			return nil, false
		}
	}
}

// DrainTerminal consumes the remainder of the edge as the pipeline's
// terminal stage: garbage carriers are destroyed - this is the single point
// where deferred destructors run - and every other message is handed to
// deliver (which may be nil). Returns the first destruction error, draining
// regardless.
func (q *Queue) DrainTerminal(deliver func(message.Message)) error {
	var firstErr error
	for {
		msg, ok := q.Next()
		if !ok {
			return firstErr
		}
		if g, ok := msg.(*message.GarbageMessage); ok {
			if err := g.Destroy(); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}
		if deliver != nil {
			deliver(msg)
		}
	}
}
