package pipeline

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dperdices/ipfixcol2/errors"
	"github.com/dperdices/ipfixcol2/message"
	"github.com/dperdices/ipfixcol2/session"
)

func testSession() *session.Session {
	return session.New(session.TransportUDP,
		netip.MustParseAddrPort("192.0.2.2:9000"),
		netip.MustParseAddrPort("192.0.2.1:4739"))
}

func TestQueue_FIFOOrder(t *testing.T) {
	q := NewQueue(8)

	first := message.NewDataMessage(testSession(), nil, "src")
	second := message.NewSessionMessage(testSession(), message.SessionClose, "src")
	require.NoError(t, q.Forward(first))
	require.NoError(t, q.Forward(second))
	q.Close()

	got, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, first.ID(), got.ID())

	got, ok = q.Next()
	require.True(t, ok)
	assert.Equal(t, second.ID(), got.ID())

	_, ok = q.Next()
	assert.False(t, ok)
}

func TestQueue_SubscribeRecordsInterest(t *testing.T) {
	q := NewQueue(8)
	assert.Equal(t, message.KindAll, q.Kinds())

	require.NoError(t, q.Subscribe(message.KindSession))
	assert.Equal(t, message.KindSession, q.Kinds())

	// Subscription never filters the edge itself; unsubscribed kinds still
	// travel it in order.
	require.NoError(t, q.Forward(message.NewDataMessage(testSession(), nil, "src")))
	require.NoError(t, q.Forward(message.NewSessionMessage(testSession(), message.SessionOpen, "src")))
	q.Close()

	got, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, message.KindIPFIX, got.Kind())
	got, ok = q.Next()
	require.True(t, ok)
	assert.Equal(t, message.KindSession, got.Kind())
	_, ok = q.Next()
	assert.False(t, ok)
}

func TestQueue_EmptySubscriptionRejected(t *testing.T) {
	q := NewQueue(1)
	err := q.Subscribe(0)
	assert.ErrorIs(t, err, errors.ErrSubscriptionFailed)
}

func TestQueue_ForwardAfterCloseFatal(t *testing.T) {
	q := NewQueue(1)
	q.Close()

	err := q.Forward(message.NewDataMessage(testSession(), nil, "src"))
	assert.ErrorIs(t, err, errors.ErrForwardFailed)
	assert.True(t, errors.IsFatal(err))
}

func TestQueue_CloseUnblocksForward(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Forward(message.NewDataMessage(testSession(), nil, "src")))

	// Second Forward blocks on the full edge; Close from another goroutine
	// must fail it, never panic it.
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Forward(message.NewDataMessage(testSession(), nil, "src"))
	}()

	select {
	case err := <-errCh:
		t.Fatalf("Forward returned before Close: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	q.Close()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, errors.ErrForwardFailed)
		assert.True(t, errors.IsFatal(err))
	case <-time.After(3 * time.Second):
		t.Fatal("Forward still blocked after Close")
	}

	// The buffered message survives the race and drains normally.
	_, ok := q.Next()
	assert.True(t, ok)
	_, ok = q.Next()
	assert.False(t, ok)
}

func TestQueue_CloseIdempotent(t *testing.T) {
	q := NewQueue(1)
	q.Close()
	q.Close()
}

func TestQueue_DrainTerminalDestroysGarbage(t *testing.T) {
	q := NewQueue(8)

	disposed := 0
	carrier, err := message.NewGarbage(message.GarbageFunc(func() { disposed++ }), "parser")
	require.NoError(t, err)

	dm := message.NewDataMessage(testSession(), nil, "src")
	require.NoError(t, q.Forward(dm))
	require.NoError(t, q.Forward(carrier))
	q.Close()

	var delivered []message.Message
	require.NoError(t, q.DrainTerminal(func(m message.Message) {
		delivered = append(delivered, m)
	}))

	assert.Equal(t, 1, disposed, "the terminal stage runs each destructor exactly once")
	require.Len(t, delivered, 1)
	assert.Equal(t, dm.ID(), delivered[0].ID())
	assert.True(t, carrier.Destroyed())
}
