package message

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dperdices/ipfixcol2/session"
)

func testSession(t *testing.T) *session.Session {
	t.Helper()
	return session.New(session.TransportUDP,
		netip.MustParseAddrPort("192.0.2.5:9000"),
		netip.MustParseAddrPort("192.0.2.1:4739"))
}

func TestKind_Mask(t *testing.T) {
	mask := KindIPFIX | KindSession

	assert.True(t, mask.Has(KindIPFIX))
	assert.True(t, mask.Has(KindSession))
	assert.False(t, mask.Has(KindGarbage))
	assert.True(t, KindAll.Has(KindGarbage))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "ipfix", KindIPFIX.String())
	assert.Equal(t, "session", KindSession.String())
	assert.Equal(t, "garbage", KindGarbage.String())
	assert.Equal(t, "unknown", Kind(1<<9).String())
}

func TestDataMessage(t *testing.T) {
	sess := testSession(t)
	raw := []byte{0x00, 0x0a, 0x00, 0x10}

	m := NewDataMessage(sess, raw, "udp-input")

	assert.Equal(t, KindIPFIX, m.Kind())
	assert.Equal(t, "udp-input", m.Source())
	assert.NotEmpty(t, m.ID())
	assert.False(t, m.CreatedAt().IsZero())
	assert.Same(t, sess, m.Session())
	assert.Equal(t, raw, m.Raw())
	assert.False(t, m.Decoded())
	assert.Nil(t, m.Records())
}

func TestSessionMessage(t *testing.T) {
	sess := testSession(t)

	m := NewSessionMessage(sess, SessionClose, "udp-input")

	assert.Equal(t, KindSession, m.Kind())
	assert.Equal(t, SessionClose, m.Event())
	assert.Same(t, sess, m.Session())
	assert.Equal(t, "close", m.Event().String())
}

func TestMessageIDsUnique(t *testing.T) {
	sess := testSession(t)

	a := NewDataMessage(sess, nil, "src")
	b := NewDataMessage(sess, nil, "src")

	assert.NotEqual(t, a.ID(), b.ID())
}
