package parser

import (
	"encoding/binary"
	"net/netip"
	"testing"

	goipfix "github.com/CN-TU/go-ipfix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dperdices/ipfixcol2/errors"
	"github.com/dperdices/ipfixcol2/ipfix"
	"github.com/dperdices/ipfixcol2/message"
	"github.com/dperdices/ipfixcol2/session"
)

func testDictionary() *ipfix.Dictionary {
	return ipfix.NewDictionary(1, []goipfix.InformationElement{
		{Name: "octetDeltaCount", Pen: 0, ID: 1, Type: goipfix.Unsigned64Type},
		{Name: "sourceIPv4Address", Pen: 0, ID: 8, Type: goipfix.Ipv4AddressType},
	})
}

func newTestParser() *Parser {
	return New(Config{Dictionary: testDictionary()})
}

func udpSession() *session.Session {
	return session.New(session.TransportUDP,
		netip.MustParseAddrPort("192.0.2.10:9000"),
		netip.MustParseAddrPort("192.0.2.1:4739"))
}

func tcpSession() *session.Session {
	return session.New(session.TransportTCP,
		netip.MustParseAddrPort("192.0.2.20:9000"),
		netip.MustParseAddrPort("192.0.2.1:4739"))
}

// templateRecord builds a template record defining fields as (id, length)
// pairs without enterprise numbers.
func templateRecord(id uint16, fields ...uint16) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], id)
	binary.BigEndian.PutUint16(b[2:4], uint16(len(fields)/2))
	for i := 0; i < len(fields); i += 2 {
		spec := make([]byte, 4)
		binary.BigEndian.PutUint16(spec[0:2], fields[i])
		binary.BigEndian.PutUint16(spec[2:4], fields[i+1])
		b = append(b, spec...)
	}
	return b
}

func withdrawalRecord(id uint16) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], id)
	return b
}

// optionsTemplateRecord builds an options template record with the given
// scope count and (id, length) field pairs.
func optionsTemplateRecord(id, scopeCount uint16, fields ...uint16) []byte {
	b := make([]byte, 6)
	binary.BigEndian.PutUint16(b[0:2], id)
	binary.BigEndian.PutUint16(b[2:4], uint16(len(fields)/2))
	binary.BigEndian.PutUint16(b[4:6], scopeCount)
	for i := 0; i < len(fields); i += 2 {
		spec := make([]byte, 4)
		binary.BigEndian.PutUint16(spec[0:2], fields[i])
		binary.BigEndian.PutUint16(spec[2:4], fields[i+1])
		b = append(b, spec...)
	}
	return b
}

func set(setID uint16, content ...[]byte) []byte {
	var payload []byte
	for _, c := range content {
		payload = append(payload, c...)
	}
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], setID)
	binary.BigEndian.PutUint16(b[2:4], uint16(4+len(payload)))
	return append(b, payload...)
}

func frame(seq, odid uint32, sets ...[]byte) []byte {
	length := ipfix.HeaderLength
	for _, s := range sets {
		length += len(s)
	}
	b := make([]byte, ipfix.HeaderLength)
	binary.BigEndian.PutUint16(b[0:2], ipfix.Version)
	binary.BigEndian.PutUint16(b[2:4], uint16(length))
	binary.BigEndian.PutUint32(b[4:8], 1724630400)
	binary.BigEndian.PutUint32(b[8:12], seq)
	binary.BigEndian.PutUint32(b[12:16], odid)
	for _, s := range sets {
		b = append(b, s...)
	}
	return b
}

func process(t *testing.T, p *Parser, sess *session.Session, raw []byte) (*message.DataMessage, *message.GarbageMessage) {
	t.Helper()
	dm := message.NewDataMessage(sess, raw, "test-input")
	carrier, err := p.Process(dm)
	require.NoError(t, err)
	return dm, carrier
}

func TestProcess_TemplateThenData(t *testing.T) {
	p := newTestParser()
	sess := udpSession()

	// Template 256: octetDeltaCount(8) + sourceIPv4Address(4).
	dm, carrier := process(t, p, sess, frame(0, 7,
		set(ipfix.SetIDTemplate, templateRecord(256, 1, 8, 8, 4))))
	assert.Nil(t, carrier)
	assert.True(t, dm.Decoded())
	assert.Empty(t, dm.Records())
	assert.Equal(t, session.StateActive, p.SessionState(sess))
	assert.Equal(t, 1, p.SessionCount())

	// Two 12-byte data records.
	data := make([]byte, 24)
	dm, carrier = process(t, p, sess, frame(0, 7, set(256, data)))
	assert.Nil(t, carrier)
	require.Len(t, dm.Records(), 2)
	assert.Equal(t, uint16(256), dm.Records()[0].Template.ID())
	assert.Len(t, dm.Records()[0].Data, 12)
	assert.Equal(t, uint32(7), dm.Header().DomainID)
}

func TestProcess_DataWithoutTemplateSkipped(t *testing.T) {
	p := newTestParser()

	dm, carrier := process(t, p, udpSession(), frame(0, 7, set(300, make([]byte, 8))))
	assert.Nil(t, carrier)
	assert.True(t, dm.Decoded())
	assert.Empty(t, dm.Records())
}

func TestProcess_UDPTemplateRefresh(t *testing.T) {
	p := newTestParser()
	sess := udpSession()

	tmplSet := set(ipfix.SetIDTemplate, templateRecord(256, 1, 8))
	process(t, p, sess, frame(0, 7, tmplSet))

	// Identical refresh keeps the original definition and retires nothing.
	_, carrier := process(t, p, sess, frame(0, 7, tmplSet))
	assert.Nil(t, carrier)

	// A changed definition replaces the template; the old one must come back
	// in a garbage carrier.
	_, carrier = process(t, p, sess, frame(0, 7,
		set(ipfix.SetIDTemplate, templateRecord(256, 8, 4))))
	require.NotNil(t, carrier)
	assert.Equal(t, message.KindGarbage, carrier.Kind())
	require.NoError(t, carrier.Destroy())
}

func TestProcess_TCPTemplateRedefinitionFails(t *testing.T) {
	p := newTestParser()
	sess := tcpSession()

	process(t, p, sess, frame(0, 7, set(ipfix.SetIDTemplate, templateRecord(256, 1, 8))))

	dm := message.NewDataMessage(sess, frame(1, 7,
		set(ipfix.SetIDTemplate, templateRecord(256, 8, 4))), "test-input")
	_, err := p.Process(dm)
	assert.ErrorIs(t, err, errors.ErrTemplateRedefined)
}

func TestProcess_TCPWithdrawalRetiresTemplate(t *testing.T) {
	p := newTestParser()
	sess := tcpSession()

	process(t, p, sess, frame(0, 7, set(ipfix.SetIDTemplate, templateRecord(256, 1, 8))))

	_, carrier := process(t, p, sess, frame(0, 7,
		set(ipfix.SetIDTemplate, withdrawalRecord(256))))
	require.NotNil(t, carrier)
	require.NoError(t, carrier.Destroy())

	// The withdrawn template is gone: its data sets no longer match.
	dm, _ := process(t, p, sess, frame(0, 7, set(256, make([]byte, 8))))
	assert.Empty(t, dm.Records())
}

func TestProcess_TCPOptionsWithdrawal(t *testing.T) {
	p := newTestParser()
	sess := tcpSession()

	process(t, p, sess, frame(0, 7,
		set(ipfix.SetIDOptionsTemplate, optionsTemplateRecord(400, 1, 1, 8))))

	// A solo 4-byte withdrawal record; no scope count field follows the
	// zero field count.
	_, carrier := process(t, p, sess, frame(0, 7,
		set(ipfix.SetIDOptionsTemplate, withdrawalRecord(400))))
	require.NotNil(t, carrier)
	require.NoError(t, carrier.Destroy())

	dm, _ := process(t, p, sess, frame(0, 7, set(400, make([]byte, 8))))
	assert.Empty(t, dm.Records())
}

func TestProcess_TCPAllTemplatesWithdrawal(t *testing.T) {
	p := newTestParser()
	sess := tcpSession()

	process(t, p, sess, frame(0, 7,
		set(ipfix.SetIDTemplate,
			templateRecord(256, 1, 8),
			templateRecord(257, 8, 4)),
		set(ipfix.SetIDOptionsTemplate, optionsTemplateRecord(400, 1, 1, 8))))

	// Withdrawal record with ID 2 in a template set withdraws every regular
	// template of the stream; options templates are untouched.
	_, carrier := process(t, p, sess, frame(0, 7,
		set(ipfix.SetIDTemplate, withdrawalRecord(ipfix.SetIDTemplate))))
	require.NotNil(t, carrier)
	require.NoError(t, carrier.Destroy())

	dm, _ := process(t, p, sess, frame(0, 7,
		set(256, make([]byte, 8)),
		set(257, make([]byte, 4)),
		set(400, make([]byte, 8))))
	require.Len(t, dm.Records(), 1)
	assert.Equal(t, uint16(400), dm.Records()[0].Template.ID())
}

func TestProcess_UDPWithdrawalMalformed(t *testing.T) {
	p := newTestParser()

	dm := message.NewDataMessage(udpSession(), frame(0, 7,
		set(ipfix.SetIDTemplate, withdrawalRecord(256))), "test-input")
	_, err := p.Process(dm)
	assert.ErrorIs(t, err, errors.ErrMalformedMessage)
}

func TestProcess_BlockedSessionDenied(t *testing.T) {
	p := newTestParser()
	sess := udpSession()

	process(t, p, sess, frame(0, 7))
	p.BlockSession(sess)
	assert.Equal(t, session.StateBlocked, p.SessionState(sess))

	dm := message.NewDataMessage(sess, frame(1, 7), "test-input")
	_, err := p.Process(dm)
	assert.ErrorIs(t, err, errors.ErrSessionBlocked)
	assert.False(t, dm.Decoded())
}

func TestProcess_MalformedHeader(t *testing.T) {
	p := newTestParser()

	dm := message.NewDataMessage(udpSession(), []byte{0x00, 0x0a, 0x00}, "test-input")
	_, err := p.Process(dm)
	assert.ErrorIs(t, err, errors.ErrMalformedMessage)

	nf9 := frame(0, 7)
	binary.BigEndian.PutUint16(nf9[0:2], 9)
	dm = message.NewDataMessage(udpSession(), nf9, "test-input")
	_, err = p.Process(dm)
	assert.ErrorIs(t, err, errors.ErrUnsupportedVersion)
}

func TestProcess_ReservedSetID(t *testing.T) {
	p := newTestParser()

	dm := message.NewDataMessage(udpSession(), frame(0, 7, set(4, make([]byte, 4))), "test-input")
	_, err := p.Process(dm)
	assert.ErrorIs(t, err, errors.ErrMalformedMessage)
}

func TestRemoveSession(t *testing.T) {
	p := newTestParser()
	sess := udpSession()

	process(t, p, sess, frame(0, 7, set(ipfix.SetIDTemplate, templateRecord(256, 1, 8))))
	require.Equal(t, 1, p.SessionCount())

	carrier, err := p.RemoveSession(sess)
	require.NoError(t, err)
	require.NotNil(t, carrier, "a session with template state must produce a carrier")
	assert.Equal(t, 0, p.SessionCount())
	assert.Equal(t, session.StateRemoved, p.SessionState(sess))

	require.NoError(t, carrier.Destroy())
}

func TestRemoveSession_NoState(t *testing.T) {
	p := newTestParser()
	sess := udpSession()

	// Register the session without any template tables.
	p.BlockSession(sess)
	require.Equal(t, 1, p.SessionCount())

	carrier, err := p.RemoveSession(sess)
	require.NoError(t, err)
	assert.Nil(t, carrier, "nothing to retire, nothing to carry")
	assert.Equal(t, 0, p.SessionCount())
}

func TestRemoveSession_NotFound(t *testing.T) {
	p := newTestParser()

	_, err := p.RemoveSession(udpSession())
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)
}

func TestForEachSession_RemovalDuringSweep(t *testing.T) {
	p := newTestParser()
	a, b := udpSession(), tcpSession()
	process(t, p, a, frame(0, 1))
	process(t, p, b, frame(0, 2))

	visited := 0
	p.ForEachSession(func(s *session.Session) {
		visited++
		_, err := p.RemoveSession(s)
		require.NoError(t, err)
	})

	assert.Equal(t, 2, visited)
	assert.Equal(t, 0, p.SessionCount())
}

func TestUpdateDictionary(t *testing.T) {
	p := newTestParser()
	sess := udpSession()
	process(t, p, sess, frame(0, 7, set(ipfix.SetIDTemplate, templateRecord(256, 1, 8))))

	old := p.Dictionary()
	next := ipfix.NewDictionary(2, []goipfix.InformationElement{
		{Name: "sourceIPv4Address", Pen: 0, ID: 8, Type: goipfix.Ipv4AddressType},
	})

	carrier, err := p.UpdateDictionary(next)
	require.NoError(t, err)
	require.NotNil(t, carrier)
	assert.Same(t, next, p.Dictionary())
	assert.False(t, old.Retired(), "old dictionary lives until the carrier reaches the terminal stage")

	require.NoError(t, carrier.Destroy())
	assert.True(t, old.Retired())
}

func TestUpdateDictionary_SameReferenceNoCarrier(t *testing.T) {
	p := newTestParser()

	carrier, err := p.UpdateDictionary(p.Dictionary())
	require.NoError(t, err)
	assert.Nil(t, carrier, "re-committing the current dictionary must not emit a carrier")
}

func TestUpdateDictionary_NilFails(t *testing.T) {
	p := newTestParser()
	before := p.Dictionary()

	_, err := p.UpdateDictionary(nil)
	assert.ErrorIs(t, err, errors.ErrDictionaryMissing)
	assert.Same(t, before, p.Dictionary(), "a failed update must not touch the shared reference")
}

func TestParser_Dispose(t *testing.T) {
	p := newTestParser()
	process(t, p, udpSession(), frame(0, 7, set(ipfix.SetIDTemplate, templateRecord(256, 1, 8))))

	p.Dispose()
	assert.Equal(t, 0, p.SessionCount())
	assert.Nil(t, p.Dictionary())
}

func TestProcess_SequenceTracking(t *testing.T) {
	p := newTestParser()
	sess := tcpSession()

	process(t, p, sess, frame(10, 7, set(ipfix.SetIDTemplate, templateRecord(256, 1, 8))))

	// 8-byte records; two of them advance the expected sequence by 2.
	dm, _ := process(t, p, sess, frame(10, 7, set(256, make([]byte, 16))))
	require.Len(t, dm.Records(), 2)

	// Gap or not, processing continues; gaps are only reported.
	dm, _ = process(t, p, sess, frame(20, 7, set(256, make([]byte, 8))))
	require.Len(t, dm.Records(), 1)
}
