package message

import (
	"github.com/dperdices/ipfixcol2/ipfix"
	"github.com/dperdices/ipfixcol2/session"
)

// Record is one data record of a decoded message. Data slices into the
// message's raw frame and Template points into the session's template table;
// both stay valid until the corresponding garbage carrier is destroyed at
// the end of the pipeline.
type Record struct {
	// Template is the layout the record was matched against
	Template *ipfix.Template
	// Data is the raw record content
	Data []byte
}

// DataMessage is a framed protocol-data message from a Transport Session.
// An input stage creates it around the raw frame; the parser decorates it
// with the parsed header and template-bound records before it is forwarded.
type DataMessage struct {
	header

	sess *session.Session
	raw  []byte

	hdr     ipfix.MessageHeader
	decoded bool
	records []Record
}

// NewDataMessage wraps a raw frame received over the given session
func NewDataMessage(sess *session.Session, raw []byte, source string) *DataMessage {
	return &DataMessage{
		header: newHeader(KindIPFIX, source),
		sess:   sess,
		raw:    raw,
	}
}

// Session returns the Transport Session the frame arrived on
func (m *DataMessage) Session() *session.Session {
	return m.sess
}

// Raw returns the raw frame bytes
func (m *DataMessage) Raw() []byte {
	return m.raw
}

// Header returns the parsed message header; zero until decoded
func (m *DataMessage) Header() ipfix.MessageHeader {
	return m.hdr
}

// Decoded reports whether the parser has processed the message
func (m *DataMessage) Decoded() bool {
	return m.decoded
}

// Records returns the template-bound data records; nil until decoded
func (m *DataMessage) Records() []Record {
	return m.records
}

// SetDecoded attaches the parsed header and records. Called by the parser
// exactly once per message, before the message is forwarded.
func (m *DataMessage) SetDecoded(hdr ipfix.MessageHeader, records []Record) {
	m.hdr = hdr
	m.records = records
	m.decoded = true
}
