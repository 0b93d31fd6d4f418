package ipfix

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dperdices/ipfixcol2/errors"
)

// Version is the protocol version number of IPFIX (RFC 7011)
const Version = 10

// HeaderLength is the fixed length of an IPFIX message header in bytes
const HeaderLength = 16

// SetHeaderLength is the fixed length of a set header in bytes
const SetHeaderLength = 4

// Reserved set identifiers (RFC 7011, section 3.3.2)
const (
	// SetIDTemplate identifies a template set
	SetIDTemplate = 2
	// SetIDOptionsTemplate identifies an options template set
	SetIDOptionsTemplate = 3
	// SetIDDataMin is the lowest set ID available for data sets; it is also
	// the lowest valid template ID
	SetIDDataMin = 256
)

// VariableLength marks a field whose length is encoded per record
const VariableLength = 0xffff

// MessageHeader is the parsed fixed header of an IPFIX message
type MessageHeader struct {
	// Version is the protocol version from the wire, always Version when parsing succeeded
	Version uint16
	// Length is the total message length in bytes including this header
	Length uint16
	// ExportTime is the export timestamp with second precision
	ExportTime time.Time
	// Sequence is the count of data records sent prior to this message
	// within the same stream
	Sequence uint32
	// DomainID is the Observation Domain ID of the exporting process
	DomainID uint32
}

// ParseMessageHeader parses the fixed message header from b.
// Returns errors.ErrMalformedMessage when b is shorter than the header or
// the declared length is inconsistent, and errors.ErrUnsupportedVersion for
// non-IPFIX version numbers.
func ParseMessageHeader(b []byte) (MessageHeader, error) {
	if len(b) < HeaderLength {
		return MessageHeader{}, fmt.Errorf("%w: message shorter than header (%d bytes)",
			errors.ErrMalformedMessage, len(b))
	}

	hdr := MessageHeader{
		Version:    binary.BigEndian.Uint16(b[0:2]),
		Length:     binary.BigEndian.Uint16(b[2:4]),
		ExportTime: time.Unix(int64(binary.BigEndian.Uint32(b[4:8])), 0).UTC(),
		Sequence:   binary.BigEndian.Uint32(b[8:12]),
		DomainID:   binary.BigEndian.Uint32(b[12:16]),
	}

	if hdr.Version != Version {
		return MessageHeader{}, fmt.Errorf("%w: version %d",
			errors.ErrUnsupportedVersion, hdr.Version)
	}
	if int(hdr.Length) < HeaderLength {
		return MessageHeader{}, fmt.Errorf("%w: declared length %d below header size",
			errors.ErrMalformedMessage, hdr.Length)
	}
	if int(hdr.Length) > len(b) {
		return MessageHeader{}, fmt.Errorf("%w: declared length %d exceeds frame (%d bytes)",
			errors.ErrMalformedMessage, hdr.Length, len(b))
	}

	return hdr, nil
}

// SetHeader is the parsed header of a single set within a message
type SetHeader struct {
	// ID is the set ID: SetIDTemplate, SetIDOptionsTemplate, or a template
	// ID >= SetIDDataMin for data sets
	ID uint16
	// Length is the set length in bytes including this header
	Length uint16
}

// ParseSetHeader parses a set header from b
func ParseSetHeader(b []byte) (SetHeader, error) {
	if len(b) < SetHeaderLength {
		return SetHeader{}, fmt.Errorf("%w: truncated set header",
			errors.ErrMalformedMessage)
	}

	sh := SetHeader{
		ID:     binary.BigEndian.Uint16(b[0:2]),
		Length: binary.BigEndian.Uint16(b[2:4]),
	}

	if int(sh.Length) < SetHeaderLength {
		return SetHeader{}, fmt.Errorf("%w: set length %d below set header size",
			errors.ErrMalformedMessage, sh.Length)
	}
	if int(sh.Length) > len(b) {
		return SetHeader{}, fmt.Errorf("%w: set length %d exceeds remaining message (%d bytes)",
			errors.ErrMalformedMessage, sh.Length, len(b))
	}

	return sh, nil
}
