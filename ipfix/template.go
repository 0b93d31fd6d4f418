package ipfix

import (
	"encoding/binary"
	"fmt"

	goipfix "github.com/CN-TU/go-ipfix"

	"github.com/dperdices/ipfixcol2/errors"
)

// enterpriseBit marks a field specifier carrying an enterprise number
const enterpriseBit = 0x8000

// Field is a single field specifier of a template, optionally resolved
// against a dictionary
type Field struct {
	// Pen is the private enterprise number, 0 for IANA elements
	Pen uint32
	// ID is the information element identifier (enterprise bit stripped)
	ID uint16
	// Length is the field length in bytes, VariableLength for variable
	Length uint16

	// Definition is the resolved element definition; zero value when the
	// dictionary has no entry for (Pen, ID)
	Definition goipfix.InformationElement
	// Known reports whether Definition was resolved
	Known bool
}

// Template describes the record layout of a data set. Templates are shared
// by reference: data records in messages already forwarded keep pointing at
// the template they were decoded with, so a replaced template is retired via
// a garbage carrier, never mutated or freed in place.
type Template struct {
	id         uint16
	options    bool
	scopeCount uint16
	fields     []Field
	dataLength int // -1 when any field is variable-length
	rawFields  []byte
}

// ParseTemplateRecord parses one (options) template record from b, resolving
// field definitions against dict. It returns the template, the number of
// bytes consumed, and an error for malformed records.
//
// A record with field count zero is a withdrawal; the returned template has
// no fields and Withdrawal() reports true.
func ParseTemplateRecord(b []byte, options bool, dict *Dictionary) (*Template, int, error) {
	if len(b) < 4 {
		return nil, 0, fmt.Errorf("%w: truncated template record header",
			errors.ErrMalformedMessage)
	}

	id := binary.BigEndian.Uint16(b[0:2])
	fieldCount := binary.BigEndian.Uint16(b[2:4])

	t := &Template{id: id, options: options}
	if fieldCount == 0 {
		// Withdrawal record; 4 bytes regardless of template type, an
		// options withdrawal carries no scope count field.
		return t, 4, nil
	}

	headerLen := 4
	if options {
		headerLen = 6
	}
	if len(b) < headerLen {
		return nil, 0, fmt.Errorf("%w: truncated template record header",
			errors.ErrMalformedMessage)
	}

	if id < SetIDDataMin {
		return nil, 0, fmt.Errorf("%w: template ID %d below %d",
			errors.ErrMalformedMessage, id, SetIDDataMin)
	}
	if options {
		t.scopeCount = binary.BigEndian.Uint16(b[4:6])
		if t.scopeCount == 0 || t.scopeCount > fieldCount {
			return nil, 0, fmt.Errorf("%w: options template %d scope count %d of %d fields",
				errors.ErrMalformedMessage, id, t.scopeCount, fieldCount)
		}
	}

	offset := headerLen
	t.fields = make([]Field, 0, fieldCount)
	t.dataLength = 0
	for i := 0; i < int(fieldCount); i++ {
		if len(b) < offset+4 {
			return nil, 0, fmt.Errorf("%w: truncated field specifier in template %d",
				errors.ErrMalformedMessage, id)
		}
		rawID := binary.BigEndian.Uint16(b[offset : offset+2])
		length := binary.BigEndian.Uint16(b[offset+2 : offset+4])
		offset += 4

		f := Field{ID: rawID &^ enterpriseBit, Length: length}
		if rawID&enterpriseBit != 0 {
			if len(b) < offset+4 {
				return nil, 0, fmt.Errorf("%w: truncated enterprise number in template %d",
					errors.ErrMalformedMessage, id)
			}
			f.Pen = binary.BigEndian.Uint32(b[offset : offset+4])
			offset += 4
		}
		if dict != nil {
			f.Definition, f.Known = dict.Lookup(f.Pen, f.ID)
		}

		if length == VariableLength {
			t.dataLength = -1
		} else if t.dataLength >= 0 {
			t.dataLength += int(length)
		}
		t.fields = append(t.fields, f)
	}

	if t.dataLength == 0 {
		return nil, 0, fmt.Errorf("%w: template %d describes empty records",
			errors.ErrMalformedMessage, id)
	}

	t.rawFields = append([]byte(nil), b[headerLen:offset]...)
	return t, offset, nil
}

// ID returns the template ID
func (t *Template) ID() uint16 { return t.id }

// Options reports whether this is an options template
func (t *Template) Options() bool { return t.options }

// ScopeCount returns the scope field count of an options template
func (t *Template) ScopeCount() uint16 { return t.scopeCount }

// Fields returns the field specifiers in wire order
func (t *Template) Fields() []Field { return t.fields }

// Withdrawal reports whether the record withdraws a previous definition
func (t *Template) Withdrawal() bool { return len(t.fields) == 0 }

// DataLength returns the fixed record length in bytes, or -1 when the
// template contains variable-length fields
func (t *Template) DataLength() int { return t.dataLength }

// SameWire reports whether two templates carry an identical wire definition.
// A connectionless exporter periodically refreshes templates; an identical
// refresh is a no-op while a changed definition replaces (and retires) the
// previous template.
func (t *Template) SameWire(other *Template) bool {
	if other == nil || t.id != other.id || t.options != other.options ||
		t.scopeCount != other.scopeCount || len(t.rawFields) != len(other.rawFields) {
		return false
	}
	for i := range t.rawFields {
		if t.rawFields[i] != other.rawFields[i] {
			return false
		}
	}
	return true
}

// Dispose marks a replaced or withdrawn template retired and drops its field
// list. Runs at the pipeline's terminal stage via a garbage carrier.
func (t *Template) Dispose() {
	t.fields = nil
	t.rawFields = nil
}

// RetiredTemplates aggregates templates replaced or withdrawn while
// processing a single message so they ride one garbage carrier together.
type RetiredTemplates []*Template

// Dispose retires every aggregated template
func (r RetiredTemplates) Dispose() {
	for _, t := range r {
		t.Dispose()
	}
}

// rebind re-resolves field definitions against a new dictionary
func (t *Template) rebind(dict *Dictionary) {
	for i := range t.fields {
		t.fields[i].Definition, t.fields[i].Known = dict.Lookup(t.fields[i].Pen, t.fields[i].ID)
	}
}

// TemplateTable holds the templates and the sequence counter of one stream
// (one Transport Session and Observation Domain pair). Tables own their
// templates exclusively until the table or a replaced template is retired
// into a garbage carrier.
type TemplateTable struct {
	dict      *Dictionary
	templates map[uint16]*Template
	sequence  uint32
	seqValid  bool
	retired   bool
}

// NewTemplateTable creates an empty table bound to dict
func NewTemplateTable(dict *Dictionary) *TemplateTable {
	return &TemplateTable{
		dict:      dict,
		templates: make(map[uint16]*Template),
	}
}

// Dictionary returns the dictionary the table is currently bound to
func (tt *TemplateTable) Dictionary() *Dictionary {
	return tt.dict
}

// Len returns the number of templates in the table
func (tt *TemplateTable) Len() int {
	return len(tt.templates)
}

// Lookup returns the template with the given ID
func (tt *TemplateTable) Lookup(id uint16) (*Template, bool) {
	t, ok := tt.templates[id]
	return t, ok
}

// Add installs t and returns the definition it replaced, if any. The caller
// decides whether a replacement is legal for the session's transport and is
// responsible for retiring the returned template through a garbage carrier.
func (tt *TemplateTable) Add(t *Template) *Template {
	old := tt.templates[t.ID()]
	tt.templates[t.ID()] = t
	return old
}

// Withdraw removes the template with the given ID and returns it for
// retirement. The second result is false when the ID was not defined.
func (tt *TemplateTable) Withdraw(id uint16) (*Template, bool) {
	t, ok := tt.templates[id]
	if ok {
		delete(tt.templates, id)
	}
	return t, ok
}

// WithdrawAll removes every template of the given type (options or regular)
// and returns them for retirement.
func (tt *TemplateTable) WithdrawAll(options bool) []*Template {
	var withdrawn []*Template
	for id, t := range tt.templates {
		if t.Options() == options {
			withdrawn = append(withdrawn, t)
			delete(tt.templates, id)
		}
	}
	return withdrawn
}

// Rebind points the table at a new dictionary and re-resolves every
// template's field definitions. The previous dictionary is left untouched;
// retiring it is the caller's responsibility.
func (tt *TemplateTable) Rebind(dict *Dictionary) {
	tt.dict = dict
	for _, t := range tt.templates {
		t.rebind(dict)
	}
}

// CheckSequence verifies the stream's expected sequence number against the
// message header value and advances the counter by the number of data
// records carried. It returns the gap (observed minus expected, zero when in
// order); the first message of a stream initializes the counter and never
// reports a gap.
func (tt *TemplateTable) CheckSequence(seq uint32, records int) int64 {
	if !tt.seqValid {
		tt.seqValid = true
		tt.sequence = seq + uint32(records)
		return 0
	}
	gap := int64(int32(seq - tt.sequence))
	tt.sequence = seq + uint32(records)
	return gap
}

// Retired reports whether the table has been disposed
func (tt *TemplateTable) Retired() bool {
	return tt.retired
}

// Dispose marks the table retired and drops the template map. Invoked
// exactly once, by the garbage carrier at the pipeline's terminal stage.
func (tt *TemplateTable) Dispose() {
	tt.retired = true
	tt.templates = nil
	tt.dict = nil
}
