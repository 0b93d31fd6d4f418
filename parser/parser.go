package parser

import (
	"fmt"
	"log/slog"

	"github.com/dperdices/ipfixcol2/errors"
	"github.com/dperdices/ipfixcol2/ipfix"
	"github.com/dperdices/ipfixcol2/message"
	"github.com/dperdices/ipfixcol2/session"
)

// Config holds construction parameters for a Parser
type Config struct {
	// Dictionary is the initial information-element dictionary; defaults to
	// the builtin IANA dictionary when nil
	Dictionary *ipfix.Dictionary
	// Logger is the structured logger; defaults to slog.Default() when nil
	Logger *slog.Logger
}

// sessionEntry is the registry record of one Transport Session
type sessionEntry struct {
	sess    *session.Session
	state   session.State
	streams map[uint32]*ipfix.TemplateTable
}

// Parser decodes framed protocol messages against per-session template state.
//
// Parser implements message.Garbage so that at stage shutdown the entire
// registry can ride a garbage carrier: its templates may still be referenced
// by messages the stage forwarded earlier.
type Parser struct {
	name     string
	dict     *ipfix.Dictionary
	sessions map[uint64]*sessionEntry
	logger   *slog.Logger
}

// New creates a Parser with an empty session registry
func New(cfg Config) *Parser {
	dict := cfg.Dictionary
	if dict == nil {
		dict = ipfix.BuiltinDictionary()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		name:     "ipfix-parser",
		dict:     dict,
		sessions: make(map[uint64]*sessionEntry),
		logger:   logger.With("component", "ipfix-parser"),
	}
}

// Dictionary returns the dictionary currently shared by all sessions
func (p *Parser) Dictionary() *ipfix.Dictionary {
	return p.dict
}

// SessionCount returns the number of registered sessions
func (p *Parser) SessionCount() int {
	return len(p.sessions)
}

// SessionState reports the lifecycle state of a session. Sessions without a
// registry entry are Removed.
func (p *Parser) SessionState(s *session.Session) session.State {
	if entry, ok := p.sessions[s.Key()]; ok {
		return entry.state
	}
	return session.StateRemoved
}

// entry returns the registry record for a session, allocating one on the
// first message referencing an unknown session.
func (p *Parser) entry(s *session.Session) *sessionEntry {
	key := s.Key()
	if e, ok := p.sessions[key]; ok {
		return e
	}
	e := &sessionEntry{
		sess:    s,
		state:   session.StateActive,
		streams: make(map[uint32]*ipfix.TemplateTable),
	}
	p.sessions[key] = e
	p.logger.Debug("registered transport session", "session", s.Ident())
	return e
}

func (e *sessionEntry) stream(odid uint32, dict *ipfix.Dictionary) *ipfix.TemplateTable {
	if tt, ok := e.streams[odid]; ok {
		return tt
	}
	tt := ipfix.NewTemplateTable(dict)
	e.streams[odid] = tt
	return tt
}

// Process decodes one protocol-data message in place, maintaining the
// session's template tables and sequence counters.
//
// Returned errors classify the failure: errors.ErrSessionBlocked when the
// session awaits closure (the message is expected back-pressure, not an
// error), errors.ErrMalformedMessage or errors.ErrUnsupportedVersion for
// wire-format failures, anything else is an internal failure.
//
// When templates were replaced or withdrawn during processing, the retired
// definitions come back in a garbage carrier that the caller must forward
// AFTER the decoded message.
func (p *Parser) Process(dm *message.DataMessage) (*message.GarbageMessage, error) {
	entry := p.entry(dm.Session())
	if entry.state == session.StateBlocked {
		return nil, errors.ErrSessionBlocked
	}

	hdr, err := ipfix.ParseMessageHeader(dm.Raw())
	if err != nil {
		return nil, err
	}

	table := entry.stream(hdr.DomainID, p.dict)
	body := dm.Raw()[:hdr.Length]

	var records []message.Record
	var retired ipfix.RetiredTemplates

	offset := ipfix.HeaderLength
	for offset < len(body) {
		sh, err := ipfix.ParseSetHeader(body[offset:])
		if err != nil {
			return nil, err
		}
		content := body[offset+ipfix.SetHeaderLength : offset+int(sh.Length)]

		switch {
		case sh.ID == ipfix.SetIDTemplate || sh.ID == ipfix.SetIDOptionsTemplate:
			rt, err := p.processTemplateSet(entry, table, content, sh.ID == ipfix.SetIDOptionsTemplate)
			if err != nil {
				return nil, err
			}
			retired = append(retired, rt...)
		case sh.ID >= ipfix.SetIDDataMin:
			records = p.processDataSet(table, sh.ID, content, records)
		default:
			return nil, fmt.Errorf("%w: reserved set ID %d", errors.ErrMalformedMessage, sh.ID)
		}

		offset += int(sh.Length)
	}

	if gap := table.CheckSequence(hdr.Sequence, len(records)); gap != 0 {
		p.logger.Warn("sequence number gap detected",
			"session", dm.Session().Ident(),
			"odid", hdr.DomainID,
			"gap", gap)
	}

	dm.SetDecoded(hdr, records)

	if len(retired) == 0 {
		return nil, nil
	}
	carrier, err := message.NewGarbage(retired, p.name)
	if err != nil {
		// Retired templates leak rather than risk an unsafe free; messages
		// already forwarded may still reference them.
		p.logger.Warn("failed to wrap retired templates, leaking them",
			"session", dm.Session().Ident(), "error", err)
		return nil, nil
	}
	return carrier, nil
}

// processTemplateSet parses the template records of one set and returns the
// definitions it replaced or withdrew.
func (p *Parser) processTemplateSet(entry *sessionEntry, table *ipfix.TemplateTable,
	content []byte, options bool) (ipfix.RetiredTemplates, error) {

	connectionless := entry.sess.Transport().Connectionless()
	var retired ipfix.RetiredTemplates

	offset := 0
	// Remainders shorter than a record header are padding.
	for len(content)-offset >= 4 {
		tmpl, consumed, err := ipfix.ParseTemplateRecord(content[offset:], options, p.dict)
		if err != nil {
			return nil, err
		}
		offset += consumed

		if tmpl.Withdrawal() {
			if connectionless {
				return nil, fmt.Errorf("%w: template withdrawal over %s",
					errors.ErrMalformedMessage, entry.sess.Transport())
			}
			setID := uint16(ipfix.SetIDTemplate)
			if options {
				setID = ipfix.SetIDOptionsTemplate
			}
			if tmpl.ID() == setID {
				// All (options) templates withdrawal; the whole type rides
				// the same carrier as individually withdrawn definitions.
				retired = append(retired, table.WithdrawAll(options)...)
				continue
			}
			old, ok := table.Withdraw(tmpl.ID())
			if !ok {
				p.logger.Debug("withdrawal of unknown template",
					"session", entry.sess.Ident(), "template", tmpl.ID())
				continue
			}
			retired = append(retired, old)
			continue
		}

		if existing, ok := table.Lookup(tmpl.ID()); ok {
			if existing.SameWire(tmpl) {
				// Periodic refresh; keep the definition messages already
				// reference.
				continue
			}
			if !connectionless {
				return nil, fmt.Errorf("template %d: %w",
					tmpl.ID(), errors.ErrTemplateRedefined)
			}
		}
		if old := table.Add(tmpl); old != nil {
			retired = append(retired, old)
		}
	}

	return retired, nil
}

// processDataSet matches a data set against its template and appends the
// contained records. Sets without a known template are skipped; over UDP the
// template may simply not have arrived yet.
func (p *Parser) processDataSet(table *ipfix.TemplateTable, setID uint16,
	content []byte, records []message.Record) []message.Record {

	tmpl, ok := table.Lookup(setID)
	if !ok {
		p.logger.Debug("data set without template", "set", setID)
		return records
	}

	if tmpl.DataLength() < 0 {
		// Variable-length records are not split here; record-value decoding
		// belongs to later stages.
		return append(records, message.Record{Template: tmpl, Data: content})
	}

	size := tmpl.DataLength()
	for len(content) >= size {
		records = append(records, message.Record{Template: tmpl, Data: content[:size]})
		content = content[size:]
	}
	return records
}

// RemoveSession detaches all registry state of a session and returns it
// wrapped in a garbage carrier for ordered retirement. A session that never
// accumulated decoding state produces no carrier.
// Returns errors.ErrSessionNotFound for sessions without a registry entry.
func (p *Parser) RemoveSession(s *session.Session) (*message.GarbageMessage, error) {
	key := s.Key()
	entry, ok := p.sessions[key]
	if !ok {
		return nil, errors.ErrSessionNotFound
	}
	delete(p.sessions, key)

	if len(entry.streams) == 0 {
		return nil, nil
	}

	tables := make(retiredTables, 0, len(entry.streams))
	for _, tt := range entry.streams {
		tables = append(tables, tt)
	}

	carrier, err := message.NewGarbage(tables, p.name)
	if err != nil {
		// Deliberate bounded leak: the tables may still be referenced by
		// forwarded messages, so they are never freed synchronously.
		p.logger.Warn("failed to wrap removed session state, leaking it",
			"session", s.Ident(), "error", err)
		return nil, nil
	}

	p.logger.Info("transport session removed", "session", s.Ident())
	return carrier, nil
}

// BlockSession marks a session Blocked: processing is suspended but the
// registry entry is retained so template memory referenced by already
// emitted messages stays valid until the close event arrives.
func (p *Parser) BlockSession(s *session.Session) {
	entry := p.entry(s)
	entry.state = session.StateBlocked
	p.logger.Info("transport session blocked awaiting close", "session", s.Ident())
}

// ForEachSession invokes fn for every registered session. The callback may
// remove or block sessions; iteration runs over a snapshot.
func (p *Parser) ForEachSession(fn func(*session.Session)) {
	snapshot := make([]*session.Session, 0, len(p.sessions))
	for _, entry := range p.sessions {
		snapshot = append(snapshot, entry.sess)
	}
	for _, s := range snapshot {
		fn(s)
	}
}

// UpdateDictionary atomically rebinds every session's template tables to
// dict and returns the previous dictionary wrapped in a garbage carrier.
// Swapping to the already-current dictionary is a no-op and produces no
// carrier. A nil dictionary fails without touching any session.
func (p *Parser) UpdateDictionary(dict *ipfix.Dictionary) (*message.GarbageMessage, error) {
	if dict == nil {
		return nil, errors.ErrDictionaryMissing
	}
	if dict == p.dict {
		return nil, nil
	}

	old := p.dict
	p.dict = dict
	for _, entry := range p.sessions {
		for _, tt := range entry.streams {
			tt.Rebind(dict)
		}
	}

	carrier, err := message.NewGarbage(old, p.name)
	if err != nil {
		p.logger.Warn("failed to wrap replaced dictionary, leaking it", "error", err)
		return nil, nil
	}

	p.logger.Info("information element dictionary replaced",
		"old_version", old.Version(), "new_version", dict.Version())
	return carrier, nil
}

// Dispose retires the entire registry. Runs once, at the pipeline's terminal
// stage, when the whole parser rides a garbage carrier at stage shutdown.
func (p *Parser) Dispose() {
	for key, entry := range p.sessions {
		for _, tt := range entry.streams {
			tt.Dispose()
		}
		delete(p.sessions, key)
	}
	p.dict = nil
}

// retiredTables aggregates the template tables of a removed session so they
// ride one garbage carrier together
type retiredTables []*ipfix.TemplateTable

// Dispose retires every aggregated table
func (r retiredTables) Dispose() {
	for _, tt := range r {
		tt.Dispose()
	}
}
