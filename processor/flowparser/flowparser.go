package flowparser

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dperdices/ipfixcol2/component"
	"github.com/dperdices/ipfixcol2/errors"
	"github.com/dperdices/ipfixcol2/feedback"
	"github.com/dperdices/ipfixcol2/ipfix"
	"github.com/dperdices/ipfixcol2/message"
	"github.com/dperdices/ipfixcol2/parser"
	"github.com/dperdices/ipfixcol2/pipeline"
	"github.com/dperdices/ipfixcol2/session"
)

// Parser is the stateful per-session protocol parser driven by this stage.
// *parser.Parser is the production implementation; tests substitute stubs.
type Parser interface {
	Process(dm *message.DataMessage) (*message.GarbageMessage, error)
	RemoveSession(s *session.Session) (*message.GarbageMessage, error)
	BlockSession(s *session.Session)
	ForEachSession(fn func(*session.Session))
	UpdateDictionary(dict *ipfix.Dictionary) (*message.GarbageMessage, error)

	// Dispose retires the parser's whole registry; it makes the parser
	// itself a retirable object so it can ride a garbage carrier at stage
	// shutdown.
	Dispose()
}

// Config holds configuration for the flow parser processor
type Config struct {
	// WarnUnknownKinds controls whether unrecognized message kinds are
	// reported; they are forwarded unchanged either way.
	WarnUnknownKinds bool `json:"warn_unknown_kinds"`
}

// DefaultConfig returns the default configuration for the flow parser processor
func DefaultConfig() Config {
	return Config{
		WarnUnknownKinds: true,
	}
}

// Processor orchestrates the protocol parser over the pipeline message
// stream. It processes one message at a time; the registry and dictionary
// reference are single-writer by construction and carry no locks on the
// per-message path.
type Processor struct {
	name   string
	config Config

	parser   Parser
	bus      pipeline.Bus
	feedback feedback.Channel
	// canRequestClose is the graceful-close capability, decided once at
	// construction: inputs without a feedback channel get hard removal.
	canRequestClose bool

	logger  *slog.Logger
	metrics *parserMetrics

	// Configuration update protocol phase
	update updatePhase

	// Lifecycle management
	lifecycleMu sync.Mutex
	running     bool
	startTime   time.Time

	// Activity counters
	messagesProcessed int64
	errorCount        int64
	lastActivity      atomic.Int64 // unix nanos
}

// NewProcessor creates a flow parser processor from configuration
func NewProcessor(rawConfig json.RawMessage, deps component.Dependencies) (*Processor, error) {
	config := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, errors.WrapInvalid(err, "FlowParser", "NewProcessor", "config unmarshal")
		}
	}

	if deps.Bus == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"FlowParser", "NewProcessor", "pipeline bus required")
	}

	const name = "flow-parser"

	metrics, err := newParserMetrics(deps.MetricsRegistry, name)
	if err != nil {
		deps.GetLogger().Error("Failed to initialize flow parser metrics", "error", err)
		metrics = nil // Continue without metrics
	}

	return &Processor{
		name:   name,
		config: config,
		parser: parser.New(parser.Config{
			Logger: deps.GetLogger(),
		}),
		bus:             deps.Bus,
		feedback:        deps.Feedback,
		canRequestClose: deps.Feedback != nil,
		logger:          deps.GetLoggerWithComponent(name),
		metrics:         metrics,
	}, nil
}

// Meta returns basic component information
func (p *Processor) Meta() component.Metadata {
	return component.Metadata{
		Name:        p.name,
		Type:        "processor",
		Description: "Decodes IPFIX messages against per-session template state and coordinates deferred reclamation",
		Version:     "1.0.0",
	}
}

// Health returns the current health status
func (p *Processor) Health() component.HealthStatus {
	p.lifecycleMu.Lock()
	running := p.running
	start := p.startTime
	p.lifecycleMu.Unlock()

	status := component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(atomic.LoadInt64(&p.errorCount)),
	}
	if running {
		status.Uptime = time.Since(start)
	}
	return status
}

// DataFlow returns current data flow metrics
func (p *Processor) DataFlow() component.FlowMetrics {
	processed := atomic.LoadInt64(&p.messagesProcessed)
	errs := atomic.LoadInt64(&p.errorCount)

	flow := component.FlowMetrics{}
	if last := p.lastActivity.Load(); last > 0 {
		flow.LastActivity = time.Unix(0, last)
	}
	if processed > 0 {
		flow.ErrorRate = float64(errs) / float64(processed)
	}
	return flow
}

// Initialize prepares the processor (no-op for the flow parser)
func (p *Processor) Initialize() error {
	return nil
}

// Start subscribes the stage to protocol-data and session-event messages.
// A rejected subscription fails the whole stage start.
func (p *Processor) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "FlowParser", "Start", "check running state")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := p.bus.Subscribe(message.KindIPFIX | message.KindSession); err != nil {
		p.logger.Error("Failed to subscribe to pipeline messages", "error", err)
		return errors.WrapFatal(err, "FlowParser", "Start", "pipeline subscription")
	}

	p.running = true
	p.startTime = time.Now()

	p.logger.Info("Flow parser processor started",
		"graceful_close", p.canRequestClose)
	return nil
}

// Stop retires the parser's whole registry through a garbage carrier: its
// templates may still be referenced by messages this stage forwarded
// earlier, so the registry must ride the same ordered channel.
func (p *Processor) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false

	carrier, err := message.NewGarbage(garbageFromParser{p.parser}, p.name)
	if err != nil {
		// The registry leaks rather than being freed under messages still in
		// flight.
		p.logger.Warn("Failed to wrap parser state at shutdown, leaking it", "error", err)
		return nil
	}
	if err := p.bus.Forward(carrier); err != nil {
		p.logger.Error("Failed to forward parser shutdown garbage", "error", err)
		return errors.WrapTransient(err, "FlowParser", "Stop", "shutdown garbage forward")
	}
	p.metrics.recordGarbage(p.name, "shutdown")

	p.logger.Info("Flow parser processor stopped")
	return nil
}

// garbageFromParser adapts the Parser interface to message.Garbage for the
// shutdown carrier
type garbageFromParser struct{ p Parser }

func (g garbageFromParser) Dispose() { g.p.Dispose() }

// Dispatch handles one inbound pipeline message. It returns an error only
// for stage-fatal conditions; malformed input never escalates past session
// removal.
func (p *Processor) Dispatch(msg message.Message) error {
	atomic.AddInt64(&p.messagesProcessed, 1)
	p.lastActivity.Store(time.Now().UnixNano())

	switch m := msg.(type) {
	case *message.DataMessage:
		return p.processData(m)
	case *message.SessionMessage:
		p.processSessionEvent(m)
		// Other stages may also need to observe the event.
		if err := p.bus.Forward(m); err != nil {
			return errors.WrapFatal(err, "FlowParser", "Dispatch", "session event forward")
		}
		p.metrics.recordMessage(p.name, "session", "forwarded")
		return nil
	default:
		if p.config.WarnUnknownKinds {
			p.logger.Warn("Received unexpected message kind, forwarding unchanged",
				"kind", msg.Kind().String())
		}
		if err := p.bus.Forward(msg); err != nil {
			return errors.WrapFatal(err, "FlowParser", "Dispatch", "unknown kind forward")
		}
		p.metrics.recordMessage(p.name, msg.Kind().String(), "forwarded")
		return nil
	}
}

// processData decodes a protocol-data message and forwards the results.
func (p *Processor) processData(m *message.DataMessage) error {
	start := time.Now()
	carrier, err := p.parser.Process(m)
	if err == nil {
		if fwdErr := p.bus.Forward(m); fwdErr != nil {
			return errors.WrapFatal(fwdErr, "FlowParser", "processData", "decoded message forward")
		}
		if carrier != nil {
			// The carrier must follow the message: the message may reference
			// templates inside this garbage.
			if fwdErr := p.bus.Forward(carrier); fwdErr != nil {
				return errors.WrapFatal(fwdErr, "FlowParser", "processData", "garbage forward")
			}
			p.metrics.recordGarbage(p.name, "templates")
		}
		p.metrics.recordDecode(p.name, time.Since(start))
		return nil
	}

	if errors.Is(err, errors.ErrSessionBlocked) {
		// Expected back-pressure while a close request is outstanding.
		p.metrics.recordMessage(p.name, "ipfix", "denied")
		return nil
	}

	atomic.AddInt64(&p.errorCount, 1)

	if errors.IsInvalid(err) && m.Session().Transport().Connectionless() {
		// One malformed datagram must not penalize the whole session: the
		// transport has no way to signal the sender anyway.
		p.logger.Warn("Dropping malformed message",
			"session", m.Session().Ident(),
			"transport", m.Session().Transport().String(),
			"error", err)
		p.metrics.recordMessage(p.name, "ipfix", "dropped")
		return nil
	}

	p.logger.Warn("Failed to process message, escalating to session removal",
		"session", m.Session().Ident(),
		"error", err)
	p.metrics.recordMessage(p.name, "ipfix", "escalated")
	return p.removeSession(m.Session())
}

// processSessionEvent updates the registry for close notifications.
// Non-close events pass through with no side effect; the caller forwards the
// event message itself.
func (p *Processor) processSessionEvent(m *message.SessionMessage) {
	if m.Event() != message.SessionClose {
		return
	}

	carrier, err := p.parser.RemoveSession(m.Session())
	if err == nil {
		p.metrics.recordSessionRemoved(p.name)
		if carrier != nil {
			if fwdErr := p.bus.Forward(carrier); fwdErr != nil {
				p.logger.Error("Failed to forward session garbage", "error", fwdErr)
				return
			}
			p.metrics.recordGarbage(p.name, "session")
		}
		return
	}

	if errors.Is(err, errors.ErrSessionNotFound) {
		// Recoverable inconsistency; no state to touch.
		p.logger.Warn("Received close for unknown transport session",
			"session", m.Session().Ident())
		return
	}

	atomic.AddInt64(&p.errorCount, 1)
	p.logger.Error("Session removal returned unexpected error",
		"session", m.Session().Ident(), "error", err)
}

// removeSession applies the feedback-aware removal policy: inputs that can
// close gracefully get a block-and-request-close, the rest lose their
// registry entry immediately. Only a failing write to an available feedback
// channel is fatal, since continuing could corrupt the registry.
func (p *Processor) removeSession(s *session.Session) error {
	if !p.canRequestClose {
		p.logger.Warn("Input cannot close sessions gracefully, removing all session state",
			"session", s.Ident())

		carrier, err := p.parser.RemoveSession(s)
		if err != nil && !errors.Is(err, errors.ErrSessionNotFound) {
			p.logger.Error("Hard session removal failed", "session", s.Ident(), "error", err)
			return nil
		}
		p.metrics.recordSessionRemoved(p.name)
		if carrier != nil {
			if fwdErr := p.bus.Forward(carrier); fwdErr != nil {
				return errors.WrapFatal(fwdErr, "FlowParser", "removeSession", "garbage forward")
			}
			p.metrics.recordGarbage(p.name, "session")
		}
		return nil
	}

	p.parser.BlockSession(s)
	p.metrics.recordSessionBlocked(p.name)
	if err := p.feedback.RequestClose(s); err != nil {
		p.logger.Error("Feedback channel write failed, parser cannot continue",
			"session", s.Ident(), "error", err)
		return errors.WrapFatal(err, "FlowParser", "removeSession", "feedback write")
	}
	return nil
}
