package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dperdices/ipfixcol2/component"
	"github.com/dperdices/ipfixcol2/errors"
	"github.com/dperdices/ipfixcol2/message"
	"github.com/dperdices/ipfixcol2/metric"
	"github.com/dperdices/ipfixcol2/pipeline"
)

// Stage is one processing component of the pipeline
type Stage interface {
	component.LifecycleComponent

	// Dispatch handles one subscribed message. Fatal errors stop the whole
	// pipeline; everything else is logged and the stream continues.
	Dispatch(msg message.Message) error
}

// Config holds configuration for the pipeline host
type Config struct {
	// EdgeCapacity bounds the number of in-flight messages per edge
	EdgeCapacity int `json:"edge_capacity"`
	// StopTimeoutSeconds is handed to each stage's Stop during the shutdown
	// cascade
	StopTimeoutSeconds int `json:"stop_timeout_seconds"`
}

// DefaultConfig returns the default configuration for the pipeline host
func DefaultConfig() Config {
	return Config{
		EdgeCapacity:       256,
		StopTimeoutSeconds: 5,
	}
}

func (c Config) stopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

// Pipeline chains stages over ordered edges and owns the terminal point
// where garbage carriers are destroyed.
type Pipeline struct {
	config  Config
	logger  *slog.Logger
	metrics *engineMetrics

	// edges[i] feeds stages[i]; the edge past the last stage is the terminal
	edges  []*pipeline.Queue
	stages []Stage

	mu      sync.Mutex
	running bool
	closed  bool
	wg      sync.WaitGroup

	fatalOnce sync.Once
	fatalErr  error
}

// New creates an empty pipeline with an open inlet edge
func New(rawConfig json.RawMessage, logger *slog.Logger, registry *metric.MetricsRegistry) (*Pipeline, error) {
	config := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, errors.WrapInvalid(err, "Pipeline", "New", "config unmarshal")
		}
	}
	if config.EdgeCapacity <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Pipeline", "New", "edge capacity must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newEngineMetrics(registry)
	if err != nil {
		logger.Error("Failed to initialize pipeline metrics", "error", err)
		metrics = nil // Continue without metrics
	}

	return &Pipeline{
		config:  config,
		logger:  logger.With("component", "pipeline"),
		metrics: metrics,
		edges:   []*pipeline.Queue{pipeline.NewQueue(config.EdgeCapacity)},
	}, nil
}

// stageBus is the handle a stage gets on the pipeline: subscription lands on
// the stage's inbound edge, forwarding on its outbound one.
type stageBus struct {
	in  *pipeline.Queue
	out *pipeline.Queue
}

func (b *stageBus) Subscribe(kinds message.Kind) error {
	return b.in.Subscribe(kinds)
}

func (b *stageBus) Forward(msg message.Message) error {
	return b.out.Forward(msg)
}

// Append adds a stage at the tail. The build callback receives the bus the
// stage must be constructed with; stages cannot be added once the pipeline
// runs.
func (p *Pipeline) Append(build func(bus pipeline.Bus) (Stage, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"Pipeline", "Append", "pipeline already running")
	}

	out := pipeline.NewQueue(p.config.EdgeCapacity)
	stage, err := build(&stageBus{in: p.edges[len(p.edges)-1], out: out})
	if err != nil {
		return errors.Wrap(err, "Pipeline", "Append", "stage construction")
	}

	p.edges = append(p.edges, out)
	p.stages = append(p.stages, stage)
	return nil
}

// Inlet returns the edge feeding the first stage. Input sources forward
// messages here in arrival order.
func (p *Pipeline) Inlet() pipeline.Forwarder {
	return p.edges[0]
}

// Start initializes and starts every stage in order, then launches the pump
// goroutines. A stage that fails to start stops the already-started ones in
// reverse order.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Pipeline", "Start", "check running state")
	}
	if len(p.stages) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Pipeline", "Start", "no stages appended")
	}

	for i, stage := range p.stages {
		if err := stage.Initialize(); err != nil {
			p.stopStages(i - 1)
			return errors.Wrap(err, "Pipeline", "Start", "stage initialization")
		}
		if err := stage.Start(ctx); err != nil {
			p.stopStages(i - 1)
			return errors.Wrap(err, "Pipeline", "Start", "stage start")
		}
	}

	for i := range p.stages {
		p.wg.Add(1)
		go p.pump(i)
	}

	p.running = true
	p.logger.Info("Pipeline started", "stages", len(p.stages))
	return nil
}

// stopStages stops stages [0..last] in reverse order after a failed start
func (p *Pipeline) stopStages(last int) {
	for i := last; i >= 0; i-- {
		if err := p.stages[i].Stop(p.config.stopTimeout()); err != nil {
			p.logger.Error("Failed to stop stage during rollback",
				"stage", p.stages[i].Meta().Name, "error", err)
		}
	}
}

// pump moves messages across one stage: subscribed kinds are dispatched,
// everything else passes through in order. Once the inbound edge drains, the
// stage is stopped so its final garbage still rides the outbound edge, which
// is closed afterwards to cascade the shutdown.
func (p *Pipeline) pump(i int) {
	defer p.wg.Done()

	stage := p.stages[i]
	name := stage.Meta().Name
	in, out := p.edges[i], p.edges[i+1]

	fatalStop := false
	for {
		msg, ok := in.Next()
		if !ok {
			break
		}

		if !in.Kinds().Has(msg.Kind()) {
			if err := out.Forward(msg); err != nil {
				p.fail(errors.Wrap(err, "Pipeline", "pump", "pass-through forward"))
				fatalStop = true
				break
			}
			p.metrics.recordPassThrough(name)
			continue
		}

		err := stage.Dispatch(msg)
		switch {
		case err == nil:
			p.metrics.recordDispatch(name, "ok")
		case errors.IsFatal(err):
			p.logger.Error("Stage failed fatally, shutting pipeline down",
				"stage", name, "error", err)
			p.metrics.recordDispatch(name, "fatal")
			p.fail(err)
		default:
			p.logger.Warn("Stage dispatch error", "stage", name, "error", err)
			p.metrics.recordDispatch(name, "error")
		}
		if errors.IsFatal(err) {
			fatalStop = true
			break
		}
	}

	if fatalStop {
		// Keep consuming the inbound edge so upstream pumps blocked on a
		// full edge can wind down; fail already sealed the inlet, so the
		// drain terminates once the cascade reaches this edge. Carriers
		// discarded here never reach the terminal, destroy them now.
		if err := in.DrainTerminal(nil); err != nil {
			p.logger.Error("Garbage destruction failed while draining a failed stage",
				"stage", name, "error", err)
		}
	}

	if err := stage.Stop(p.config.stopTimeout()); err != nil {
		p.logger.Error("Failed to stop stage", "stage", name, "error", err)
	}
	out.Close()
}

// fail records the first fatal error and closes the inlet so every pump
// winds down.
func (p *Pipeline) fail(err error) {
	p.fatalOnce.Do(func() {
		p.fatalErr = err
		p.Close()
	})
}

// Close seals the inlet and begins the shutdown cascade. Safe to call more
// than once.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.edges[0].Close()
}

// Wait drains the terminal edge until the shutdown cascade completes:
// garbage carriers are destroyed here and every other message is handed to
// deliver (which may be nil). It returns the first fatal error the pipeline
// hit, or the first garbage destruction error.
func (p *Pipeline) Wait(deliver func(message.Message)) error {
	terminal := p.edges[len(p.edges)-1]
	drainErr := terminal.DrainTerminal(func(msg message.Message) {
		p.metrics.recordTerminalDelivered()
		if deliver != nil {
			deliver(msg)
		}
	})
	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	if p.fatalErr != nil {
		return p.fatalErr
	}
	if drainErr != nil {
		return errors.Wrap(drainErr, "Pipeline", "Wait", "terminal drain")
	}
	return nil
}
