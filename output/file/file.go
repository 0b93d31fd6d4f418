package file

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dperdices/ipfixcol2/component"
	"github.com/dperdices/ipfixcol2/errors"
	"github.com/dperdices/ipfixcol2/message"
	"github.com/dperdices/ipfixcol2/pipeline"
)

// Config holds configuration for the file output
type Config struct {
	// Path of the output file; parent directories are created
	Path string `json:"path"`
	// Append keeps existing file content instead of truncating
	Append bool `json:"append"`
	// IncludeRawRecords adds hex-encoded record bytes to every line
	IncludeRawRecords bool `json:"include_raw_records"`
}

// DefaultConfig returns the default configuration for the file output
func DefaultConfig() Config {
	return Config{
		Path:   "/tmp/ipfixcol/records.jsonl",
		Append: true,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "path is required")
	}
	return nil
}

// recordLine is one decoded data record on disk
type recordLine struct {
	Session    string    `json:"session"`
	ExportTime time.Time `json:"export_time"`
	Sequence   uint32    `json:"sequence"`
	DomainID   uint32    `json:"odid"`
	TemplateID uint16    `json:"template_id"`
	Length     int       `json:"length"`
	Raw        string    `json:"raw,omitempty"`
}

// eventLine is one session lifecycle event on disk
type eventLine struct {
	Session   string `json:"session"`
	Transport string `json:"transport"`
	Event     string `json:"event"`
}

// Output writes decoded flow records and session events as JSON lines
type Output struct {
	name   string
	config Config

	bus    pipeline.Bus
	logger *slog.Logger

	file   *os.File
	writer *bufio.Writer

	lifecycleMu sync.Mutex
	running     bool
	startTime   time.Time

	recordsWritten int64
	errorCount     int64
	lastActivity   atomic.Int64 // unix nanos
}

// NewOutput creates a file output from configuration
func NewOutput(rawConfig json.RawMessage, deps component.Dependencies) (*Output, error) {
	config := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, errors.WrapInvalid(err, "FileOutput", "NewOutput", "config unmarshal")
		}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if deps.Bus == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"FileOutput", "NewOutput", "pipeline bus required")
	}

	const name = "file-output"
	return &Output{
		name:   name,
		config: config,
		bus:    deps.Bus,
		logger: deps.GetLoggerWithComponent(name),
	}, nil
}

// Meta returns basic component information
func (o *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        o.name,
		Type:        "output",
		Description: fmt.Sprintf("JSON lines writer to %s", o.config.Path),
		Version:     "1.0.0",
	}
}

// Health returns the current health status
func (o *Output) Health() component.HealthStatus {
	o.lifecycleMu.Lock()
	running := o.running
	start := o.startTime
	o.lifecycleMu.Unlock()

	status := component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(atomic.LoadInt64(&o.errorCount)),
	}
	if running {
		status.Uptime = time.Since(start)
	}
	return status
}

// DataFlow returns current data flow metrics
func (o *Output) DataFlow() component.FlowMetrics {
	flow := component.FlowMetrics{}
	if last := o.lastActivity.Load(); last > 0 {
		flow.LastActivity = time.Unix(0, last)
	}
	if written := atomic.LoadInt64(&o.recordsWritten); written > 0 {
		flow.ErrorRate = float64(atomic.LoadInt64(&o.errorCount)) / float64(written)
	}
	return flow
}

// Initialize creates the output directory
func (o *Output) Initialize() error {
	if err := os.MkdirAll(filepath.Dir(o.config.Path), 0o755); err != nil {
		return errors.WrapTransient(err, "FileOutput", "Initialize", "create output directory")
	}
	return nil
}

// Start opens the output file and subscribes to decoded data and session
// event messages.
func (o *Output) Start(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "FileOutput", "Start", "check running state")
	}

	flags := os.O_CREATE | os.O_WRONLY
	if o.config.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(o.config.Path, flags, 0o644)
	if err != nil {
		return errors.WrapTransient(err, "FileOutput", "Start", "open output file")
	}

	if err := o.bus.Subscribe(message.KindIPFIX | message.KindSession); err != nil {
		_ = file.Close()
		return errors.WrapFatal(err, "FileOutput", "Start", "pipeline subscription")
	}

	o.file = file
	o.writer = bufio.NewWriter(file)
	o.running = true
	o.startTime = time.Now()

	o.logger.Info("File output started", "path", o.config.Path)
	return nil
}

// Stop flushes buffered lines and closes the file
func (o *Output) Stop(timeout time.Duration) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if !o.running {
		return nil
	}
	o.running = false

	if err := o.writer.Flush(); err != nil {
		return errors.WrapTransient(err, "FileOutput", "Stop", "flush output")
	}
	if err := o.file.Close(); err != nil {
		return errors.WrapTransient(err, "FileOutput", "Stop", "close output file")
	}

	o.logger.Info("File output stopped",
		"records_written", atomic.LoadInt64(&o.recordsWritten))
	return nil
}

// Dispatch writes one subscribed message to disk and forwards it unchanged.
// Write failures are counted and logged but never escalate: a failing sink
// must not take down the decoding chain.
func (o *Output) Dispatch(msg message.Message) error {
	o.lastActivity.Store(time.Now().UnixNano())

	switch m := msg.(type) {
	case *message.DataMessage:
		if m.Decoded() {
			o.writeRecords(m)
		}
	case *message.SessionMessage:
		o.writeEvent(m)
	}

	if err := o.bus.Forward(msg); err != nil {
		return errors.WrapFatal(err, "FileOutput", "Dispatch", "message forward")
	}
	return nil
}

func (o *Output) writeRecords(m *message.DataMessage) {
	hdr := m.Header()
	for _, rec := range m.Records() {
		line := recordLine{
			Session:    m.Session().Ident(),
			ExportTime: hdr.ExportTime,
			Sequence:   hdr.Sequence,
			DomainID:   hdr.DomainID,
			TemplateID: rec.Template.ID(),
			Length:     len(rec.Data),
		}
		if o.config.IncludeRawRecords {
			line.Raw = hex.EncodeToString(rec.Data)
		}
		o.writeLine(line)
	}
}

func (o *Output) writeEvent(m *message.SessionMessage) {
	o.writeLine(eventLine{
		Session:   m.Session().Ident(),
		Transport: m.Session().Transport().String(),
		Event:     m.Event().String(),
	})
}

func (o *Output) writeLine(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		atomic.AddInt64(&o.errorCount, 1)
		o.logger.Error("Failed to encode output line", "error", err)
		return
	}
	payload = append(payload, '\n')
	if _, err := o.writer.Write(payload); err != nil {
		atomic.AddInt64(&o.errorCount, 1)
		o.logger.Error("Failed to write output line", "error", err)
		return
	}
	atomic.AddInt64(&o.recordsWritten, 1)
}
