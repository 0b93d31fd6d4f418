package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dperdices/ipfixcol2/component"
	"github.com/dperdices/ipfixcol2/errors"
	"github.com/dperdices/ipfixcol2/message"
	"github.com/dperdices/ipfixcol2/metric"
	"github.com/dperdices/ipfixcol2/pipeline"
	"github.com/dperdices/ipfixcol2/session"
)

// maxDatagram is the largest frame a single UDP datagram can carry
const maxDatagram = 65536

// Config holds configuration for the UDP input
type Config struct {
	// Bind is the local listen address, host:port
	Bind string `json:"bind"`
	// ReadBufferBytes sizes the OS socket buffer; some systems clamp it
	ReadBufferBytes int `json:"read_buffer_bytes"`
	// IdleTimeoutSeconds closes sessions without traffic for this long;
	// zero disables expiry
	IdleTimeoutSeconds int `json:"idle_timeout_seconds"`
}

// DefaultConfig returns the default configuration for the UDP input
func DefaultConfig() Config {
	return Config{
		Bind:               "0.0.0.0:4739",
		ReadBufferBytes:    2 * 1024 * 1024,
		IdleTimeoutSeconds: 600,
	}
}

// liveSession tracks one remote endpoint between datagrams
type liveSession struct {
	sess     *session.Session
	lastSeen time.Time
}

// Input listens for flow frames over UDP and forwards them to the pipeline
// inlet, wrapped in per-endpoint Transport Sessions.
type Input struct {
	name   string
	config Config

	out    pipeline.Forwarder
	logger *slog.Logger

	conn      *net.UDPConn
	collector netip.AddrPort

	// sessions is touched only by the read loop once started
	sessions map[netip.AddrPort]*liveSession

	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex

	packetsReceived atomic.Int64
	bytesReceived   atomic.Int64
	errorCount      atomic.Int64
	lastActivity    atomic.Int64 // unix nanos

	metrics *inputMetrics
}

var _ component.LifecycleComponent = (*Input)(nil)

// Deps holds runtime dependencies for the UDP input
type Deps struct {
	Name            string                  // Instance name
	Out             pipeline.Forwarder      // Pipeline inlet
	MetricsRegistry *metric.MetricsRegistry // Metrics registry (can be nil)
	Logger          *slog.Logger            // Structured logger (can be nil)
}

// NewInput creates a UDP input from configuration
func NewInput(rawConfig json.RawMessage, deps Deps) (*Input, error) {
	config := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, errors.WrapInvalid(err, "UDPInput", "NewInput", "config unmarshal")
		}
	}

	if deps.Out == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"UDPInput", "NewInput", "pipeline inlet required")
	}

	name := deps.Name
	if name == "" {
		name = "udp-input"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newInputMetrics(deps.MetricsRegistry, name)
	if err != nil {
		logger.Error("Failed to initialize UDP input metrics", "error", err)
		metrics = nil // Continue without metrics
	}

	return &Input{
		name:     name,
		config:   config,
		out:      deps.Out,
		logger:   logger.With("component", name),
		sessions: make(map[netip.AddrPort]*liveSession),
		metrics:  metrics,
	}, nil
}

// Meta returns basic component information
func (u *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        u.name,
		Type:        "input",
		Description: fmt.Sprintf("UDP flow frame listener on %s", u.config.Bind),
		Version:     "1.0.0",
	}
}

// Health returns the current health status
func (u *Input) Health() component.HealthStatus {
	status := component.HealthStatus{
		Healthy:    u.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(u.errorCount.Load()),
	}
	if status.Healthy {
		status.Uptime = time.Since(u.startTime)
	}
	return status
}

// DataFlow returns current data flow metrics
func (u *Input) DataFlow() component.FlowMetrics {
	flow := component.FlowMetrics{}
	if last := u.lastActivity.Load(); last > 0 {
		flow.LastActivity = time.Unix(0, last)
	}

	packets := u.packetsReceived.Load()
	if uptime := time.Since(u.startTime).Seconds(); u.running.Load() && uptime > 0 {
		flow.MessagesPerSecond = float64(packets) / uptime
		flow.BytesPerSecond = float64(u.bytesReceived.Load()) / uptime
	}
	if packets > 0 {
		flow.ErrorRate = float64(u.errorCount.Load()) / float64(packets)
	}
	return flow
}

// Initialize validates the configuration without binding the socket
func (u *Input) Initialize() error {
	if _, err := netip.ParseAddrPort(u.config.Bind); err != nil {
		return errors.WrapInvalid(err, "UDPInput", "Initialize", "bind address validation")
	}
	if u.config.IdleTimeoutSeconds < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"UDPInput", "Initialize", "idle timeout validation")
	}
	return nil
}

// Start binds the socket and launches the read loop
func (u *Input) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.running.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "UDPInput", "Start", "check running state")
	}

	addr, err := net.ResolveUDPAddr("udp", u.config.Bind)
	if err != nil {
		return errors.WrapInvalid(err, "UDPInput", "Start", "resolve bind address")
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return errors.WrapTransient(err, "UDPInput", "Start", "socket bind")
	}
	if err := conn.SetReadBuffer(u.config.ReadBufferBytes); err != nil {
		u.logger.Warn("Could not set UDP socket buffer size",
			"buffer_size", u.config.ReadBufferBytes, "error", err)
	}

	u.conn = conn
	u.collector = conn.LocalAddr().(*net.UDPAddr).AddrPort()
	u.shutdown = make(chan struct{})
	u.done = make(chan struct{})
	u.running.Store(true)
	u.startTime = time.Now()

	go u.readLoop(ctx)

	u.logger.Info("UDP input started", "bind", u.collector.String())
	return nil
}

// Stop closes the socket, waits for the read loop and closes every session
// still open so downstream state is retired.
func (u *Input) Stop(timeout time.Duration) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.running.Load() {
		return nil
	}
	u.running.Store(false)

	close(u.shutdown)
	_ = u.conn.Close()

	select {
	case <-u.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"UDPInput", "Stop", "read loop shutdown")
	}

	for key, live := range u.sessions {
		u.closeSession(live.sess)
		delete(u.sessions, key)
	}

	u.logger.Info("UDP input stopped")
	return nil
}

// readLoop receives datagrams until shutdown, maintaining the per-endpoint
// session map and expiring idle sessions between reads.
func (u *Input) readLoop(ctx context.Context) {
	defer close(u.done)

	buf := make([]byte, maxDatagram)
	lastSweep := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-u.shutdown:
			return
		default:
		}

		// Short deadline so shutdown and idle expiry stay responsive.
		_ = u.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, remote, err := u.conn.ReadFromUDPAddrPort(buf)
		now := time.Now()

		if u.config.IdleTimeoutSeconds > 0 && now.Sub(lastSweep) >= time.Second {
			u.expireSessions(now)
			lastSweep = now
		}

		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-u.shutdown:
				return
			default:
			}
			u.errorCount.Add(1)
			u.metrics.recordSocketError(u.name)
			u.logger.Warn("UDP read failed", "error", err)
			continue
		}

		u.packetsReceived.Add(1)
		u.bytesReceived.Add(int64(n))
		u.lastActivity.Store(now.UnixNano())
		u.metrics.recordPacket(u.name, n)

		live, ok := u.sessions[remote]
		if !ok {
			live = &liveSession{sess: session.New(session.TransportUDP, remote, u.collector)}
			u.sessions[remote] = live
			u.metrics.setActiveSessions(u.name, len(u.sessions))
			u.logger.Info("New transport session", "session", live.sess.Ident())

			open := message.NewSessionMessage(live.sess, message.SessionOpen, u.name)
			if err := u.out.Forward(open); err != nil {
				u.logger.Error("Failed to forward session open", "error", err)
				return
			}
		}
		live.lastSeen = now

		data := make([]byte, n)
		copy(data, buf[:n])
		if err := u.out.Forward(message.NewDataMessage(live.sess, data, u.name)); err != nil {
			u.logger.Error("Failed to forward data message", "error", err)
			return
		}
	}
}

// expireSessions closes endpoints that stayed silent past the idle timeout
func (u *Input) expireSessions(now time.Time) {
	idle := time.Duration(u.config.IdleTimeoutSeconds) * time.Second
	for key, live := range u.sessions {
		if now.Sub(live.lastSeen) < idle {
			continue
		}
		u.logger.Info("Transport session expired", "session", live.sess.Ident())
		u.closeSession(live.sess)
		delete(u.sessions, key)
	}
	u.metrics.setActiveSessions(u.name, len(u.sessions))
}

func (u *Input) closeSession(sess *session.Session) {
	ev := message.NewSessionMessage(sess, message.SessionClose, u.name)
	if err := u.out.Forward(ev); err != nil {
		u.logger.Error("Failed to forward session close",
			"session", sess.Ident(), "error", err)
	}
}
