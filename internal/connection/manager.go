package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/soc-realtime/internal/auth"
	"github.com/rickgao/soc-realtime/internal/heartbeat"
	"github.com/rickgao/soc-realtime/internal/metrics"
	"github.com/rickgao/soc-realtime/internal/protocol"
	"github.com/rickgao/soc-realtime/internal/router"
	"github.com/rickgao/soc-realtime/internal/subscription"
)

// Manager owns one logical realtime connection.
type Manager struct {
	cfg    Config
	tokens auth.TokenProvider
	dialer Dialer
	logger *slog.Logger
	now    func() time.Time

	registry *subscription.Registry
	router   *router.Router
	hb       *heartbeat.Monitor
	notify   *notifier

	mu         sync.Mutex
	state      State
	gen        uint64 // Bumped whenever the current dial, socket or timer is abandoned
	sock       *socket
	broken     bool // A write on sock failed; failure handling is pending
	cancelDial context.CancelFunc
	retry      *time.Timer
	attempt    int
	wanted     bool // Connect called and not followed by Disconnect
	closed     bool
	stats      Stats
}

// Option customises a Manager.
type Option func(*Manager)

// WithDialer replaces the default gorilla dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithRegistry shares an existing subscription registry.
func WithRegistry(r *subscription.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// NewManager creates a disconnected Manager. Connect must be called to dial.
func NewManager(cfg Config, tokens auth.TokenProvider, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:    cfg,
		tokens: tokens,
		logger: logger.With("component", "connection"),
		now:    time.Now,
		state:  StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}
	if m.registry == nil {
		m.registry = subscription.NewRegistry()
	}
	m.router = router.New(router.Config{RequestTimeout: cfg.RequestTimeout}, m.Send, logger)
	m.hb = heartbeat.New(cfg.Heartbeat, m.logger)
	m.notify = newNotifier(m.logger)

	metrics.SetConnectionState(StateDisconnected.String(), stateNames())
	return m
}

// Connect starts connecting. It is a no-op while Connecting or Connected.
// From Reconnecting it retries immediately and keeps the attempt count.
// Without a usable token it fails with ErrUnauthenticated and the state is
// left unchanged.
func (m *Manager) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if m.state == StateConnecting || m.state == StateConnected {
		return nil
	}

	tok, err := auth.Current(m.tokens, m.now())
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		m.logger.Warn("connect refused", "error", err)
		m.notify.publishError(err)
		return err
	}

	m.wanted = true
	if m.state == StateReconnecting {
		m.stopRetryLocked()
	} else {
		m.attempt = 0
		m.stats.Attempt = 0
	}
	m.startDialLocked(tok)
	return nil
}

// Disconnect closes the connection and cancels any retry. The subscription
// registry is kept so a later Connect resumes the same topics.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked(nil)
}

func (m *Manager) disconnectLocked(cause error) {
	m.wanted = false
	if m.state == StateDisconnected {
		return
	}
	m.abandonLocked()
	m.attempt = 0
	m.stats.Attempt = 0
	m.router.RejectPending(ErrConnectionClosed)
	m.setStateLocked(StateDisconnected, cause)
}

// Close disconnects and releases the manager. Observers still receive
// events queued before Close.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.disconnectLocked(nil)
	m.closed = true
	m.mu.Unlock()

	m.notify.close()
}

// Send writes f if Connected and reports whether it was written.
func (m *Manager) Send(f protocol.Frame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return false
	}
	return m.writeLocked(f)
}

// sendFor writes f only while gen is still the current connection.
func (m *Manager) sendFor(gen uint64, f protocol.Frame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state != StateConnected {
		return false
	}
	return m.writeLocked(f)
}

// Subscribe records the subscription and, when Connected, sends it at once.
// Otherwise it is sent by the replay on the next successful open.
func (m *Manager) Subscribe(topic string, filters map[string]any, permissions []string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}

	m.registry.Add(topic, filters, permissions)
	if m.state == StateConnected {
		m.writeLocked(protocol.Subscribe(topic, filters, permissions))
	}
	return nil
}

// Unsubscribe removes the subscription and, when Connected, tells the
// server. Unknown topics are ignored.
func (m *Manager) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}

	if !m.registry.Remove(topic) {
		return nil
	}
	if m.state == StateConnected {
		m.writeLocked(protocol.Unsubscribe(topic))
	}
	return nil
}

// Request sends f and waits for the response carrying the same request_id.
func (m *Manager) Request(ctx context.Context, f protocol.Frame, timeout time.Duration) (protocol.Frame, error) {
	return m.router.Request(ctx, f, timeout)
}

// OnMessage registers h for frames of frameType. The returned func removes it.
func (m *Manager) OnMessage(frameType string, h router.Handler) func() {
	return m.router.OnMessage(frameType, h)
}

// OnAnyMessage registers h for every inbound frame.
func (m *Manager) OnAnyMessage(h router.Handler) func() {
	return m.router.OnAny(h)
}

// OnStateChange registers fn for every transition.
func (m *Manager) OnStateChange(fn func(StateChange)) func() {
	return m.notify.states.add(fn)
}

// OnError registers fn for connection, replay and server errors.
func (m *Manager) OnError(fn func(error)) func() {
	return m.notify.errs.add(fn)
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns a snapshot of connection statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Subscriptions returns the desired subscriptions in insertion order.
func (m *Manager) Subscriptions() []subscription.Subscription {
	return m.registry.All()
}

// RouterStats returns the Message Router's statistics.
func (m *Manager) RouterStats() router.Stats {
	return m.router.Stats()
}

func (m *Manager) setStateLocked(to State, cause error) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	metrics.SetConnectionState(to.String(), stateNames())

	attrs := []any{"from", from.String(), "to", to.String(), "attempt", m.attempt}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	m.logger.Info("state change", attrs...)

	m.notify.publishState(StateChange{From: from, To: to, Err: cause, Stats: m.stats})
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

// abandonLocked drops the current dial, socket, heartbeat and retry timer.
func (m *Manager) abandonLocked() {
	m.gen++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.stopRetryLocked()
	m.hb.Stop()
	if m.sock != nil {
		go m.sock.close()
		m.sock = nil
	}
	m.broken = false
	m.stats.ConnectionID = ""
}

func (m *Manager) startDialLocked(token string) {
	m.gen++
	gen := m.gen
	m.setStateLocked(StateConnecting, nil)

	target, err := dialURL(m.cfg.URL, m.cfg.TokenParam, token)
	if err != nil {
		m.failLocked(&TransportError{Op: "dial", Err: err})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	m.cancelDial = cancel

	header := http.Header{}
	if m.cfg.UserAgent != "" {
		header.Set("User-Agent", m.cfg.UserAgent)
	}

	m.logger.Debug("dialing",
		"url", redactURL(target, m.cfg.TokenParam),
		"attempt", m.attempt,
	)
	go m.dial(ctx, gen, target, header)
}

func (m *Manager) dial(ctx context.Context, gen uint64, target string, header http.Header) {
	sock, err := dialSocket(ctx, m.dialer, target, header, m.cfg)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != StateConnecting {
		if sock != nil {
			go sock.close()
		}
		return
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}

	if err != nil {
		m.logger.Warn("dial failed",
			"url", redactURL(target, m.cfg.TokenParam),
			"attempt", m.attempt,
			"error", err,
		)
		m.failLocked(err)
		return
	}

	m.openLocked(gen, sock)
}

// openLocked settles a fresh socket: heartbeat, replay, then Connected.
func (m *Manager) openLocked(gen uint64, sock *socket) {
	m.sock = sock
	m.broken = false
	m.attempt = 0

	now := m.now()
	m.stats.ConnectedAt = now
	m.stats.LastActivityAt = now
	m.stats.Attempt = 0

	go sock.readLoop(
		func(data []byte) { m.onData(gen, data) },
		func(err error) { m.onSocketClosed(gen, err) },
	)

	m.hb.Start(
		func(f protocol.Frame) bool { return m.sendFor(gen, f) },
		func() { m.onHeartbeatDead(gen) },
	)

	subs := m.registry.All()
	var missed []string
	for _, sub := range subs {
		if !m.writeLocked(protocol.Subscribe(sub.Topic, sub.Filters, sub.Permissions)) {
			missed = append(missed, sub.Topic)
		}
	}
	if len(subs) > 0 {
		m.logger.Info("replayed subscriptions",
			"count", len(subs)-len(missed),
			"missed", len(missed),
		)
	}

	m.setStateLocked(StateConnected, nil)

	if len(missed) > 0 {
		err := fmt.Errorf("%w: %d of %d topics not sent: %s",
			ErrReplayIncomplete, len(missed), len(subs), strings.Join(missed, ", "))
		m.notify.publishError(err)
	}
}

// failLocked handles a lost or failed connection: tear down, reject pending
// requests, then retry or give up.
func (m *Manager) failLocked(cause error) {
	m.abandonLocked()
	m.router.RejectPending(ErrConnectionClosed)
	m.notify.publishError(cause)

	m.setStateLocked(StateReconnecting, cause)

	if m.attempt >= m.cfg.MaxReconnectAttempts {
		err := fmt.Errorf("%w after %d attempts: %w", ErrMaxReconnectExceeded, m.attempt, cause)
		m.logger.Error("giving up", "attempts", m.attempt, "error", cause)
		m.setStateLocked(StateFailed, err)
		m.notify.publishError(err)
		return
	}

	delay := m.cfg.Backoff.NextDelay(m.attempt)
	m.attempt++
	m.stats.Attempt = m.attempt
	m.stats.ReconnectCount++
	metrics.ReconnectAttemptsTotal.Inc()

	gen := m.gen
	m.retry = time.AfterFunc(delay, func() { m.retryFired(gen) })

	m.logger.Info("reconnect scheduled",
		"attempt", m.attempt,
		"max_attempts", m.cfg.MaxReconnectAttempts,
		"delay", delay,
	)
}

func (m *Manager) retryFired(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != StateReconnecting {
		return
	}
	m.retry = nil

	tok, err := auth.Current(m.tokens, m.now())
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		m.notify.publishError(err)
		m.disconnectLocked(err)
		return
	}
	m.startDialLocked(tok)
}

func (m *Manager) onSocketClosed(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != StateConnected {
		return
	}
	m.logger.Warn("connection lost", "error", err)
	m.failLocked(&TransportError{Op: "read", Err: err})
}

func (m *Manager) onHeartbeatDead(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != StateConnected {
		return
	}
	metrics.HeartbeatTimeoutsTotal.Inc()
	m.failLocked(ErrHeartbeatTimeout)
}

// writeLocked encodes and writes f on the current socket.
func (m *Manager) writeLocked(f protocol.Frame) bool {
	if m.sock == nil || m.broken {
		return false
	}

	data, err := protocol.Encode(f.Stamp(m.now()))
	if err != nil {
		m.logger.Error("encode frame", "type", f.Type, "error", err)
		return false
	}

	if err := m.sock.write(data); err != nil {
		m.logger.Warn("write failed", "type", f.Type, "error", err)
		m.broken = true
		gen := m.gen
		go m.onWriteFailed(gen, err)
		return false
	}

	m.stats.MessagesSent++
	m.stats.BytesTransferred += int64(len(data))
	metrics.FramesTotal.WithLabelValues(metrics.DirectionOut, f.Kind().String()).Inc()
	metrics.BytesTotal.WithLabelValues(metrics.DirectionOut).Add(float64(len(data)))
	return true
}

func (m *Manager) onWriteFailed(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || (m.state != StateConnected && m.state != StateConnecting) {
		return
	}
	m.failLocked(err)
}

// onData runs on the socket's read goroutine.
func (m *Manager) onData(gen uint64, data []byte) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.stats.MessagesReceived++
	m.stats.BytesTransferred += int64(len(data))
	m.stats.LastActivityAt = m.now()
	m.mu.Unlock()

	metrics.BytesTotal.WithLabelValues(metrics.DirectionIn).Add(float64(len(data)))

	f, err := protocol.Decode(data)
	if err != nil {
		m.hb.OnActivity()
		m.logger.Warn("dropping malformed frame", "error", err, "size", len(data))
		return
	}
	metrics.FramesTotal.WithLabelValues(metrics.DirectionIn, f.Kind().String()).Inc()

	if f.Kind() != protocol.KindPong {
		m.hb.OnActivity()
	}

	switch f.Kind() {
	case protocol.KindPong:
		if rtt := m.hb.OnPong(); rtt > 0 {
			m.mu.Lock()
			if gen == m.gen {
				m.stats.Latency = rtt
			}
			m.mu.Unlock()
			metrics.HeartbeatLatencySeconds.Observe(rtt.Seconds())
		}

	case protocol.KindPing:
		m.sendFor(gen, protocol.Pong(f))

	case protocol.KindConnected:
		var d protocol.ConnectedData
		if err := f.Decode(&d); err == nil && d.ConnectionID != "" {
			m.mu.Lock()
			if gen == m.gen {
				m.stats.ConnectionID = d.ConnectionID
			}
			m.mu.Unlock()
			m.logger.Info("session established", "connection_id", d.ConnectionID)
		}

	case protocol.KindSubscribed, protocol.KindUnsubscribed:
		var d protocol.TopicData
		_ = f.Decode(&d)
		m.logger.Debug("subscription acknowledged", "type", f.Type, "topic", d.Topic)
	}

	consumed := m.router.Dispatch(f)

	if f.Kind() == protocol.KindError && !consumed {
		se := protocol.AsServerError(f)
		m.logger.Warn("server error", "code", se.Code, "message", se.Message, "topic", se.Topic)
		m.notify.publishError(se)
	}
}
