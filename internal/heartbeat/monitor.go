package heartbeat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/soc-realtime/internal/protocol"
)

// Defaults.
const (
	DefaultInterval  = 30 * time.Second
	DefaultMaxMissed = 2
)

// Config configures a Monitor.
type Config struct {
	Interval  time.Duration // Time between pings
	MaxMissed int           // Consecutive silent intervals before the connection is dead
}

// SendFunc transmits a frame and reports whether it was accepted.
type SendFunc func(protocol.Frame) bool

// Monitor issues pings and detects silent connections.
type Monitor struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	session    uint64 // Incremented on every Start and Stop
	stop       chan struct{}
	awaiting   bool // A ping is outstanding with no liveness since
	missed     int
	lastPingAt time.Time
	lastSeenAt time.Time
}

// New creates a stopped monitor.
func New(cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxMissed <= 0 {
		cfg.MaxMissed = DefaultMaxMissed
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start begins issuing pings through send. onDead is called at most once per
// session, after which the monitor is stopped. Starting a running monitor
// restarts it.
func (m *Monitor) Start(send SendFunc, onDead func()) {
	m.mu.Lock()
	if m.stop != nil {
		close(m.stop)
	}
	m.session++
	session := m.session
	stop := make(chan struct{})
	m.stop = stop
	m.awaiting = false
	m.missed = 0
	m.lastSeenAt = m.now()
	m.mu.Unlock()

	go m.loop(session, stop, send, onDead)
}

// Stop cancels the ping timer. Safe to call repeatedly or before Start.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.session++
	m.awaiting = false
	m.missed = 0
}

// Running reports whether a session is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}

// OnActivity records liveness from any inbound frame.
func (m *Monitor) OnActivity() {
	m.mu.Lock()
	m.markAlive()
	m.mu.Unlock()
}

// OnPong records liveness and returns the round trip since the last ping,
// or zero when no ping is outstanding.
func (m *Monitor) OnPong() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rtt time.Duration
	if m.awaiting && !m.lastPingAt.IsZero() {
		rtt = m.now().Sub(m.lastPingAt)
	}
	m.markAlive()
	return rtt
}

// LastSeen returns the time liveness was last observed.
func (m *Monitor) LastSeen() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeenAt
}

func (m *Monitor) markAlive() {
	m.awaiting = false
	m.missed = 0
	m.lastSeenAt = m.now()
}

func (m *Monitor) loop(session uint64, stop <-chan struct{}, send SendFunc, onDead func()) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ping, dead := m.tick(session)
			if dead {
				if onDead != nil {
					onDead()
				}
				return
			}
			if ping.Type == "" {
				return
			}
			if send != nil && !send(ping) {
				m.logger.Debug("heartbeat ping not sent")
			}
		}
	}
}

// tick advances one interval. It returns the ping to send, or dead=true when
// the missed budget is exhausted. An empty ping with dead=false means the
// session was superseded.
func (m *Monitor) tick(session uint64) (protocol.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session != m.session {
		return protocol.Frame{}, false
	}

	if m.awaiting {
		m.missed++
		if m.missed >= m.cfg.MaxMissed {
			m.logger.Warn("heartbeat timeout",
				"missed", m.missed,
				"interval", m.cfg.Interval,
				"last_seen", m.lastSeenAt,
			)
			if m.stop != nil {
				close(m.stop)
				m.stop = nil
			}
			m.session++
			return protocol.Frame{}, true
		}
	}

	now := m.now()
	m.awaiting = true
	m.lastPingAt = now
	return protocol.Ping(now), false
}
