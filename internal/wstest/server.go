package wstest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/soc-realtime/internal/protocol"
)

// ResultSuffix is appended to a request's type to form its response type.
const ResultSuffix = ".result"

// Options configures a Server.
type Options struct {
	Token        string // required token; empty accepts any
	TokenParam   string // query parameter name, default "token"
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Server is an http.Handler that upgrades requests to realtime sockets.
type Server struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
	http     *httptest.Server

	mu       sync.Mutex
	conns    map[string]*serverConn
	received []protocol.Frame
	upgrades int
	rejected int
	silent   bool
	reject   bool
	noReply  bool
}

type serverConn struct {
	id      string
	ws      *websocket.Conn
	writeMu sync.Mutex
	topics  map[string]bool // guarded by Server.mu
}

// New creates a Server. Use Start for an httptest listener, or mount the
// Server on any http.Server.
func New(opts Options) *Server {
	if opts.TokenParam == "" {
		opts.TokenParam = "token"
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		opts:   opts,
		logger: opts.Logger.With("component", "wstest"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*serverConn),
	}
}

// Start creates a Server listening on a local httptest address.
func Start(opts Options) *Server {
	s := New(opts)
	s.http = httptest.NewServer(s)
	return s
}

// URL returns the ws:// address of a started server.
func (s *Server) URL() string {
	if s.http == nil {
		return ""
	}
	return "ws" + strings.TrimPrefix(s.http.URL, "http")
}

// Close drops every socket and stops the listener, if any.
func (s *Server) Close() {
	s.DropAll()
	if s.http != nil {
		s.http.Close()
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reject := s.reject
	if reject {
		s.rejected++
	}
	s.mu.Unlock()
	if reject {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	if s.opts.Token != "" && r.URL.Query().Get(s.opts.TokenParam) != s.opts.Token {
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}

	c := &serverConn{
		id:     uuid.NewString(),
		ws:     ws,
		topics: make(map[string]bool),
	}

	s.mu.Lock()
	s.upgrades++
	s.conns[c.id] = c
	s.mu.Unlock()

	s.logger.Debug("socket opened", "connection_id", c.id)
	s.write(c, protocol.MustNew(protocol.TypeConnected, protocol.ConnectedData{ConnectionID: c.id}))

	s.readLoop(c)
}

func (s *Server) readLoop(c *serverConn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		c.ws.Close()
		s.logger.Debug("socket closed", "connection_id", c.id)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		f, err := protocol.Decode(data)
		if err != nil {
			s.logger.Warn("bad frame", "connection_id", c.id, "error", err)
			continue
		}
		s.handle(c, f)
	}
}

func (s *Server) handle(c *serverConn, f protocol.Frame) {
	s.mu.Lock()
	s.received = append(s.received, f)
	silent := s.silent
	noReply := s.noReply
	s.mu.Unlock()

	switch f.Kind() {
	case protocol.KindPing:
		if !silent {
			s.write(c, protocol.Pong(f))
		}
		return
	case protocol.KindPong:
		return
	case protocol.KindSubscribe:
		var d protocol.SubscribeData
		if err := f.Decode(&d); err != nil || d.Topic == "" {
			s.write(c, protocol.MustNew(protocol.TypeError, protocol.ErrorData{Code: "bad_request", Message: "subscribe requires a topic"}))
			return
		}
		s.mu.Lock()
		c.topics[d.Topic] = true
		s.mu.Unlock()
		s.write(c, protocol.MustNew(protocol.TypeSubscribed, protocol.TopicData{Topic: d.Topic}))
		return
	case protocol.KindUnsubscribe:
		var d protocol.TopicData
		_ = f.Decode(&d)
		s.mu.Lock()
		delete(c.topics, d.Topic)
		s.mu.Unlock()
		s.write(c, protocol.MustNew(protocol.TypeUnsubscribed, protocol.TopicData{Topic: d.Topic}))
		return
	}

	if f.RequestID != "" && !noReply {
		reply := protocol.Frame{
			Type:      f.Type + ResultSuffix,
			Data:      f.Data,
			RequestID: f.RequestID,
			Source:    "server",
		}
		s.write(c, reply)
	}
}

func (s *Server) write(c *serverConn, f protocol.Frame) bool {
	data, err := protocol.Encode(f.Stamp(time.Now()))
	if err != nil {
		s.logger.Error("encode frame", "type", f.Type, "error", err)
		return false
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("write failed", "connection_id", c.id, "error", err)
		return false
	}
	return true
}

func (s *Server) snapshot() []*serverConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Broadcast writes f to every open socket and returns how many accepted it.
func (s *Server) Broadcast(f protocol.Frame) int {
	n := 0
	for _, c := range s.snapshot() {
		if s.write(c, f) {
			n++
		}
	}
	return n
}

// BroadcastRaw writes data unmodified to every socket.
func (s *Server) BroadcastRaw(data []byte) int {
	n := 0
	for _, c := range s.snapshot() {
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err == nil {
			n++
		}
		c.writeMu.Unlock()
	}
	return n
}

// Publish sends an application frame to every socket subscribed to topic.
func (s *Server) Publish(topic, frameType string, data any) int {
	f, err := protocol.New(frameType, data)
	if err != nil {
		s.logger.Error("build publish frame", "type", frameType, "error", err)
		return 0
	}
	f.Source = topic

	s.mu.Lock()
	var targets []*serverConn
	for _, c := range s.conns {
		if c.topics[topic] {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, c := range targets {
		if s.write(c, f) {
			n++
		}
	}
	return n
}

// Ping sends a server-initiated ping to every socket.
func (s *Server) Ping() int {
	return s.Broadcast(protocol.Ping(time.Now()))
}

// DropAll closes every socket abruptly, without a close frame.
func (s *Server) DropAll() {
	for _, c := range s.snapshot() {
		if nc := c.ws.NetConn(); nc != nil {
			_ = nc.Close()
		}
	}
}

// SilenceHeartbeats stops (or resumes) answering pings.
func (s *Server) SilenceHeartbeats(silent bool) {
	s.mu.Lock()
	s.silent = silent
	s.mu.Unlock()
}

// RejectHandshakes makes new upgrades fail with 503.
func (s *Server) RejectHandshakes(reject bool) {
	s.mu.Lock()
	s.reject = reject
	s.mu.Unlock()
}

// SetRespond controls whether frames with a request_id are echoed.
func (s *Server) SetRespond(respond bool) {
	s.mu.Lock()
	s.noReply = !respond
	s.mu.Unlock()
}

// Upgrades returns the number of successful handshakes.
func (s *Server) Upgrades() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upgrades
}

// Rejected returns the number of refused handshakes.
func (s *Server) Rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// Connections returns the number of open sockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Topics returns the union of topics subscribed on open sockets.
func (s *Server) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, c := range s.conns {
		for t := range c.topics {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// Received returns a copy of every frame received so far.
func (s *Server) Received() []protocol.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Frame, len(s.received))
	copy(out, s.received)
	return out
}

// ReceivedOfType returns received frames with the given type.
func (s *Server) ReceivedOfType(frameType string) []protocol.Frame {
	var out []protocol.Frame
	for _, f := range s.Received() {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

// SubscribedTopics returns the topic of every subscribe frame received, in
// arrival order.
func (s *Server) SubscribedTopics() []string {
	var out []string
	for _, f := range s.ReceivedOfType(protocol.TypeSubscribe) {
		var d protocol.SubscribeData
		if err := json.Unmarshal(f.Data, &d); err == nil {
			out = append(out, d.Topic)
		}
	}
	return out
}

// ResetReceived clears the received frame log.
func (s *Server) ResetReceived() {
	s.mu.Lock()
	s.received = nil
	s.mu.Unlock()
}

// Eventually polls cond until it holds or timeout elapses.
func Eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
