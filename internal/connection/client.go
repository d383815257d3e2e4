package connection

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer opens WebSocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// socket is a single WebSocket connection. It is never reused: every
// reconnect dials a new socket.
type socket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// dialSocket opens a socket to target.
func dialSocket(ctx context.Context, d Dialer, target string, header http.Header, cfg Config) (*socket, error) {
	conn, resp, err := d.DialContext(ctx, target, header)
	if err != nil {
		te := &TransportError{Op: "dial", Err: err}
		if resp != nil {
			te.StatusCode = resp.StatusCode
		}
		return nil, te
	}
	if cfg.ReadLimit > 0 {
		conn.SetReadLimit(cfg.ReadLimit)
	}

	s := &socket{
		conn:         conn,
		writeTimeout: cfg.WriteTimeout,
		done:         make(chan struct{}),
	}

	// Protocol-level pings from intermediaries are answered by gorilla's
	// default handler; application heartbeats travel as frames.
	return s, nil
}

// write sends one text message.
func (s *socket) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return ErrConnectionClosed
	default:
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// readLoop delivers every message to onData until the socket fails, then
// calls onClose once.
func (s *socket) readLoop(onData func([]byte), onClose func(error)) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			onClose(err)
			return
		}
		onData(data)
	}
}

// close sends a normal close frame and releases the connection.
func (s *socket) close() {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		close(s.done)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

// dialURL appends the token query parameter to base.
func dialURL(base, param, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(param, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redactURL hides the token in a dial URL for logging.
func redactURL(raw, param string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has(param) {
		q.Set(param, "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
