package connection

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/soc-realtime/internal/wstest"
)

func TestDialURL(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		param string
		token string
		want  string
	}{
		{"plain", "wss://rt.example.com/ws", "token", "abc", "wss://rt.example.com/ws?token=abc"},
		{"existing query", "ws://localhost:8080/ws?v=2", "token", "abc", "ws://localhost:8080/ws?token=abc&v=2"},
		{"custom param", "ws://h/ws", "access_token", "a b", "ws://h/ws?access_token=a+b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dialURL(tt.base, tt.param, tt.token)
			if err != nil {
				t.Fatalf("dialURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("dialURL() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := dialURL("://bad", "token", "x"); err == nil {
		t.Error("dialURL() expected error for malformed URL")
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("wss://rt.example.com/ws?token=super-secret&v=2", "token")
	if strings.Contains(got, "super-secret") {
		t.Errorf("redactURL() leaked token: %s", got)
	}
	if !strings.Contains(got, "token=REDACTED") || !strings.Contains(got, "v=2") {
		t.Errorf("redactURL() = %s", got)
	}
	if got := redactURL("ws://h/ws", "token"); got != "ws://h/ws" {
		t.Errorf("redactURL() without token = %s", got)
	}
}

func TestTransportError(t *testing.T) {
	inner := errors.New("refused")
	err := error(&TransportError{Op: "dial", StatusCode: 401, Err: inner})

	if !errors.Is(err, inner) {
		t.Error("TransportError does not unwrap")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("Error() = %q, want status code", err.Error())
	}
}

func TestDialSocket_WriteAndClose(t *testing.T) {
	s := wstest.Start(wstest.Options{})
	defer s.Close()

	d := &websocket.Dialer{HandshakeTimeout: time.Second}
	sock, err := dialSocket(context.Background(), d, s.URL(), http.Header{}, DefaultConfig())
	if err != nil {
		t.Fatalf("dialSocket() error = %v", err)
	}

	closed := make(chan error, 1)
	frames := make(chan []byte, 4)
	go sock.readLoop(func(b []byte) { frames <- b }, func(err error) { closed <- err })

	select {
	case b := <-frames:
		if !strings.Contains(string(b), `"connected"`) {
			t.Errorf("first frame = %s", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no greeting")
	}

	if err := sock.write([]byte(`{"type":"note","data":{}}`)); err != nil {
		t.Fatalf("write() error = %v", err)
	}
	if !wstest.Eventually(time.Second, func() bool { return len(s.ReceivedOfType("note")) == 1 }) {
		t.Error("server did not receive frame")
	}

	sock.close()
	sock.close()
	if err := sock.write([]byte(`{}`)); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("write() after close = %v, want ErrConnectionClosed", err)
	}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit")
	}
}

func TestDialSocket_Rejected(t *testing.T) {
	s := wstest.Start(wstest.Options{Token: "right"})
	defer s.Close()

	d := &websocket.Dialer{HandshakeTimeout: time.Second}
	_, err := dialSocket(context.Background(), d, s.URL()+"?token=wrong", nil, DefaultConfig())

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if te.Op != "dial" || te.StatusCode != http.StatusUnauthorized {
		t.Errorf("TransportError = %+v", te)
	}
}
