package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	return string(body)
}

func TestSetConnectionState(t *testing.T) {
	states := []string{"disconnected", "connecting", "connected"}

	SetConnectionState("connecting", states)
	out := scrape(t)
	if !strings.Contains(out, `realtime_connection_state{state="connecting"} 1`) {
		t.Errorf("connecting not active:\n%s", out)
	}

	SetConnectionState("connected", states)
	out = scrape(t)
	if !strings.Contains(out, `realtime_connection_state{state="connecting"} 0`) {
		t.Errorf("connecting still active:\n%s", out)
	}
	if !strings.Contains(out, `realtime_connection_state{state="connected"} 1`) {
		t.Errorf("connected not active:\n%s", out)
	}
}

func TestInit_Idempotent(t *testing.T) {
	first := Init()
	second := Init()
	if first != second {
		t.Error("Init returned different registries")
	}
}

func TestHandler_ExposesCollectors(t *testing.T) {
	ReconnectAttemptsTotal.Inc()
	FramesTotal.WithLabelValues(DirectionIn, "pong").Inc()

	out := scrape(t)
	for _, name := range []string{
		"realtime_reconnect_attempts_total",
		"realtime_frames_total",
		"go_goroutines",
	} {
		if !strings.Contains(out, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
