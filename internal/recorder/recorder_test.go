package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/soc-realtime/internal/connection"
	"github.com/rickgao/soc-realtime/internal/protocol"
)

type fakeResults struct {
	err error
}

func (f *fakeResults) Exec() (pgconn.CommandTag, error) {
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}
func (f *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (f *fakeResults) QueryRow() pgx.Row        { return nil }
func (f *fakeResults) Close() error             { return nil }

type fakeDB struct {
	mu      sync.Mutex
	execs   []string
	batches [][][]any
	fail    error
}

func (d *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.execs = append(d.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (d *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	d.mu.Lock()
	defer d.mu.Unlock()
	var args [][]any
	for _, q := range b.QueuedQueries {
		args = append(args, q.Arguments)
	}
	d.batches = append(d.batches, args)
	return &fakeResults{err: d.fail}
}

func (d *fakeDB) rows() [][]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out [][]any
	for _, b := range d.batches {
		out = append(out, b...)
	}
	return out
}

func (d *fakeDB) batchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.batches)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestFrameRow(t *testing.T) {
	r := New(DefaultConfig(), &fakeDB{}, nil)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		frame     protocol.Frame
		wantTopic string
		wantData  string
	}{
		{
			name:      "source is topic",
			frame:     protocol.Frame{Type: "alert.created", Source: "alerts", Data: json.RawMessage(`{"id":1}`), Timestamp: &ts},
			wantTopic: "alerts",
			wantData:  `{"id":1}`,
		},
		{
			name:      "topic from data",
			frame:     protocol.Frame{Type: protocol.TypeSubscribed, Data: json.RawMessage(`{"topic":"incidents"}`)},
			wantTopic: "incidents",
			wantData:  `{"topic":"incidents"}`,
		},
		{
			name:     "empty data",
			frame:    protocol.Frame{Type: protocol.TypePong},
			wantData: `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := r.frameRow(tt.frame)
			if row.Kind != KindFrame {
				t.Errorf("Kind = %s, want %s", row.Kind, KindFrame)
			}
			if row.FrameType != tt.frame.Type {
				t.Errorf("FrameType = %s, want %s", row.FrameType, tt.frame.Type)
			}
			if row.Topic != tt.wantTopic {
				t.Errorf("Topic = %q, want %q", row.Topic, tt.wantTopic)
			}
			if string(row.Payload) != tt.wantData {
				t.Errorf("Payload = %s, want %s", row.Payload, tt.wantData)
			}
			if tt.frame.Timestamp != nil && !row.RecordedAt.Equal(ts) {
				t.Errorf("RecordedAt = %v, want %v", row.RecordedAt, ts)
			}
		})
	}
}

func TestRecordFrame_TracksConnectionID(t *testing.T) {
	r := New(DefaultConfig(), &fakeDB{}, nil)

	r.RecordFrame(protocol.MustNew(protocol.TypeConnected, protocol.ConnectedData{ConnectionID: "conn-1"}))
	row := r.frameRow(protocol.Frame{Type: "alert.created", RequestID: "req-9"})
	if row.ConnectionID != "conn-1" {
		t.Errorf("ConnectionID = %q, want conn-1", row.ConnectionID)
	}
	if row.RequestID != "req-9" {
		t.Errorf("RequestID = %q, want req-9", row.RequestID)
	}

	// The next session's connected frame replaces the id.
	r.RecordFrame(protocol.MustNew(protocol.TypeConnected, protocol.ConnectedData{ConnectionID: "conn-2"}))
	row = r.frameRow(protocol.Frame{Type: "alert.created"})
	if row.ConnectionID != "conn-2" {
		t.Errorf("ConnectionID = %q, want conn-2", row.ConnectionID)
	}
}

func TestRecordStateChange_LateEventKeepsConnectionID(t *testing.T) {
	r := New(DefaultConfig(), &fakeDB{}, nil)

	// Session 2 is already established when the observer goroutine delivers
	// the transitions that led to it.
	r.RecordFrame(protocol.MustNew(protocol.TypeConnected, protocol.ConnectedData{ConnectionID: "conn-2"}))
	r.RecordStateChange(connection.StateChange{From: connection.StateConnected, To: connection.StateReconnecting})
	r.RecordStateChange(connection.StateChange{From: connection.StateReconnecting, To: connection.StateConnecting})

	row := r.frameRow(protocol.Frame{Type: "alert.created"})
	if row.ConnectionID != "conn-2" {
		t.Errorf("ConnectionID = %q after late state events, want conn-2", row.ConnectionID)
	}

	stateRow := r.stateRow(connection.StateChange{From: connection.StateReconnecting, To: connection.StateConnecting})
	if stateRow.ConnectionID != "" {
		t.Errorf("state row ConnectionID = %q, want empty without stats id", stateRow.ConnectionID)
	}
}

func TestStateRow(t *testing.T) {
	r := New(DefaultConfig(), &fakeDB{}, nil)
	row := r.stateRow(connection.StateChange{
		From:  connection.StateConnected,
		To:    connection.StateReconnecting,
		Err:   connection.ErrHeartbeatTimeout,
		Stats: connection.Stats{Attempt: 2, ConnectionID: "conn-7"},
	})

	if row.Kind != KindState || row.FrameType != FrameTypeStateChange {
		t.Errorf("row = %s/%s, want %s/%s", row.Kind, row.FrameType, KindState, FrameTypeStateChange)
	}
	if row.ConnectionID != "conn-7" {
		t.Errorf("ConnectionID = %q, want conn-7", row.ConnectionID)
	}

	var body map[string]any
	if err := json.Unmarshal(row.Payload, &body); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if body["from"] != "connected" || body["to"] != "reconnecting" {
		t.Errorf("payload = %v", body)
	}
	if body["attempt"] != float64(2) {
		t.Errorf("attempt = %v, want 2", body["attempt"])
	}
	if !strings.Contains(body["error"].(string), "heartbeat") {
		t.Errorf("error = %v", body["error"])
	}
}

func TestRecorder_FlushesOnBatchSize(t *testing.T) {
	db := &fakeDB{}
	r := New(Config{BatchSize: 3, FlushInterval: time.Hour, BufferSize: 10}, db, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		r.RecordFrame(protocol.Frame{Type: "alert.created", Source: "alerts"})
	}
	waitFor(t, func() bool { return db.batchCount() == 1 })

	rows := db.rows()
	if len(rows) != 3 {
		t.Fatalf("inserted %d rows, want 3", len(rows))
	}
	if rows[0][1] != KindFrame || rows[0][2] != "alert.created" || rows[0][3] != "alerts" {
		t.Errorf("row args = %v", rows[0])
	}
	if rows[0][4] != nil {
		t.Errorf("empty request_id = %v, want NULL", rows[0][4])
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if s := r.Stats(); s.Inserted != 3 || s.Flushes != 1 {
		t.Errorf("stats = %+v, want 3 inserted in 1 flush", s)
	}
}

func TestRecorder_FlushesOnInterval(t *testing.T) {
	db := &fakeDB{}
	r := New(Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond, BufferSize: 10}, db, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop(context.Background())

	r.RecordStateChange(connection.StateChange{From: connection.StateDisconnected, To: connection.StateConnecting})
	waitFor(t, func() bool { return len(db.rows()) == 1 })
}

func TestRecorder_StopFlushesRemaining(t *testing.T) {
	db := &fakeDB{}
	r := New(Config{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 10}, db, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	r.RecordFrame(protocol.Frame{Type: "a"})
	r.RecordFrame(protocol.Frame{Type: "b"})

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := len(db.rows()); got != 2 {
		t.Errorf("rows after Stop = %d, want 2", got)
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	r := New(Config{BatchSize: 10, FlushInterval: time.Hour, BufferSize: 2}, &fakeDB{}, nil)

	// Not started, so nothing drains the queue.
	if !r.RecordFrame(protocol.Frame{Type: "a"}) || !r.RecordFrame(protocol.Frame{Type: "b"}) {
		t.Fatal("rows within capacity were dropped")
	}
	if r.RecordFrame(protocol.Frame{Type: "c"}) {
		t.Error("RecordFrame() = true on a full buffer")
	}

	s := r.Stats()
	if s.Queued != 2 || s.Dropped != 1 {
		t.Errorf("stats = %+v, want 2 queued 1 dropped", s)
	}
}

func TestRecorder_InsertFailure(t *testing.T) {
	db := &fakeDB{fail: errors.New("relation does not exist")}
	r := New(Config{BatchSize: 1, FlushInterval: time.Hour, BufferSize: 10}, db, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop(context.Background())

	r.RecordFrame(protocol.Frame{Type: "a"})
	waitFor(t, func() bool { return r.Stats().Failed == 1 })
	if s := r.Stats(); s.Inserted != 0 {
		t.Errorf("Inserted = %d, want 0", s.Inserted)
	}
}

func TestRecorder_EnsureSchema(t *testing.T) {
	db := &fakeDB{}
	r := New(DefaultConfig(), db, nil)
	if err := r.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if len(db.execs) != 1 || !strings.Contains(db.execs[0], "CREATE TABLE IF NOT EXISTS realtime_events") {
		t.Errorf("execs = %v", db.execs)
	}
}

func TestRecorder_StopWithoutStart(t *testing.T) {
	r := New(DefaultConfig(), &fakeDB{}, nil)
	if err := r.Stop(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop() error = %v, want ErrNotStarted", err)
	}
}
