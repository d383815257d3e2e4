package recorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/soc-realtime/internal/connection"
	"github.com/rickgao/soc-realtime/internal/metrics"
	"github.com/rickgao/soc-realtime/internal/protocol"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS realtime_events (
	id            BIGSERIAL PRIMARY KEY,
	recorded_at   TIMESTAMPTZ NOT NULL,
	kind          TEXT NOT NULL,
	frame_type    TEXT NOT NULL,
	topic         TEXT,
	request_id    TEXT,
	connection_id TEXT,
	payload       JSONB
);
CREATE INDEX IF NOT EXISTS realtime_events_recorded_at_idx ON realtime_events (recorded_at);
`

const insertSQL = `
	INSERT INTO realtime_events (recorded_at, kind, frame_type, topic, request_id, connection_id, payload)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// Recorder batches frames and state changes into realtime_events.
type Recorder struct {
	cfg    Config
	db     DB
	logger *slog.Logger
	now    func() time.Time

	input  chan Row
	connID atomic.Value // string

	// Owned by the run loop
	batch []Row

	statsMu sync.Mutex
	stats   Stats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Recorder. Zero config fields take DefaultConfig values.
func New(cfg Config, db DB, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = d.BufferSize
	}
	r := &Recorder{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "recorder"),
		now:    time.Now,
		input:  make(chan Row, cfg.BufferSize),
		batch:  make([]Row, 0, cfg.BatchSize),
	}
	r.connID.Store("")
	return r
}

// EnsureSchema creates realtime_events if it does not exist.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schemaSQL)
	return err
}

// Start begins consuming rows and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run(ctx)

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
		"buffer_size", r.cfg.BufferSize,
	)
	return nil
}

// Stop drains queued rows and performs a final flush bounded by ctx.
func (r *Recorder) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return ErrNotStarted
	}
	r.logger.Info("stopping recorder")
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
		return ctx.Err()
	}

drain:
	for {
		select {
		case row := <-r.input:
			r.batch = append(r.batch, row)
		default:
			break drain
		}
	}
	r.flush(ctx)
	r.logger.Info("recorder stopped")
	return nil
}

// Stats returns current counters.
func (r *Recorder) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

// RecordFrame queues a routed frame. It reports false when the row was
// dropped because the buffer is full.
func (r *Recorder) RecordFrame(f protocol.Frame) bool {
	if f.Type == protocol.TypeConnected {
		var d protocol.ConnectedData
		if err := f.Decode(&d); err == nil && d.ConnectionID != "" {
			r.connID.Store(d.ConnectionID)
		}
	}
	return r.enqueue(r.frameRow(f))
}

// Handle adapts RecordFrame to a message handler.
func (r *Recorder) Handle(f protocol.Frame) error {
	r.RecordFrame(f)
	return nil
}

// RecordStateChange queues a connection transition. It never touches the
// frame connection id: state changes arrive on the observer goroutine and
// may trail the next session's connected frame.
func (r *Recorder) RecordStateChange(c connection.StateChange) bool {
	return r.enqueue(r.stateRow(c))
}

func (r *Recorder) enqueue(row Row) bool {
	select {
	case r.input <- row:
		r.bump(func(s *Stats) { s.Queued++ })
		return true
	default:
		r.bump(func(s *Stats) { s.Dropped++ })
		metrics.RecorderRowsTotal.WithLabelValues(metrics.RowsDropped).Inc()
		return false
	}
}

func (r *Recorder) bump(fn func(*Stats)) {
	r.statsMu.Lock()
	fn(&r.stats)
	r.statsMu.Unlock()
}

// frameRow converts a frame to a row.
func (r *Recorder) frameRow(f protocol.Frame) Row {
	at := r.now()
	if f.Timestamp != nil {
		at = *f.Timestamp
	}
	payload := []byte(f.Data)
	if len(payload) == 0 || string(payload) == "null" {
		payload = []byte("{}")
	}
	return Row{
		RecordedAt:   at.UTC(),
		Kind:         KindFrame,
		FrameType:    f.Type,
		Topic:        frameTopic(f),
		RequestID:    f.RequestID,
		ConnectionID: r.connID.Load().(string),
		Payload:      payload,
	}
}

// stateRow converts a transition to a row.
func (r *Recorder) stateRow(c connection.StateChange) Row {
	body := map[string]any{
		"from":            c.From.String(),
		"to":              c.To.String(),
		"attempt":         c.Stats.Attempt,
		"reconnect_count": c.Stats.ReconnectCount,
	}
	if c.Err != nil {
		body["error"] = c.Err.Error()
	}
	payload, _ := json.Marshal(body)

	return Row{
		RecordedAt:   r.now().UTC(),
		Kind:         KindState,
		FrameType:    FrameTypeStateChange,
		ConnectionID: c.Stats.ConnectionID,
		Payload:      payload,
	}
}

// frameTopic is the frame source, falling back to a "topic" data field.
func frameTopic(f protocol.Frame) string {
	if f.Source != "" {
		return f.Source
	}
	if topic, ok := f.Fields()["topic"].(string); ok {
		return topic
	}
	return ""
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case row := <-r.input:
			r.batch = append(r.batch, row)
			if len(r.batch) >= r.cfg.BatchSize {
				r.flush(ctx)
			}
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

// flush writes the current batch to the database.
func (r *Recorder) flush(ctx context.Context) {
	if len(r.batch) == 0 {
		return
	}
	rows := r.batch
	r.batch = make([]Row, 0, r.cfg.BatchSize)

	start := time.Now()
	if err := r.batchInsert(ctx, rows); err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(rows))
		r.bump(func(s *Stats) { s.Failed += int64(len(rows)) })
		metrics.RecorderRowsTotal.WithLabelValues(metrics.RowsFailed).Add(float64(len(rows)))
		return
	}

	r.bump(func(s *Stats) {
		s.Inserted += int64(len(rows))
		s.Flushes++
	})
	metrics.RecorderRowsTotal.WithLabelValues(metrics.RowsInserted).Add(float64(len(rows)))

	r.logger.Debug("flushed events",
		"count", len(rows),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch.
func (r *Recorder) batchInsert(ctx context.Context, rows []Row) error {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(insertSQL,
			row.RecordedAt, row.Kind, row.FrameType,
			nullable(row.Topic), nullable(row.RequestID), nullable(row.ConnectionID),
			row.Payload,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
