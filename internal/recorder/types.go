package recorder

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Row kinds.
const (
	KindFrame = "frame"
	KindState = "state"
)

// FrameTypeStateChange is the frame_type stored for state change rows.
const FrameTypeStateChange = "state_change"

var ErrNotStarted = errors.New("recorder not started")

// DB is the subset of *pgxpool.Pool the recorder needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config contains configuration for the recorder.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize bounds the queue between Record calls and the writer.
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Row is one realtime_events row.
type Row struct {
	RecordedAt   time.Time
	Kind         string // KindFrame or KindState
	FrameType    string
	Topic        string
	RequestID    string
	ConnectionID string
	Payload      []byte // JSONB
}

// Stats holds recorder counters.
type Stats struct {
	Queued   int64
	Dropped  int64
	Inserted int64
	Failed   int64
	Flushes  int64
}
