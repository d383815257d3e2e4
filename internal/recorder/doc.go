// Package recorder persists realtime traffic to Postgres.
//
// The recorder:
//   - Accepts every routed frame and every connection state change
//   - Buffers rows in a bounded queue, dropping (and counting) on overflow
//   - Flushes batches on size or on a ticker using pgx.Batch
//
// Rows are append-only. Record calls never block, so the recorder can be
// attached straight to the router's read path.
package recorder
