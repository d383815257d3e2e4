// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection state and reconnect attempts
//   - Frame and byte rates per direction
//   - Heartbeat timeouts and round-trip latency
//   - Request outcomes and handler failures
//   - Recorder row throughput
package metrics
