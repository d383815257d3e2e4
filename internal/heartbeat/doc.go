// Package heartbeat proves liveness of an established connection.
//
// The monitor sends a ping every interval. Any inbound traffic counts as
// liveness; a pong additionally yields a round-trip measurement. After
// MaxMissed consecutive intervals with no liveness the monitor reports the
// connection dead and stops itself.
package heartbeat
