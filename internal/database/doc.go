// Package database provides connection pool management for PostgreSQL.
//
// The realtime client keeps a single pool, used by the recorder to persist
// inbound frames and connection transitions for the console's audit trail.
package database
