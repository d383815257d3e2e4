// Package backoff computes reconnect delays.
package backoff
