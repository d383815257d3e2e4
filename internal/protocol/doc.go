// Package protocol defines the JSON frames exchanged with the realtime server.
//
// Every message on the socket is a single Frame:
//
//	{"type": "...", "data": {...}, "timestamp": "...", "source": "...",
//	 "target": "...", "request_id": "..."}
//
// A small closed set of types is reserved for the transport itself
// (heartbeat, subscription control, server acks and errors). Everything else
// is an application message routed by type.
//
// Timestamps are written as RFC 3339 in UTC. On read any ISO-8601 form is
// accepted, zone-less values as UTC; an unreadable timestamp is dropped and
// the frame kept.
package protocol
