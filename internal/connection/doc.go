// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns a single WebSocket to the realtime server
//   - Moves through Disconnected, Connecting, Connected, Reconnecting
//     and Failed, one transition at a time
//   - Proves liveness with the heartbeat monitor and treats silence as
//     a dead connection
//   - Reconnects with exponential backoff up to a configured cap
//   - Replays every desired subscription after each successful open
//   - Routes inbound frames through the Message Router
//
// Every transition runs under one mutex. Each dial, socket, heartbeat
// session and retry timer is tagged with a generation number, and callbacks
// from a superseded generation are ignored. State and error observers are
// called in order on a dedicated goroutine, never under the manager lock.
package connection
