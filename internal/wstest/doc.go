// Package wstest provides a scriptable realtime server for tests and local
// development.
//
// The server speaks the same frame protocol as production: it checks the
// token query parameter, greets each socket with a connected frame,
// answers ping, subscribe and unsubscribe, and echoes any frame carrying a
// request_id back as "<type>.result". Every frame it receives is recorded.
//
// Failure injection:
//   - DropAll closes every socket without a close handshake
//   - SilenceHeartbeats stops answering pings, simulating a half-open link
//   - RejectHandshakes refuses upgrades
//   - SetRespond(false) swallows requests so callers time out
package wstest
