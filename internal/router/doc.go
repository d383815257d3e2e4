// Package router implements the Message Router component.
//
// The Message Router:
//   - Fans inbound frames out to handlers registered per frame type
//   - Isolates handlers from each other (errors logged, panics recovered)
//   - Correlates request/response pairs by request_id
//   - Removes every pending request on response, timeout, cancellation
//     or explicit rejection
package router
