package protocol

import "time"

// SubscribeData is the payload of a subscribe frame.
type SubscribeData struct {
	Topic       string         `json:"topic"`
	Filters     map[string]any `json:"filters,omitempty"`
	Permissions []string       `json:"permissions,omitempty"`
}

// TopicData is the payload of unsubscribe, subscribed and unsubscribed frames.
type TopicData struct {
	Topic string `json:"topic"`
}

// ConnectedData is the payload of the server's connected frame.
type ConnectedData struct {
	ConnectionID string `json:"connection_id"`
}

// ErrorData is the payload of a server error frame.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Topic   string `json:"topic,omitempty"`
}

// HeartbeatData is carried by ping and echoed back by pong.
type HeartbeatData struct {
	SentAt int64 `json:"sent_at"` // Unix milliseconds
}

// Subscribe builds a subscribe control frame.
func Subscribe(topic string, filters map[string]any, permissions []string) Frame {
	return MustNew(TypeSubscribe, SubscribeData{
		Topic:       topic,
		Filters:     filters,
		Permissions: permissions,
	})
}

// Unsubscribe builds an unsubscribe control frame.
func Unsubscribe(topic string) Frame {
	return MustNew(TypeUnsubscribe, TopicData{Topic: topic})
}

// Ping builds a heartbeat probe stamped with t.
func Ping(t time.Time) Frame {
	return MustNew(TypePing, HeartbeatData{SentAt: t.UnixMilli()})
}

// Pong answers a ping, echoing its payload.
func Pong(ping Frame) Frame {
	f := Frame{Type: TypePong, Data: ping.Data}
	if len(f.Data) == 0 {
		f.Data = []byte(`{}`)
	}
	return f
}
