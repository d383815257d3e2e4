package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Reserved frame types.
const (
	TypePing         = "ping"
	TypePong         = "pong"
	TypeConnected    = "connected"
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeError        = "error"
)

var (
	ErrMissingType = errors.New("frame has no type")
	ErrInvalidData = errors.New("frame data is not a JSON object")
)

// Kind classifies a frame type. Reserved types each get their own kind;
// every other type is KindApplication.
type Kind uint8

const (
	KindApplication Kind = iota
	KindPing
	KindPong
	KindConnected
	KindSubscribe
	KindUnsubscribe
	KindSubscribed
	KindUnsubscribed
	KindError
)

var kindNames = [...]string{
	KindApplication:  "application",
	KindPing:         TypePing,
	KindPong:         TypePong,
	KindConnected:    TypeConnected,
	KindSubscribe:    TypeSubscribe,
	KindUnsubscribe:  TypeUnsubscribe,
	KindSubscribed:   TypeSubscribed,
	KindUnsubscribed: TypeUnsubscribed,
	KindError:        TypeError,
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Reserved reports whether the kind belongs to the transport layer.
func (k Kind) Reserved() bool {
	return k != KindApplication
}

// Classify maps a frame type to its kind.
func Classify(frameType string) Kind {
	switch frameType {
	case TypePing:
		return KindPing
	case TypePong:
		return KindPong
	case TypeConnected:
		return KindConnected
	case TypeSubscribe:
		return KindSubscribe
	case TypeUnsubscribe:
		return KindUnsubscribe
	case TypeSubscribed:
		return KindSubscribed
	case TypeUnsubscribed:
		return KindUnsubscribed
	case TypeError:
		return KindError
	default:
		return KindApplication
	}
}

// Frame is one discrete message on the socket.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Source    string          `json:"source,omitempty"`
	Target    string          `json:"target,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// timestampLayouts are tried in order. Layouts without a zone read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp, with or without a zone offset.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// UnmarshalJSON accepts any ISO-8601 timestamp. A timestamp that cannot be
// parsed leaves Timestamp nil instead of rejecting the frame.
func (f *Frame) UnmarshalJSON(b []byte) error {
	type plain Frame
	aux := struct {
		*plain
		Timestamp json.RawMessage `json:"timestamp,omitempty"`
	}{plain: (*plain)(f)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	f.Timestamp = nil
	var s string
	if len(aux.Timestamp) == 0 || json.Unmarshal(aux.Timestamp, &s) != nil {
		return nil
	}
	if t, ok := ParseTimestamp(s); ok {
		f.Timestamp = &t
	}
	return nil
}

// Kind returns the frame's classification.
func (f Frame) Kind() Kind {
	return Classify(f.Type)
}

// Decode unmarshals the frame data into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", f.Type, err)
	}
	return nil
}

// Fields returns the frame data as a generic map.
func (f Frame) Fields() map[string]any {
	out := map[string]any{}
	if len(f.Data) > 0 {
		_ = json.Unmarshal(f.Data, &out)
	}
	return out
}

// New builds a frame of the given type. data may be nil, a json.RawMessage,
// or any value that marshals to a JSON object.
func New(frameType string, data any) (Frame, error) {
	if frameType == "" {
		return Frame{}, ErrMissingType
	}
	f := Frame{Type: frameType}
	if data == nil {
		return f, nil
	}

	var raw json.RawMessage
	switch v := data.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Frame{}, fmt.Errorf("marshal %s data: %w", frameType, err)
		}
		raw = b
	}
	if !isObject(raw) {
		return Frame{}, ErrInvalidData
	}
	f.Data = raw
	return f, nil
}

// MustNew is New for payloads known to be valid at compile time.
func MustNew(frameType string, data any) Frame {
	f, err := New(frameType, data)
	if err != nil {
		panic(err)
	}
	return f
}

// Stamp returns a copy of f with Timestamp set to t when it is empty.
func (f Frame) Stamp(t time.Time) Frame {
	if f.Timestamp == nil {
		ts := t.UTC()
		f.Timestamp = &ts
	}
	return f
}

// Encode marshals a frame for the wire.
func Encode(f Frame) ([]byte, error) {
	if f.Type == "" {
		return nil, ErrMissingType
	}
	return json.Marshal(f)
}

// Decode parses a wire message.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("parse frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, ErrMissingType
	}
	if len(f.Data) > 0 && string(f.Data) != "null" && !isObject(f.Data) {
		return Frame{}, ErrInvalidData
	}
	return f, nil
}

func isObject(raw json.RawMessage) bool {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
