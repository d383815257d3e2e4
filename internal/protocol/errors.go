package protocol

import "fmt"

// ServerError is a failure reported by the server in an error frame.
type ServerError struct {
	Code      string
	Message   string
	Topic     string
	RequestID string
}

func (e *ServerError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("server error %s on %s: %s", e.Code, e.Topic, e.Message)
	}
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// AsServerError converts an error frame to a ServerError. It returns nil for
// any other frame type.
func AsServerError(f Frame) *ServerError {
	if f.Kind() != KindError {
		return nil
	}
	var data ErrorData
	_ = f.Decode(&data)
	if data.Code == "" {
		data.Code = "unknown"
	}
	return &ServerError{
		Code:      data.Code,
		Message:   data.Message,
		Topic:     data.Topic,
		RequestID: f.RequestID,
	}
}
