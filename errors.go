package matchsocket

import (
	"bytes"
	"encoding/json"
	"errors"
)

var (
	// ErrNotConnected is returned by SendMessage when no live transport exists.
	// Fire-and-forget signals drop silently instead.
	ErrNotConnected = errors.New("not connected")
	// ErrNotAuthenticated is returned by SendMessage when no identity is set
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrDisconnected rejects sends still pending when Disconnect is called
	ErrDisconnected = errors.New("disconnected while sending")
	// ErrTimeout is returned by RejectOnTimeout
	ErrTimeout = errors.New("send timed out")
	// ErrTransportRejected matches every *TransportError
	ErrTransportRejected = errors.New("rejected by backend")

	ErrEmptyUserID = errors.New("user id is empty")
	ErrClosed      = errors.New("manager closed")
)

// TransportError is an explicit failure reported by the backend, either in an
// ack callback or in an error frame
type TransportError struct {
	Event   string
	Message string
}

func (e *TransportError) Error() string {
	return e.Event + ": " + e.Message
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransportRejected
}

// errorText extracts a human readable reason from an error payload, which the
// backend sends as a bare string or as an object with a message field
func errorText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error != "" {
			return obj.Error
		}
	}
	return string(raw)
}
