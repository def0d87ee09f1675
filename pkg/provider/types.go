package provider

import (
	"encoding/json"
)

// BackendPayload is the encoded, backend-native request. Body is what the
// invoker sends on the wire. PromptText is the flattened prompt as the
// backend will see it and only feeds usage estimation.
type BackendPayload struct {
	Family     string          `json:"family"`
	Kind       Kind            `json:"kind"`
	Model      string          `json:"model"`
	Body       json.RawMessage `json:"body"`
	Stream     bool            `json:"stream"`
	PromptText string          `json:"-"`

	// DiscardedMessages are the request message indices dropped by prompt
	// truncation.
	DiscardedMessages []int `json:"discarded_messages,omitempty"`
}

// BackendResponse is the raw body of a synchronous backend call.
type BackendResponse struct {
	Body json.RawMessage `json:"body"`
}

// BackendEventType classifies an event after boundary normalization.
type BackendEventType int

const (
	BackendEventData  BackendEventType = iota // A decoded JSON payload
	BackendEventDone                          // Wire-level end sentinel (e.g., SSE [DONE])
	BackendEventError                         // In-band error frame from the backend
)

// String returns the event type name for logs.
func (t BackendEventType) String() string {
	switch t {
	case BackendEventData:
		return "data"
	case BackendEventDone:
		return "done"
	case BackendEventError:
		return "error"
	default:
		return "unknown"
	}
}

// BackendEvent is one event of a backend stream after it has been
// normalized from its wire format (SSE, NDJSON, length-prefixed frames).
type BackendEvent struct {
	// Type indicates what kind of event this is.
	Type BackendEventType

	// Name is the wire-level event name when the format carries one
	// (the SSE "event:" field or a frame's ":event-type" header).
	Name string

	// Data is the event payload.
	Data json.RawMessage
}

// DataEvent is a shorthand for building a BackendEventData value.
func DataEvent(name string, data string) BackendEvent {
	return BackendEvent{Type: BackendEventData, Name: name, Data: json.RawMessage(data)}
}
