package api

import "fmt"

// StreamState is a lifecycle state of one transcoded stream.
type StreamState string

const (
	StreamIdle       StreamState = "idle"
	StreamOpen       StreamState = "open"
	StreamStreaming  StreamState = "streaming"
	StreamFinalizing StreamState = "finalizing"
	StreamClosed     StreamState = "closed"
	StreamErrored    StreamState = "errored"
)

// streamTransitions lists the allowed successors of each state. Closed has
// no successors. Every non-terminal state may move to Closed when the caller
// cancels.
var streamTransitions = map[StreamState][]StreamState{
	StreamIdle:       {StreamOpen, StreamErrored, StreamClosed},
	StreamOpen:       {StreamStreaming, StreamFinalizing, StreamErrored, StreamClosed},
	StreamStreaming:  {StreamStreaming, StreamFinalizing, StreamErrored, StreamClosed},
	StreamFinalizing: {StreamClosed},
	StreamErrored:    {StreamClosed},
	StreamClosed:     {},
}

// ValidateStreamTransition checks whether a stream may move from one state
// to another.
func ValidateStreamTransition(from, to StreamState) *Error {
	allowed, exists := streamTransitions[from]
	if !exists {
		return NewTranscodingError(
			fmt.Sprintf("invalid stream transition from %s to %s", from, to), nil)
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return NewTranscodingError(
		fmt.Sprintf("invalid stream transition from %s to %s", from, to), nil)
}
