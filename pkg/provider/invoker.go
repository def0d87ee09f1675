package provider

import (
	"context"
	"io"
)

// Invoker performs a synchronous backend call. Hosts supply one per family,
// usually wrapping a cloud SDK client. Timeouts are the invoker's concern.
type Invoker interface {
	Invoke(ctx context.Context, payload *BackendPayload) (*BackendResponse, error)
}

// StreamInvoker opens a backend event stream.
type StreamInvoker interface {
	InvokeStreaming(ctx context.Context, payload *BackendPayload) (EventStream, error)
}

// EventStream is a pull-based sequence of normalized backend events.
// Next returns io.EOF once the backend has closed the stream cleanly; any
// other error is a transport failure. Close releases the underlying
// connection and may be called more than once.
type EventStream interface {
	Next(ctx context.Context) (BackendEvent, error)
	Close() error
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, payload *BackendPayload) (*BackendResponse, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, payload *BackendPayload) (*BackendResponse, error) {
	return f(ctx, payload)
}

// StreamInvokerFunc adapts a function to the StreamInvoker interface.
type StreamInvokerFunc func(ctx context.Context, payload *BackendPayload) (EventStream, error)

// InvokeStreaming calls f.
func (f StreamInvokerFunc) InvokeStreaming(ctx context.Context, payload *BackendPayload) (EventStream, error) {
	return f(ctx, payload)
}

// SliceStream replays a fixed list of events, optionally failing with Err
// once they are exhausted. Hosts use it for canned responses and tests use
// it as a stub backend.
type SliceStream struct {
	Events []BackendEvent
	Err    error

	pos    int
	closed bool
}

// Next returns the next event, Err once the events run out, or io.EOF when
// Err is nil.
func (s *SliceStream) Next(ctx context.Context) (BackendEvent, error) {
	if err := ctx.Err(); err != nil {
		return BackendEvent{}, err
	}
	if s.closed {
		return BackendEvent{}, io.ErrClosedPipe
	}
	if s.pos < len(s.Events) {
		ev := s.Events[s.pos]
		s.pos++
		return ev, nil
	}
	if s.Err != nil {
		return BackendEvent{}, s.Err
	}
	return BackendEvent{}, io.EOF
}

// Close marks the stream closed.
func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *SliceStream) Closed() bool {
	return s.closed
}
