// Package transcoder converts a backend event stream into canonical chunks.
//
// A Transcoder drives one stream through the state machine
//
//	Idle -> Open -> Streaming* -> Finalizing -> Closed
//	             \-> Errored -> Closed
//
// Every stream it emits ends with exactly one terminal chunk, unless the
// caller went away (context cancellation or sink failure), in which case
// nothing further is emitted.
package transcoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/debug"
	"github.com/rhuss/modelbridge/pkg/errmap"
	"github.com/rhuss/modelbridge/pkg/observability"
	"github.com/rhuss/modelbridge/pkg/provider"
)

// Sink receives canonical chunks in arrival order. An error from Emit means
// the caller is gone.
type Sink interface {
	Emit(ctx context.Context, chunk *api.CanonicalChunk) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, chunk *api.CanonicalChunk) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, chunk *api.CanonicalChunk) error {
	return f(ctx, chunk)
}

// Collector is a Sink that keeps every chunk. It is not safe for
// concurrent use.
type Collector struct {
	Chunks []api.CanonicalChunk
}

// Emit appends chunk.
func (c *Collector) Emit(_ context.Context, chunk *api.CanonicalChunk) error {
	c.Chunks = append(c.Chunks, *chunk)
	return nil
}

// Response folds the collected chunks into a response.
func (c *Collector) Response() *api.CanonicalResponse {
	return api.Collect(c.Chunks)
}

// ErrSinkClosed wraps sink failures returned by Run.
var ErrSinkClosed = errors.New("stream sink closed")

// Transcoder runs one stream. It is single-use and not safe for concurrent
// use.
type Transcoder struct {
	adapter provider.Adapter
	payload *provider.BackendPayload
	mapper  *errmap.Mapper

	decode *provider.StreamState
	state  api.StreamState

	emitted  int
	terminal *api.CanonicalChunk
}

// New creates a transcoder for a stream opened with payload.
func New(adapter provider.Adapter, payload *provider.BackendPayload, mapper *errmap.Mapper) *Transcoder {
	if mapper == nil {
		mapper = errmap.New(nil)
	}
	return &Transcoder{
		adapter: adapter,
		payload: payload,
		mapper:  mapper,
		decode:  adapter.NewStreamState(payload),
		state:   api.StreamIdle,
	}
}

// State returns the current stream state.
func (t *Transcoder) State() api.StreamState {
	return t.state
}

// Emitted returns the number of chunks delivered to the sink.
func (t *Transcoder) Emitted() int {
	return t.emitted
}

// Terminal returns the terminal chunk that was emitted, or nil.
func (t *Transcoder) Terminal() *api.CanonicalChunk {
	return t.terminal
}

// Fail ends a stream that could not be opened. It emits the error terminal
// chunk and closes, exactly as for a failure after the stream opened.
func (t *Transcoder) Fail(ctx context.Context, err error, sink Sink) error {
	return t.fail(ctx, err, sink)
}

// Run pulls events from stream until the backend finishes, fails, or the
// caller goes away. The stream is always closed before Run returns.
//
// Run returns nil once a terminal chunk (normal or error) was emitted. It
// returns context.Canceled on cancellation and an error wrapping
// ErrSinkClosed when the sink fails; in both cases no terminal chunk is
// emitted. An expired deadline counts as a backend timeout and ends the
// stream with an error chunk.
func (t *Transcoder) Run(ctx context.Context, stream provider.EventStream, sink Sink) error {
	defer stream.Close()

	observability.ActiveStreams.Inc()
	defer observability.ActiveStreams.Dec()

	if err := t.transition(api.StreamOpen); err != nil {
		return err
	}

	family := t.adapter.Name()
	start := time.Now()
	first := true

	for {
		ev, err := stream.Next(ctx)
		if cerr := ctx.Err(); cerr != nil {
			// A deadline is a backend timeout and still owes the caller a
			// terminal chunk; cancellation means the caller is gone.
			if errors.Is(cerr, context.DeadlineExceeded) {
				return t.fail(context.WithoutCancel(ctx), cerr, sink)
			}
			debug.Log("transcoder", "stream cancelled", "family", family, "emitted", t.emitted)
			t.close()
			return cerr
		}
		if first && err == nil {
			observability.BackendLatency.WithLabelValues(family, "stream").Observe(time.Since(start).Seconds())
			first = false
		}

		if errors.Is(err, io.EOF) {
			if t.decode.Finished() {
				return t.finalize(ctx, sink)
			}
			return t.fail(ctx, api.NewModelUnavailableError("backend stream ended without a terminal event"), sink)
		}
		if err != nil {
			return t.fail(ctx, err, sink)
		}

		if t.state == api.StreamOpen {
			if err := t.transition(api.StreamStreaming); err != nil {
				return err
			}
		}

		debug.Trace("transcoder", "backend event", "family", family, "type", ev.Type, "name", ev.Name)

		chunk, err := t.adapter.DecodeStreamEvent(ev, t.decode)
		if err != nil {
			return t.fail(ctx, err, sink)
		}
		if chunk != nil {
			if err := t.emit(ctx, chunk, sink); err != nil {
				return err
			}
		}
		if t.decode.Finished() {
			return t.finalize(ctx, sink)
		}
		if ev.Type == provider.BackendEventDone {
			return t.fail(ctx, api.NewModelUnavailableError("backend stream ended without a terminal event"), sink)
		}
	}
}

// finalize flushes buffered fragments and emits the terminal chunk.
func (t *Transcoder) finalize(ctx context.Context, sink Sink) error {
	if err := t.transition(api.StreamFinalizing); err != nil {
		return err
	}
	for _, chunk := range t.decode.Flush() {
		if err := t.emit(ctx, &chunk, sink); err != nil {
			return err
		}
	}
	term := t.decode.TerminalChunk()
	term.DiscardedMessages = t.payload.DiscardedMessages
	if err := t.emit(ctx, term, sink); err != nil {
		return err
	}
	t.terminal = term
	observability.RecordUsage(t.adapter.Name(), *term.Usage)
	t.close()
	return nil
}

// fail moves to Errored and emits the error terminal chunk. A content
// filter rejection is a normal outcome and finalizes instead.
func (t *Transcoder) fail(ctx context.Context, cause error, sink Sink) error {
	apiErr := t.mapper.Map(cause, t.payload.Model, t.adapter.Name())

	if apiErr.Kind == api.ErrorKindContentFiltered {
		debug.Log("transcoder", "content filtered", "family", t.adapter.Name(), "message", apiErr.Message)
		t.decode.Finish(api.FinishContentFilter)
		if t.state == api.StreamIdle {
			if err := t.transition(api.StreamOpen); err != nil {
				return err
			}
		}
		return t.finalize(ctx, sink)
	}

	if err := t.transition(api.StreamErrored); err != nil {
		return err
	}
	debug.Log("transcoder", "stream failed",
		"family", t.adapter.Name(), "model", t.payload.Model,
		"emitted", t.emitted, "error", apiErr.Error())

	term := api.ErrorChunk(apiErr, t.decode.Usage())
	if err := t.emit(ctx, term, sink); err != nil {
		return err
	}
	t.terminal = term
	t.close()
	return nil
}

func (t *Transcoder) emit(ctx context.Context, chunk *api.CanonicalChunk, sink Sink) error {
	if t.state == api.StreamClosed || t.terminal != nil {
		return api.NewTranscodingError("emit after stream closed", nil)
	}
	if err := sink.Emit(ctx, chunk); err != nil {
		t.close()
		return fmt.Errorf("%w: %w", ErrSinkClosed, err)
	}
	t.emitted++
	observability.StreamChunksTotal.WithLabelValues(t.adapter.Name()).Inc()
	return nil
}

func (t *Transcoder) transition(to api.StreamState) error {
	if err := api.ValidateStreamTransition(t.state, to); err != nil {
		return err
	}
	t.state = to
	return nil
}

// close moves to Closed from any non-closed state.
func (t *Transcoder) close() {
	if t.state != api.StreamClosed {
		t.state = api.StreamClosed
	}
}
