package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/debug"
	"github.com/rhuss/modelbridge/pkg/errmap"
	"github.com/rhuss/modelbridge/pkg/observability"
	"github.com/rhuss/modelbridge/pkg/provider"
	"github.com/rhuss/modelbridge/pkg/router"
	"github.com/rhuss/modelbridge/pkg/transcoder"
)

// Engine dispatches canonical requests to backend families. It is safe for
// concurrent use; each call owns its own transcoder and stream state.
type Engine struct {
	router   *router.Router
	backends map[string]Backend
	mapper   *errmap.Mapper
	cfg      Config
}

// New creates an Engine. Every key of backends must name a family known to
// the router. Families without a backend can still be routed; calls to them
// fail with a ModelUnavailable error before any I/O.
func New(r *router.Router, backends map[string]Backend, cfg Config) (*Engine, error) {
	if r == nil {
		return nil, fmt.Errorf("engine: router must not be nil")
	}
	for family := range backends {
		if _, ok := r.Adapter(family); !ok {
			return nil, fmt.Errorf("engine: backend configured for unknown family %q", family)
		}
	}
	return &Engine{
		router:   r,
		backends: backends,
		mapper:   cfg.mapper(),
		cfg:      cfg,
	}, nil
}

// call carries the per-request context used for logging and metrics.
type call struct {
	id     string
	model  string
	family string
	mode   string
	start  time.Time
}

// Handle serves one request.
//
// When sink is non-nil and the request asks for streaming, chunks are
// emitted to sink as they arrive and the returned response is the
// aggregation of everything emitted. Otherwise the backend is called
// synchronously and sink is not used.
//
// Validation, routing and encoding failures are returned before any backend
// call and before anything is emitted. Once a stream has been opened, a
// backend failure is delivered as the terminal error chunk and also
// returned. A content filter rejection is not an error: the response
// carries finish_reason content_filter.
func (e *Engine) Handle(ctx context.Context, req *api.CanonicalRequest, sink transcoder.Sink) (*api.CanonicalResponse, error) {
	c := &call{id: api.NewRequestID(), mode: "sync", start: time.Now()}
	if req != nil {
		c.model = req.ModelID
		if sink != nil && req.Parameters.Stream {
			c.mode = "stream"
		}
	}

	resp, apiErr := e.handle(ctx, c, req, sink)
	e.finish(c, resp, apiErr)
	if apiErr != nil {
		return resp, apiErr
	}
	return resp, nil
}

func (e *Engine) handle(ctx context.Context, c *call, req *api.CanonicalRequest, sink transcoder.Sink) (*api.CanonicalResponse, *api.Error) {
	if apiErr := api.ValidateRequest(req, e.cfg.validation()); apiErr != nil {
		return nil, apiErr
	}

	adapter, err := e.router.Resolve(req.ModelID)
	if err != nil {
		return nil, e.mapper.Map(err, req.ModelID, "")
	}
	c.family = adapter.Name()

	if apiErr := provider.ValidateCapabilities(adapter.Capabilities(), req); apiErr != nil {
		return nil, apiErr.WithContext(req.ModelID, c.family)
	}

	backend, ok := e.backends[c.family]
	switch {
	case !ok || (backend.Invoker == nil && c.mode == "sync"):
		return nil, api.NewModelUnavailableError(
			fmt.Sprintf("no backend configured for family %q", c.family)).WithContext(req.ModelID, c.family)
	case c.mode == "stream" && backend.Streamer == nil:
		return nil, api.NewModelUnavailableError(
			fmt.Sprintf("no streaming backend configured for family %q", c.family)).WithContext(req.ModelID, c.family)
	}

	payload, err := adapter.EncodeRequest(ctx, req)
	if err != nil {
		return nil, e.mapper.Map(err, req.ModelID, c.family)
	}
	debug.Log("engine", "dispatching",
		"request_id", c.id, "model", req.ModelID, "family", c.family, "mode", c.mode)

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	if c.mode == "stream" {
		return e.stream(ctx, c, adapter, backend.Streamer, payload, sink)
	}
	return e.invoke(ctx, c, adapter, backend.Invoker, payload)
}

// invoke performs a synchronous call.
func (e *Engine) invoke(ctx context.Context, c *call, adapter provider.Adapter, inv provider.Invoker, payload *provider.BackendPayload) (*api.CanonicalResponse, *api.Error) {
	start := time.Now()
	raw, err := inv.Invoke(ctx, payload)
	observability.BackendLatency.WithLabelValues(c.family, "sync").Observe(time.Since(start).Seconds())

	var resp *api.CanonicalResponse
	if err == nil {
		resp, err = adapter.DecodeResponse(payload, raw)
	}
	if err != nil {
		apiErr := e.mapper.Map(err, payload.Model, c.family)
		if apiErr.Kind != api.ErrorKindContentFiltered {
			return nil, apiErr
		}
		debug.Log("engine", "content filtered", "request_id", c.id, "message", apiErr.Message)
		resp = filteredResponse(adapter, payload)
	}
	resp.DiscardedMessages = payload.DiscardedMessages

	observability.RecordUsage(c.family, resp.Usage)
	return resp, nil
}

// filteredResponse is the answer to a request the backend refused to
// complete. Usage is estimated from the prompt.
func filteredResponse(adapter provider.Adapter, payload *provider.BackendPayload) *api.CanonicalResponse {
	st := adapter.NewStreamState(payload)
	st.Finish(api.FinishContentFilter)
	return &api.CanonicalResponse{
		Message:      api.CanonicalMessage{Role: api.RoleAssistant},
		FinishReason: api.FinishContentFilter,
		Usage:        st.Usage(),
	}
}

// stream opens a backend stream and transcodes it into sink.
func (e *Engine) stream(ctx context.Context, c *call, adapter provider.Adapter, inv provider.StreamInvoker, payload *provider.BackendPayload, sink transcoder.Sink) (*api.CanonicalResponse, *api.Error) {
	tee := &teeSink{next: sink}
	tc := transcoder.New(adapter, payload, e.mapper)

	events, err := inv.InvokeStreaming(ctx, payload)
	if err != nil {
		err = tc.Fail(ctx, err, tee)
	} else {
		err = tc.Run(ctx, events, tee)
	}
	if err != nil {
		// The caller is gone; nothing more is emitted.
		if errors.Is(err, context.Canceled) || errors.Is(err, transcoder.ErrSinkClosed) {
			debug.Log("engine", "caller gone", "request_id", c.id, "emitted", tc.Emitted(), "error", err)
		}
		return nil, e.mapper.Map(err, payload.Model, c.family)
	}

	resp := api.Collect(tee.chunks)
	if term := tc.Terminal(); term != nil && term.Err != nil {
		return resp, term.Err
	}
	return resp, nil
}

// teeSink forwards chunks and keeps those the caller accepted.
type teeSink struct {
	next   transcoder.Sink
	chunks []api.CanonicalChunk
}

func (s *teeSink) Emit(ctx context.Context, chunk *api.CanonicalChunk) error {
	if err := s.next.Emit(ctx, chunk); err != nil {
		return err
	}
	s.chunks = append(s.chunks, *chunk)
	return nil
}

// finish logs the request outcome and records metrics.
func (e *Engine) finish(c *call, resp *api.CanonicalResponse, apiErr *api.Error) {
	family := c.family
	if family == "" {
		family = "unrouted"
	}
	elapsed := time.Since(c.start)

	outcome := ""
	if apiErr != nil {
		outcome = string(apiErr.Kind)
		observability.RecordError(family, apiErr)
	} else if resp != nil {
		outcome = string(resp.FinishReason)
	}

	observability.RequestsTotal.WithLabelValues(family, c.mode, outcome).Inc()
	observability.RequestDuration.WithLabelValues(family, c.mode).Observe(elapsed.Seconds())

	attrs := []any{
		"request_id", c.id,
		"model", c.model,
		"family", c.family,
		"mode", c.mode,
		"outcome", outcome,
		"duration", elapsed,
	}
	if apiErr != nil {
		slog.Warn("request failed", append(attrs, "error", apiErr.Error())...)
		return
	}
	slog.Info("request handled", attrs...)
}
