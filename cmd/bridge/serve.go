package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/eventstream"
	"github.com/rhuss/modelbridge/pkg/transcoder"
)

// maxRequestBody bounds a request body; inline images make requests large.
const maxRequestBody = 32 << 20

func newServeCmd(opts *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dispatcher over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := opts.bridge()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), addr, b)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

func serve(ctx context.Context, addr string, b *bridge) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	servers := []*http.Server{{Addr: addr, Handler: newHandler(b)}}
	if m := b.cfg.Observability.Metrics; m.Enabled {
		mux := http.NewServeMux()
		mux.Handle("GET "+m.Path, promhttp.Handler())
		servers = append(servers, &http.Server{Addr: m.Addr, Handler: mux})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			slog.Info("server starting", "addr", srv.Addr, "families", b.router.Families())
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down gracefully")
	case err := <-errCh:
		stop()
		shutdown(servers)
		return err
	}
	return shutdown(servers)
}

func shutdown(servers []*http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var errs []error
	for _, srv := range servers {
		errs = append(errs, srv.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// newHandler exposes the engine. POST /v1/chat takes a canonical request and
// answers with a canonical response, or with an SSE stream of canonical
// chunks when the request sets parameters.stream.
func newHandler(b *bridge) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", func(w http.ResponseWriter, r *http.Request) {
		handleChat(w, r, b)
	})
	mux.HandleFunc("GET /v1/routes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"routes": b.router.Routes()})
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

func handleChat(w http.ResponseWriter, r *http.Request, b *bridge) {
	var req api.CanonicalRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, api.NewInvalidRequestError("", "invalid JSON: "+err.Error()))
		return
	}

	if !req.Parameters.Stream {
		resp, err := b.engine.Handle(r.Context(), &req, nil)
		if err != nil {
			writeError(w, toAPIError(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
		return
	}

	sink := newSSESink(w)
	_, err := b.engine.Handle(r.Context(), &req, sink)
	if err != nil && !sink.started {
		// Nothing was emitted: validation, routing or stream open failed.
		writeError(w, toAPIError(err))
		return
	}
	sink.done()
}

// sseSink writes canonical chunks as SSE events. Headers are sent with the
// first chunk so a failure before streaming can still use a status code.
type sseSink struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	enc     eventstream.Encoder
	started bool
}

func newSSESink(w http.ResponseWriter) *sseSink {
	enc, _ := eventstream.NewEncoder(eventstream.FormatSSE, w)
	return &sseSink{w: w, rc: http.NewResponseController(w), enc: enc}
}

func (s *sseSink) Emit(_ context.Context, chunk *api.CanonicalChunk) error {
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.started = true
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshaling chunk: %w", err)
	}
	name := "chunk"
	if chunk.Terminal() {
		name = "terminal"
	}
	if err := s.enc.Encode(name, data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseSink) done() {
	if s.started {
		s.enc.Done()
		s.rc.Flush()
	}
}

var _ transcoder.Sink = (*sseSink)(nil)

func toAPIError(err error) *api.Error {
	if apiErr, ok := api.AsError(err); ok {
		return apiErr
	}
	return api.NewUnknownError(err.Error(), err)
}

// statusFor maps an error kind to the HTTP status of the JSON error body.
func statusFor(kind api.ErrorKind) int {
	switch kind {
	case api.ErrorKindInvalidRequest, api.ErrorKindUnsupportedContent:
		return http.StatusBadRequest
	case api.ErrorKindUnknownModel:
		return http.StatusNotFound
	case api.ErrorKindRateLimited:
		return http.StatusTooManyRequests
	case api.ErrorKindModelUnavailable:
		return http.StatusServiceUnavailable
	case api.ErrorKindContentFiltered:
		return http.StatusUnprocessableEntity
	case api.ErrorKindTranscoding:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, apiErr *api.Error) {
	if apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(apiErr.RetryAfter.Round(time.Second)/time.Second)))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(apiErr.Kind))
	json.NewEncoder(w).Encode(map[string]*api.Error{"error": apiErr})
}
