// Package observability provides Prometheus metrics for monitoring
// modelbridge dispatch, backend calls and stream transcoding.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rhuss/modelbridge/pkg/api"
)

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts dispatched requests by family and outcome. The
	// outcome is the finish reason, or the error kind for failed requests.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelbridge_requests_total",
			Help: "Dispatched requests",
		},
		[]string{"family", "mode", "outcome"},
	)

	// RequestDuration records end-to-end dispatch duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelbridge_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"family", "mode"},
	)

	// ActiveStreams tracks the number of streams being transcoded.
	ActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelbridge_streams_active",
			Help: "Active streams",
		},
	)

	// BackendRequestsTotal counts HTTP calls to backends by status class.
	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelbridge_backend_requests_total",
			Help: "Backend requests",
		},
		[]string{"family", "status"},
	)

	// BackendLatency records the time until a backend answered (the full
	// body for synchronous calls, the first event for streams).
	BackendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelbridge_backend_latency_seconds",
			Help:    "Backend latency",
			Buckets: LLMBuckets,
		},
		[]string{"family", "mode"},
	)

	// TokensTotal counts tokens by direction (prompt/completion) and
	// whether the count was estimated.
	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelbridge_tokens_total",
			Help: "Token count",
		},
		[]string{"family", "direction", "estimated"},
	)

	// StreamChunksTotal counts canonical chunks emitted to callers.
	StreamChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelbridge_stream_chunks_total",
			Help: "Stream chunks emitted",
		},
		[]string{"family"},
	)

	// ErrorsTotal counts mapped errors by kind.
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelbridge_errors_total",
			Help: "Mapped errors",
		},
		[]string{"family", "kind"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ActiveStreams,
		BackendRequestsTotal,
		BackendLatency,
		TokensTotal,
		StreamChunksTotal,
		ErrorsTotal,
	)
}

// RecordUsage adds a call's token usage to TokensTotal.
func RecordUsage(family string, u api.Usage) {
	est := strconv.FormatBool(u.Estimated)
	TokensTotal.WithLabelValues(family, "prompt", est).Add(float64(u.PromptTokens))
	TokensTotal.WithLabelValues(family, "completion", est).Add(float64(u.CompletionTokens))
}

// RecordError counts a mapped error.
func RecordError(family string, err *api.Error) {
	if err == nil {
		return
	}
	ErrorsTotal.WithLabelValues(family, string(err.Kind)).Inc()
}
