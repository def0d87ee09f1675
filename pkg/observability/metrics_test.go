package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/rhuss/modelbridge/pkg/api"
)

// TestMetricsRegistered verifies that all metrics are registered in the
// default registry without panicking.
func TestMetricsRegistered(t *testing.T) {
	// Vectors only appear after their first observation.
	RequestsTotal.WithLabelValues("test", "sync", "stop").Inc()
	RequestDuration.WithLabelValues("test", "sync").Observe(0.1)
	BackendRequestsTotal.WithLabelValues("test", "2xx").Inc()
	BackendLatency.WithLabelValues("test", "sync").Observe(0.1)
	TokensTotal.WithLabelValues("test", "prompt", "false").Add(10)
	StreamChunksTotal.WithLabelValues("test").Inc()
	ErrorsTotal.WithLabelValues("test", "unknown").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}

	expected := map[string]bool{
		"modelbridge_requests_total":           false,
		"modelbridge_request_duration_seconds": false,
		"modelbridge_streams_active":           false,
		"modelbridge_backend_requests_total":   false,
		"modelbridge_backend_latency_seconds":  false,
		"modelbridge_tokens_total":             false,
		"modelbridge_stream_chunks_total":      false,
		"modelbridge_errors_total":             false,
	}
	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not found in default registry", name)
		}
	}
}

func TestRecordUsage(t *testing.T) {
	beforePrompt := counterValue(t, TokensTotal, "usage-test", "prompt", "true")
	beforeCompletion := counterValue(t, TokensTotal, "usage-test", "completion", "true")

	RecordUsage("usage-test", api.Usage{PromptTokens: 7, CompletionTokens: 3, Estimated: true})

	if d := counterValue(t, TokensTotal, "usage-test", "prompt", "true") - beforePrompt; d != 7 {
		t.Errorf("prompt delta = %f, want 7", d)
	}
	if d := counterValue(t, TokensTotal, "usage-test", "completion", "true") - beforeCompletion; d != 3 {
		t.Errorf("completion delta = %f, want 3", d)
	}
}

func TestRecordError(t *testing.T) {
	before := counterValue(t, ErrorsTotal, "err-test", "rate_limited")
	RecordError("err-test", api.NewRateLimitedError("slow", 0))
	RecordError("err-test", nil)
	if d := counterValue(t, ErrorsTotal, "err-test", "rate_limited") - before; d != 1 {
		t.Errorf("delta = %f, want 1", d)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// TestTransportRecordsStatus verifies that backend calls are counted by
// status class, including failed round trips.
func TestTransportRecordsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	before := counterValue(t, BackendRequestsTotal, "transport-test", "4xx")
	client := &http.Client{Transport: &Transport{Family: "transport-test"}}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if d := counterValue(t, BackendRequestsTotal, "transport-test", "4xx") - before; d != 1 {
		t.Errorf("4xx delta = %f, want 1", d)
	}

	beforeErr := counterValue(t, BackendRequestsTotal, "transport-test", "error")
	failing := &Transport{Family: "transport-test", Next: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial failed")
	})}
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := failing.RoundTrip(req); err == nil {
		t.Fatal("expected round trip error")
	}
	if d := counterValue(t, BackendRequestsTotal, "transport-test", "error") - beforeErr; d != 1 {
		t.Errorf("error delta = %f, want 1", d)
	}
}

func TestStatusClass(t *testing.T) {
	for status, want := range map[int]string{200: "2xx", 404: "4xx", 529: "5xx"} {
		if got := StatusClass(status); got != want {
			t.Errorf("StatusClass(%d) = %q, want %q", status, got, want)
		}
	}
}

// counterValue reads the current value of a CounterVec for the given labels.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := cv.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("getting counter metric: %v", err)
	}
	if err := c.(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("writing counter metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
