package observability

import (
	"net/http"
	"strconv"
)

// Transport wraps an http.RoundTripper to count backend calls.
//
// It records modelbridge_backend_requests_total with the family label and
// the response status class ("2xx", "4xx", "5xx"), or "error" when the
// round trip itself failed.
type Transport struct {
	Family string
	Next   http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}
	resp, err := next.RoundTrip(req)
	if err != nil {
		BackendRequestsTotal.WithLabelValues(t.Family, "error").Inc()
		return nil, err
	}
	BackendRequestsTotal.WithLabelValues(t.Family, StatusClass(resp.StatusCode)).Inc()
	return resp, nil
}

// StatusClass builds a status class label like "2xx", "4xx", "5xx".
func StatusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
