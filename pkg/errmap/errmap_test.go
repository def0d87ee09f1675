package errmap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/provider"
)

func TestMap_BackendCodes(t *testing.T) {
	m := New(nil)

	tests := []struct {
		name string
		err  *provider.BackendError
		want api.ErrorKind
	}{
		{"throttling", &provider.BackendError{Code: "ThrottlingException", StatusCode: 400}, api.ErrorKindRateLimited},
		{"code case-insensitive", &provider.BackendError{Code: "throttlingException"}, api.ErrorKindRateLimited},
		{"validation", &provider.BackendError{Code: "ValidationException"}, api.ErrorKindInvalidRequest},
		{"model not ready", &provider.BackendError{Code: "ModelNotReadyException"}, api.ErrorKindModelUnavailable},
		{"stream error", &provider.BackendError{Code: "modelStreamErrorException"}, api.ErrorKindModelUnavailable},
		{"overloaded", &provider.BackendError{Code: "overloaded_error"}, api.ErrorKindModelUnavailable},
		{"guardrail", &provider.BackendError{Code: "guardrail_intervened"}, api.ErrorKindContentFiltered},
		{"status 429", &provider.BackendError{StatusCode: 429}, api.ErrorKindRateLimited},
		{"status 413", &provider.BackendError{StatusCode: 413}, api.ErrorKindInvalidRequest},
		{"status 503", &provider.BackendError{StatusCode: 503}, api.ErrorKindModelUnavailable},
		{"status 409", &provider.BackendError{StatusCode: 409}, api.ErrorKindUnknown},
		{"unknown code without status", &provider.BackendError{Code: "Weird"}, api.ErrorKindUnknown},
		{"code wins over status", &provider.BackendError{Code: "ValidationException", StatusCode: 503}, api.ErrorKindInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Map(tt.err, "model-x", "family-x")
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, "model-x", got.ModelID)
			assert.Equal(t, "family-x", got.Family)
			assert.Equal(t, tt.err.Code, got.BackendCode)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestMap_Overrides(t *testing.T) {
	m := New(map[string]api.ErrorKind{
		"CustomQuotaExceeded": api.ErrorKindRateLimited,
		"ValidationException": api.ErrorKindUnknown,
	})
	assert.Equal(t, api.ErrorKindRateLimited, m.Map(&provider.BackendError{Code: "customquotaexceeded"}, "", "").Kind)
	assert.Equal(t, api.ErrorKindUnknown, m.Map(&provider.BackendError{Code: "ValidationException"}, "", "").Kind)
}

func TestMap_RetryAfter(t *testing.T) {
	m := New(nil)
	got := m.Map(&provider.BackendError{StatusCode: 429, RetryAfter: 3 * time.Second}, "m", "f")
	assert.Equal(t, api.ErrorKindRateLimited, got.Kind)
	assert.Equal(t, 3*time.Second, got.RetryAfter)
	assert.True(t, got.Retryable())
}

func TestMap_PassThrough(t *testing.T) {
	m := New(nil)
	orig := api.NewInvalidRequestError("messages", "bad")
	got := m.Map(fmt.Errorf("wrapped: %w", orig), "m", "f")
	assert.Same(t, orig, got)
	assert.Equal(t, "m", got.ModelID)

	typed := api.NewUnsupportedContentError("other", "x")
	assert.Equal(t, "other", m.Map(typed, "m", "f").Family)

	assert.Nil(t, m.Map(nil, "m", "f"))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestMap_Transport(t *testing.T) {
	m := New(nil)

	tests := []struct {
		name string
		err  error
		want api.ErrorKind
	}{
		{"deadline", fmt.Errorf("invoke: %w", context.DeadlineExceeded), api.ErrorKindModelUnavailable},
		{"cancelled", context.Canceled, api.ErrorKindUnknown},
		{"net error", timeoutErr{}, api.ErrorKindModelUnavailable},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, api.ErrorKindModelUnavailable},
		{"unexpected eof", fmt.Errorf("reading frame: %w", io.ErrUnexpectedEOF), api.ErrorKindModelUnavailable},
		{"wrapped by backend error", &provider.BackendError{Err: io.ErrUnexpectedEOF}, api.ErrorKindModelUnavailable},
		{"anything else", errors.New("boom"), api.ErrorKindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Map(tt.err, "m", "f")
			assert.Equal(t, tt.want, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestFromHTTPResponse(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		header   http.Header
		body     string
		wantCode string
		wantMsg  string
	}{
		{
			name:     "messages api error",
			status:   529,
			body:     `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
			wantCode: "overloaded_error",
			wantMsg:  "Overloaded",
		},
		{
			name:     "bedrock header",
			status:   429,
			header:   http.Header{"X-Amzn-Errortype": {"ThrottlingException:http://internal.amazon.com/coral/com.amazon.bedrock/"}},
			body:     `{"message":"Too many requests, please wait before trying again."}`,
			wantCode: "ThrottlingException",
			wantMsg:  "Too many requests, please wait before trying again.",
		},
		{
			name:     "amzn type in body",
			status:   400,
			body:     `{"__type":"ValidationException","Message":"Malformed input request"}`,
			wantCode: "ValidationException",
			wantMsg:  "Malformed input request",
		},
		{
			name:    "plain text",
			status:  502,
			body:    "bad gateway\n",
			wantMsg: "bad gateway",
		},
		{
			name:    "empty body",
			status:  503,
			wantMsg: "Service Unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := tt.header
			if header == nil {
				header = http.Header{}
			}
			resp := &http.Response{
				StatusCode: tt.status,
				Header:     header,
				Body:       io.NopCloser(strings.NewReader(tt.body)),
			}
			be := FromHTTPResponse(resp)
			assert.Equal(t, tt.status, be.StatusCode)
			assert.Equal(t, tt.wantCode, be.Code)
			assert.Equal(t, tt.wantMsg, be.Message)
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Duration(0), ParseRetryAfter("", now))
	assert.Equal(t, 5*time.Second, ParseRetryAfter("5", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-1", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon", now))
	assert.Equal(t, 90*time.Second, ParseRetryAfter("Wed, 01 May 2024 12:01:30 GMT", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("Wed, 01 May 2024 11:00:00 GMT", now))
}
