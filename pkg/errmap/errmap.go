// Package errmap classifies backend failures into the unified error
// taxonomy. Classification order is: backend error code, then transport
// status, then context and network conditions, then unknown.
package errmap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/provider"
)

// DefaultCodes maps backend error codes (compared case-insensitively) to
// error kinds. It covers Bedrock exception names and the error types used
// by messages-style APIs.
func DefaultCodes() map[string]api.ErrorKind {
	return map[string]api.ErrorKind{
		"ThrottlingException":         api.ErrorKindRateLimited,
		"TooManyRequestsException":    api.ErrorKindRateLimited,
		"rate_limit_error":            api.ErrorKindRateLimited,
		"ValidationException":         api.ErrorKindInvalidRequest,
		"invalid_request_error":       api.ErrorKindInvalidRequest,
		"ModelErrorException":         api.ErrorKindInvalidRequest,
		"ModelNotReadyException":      api.ErrorKindModelUnavailable,
		"ServiceUnavailableException": api.ErrorKindModelUnavailable,
		"ModelTimeoutException":       api.ErrorKindModelUnavailable,
		"ModelStreamErrorException":   api.ErrorKindModelUnavailable,
		"InternalServerException":     api.ErrorKindModelUnavailable,
		"ResourceNotFoundException":   api.ErrorKindModelUnavailable,
		"AccessDeniedException":       api.ErrorKindModelUnavailable,
		"overloaded_error":            api.ErrorKindModelUnavailable,
		"api_error":                   api.ErrorKindModelUnavailable,
		"guardrail_intervened":        api.ErrorKindContentFiltered,
		"content_filtered":            api.ErrorKindContentFiltered,
		"ContentFilteredException":    api.ErrorKindContentFiltered,
		"content_policy_violation":    api.ErrorKindContentFiltered,
	}
}

// Mapper classifies errors. The zero value is not usable; use New.
type Mapper struct {
	codes map[string]api.ErrorKind
}

// New creates a mapper from DefaultCodes plus overrides. Override keys win
// over the defaults.
func New(overrides map[string]api.ErrorKind) *Mapper {
	codes := make(map[string]api.ErrorKind)
	for code, kind := range DefaultCodes() {
		codes[strings.ToLower(code)] = kind
	}
	for code, kind := range overrides {
		codes[strings.ToLower(code)] = kind
	}
	return &Mapper{codes: codes}
}

// Map converts err into an *api.Error carrying modelID and family. Typed
// errors pass through with missing context filled in. Map returns nil for a
// nil error.
func (m *Mapper) Map(err error, modelID, family string) *api.Error {
	if err == nil {
		return nil
	}
	if apiErr, ok := api.AsError(err); ok {
		return apiErr.WithContext(modelID, family)
	}

	var out *api.Error
	var be *provider.BackendError
	if errors.As(err, &be) {
		out = m.mapBackend(be)
	}
	if out == nil {
		out = mapTransport(err)
	}
	return out.WithContext(modelID, family)
}

// KindForCode returns the kind registered for a backend code.
func (m *Mapper) KindForCode(code string) (api.ErrorKind, bool) {
	kind, ok := m.codes[strings.ToLower(code)]
	return kind, ok
}

func (m *Mapper) mapBackend(be *provider.BackendError) *api.Error {
	message := be.Message
	if message == "" {
		message = be.Error()
	}

	kind, ok := m.KindForCode(be.Code)
	if !ok {
		kind, ok = kindForStatus(be.StatusCode)
	}
	if !ok {
		if be.Err == nil {
			return &api.Error{
				Kind:        api.ErrorKindUnknown,
				Message:     message,
				BackendCode: be.Code,
				StatusCode:  be.StatusCode,
				Cause:       be,
			}
		}
		// Transport failure wrapped by the invoker.
		return nil
	}

	out := &api.Error{
		Kind:        kind,
		Message:     message,
		BackendCode: be.Code,
		StatusCode:  be.StatusCode,
		Cause:       be,
	}
	if kind == api.ErrorKindRateLimited {
		out.RetryAfter = be.RetryAfter
	}
	return out
}

func kindForStatus(status int) (api.ErrorKind, bool) {
	switch {
	case status == 0:
		return "", false
	case status == http.StatusTooManyRequests:
		return api.ErrorKindRateLimited, true
	case status == http.StatusBadRequest,
		status == http.StatusRequestEntityTooLarge,
		status == http.StatusUnprocessableEntity:
		return api.ErrorKindInvalidRequest, true
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusNotFound,
		status == http.StatusRequestTimeout,
		status >= http.StatusInternalServerError:
		return api.ErrorKindModelUnavailable, true
	default:
		return api.ErrorKindUnknown, true
	}
}

// mapTransport classifies errors that never reached the backend protocol
// layer: timeouts, cancellations and connection failures.
func mapTransport(err error) *api.Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &api.Error{Kind: api.ErrorKindModelUnavailable, Message: "backend call timed out", Cause: err}
	case errors.Is(err, context.Canceled):
		return &api.Error{Kind: api.ErrorKindUnknown, Message: "request cancelled", Cause: err}
	case isNetworkError(err):
		return &api.Error{
			Kind:    api.ErrorKindModelUnavailable,
			Message: fmt.Sprintf("backend connection failed: %v", err),
			Cause:   err,
		}
	default:
		return api.NewUnknownError(err.Error(), err)
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
