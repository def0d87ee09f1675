package api

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind represents the category of a modelbridge error.
type ErrorKind string

const (
	ErrorKindInvalidRequest     ErrorKind = "invalid_request"
	ErrorKindUnknownModel       ErrorKind = "unknown_model"
	ErrorKindUnsupportedContent ErrorKind = "unsupported_content"
	ErrorKindRateLimited        ErrorKind = "rate_limited"
	ErrorKindModelUnavailable   ErrorKind = "model_unavailable"
	ErrorKindContentFiltered    ErrorKind = "content_filtered"
	ErrorKindTranscoding        ErrorKind = "transcoding"
	ErrorKindUnknown            ErrorKind = "unknown"
)

// Error is the typed error returned by every modelbridge component. It
// carries enough context (model, family, backend code) to reproduce the
// failure.
type Error struct {
	Kind        ErrorKind     `json:"kind"`
	Message     string        `json:"message"`
	Param       string        `json:"param,omitempty"`
	ModelID     string        `json:"model_id,omitempty"`
	Family      string        `json:"family,omitempty"`
	BackendCode string        `json:"backend_code,omitempty"`
	StatusCode  int           `json:"status_code,omitempty"`
	RetryAfter  time.Duration `json:"retry_after,omitempty"`
	Cause       error         `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Kind, e.Message)
	if e.Param != "" {
		fmt.Fprintf(&b, " (param: %s)", e.Param)
	}
	if e.ModelID != "" || e.Family != "" {
		fmt.Fprintf(&b, " [model=%s family=%s", e.ModelID, e.Family)
		if e.BackendCode != "" {
			fmt.Fprintf(&b, " code=%s", e.BackendCode)
		}
		b.WriteString("]")
	}
	return b.String()
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether a caller may reasonably retry the request.
// modelbridge itself never retries.
func (e *Error) Retryable() bool {
	return e.Kind == ErrorKindRateLimited || e.Kind == ErrorKindModelUnavailable
}

// WithContext fills in the model and family if they are not already set and
// returns the receiver.
func (e *Error) WithContext(modelID, family string) *Error {
	if e.ModelID == "" {
		e.ModelID = modelID
	}
	if e.Family == "" {
		e.Family = family
	}
	return e
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsKind reports whether err's chain contains an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	apiErr, ok := AsError(err)
	return ok && apiErr.Kind == kind
}

// NewInvalidRequestError creates an Error for a malformed or unsupported request.
func NewInvalidRequestError(param, message string) *Error {
	return &Error{
		Kind:    ErrorKindInvalidRequest,
		Param:   param,
		Message: message,
	}
}

// NewUnknownModelError creates an Error for a model id no route matches.
func NewUnknownModelError(modelID string) *Error {
	return &Error{
		Kind:    ErrorKindUnknownModel,
		ModelID: modelID,
		Message: fmt.Sprintf("no backend family serves model %q", modelID),
	}
}

// NewUnsupportedContentError creates an Error for content the family cannot represent.
func NewUnsupportedContentError(family, message string) *Error {
	return &Error{
		Kind:    ErrorKindUnsupportedContent,
		Family:  family,
		Message: message,
	}
}

// NewRateLimitedError creates an Error for backend throttling.
func NewRateLimitedError(message string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       ErrorKindRateLimited,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

// NewModelUnavailableError creates an Error for backend-side outages.
func NewModelUnavailableError(message string) *Error {
	return &Error{
		Kind:    ErrorKindModelUnavailable,
		Message: message,
	}
}

// NewContentFilteredError creates an Error for a moderation rejection.
// The dispatcher turns it into a normal content_filter outcome.
func NewContentFilteredError(message string) *Error {
	return &Error{
		Kind:    ErrorKindContentFiltered,
		Message: message,
	}
}

// NewTranscodingError creates an Error for a failure to decode backend output.
func NewTranscodingError(message string, cause error) *Error {
	return &Error{
		Kind:    ErrorKindTranscoding,
		Message: message,
		Cause:   cause,
	}
}

// NewUnknownError creates an Error for anything unclassified.
func NewUnknownError(message string, cause error) *Error {
	return &Error{
		Kind:    ErrorKindUnknown,
		Message: message,
		Cause:   cause,
	}
}
