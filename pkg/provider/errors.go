package provider

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rhuss/modelbridge/pkg/api"
)

// BackendError describes a failure reported by a backend, either as a
// non-success response to a call or as an in-band error event inside a
// stream. Invokers and adapters produce it; the error mapper classifies it.
type BackendError struct {
	// StatusCode is the transport status (HTTP status), 0 if none.
	StatusCode int

	// Code is the backend's error code or exception name
	// (e.g., "ThrottlingException", "overloaded_error").
	Code string

	// Message is the backend's human-readable message.
	Message string

	// RetryAfter is the backend's retry hint, 0 if none was given.
	RetryAfter time.Duration

	// Err is the underlying transport error, if any.
	Err error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	switch {
	case e.Code != "" && e.StatusCode != 0:
		return fmt.Sprintf("backend error %s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
	case e.Code != "":
		return fmt.Sprintf("backend error %s: %s", e.Code, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("backend error (HTTP %d): %s", e.StatusCode, e.Message)
	default:
		return "backend error: " + e.Message
	}
}

// Unwrap returns the underlying transport error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// ErrorFromEvent builds a BackendError from an in-band error event. It
// understands the common payload shapes {"message": ...},
// {"error": {"type": ..., "message": ...}} and {"code": ..., "message": ...};
// the event name is used as the code when the payload carries none.
func ErrorFromEvent(ev BackendEvent) *BackendError {
	var payload struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   *struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	be := &BackendError{Code: ev.Name}
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		be.Message = string(ev.Data)
		return be
	}
	be.Message = payload.Message
	if code := firstNonEmpty(payload.Code, payload.Type); code != "" && code != "error" && be.Code == "" {
		be.Code = code
	}
	if payload.Error != nil {
		if be.Message == "" {
			be.Message = payload.Error.Message
		}
		if code := firstNonEmpty(payload.Error.Type, payload.Error.Code); code != "" {
			be.Code = code
		}
	}
	return be
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// WithContext attaches the model and family to err when it is a typed
// *api.Error and returns err unchanged otherwise.
func WithContext(err error, modelID, family string) error {
	if apiErr, ok := api.AsError(err); ok {
		return apiErr.WithContext(modelID, family)
	}
	return err
}
