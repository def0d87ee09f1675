package api

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	requestIDPrefix  = "req_"
	toolCallIDPrefix = "call_"
)

var (
	requestIDPattern  = regexp.MustCompile(`^req_[0-9a-f]{32}$`)
	toolCallIDPattern = regexp.MustCompile(`^call_[0-9a-f]{24}$`)
)

// NewRequestID returns a request id of the form "req_" + 32 hex characters.
func NewRequestID() string {
	return requestIDPrefix + compactUUID()
}

// NewToolCallID returns a tool call id of the form "call_" + 24 hex characters.
// Families that do not issue ids of their own get one from here.
func NewToolCallID() string {
	return toolCallIDPrefix + compactUUID()[:24]
}

// ValidateRequestID reports whether id was produced by NewRequestID.
func ValidateRequestID(id string) bool {
	return requestIDPattern.MatchString(id)
}

// ValidateToolCallID reports whether id was produced by NewToolCallID.
func ValidateToolCallID(id string) bool {
	return toolCallIDPattern.MatchString(id)
}

func compactUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
