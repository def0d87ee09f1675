package provider

import (
	"context"

	"github.com/rhuss/modelbridge/pkg/api"
)

// Kind identifies the encoding convention of a backend family.
type Kind string

const (
	// KindConversational is a messages API with system/user/assistant turns
	// and native tool calls.
	KindConversational Kind = "conversational"

	// KindCompletion flattens the conversation into one prompt string.
	KindCompletion Kind = "completion"

	// KindGeneric is the fallback JSON chat shape without tool support.
	KindGeneric Kind = "generic"
)

// Valid reports whether k names a known family kind.
func (k Kind) Valid() bool {
	switch k {
	case KindConversational, KindCompletion, KindGeneric:
		return true
	}
	return false
}

// Adapter translates between the canonical form and one backend family.
//
// Implementations hold only configuration and must be safe for concurrent
// use by multiple goroutines. Stream decoding state is owned by the caller
// and passed in explicitly.
type Adapter interface {
	// Name returns the configured family name (e.g., "claude3", "llama2").
	Name() string

	// Kind returns the encoding convention the family follows.
	Kind() Kind

	// Capabilities returns what the family supports.
	Capabilities() Capabilities

	// EncodeRequest builds the backend-native payload for req. req is not
	// modified.
	EncodeRequest(ctx context.Context, req *api.CanonicalRequest) (*BackendPayload, error)

	// DecodeResponse converts a synchronous backend response. payload is the
	// value EncodeRequest produced for the same call and is used for usage
	// estimation when the backend omits token counts.
	DecodeResponse(payload *BackendPayload, resp *BackendResponse) (*api.CanonicalResponse, error)

	// NewStreamState allocates the accumulator for one stream.
	NewStreamState(payload *BackendPayload) *StreamState

	// DecodeStreamEvent converts one backend event into zero or one chunk.
	// Terminal backend events are recorded on state (see StreamState.Finish)
	// rather than returned as chunks; the transcoder emits the terminal
	// chunk after flushing buffered fragments.
	DecodeStreamEvent(ev BackendEvent, state *StreamState) (*api.CanonicalChunk, error)
}

// Capabilities declares what features a family supports.
type Capabilities struct {
	// Streaming indicates whether the family can stream responses.
	Streaming bool

	// ToolCalling indicates whether the family understands tool definitions.
	ToolCalling bool

	// Vision indicates whether the family accepts image inputs.
	Vision bool

	// StopSequences indicates whether the family honours stop sequences.
	StopSequences bool
}
