// Package conversational implements the adapter for messages-API families:
// a dedicated system field, strictly alternating user/assistant turns,
// native tool calls and inline base64 images. Both the Bedrock invoke body
// and the direct messages API body are supported.
package conversational

import (
	"fmt"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/multimodal"
	"github.com/rhuss/modelbridge/pkg/provider"
)

// Config holds configuration for a conversational family adapter.
type Config struct {
	provider.FamilyConfig

	// DefaultMaxTokens is used when the request sets no max_tokens. The
	// messages API requires the field, so a request without max_tokens
	// fails when this is 0.
	DefaultMaxTokens int

	// AnthropicVersion is sent as anthropic_version when set
	// (e.g., "bedrock-2023-05-31").
	AnthropicVersion string

	// Direct selects the direct messages API body, which names the model
	// and carries the stream flag. The Bedrock invoke body has neither.
	Direct bool

	// Resolver fetches referenced images so they can be inlined. Optional.
	Resolver multimodal.Resolver
}

// finishReasons maps messages API stop reasons to canonical reasons.
var finishReasons = provider.FinishTable{
	"end_turn":             api.FinishStop,
	"stop_sequence":        api.FinishStop,
	"pause_turn":           api.FinishStop,
	"max_tokens":           api.FinishLength,
	"tool_use":             api.FinishToolCalls,
	"refusal":              api.FinishContentFilter,
	"guardrail_intervened": api.FinishContentFilter,
	"content_filtered":     api.FinishContentFilter,
}

// Adapter implements provider.Adapter for conversational families.
type Adapter struct {
	cfg  Config
	caps provider.Capabilities
}

// Ensure Adapter implements provider.Adapter at compile time.
var _ provider.Adapter = (*Adapter)(nil)

// New creates a conversational adapter.
func New(cfg Config) (*Adapter, error) {
	if err := cfg.FamilyConfig.Validate(); err != nil {
		return nil, fmt.Errorf("conversational: %w", err)
	}
	if cfg.DefaultMaxTokens < 0 {
		return nil, fmt.Errorf("conversational: family %s: default max tokens must not be negative", cfg.Name)
	}
	return &Adapter{
		cfg: cfg,
		caps: provider.Capabilities{
			Streaming:     true,
			ToolCalling:   true,
			Vision:        true,
			StopSequences: true,
		},
	}, nil
}

// Name returns the configured family name.
func (a *Adapter) Name() string {
	return a.cfg.Name
}

// Kind returns provider.KindConversational.
func (a *Adapter) Kind() provider.Kind {
	return provider.KindConversational
}

// Capabilities returns what the family supports.
func (a *Adapter) Capabilities() provider.Capabilities {
	return a.caps
}

// NewStreamState allocates the accumulator for one stream.
func (a *Adapter) NewStreamState(payload *provider.BackendPayload) *provider.StreamState {
	return provider.NewStreamState(a.cfg.Name, a.cfg.Estimator, payload.PromptText)
}
