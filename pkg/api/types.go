package api

import (
	"encoding/json"
	"strings"
)

// ---------------------------------------------------------------------------
// Roles and content
// ---------------------------------------------------------------------------

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the four canonical roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ContentType tags the variant held by a ContentPart.
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentImage      ContentType = "image"
	ContentToolResult ContentType = "tool_result"
)

// ContentPart is a tagged variant over text, image and tool result content.
// Text carries the payload for both text and tool_result parts. ToolCallID
// is only set on tool_result parts and names the call the result answers.
type ContentPart struct {
	Type       ContentType `json:"type"`
	Text       string      `json:"text,omitempty"`
	Image      *ImageRef   `json:"image,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

// ImageRef holds either inline bytes with a MIME type or an opaque reference
// (usually a URL). Exactly one of Data and Ref is set.
type ImageRef struct {
	Data      []byte `json:"data,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Ref       string `json:"ref,omitempty"`
}

// Inline reports whether the image carries its bytes directly.
func (r *ImageRef) Inline() bool {
	return len(r.Data) > 0
}

// TextPart returns a text ContentPart.
func TextPart(s string) ContentPart {
	return ContentPart{Type: ContentText, Text: s}
}

// ImagePart returns an image ContentPart.
func ImagePart(ref ImageRef) ContentPart {
	return ContentPart{Type: ContentImage, Image: &ref}
}

// ToolResultPart returns a tool_result ContentPart answering the given call.
func ToolResultPart(callID, result string) ContentPart {
	return ContentPart{Type: ContentToolResult, Text: result, ToolCallID: callID}
}

// ---------------------------------------------------------------------------
// Tools
// ---------------------------------------------------------------------------

// ToolDefinition declares a function the model may call. Parameters is a
// JSON schema object; an empty value means the tool takes no arguments.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a model-issued function invocation. Arguments are passed
// through as-is and are not validated against the tool's schema.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ---------------------------------------------------------------------------
// Messages and requests
// ---------------------------------------------------------------------------

// CanonicalMessage is one conversation turn.
type CanonicalMessage struct {
	Role       Role          `json:"role"`
	Content    []ContentPart `json:"content"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
}

// Text concatenates the text of every text and tool_result part in order.
func (m *CanonicalMessage) Text() string {
	var b strings.Builder
	for _, p := range m.Content {
		if p.Type == ContentText || p.Type == ContentToolResult {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// HasImages reports whether any part of the message is an image.
func (m *CanonicalMessage) HasImages() bool {
	for _, p := range m.Content {
		if p.Type == ContentImage {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the message so adapters can rewrite turns
// without touching the caller's request.
func (m CanonicalMessage) Clone() CanonicalMessage {
	out := m
	if m.Content != nil {
		out.Content = make([]ContentPart, len(m.Content))
		copy(out.Content, m.Content)
	}
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		copy(out.ToolCalls, m.ToolCalls)
	}
	return out
}

// GenerationParameters holds sampling settings. Nil pointers mean the caller
// did not set the value and the family default applies.
type GenerationParameters struct {
	MaxTokens     *int     `json:"max_tokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
	Stream        bool     `json:"stream,omitempty"`

	// MaxPromptTokens truncates the conversation to fit; the oldest turns
	// are dropped first.
	MaxPromptTokens *int `json:"max_prompt_tokens,omitempty"`
}

// CanonicalRequest is the backend-agnostic request. It is owned by a single
// request lifecycle and must not be mutated once handed to the dispatcher.
type CanonicalRequest struct {
	ModelID    string               `json:"model_id"`
	Messages   []CanonicalMessage   `json:"messages"`
	Tools      []ToolDefinition     `json:"tools,omitempty"`
	Parameters GenerationParameters `json:"parameters"`
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

// FinishReason explains why generation stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// Usage reports token accounting. Estimated is set whenever the backend did
// not report counts and the values were derived heuristically.
type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	Estimated        bool `json:"estimated,omitempty"`
}

// TotalTokens returns the sum of prompt and completion tokens.
func (u Usage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}

// CanonicalResponse is the decoded result of a synchronous call.
type CanonicalResponse struct {
	Message           CanonicalMessage `json:"message"`
	FinishReason      FinishReason     `json:"finish_reason"`
	Usage             Usage            `json:"usage"`
	DiscardedMessages []int            `json:"discarded_messages,omitempty"`
}
