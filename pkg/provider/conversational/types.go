package conversational

import "encoding/json"

// ---------------------------------------------------------------------------
// Request
// ---------------------------------------------------------------------------

// messagesRequest is the messages API request body.
type messagesRequest struct {
	AnthropicVersion string        `json:"anthropic_version,omitempty"`
	Model            string        `json:"model,omitempty"`
	System           string        `json:"system,omitempty"`
	Messages         []wireMessage `json:"messages"`
	MaxTokens        int           `json:"max_tokens"`
	Temperature      *float64      `json:"temperature,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	StopSequences    []string      `json:"stop_sequences,omitempty"`
	Tools            []wireTool    `json:"tools,omitempty"`
	Stream           bool          `json:"stream,omitempty"`
}

// wireMessage is one turn. Content holds pre-encoded blocks because image
// blocks come from the multimodal encoder as raw JSON.
type wireMessage struct {
	Role    string            `json:"role"`
	Content []json.RawMessage `json:"content"`
}

type textBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolUseBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type toolResultBlock struct {
	Type      string      `json:"type"`
	ToolUseID string      `json:"tool_use_id"`
	Content   []textBlock `json:"content"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ---------------------------------------------------------------------------
// Response
// ---------------------------------------------------------------------------

// messagesResponse is the synchronous response body, also embedded in the
// message_start stream event.
type messagesResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Content    []json.RawMessage `json:"content"`
	StopReason string            `json:"stop_reason"`
	Usage      *wireUsage        `json:"usage,omitempty"`
	Error      *wireError        `json:"error,omitempty"`
}

// contentBlock is the subset of block fields needed to dispatch on type.
type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type wireUsage struct {
	InputTokens  *int `json:"input_tokens,omitempty"`
	OutputTokens *int `json:"output_tokens,omitempty"`
}

type wireError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Stream events
// ---------------------------------------------------------------------------

type streamEvent struct {
	Type         string             `json:"type"`
	Index        int                `json:"index"`
	Message      *messagesResponse  `json:"message,omitempty"`
	ContentBlock *contentBlock      `json:"content_block,omitempty"`
	Delta        *streamDelta       `json:"delta,omitempty"`
	Usage        *wireUsage         `json:"usage,omitempty"`
	Error        *wireError         `json:"error,omitempty"`
	Metrics      *invocationMetrics `json:"amazon-bedrock-invocationMetrics,omitempty"`
}

type streamDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// invocationMetrics is attached to the final event by Bedrock.
type invocationMetrics struct {
	InputTokenCount  *int `json:"inputTokenCount,omitempty"`
	OutputTokenCount *int `json:"outputTokenCount,omitempty"`
}
