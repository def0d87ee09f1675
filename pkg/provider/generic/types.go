package generic

import "encoding/json"

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireMessage struct {
	Role    string            `json:"role"`
	Content []json.RawMessage `json:"content"`
}

type textItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type tokenCounts struct {
	In  *int `json:"in,omitempty"`
	Out *int `json:"out,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type chatResponse struct {
	Text       string       `json:"text"`
	StopReason string       `json:"stop_reason"`
	Tokens     *tokenCounts `json:"tokens,omitempty"`
	Error      *wireError   `json:"error,omitempty"`
}

// streamEvent is {"type":"delta","text":...} or
// {"type":"stop","stop_reason":...,"tokens":{...}}.
type streamEvent struct {
	Type       string       `json:"type"`
	Text       string       `json:"text,omitempty"`
	StopReason string       `json:"stop_reason,omitempty"`
	Tokens     *tokenCounts `json:"tokens,omitempty"`
	Error      *wireError   `json:"error,omitempty"`
}
