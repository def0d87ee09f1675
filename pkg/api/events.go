package api

// ChunkDelta is the incremental payload of a chunk. At most one of Content
// and ToolCall is set; both are nil on the terminal chunk of most families.
type ChunkDelta struct {
	Role     Role         `json:"role,omitempty"`
	Content  *ContentPart `json:"content,omitempty"`
	ToolCall *ToolCall    `json:"tool_call,omitempty"`
}

// CanonicalChunk is one unit of a streamed answer. Only the terminal chunk
// carries FinishReason, Usage and DiscardedMessages; Err is set only when
// FinishReason is error.
type CanonicalChunk struct {
	Delta             ChunkDelta   `json:"delta"`
	FinishReason      FinishReason `json:"finish_reason,omitempty"`
	Usage             *Usage       `json:"usage,omitempty"`
	Err               *Error       `json:"error,omitempty"`
	DiscardedMessages []int        `json:"discarded_messages,omitempty"`
}

// Terminal reports whether the chunk ends the stream.
func (c *CanonicalChunk) Terminal() bool {
	return c.FinishReason != ""
}

// TextChunk returns a non-terminal chunk carrying a text fragment.
func TextChunk(text string) *CanonicalChunk {
	p := TextPart(text)
	return &CanonicalChunk{Delta: ChunkDelta{Content: &p}}
}

// ToolCallChunk returns a non-terminal chunk carrying a reassembled tool call.
func ToolCallChunk(call ToolCall) *CanonicalChunk {
	return &CanonicalChunk{Delta: ChunkDelta{ToolCall: &call}}
}

// TerminalChunk returns the chunk that finishes a stream.
func TerminalChunk(reason FinishReason, usage Usage) *CanonicalChunk {
	return &CanonicalChunk{FinishReason: reason, Usage: &usage}
}

// ErrorChunk returns the synthetic terminal chunk emitted when a stream fails.
func ErrorChunk(err *Error, usage Usage) *CanonicalChunk {
	return &CanonicalChunk{FinishReason: FinishError, Usage: &usage, Err: err}
}

// Collect folds a chunk sequence into the response a synchronous call would
// have produced. Text fragments are concatenated and tool calls appended in
// arrival order.
func Collect(chunks []CanonicalChunk) *CanonicalResponse {
	resp := &CanonicalResponse{Message: CanonicalMessage{Role: RoleAssistant}}
	var text []byte
	flush := func() {
		if len(text) > 0 {
			resp.Message.Content = append(resp.Message.Content, TextPart(string(text)))
			text = text[:0]
		}
	}
	for _, c := range chunks {
		switch {
		case c.Delta.Content != nil && c.Delta.Content.Type == ContentText:
			text = append(text, c.Delta.Content.Text...)
		case c.Delta.Content != nil:
			flush()
			resp.Message.Content = append(resp.Message.Content, *c.Delta.Content)
		case c.Delta.ToolCall != nil:
			resp.Message.ToolCalls = append(resp.Message.ToolCalls, *c.Delta.ToolCall)
		}
		if c.Terminal() {
			resp.FinishReason = c.FinishReason
			if c.Usage != nil {
				resp.Usage = *c.Usage
			}
			resp.DiscardedMessages = c.DiscardedMessages
		}
	}
	flush()
	return resp
}
