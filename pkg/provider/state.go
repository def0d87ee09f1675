package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rhuss/modelbridge/pkg/api"
)

// MaxToolArgBufSize is the upper bound (in bytes) for buffered tool call
// arguments per call.
const MaxToolArgBufSize = 1 << 20 // 1 MB

// ToolCallBuffer tracks incremental tool call argument assembly across
// multiple stream events for a single tool call.
type ToolCallBuffer struct {
	ID   string
	Name string
	Args strings.Builder
}

// toolCall returns the buffered call. Arguments that are not complete JSON
// (a call cut off by the end of the stream) are carried as a JSON string so
// the chunk always encodes.
func (b *ToolCallBuffer) toolCall() api.ToolCall {
	args := ArgumentsOrEmpty(json.RawMessage(b.Args.String()))
	if !json.Valid(args) {
		args, _ = json.Marshal(b.Args.String())
	}
	return api.ToolCall{ID: b.ID, Name: b.Name, Arguments: args}
}

// StreamState is the request-scoped accumulator passed to
// Adapter.DecodeStreamEvent. It is allocated per stream by
// Adapter.NewStreamState and discarded when the stream ends; it is not safe
// for concurrent use.
type StreamState struct {
	family     string
	estimator  Estimator
	promptText string

	completion strings.Builder

	// Tool call buffers keyed by the family's block/call index.
	toolCalls map[int]*ToolCallBuffer
	order     []int

	promptTokens     *int
	completionTokens *int

	finished bool
	finish   api.FinishReason
}

// NewStreamState creates an empty accumulator. promptText feeds usage
// estimation when the backend omits prompt token counts.
func NewStreamState(family string, est Estimator, promptText string) *StreamState {
	return &StreamState{
		family:     family,
		estimator:  est,
		promptText: promptText,
		toolCalls:  make(map[int]*ToolCallBuffer),
	}
}

// Family returns the family name the stream belongs to.
func (s *StreamState) Family() string {
	return s.family
}

// Text records a text fragment and returns the chunk carrying it, or nil
// for an empty fragment.
func (s *StreamState) Text(fragment string) *api.CanonicalChunk {
	if fragment == "" {
		return nil
	}
	s.completion.WriteString(fragment)
	return api.TextChunk(fragment)
}

// StartToolCall opens a buffer for the tool call at index. An empty id is
// replaced by a generated one.
func (s *StreamState) StartToolCall(index int, id, name string) {
	if id == "" {
		id = api.NewToolCallID()
	}
	if _, exists := s.toolCalls[index]; !exists {
		s.order = append(s.order, index)
	}
	s.toolCalls[index] = &ToolCallBuffer{ID: id, Name: name}
}

// AppendToolArgs adds an argument fragment to the tool call at index.
func (s *StreamState) AppendToolArgs(index int, fragment string) error {
	buf, ok := s.toolCalls[index]
	if !ok {
		return api.NewTranscodingError(
			fmt.Sprintf("argument fragment for unknown tool call %d", index), nil)
	}
	if buf.Args.Len()+len(fragment) > MaxToolArgBufSize {
		return api.NewTranscodingError(
			fmt.Sprintf("tool call %q arguments exceed %d bytes", buf.Name, MaxToolArgBufSize), nil)
	}
	buf.Args.WriteString(fragment)
	s.completion.WriteString(fragment)
	return nil
}

// CompleteToolCall closes the tool call at index and returns the chunk
// carrying the reassembled call. It returns nil when no call is open at
// index, so families can forward every block-stop event unconditionally.
func (s *StreamState) CompleteToolCall(index int) *api.CanonicalChunk {
	buf, ok := s.toolCalls[index]
	if !ok {
		return nil
	}
	delete(s.toolCalls, index)
	for i, idx := range s.order {
		if idx == index {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return api.ToolCallChunk(buf.toolCall())
}

// PendingToolCalls returns the number of tool calls still buffered.
func (s *StreamState) PendingToolCalls() int {
	return len(s.toolCalls)
}

// Flush returns best-effort chunks for every tool call still buffered, in
// the order the calls were started, and clears the buffers.
func (s *StreamState) Flush() []api.CanonicalChunk {
	var out []api.CanonicalChunk
	for _, idx := range s.order {
		if buf, ok := s.toolCalls[idx]; ok {
			out = append(out, *api.ToolCallChunk(buf.toolCall()))
		}
	}
	s.toolCalls = make(map[int]*ToolCallBuffer)
	s.order = nil
	return out
}

// ReportPromptTokens records the backend's prompt token count.
func (s *StreamState) ReportPromptTokens(n int) {
	s.promptTokens = &n
}

// ReportCompletionTokens records the backend's completion token count.
func (s *StreamState) ReportCompletionTokens(n int) {
	s.completionTokens = &n
}

// SetFinishReason records the finish reason without ending the stream.
// Families that announce the reason before their terminal event use it.
func (s *StreamState) SetFinishReason(reason api.FinishReason) {
	s.finish = reason
}

// Finish records that the backend signalled the end of generation. An empty
// reason keeps the one already recorded.
func (s *StreamState) Finish(reason api.FinishReason) {
	s.finished = true
	if reason != "" {
		s.finish = reason
	}
}

// Finished reports whether a terminal backend event has been seen.
func (s *StreamState) Finished() bool {
	return s.finished
}

// FinishReason returns the recorded finish reason.
func (s *StreamState) FinishReason() api.FinishReason {
	return s.finish
}

// Usage returns reported token counts, estimating any the backend omitted.
func (s *StreamState) Usage() api.Usage {
	return ResolveUsage(s.estimator, s.promptTokens, s.completionTokens, s.promptText, s.completion.String())
}

// TerminalChunk returns the chunk that finishes the stream.
func (s *StreamState) TerminalChunk() *api.CanonicalChunk {
	reason := s.finish
	if reason == "" {
		reason = api.FinishStop
	}
	return api.TerminalChunk(reason, s.Usage())
}
