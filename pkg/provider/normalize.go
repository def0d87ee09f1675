package provider

import (
	"fmt"
	"strings"

	"github.com/rhuss/modelbridge/pkg/api"
)

// systemSeparator joins the text of multiple hoisted system messages.
const systemSeparator = "\n\n"

// Conversation is a request's message list after family-independent
// normalization: system text hoisted out, tool results folded into user
// turns and same-role runs merged.
type Conversation struct {
	System   string
	Messages []api.CanonicalMessage
}

// Normalize hoists system messages, folds tool results and merges
// consecutive same-role messages. The input slice is not modified.
func Normalize(family string, msgs []api.CanonicalMessage) (Conversation, *api.Error) {
	system, rest, err := HoistSystem(family, msgs)
	if err != nil {
		return Conversation{}, err
	}
	folded, err := FoldToolResults(family, rest)
	if err != nil {
		return Conversation{}, err
	}
	return Conversation{System: system, Messages: MergeConsecutive(folded)}, nil
}

// HoistSystem removes every system message from msgs and returns their text
// concatenated in encounter order, together with the remaining messages.
// Later system messages are never interleaved with the conversation.
func HoistSystem(family string, msgs []api.CanonicalMessage) (string, []api.CanonicalMessage, *api.Error) {
	var parts []string
	rest := make([]api.CanonicalMessage, 0, len(msgs))
	for i, m := range msgs {
		if m.Role == api.RoleSystem {
			text, err := textOnly(family, i, m)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, text)
			continue
		}
		rest = append(rest, m.Clone())
	}
	return strings.Join(parts, systemSeparator), rest, nil
}

// FoldToolResults rewrites tool messages as user messages whose content is
// a single tool_result part answering the message's tool call.
func FoldToolResults(family string, msgs []api.CanonicalMessage) ([]api.CanonicalMessage, *api.Error) {
	out := make([]api.CanonicalMessage, 0, len(msgs))
	for i, m := range msgs {
		if m.Role != api.RoleTool {
			out = append(out, m)
			continue
		}
		text, err := textOnly(family, i, m)
		if err != nil {
			return nil, err
		}
		out = append(out, api.CanonicalMessage{
			Role:    api.RoleUser,
			Content: []api.ContentPart{api.ToolResultPart(m.ToolCallID, text)},
		})
	}
	return out, nil
}

// textOnly returns the text of a message whose role carries text only.
// Images next to text are dropped with a warning; a message holding nothing
// but images is rejected.
func textOnly(family string, idx int, m api.CanonicalMessage) (string, *api.Error) {
	text := m.Text()
	for _, part := range m.Content {
		if part.Type != api.ContentImage {
			continue
		}
		if strings.TrimSpace(text) == "" {
			return "", api.NewUnsupportedContentError(family,
				fmt.Sprintf("messages[%d]: %s messages cannot carry images", idx, m.Role))
		}
		DropImage(family, idx, fmt.Errorf("%s messages carry text only", m.Role))
	}
	return text, nil
}

// MergeConsecutive merges runs of messages sharing a role into one message
// whose content parts and tool calls are concatenated in order. Merging is
// associative: merging [A,A,A] equals merging [A,A] and then appending A.
func MergeConsecutive(msgs []api.CanonicalMessage) []api.CanonicalMessage {
	out := make([]api.CanonicalMessage, 0, len(msgs))
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			last := &out[n-1]
			last.Content = append(last.Content, m.Content...)
			last.ToolCalls = append(last.ToolCalls, m.ToolCalls...)
			continue
		}
		out = append(out, m.Clone())
	}
	return out
}

// CheckAlternation verifies that msgs start with a user turn and alternate
// strictly between user and assistant. With lastUser set the final message
// must also come from the user.
func CheckAlternation(msgs []api.CanonicalMessage, lastUser bool) *api.Error {
	if len(msgs) == 0 {
		return api.NewInvalidRequestError("messages",
			"conversation must contain at least one user or assistant message")
	}
	for i, m := range msgs {
		want := api.RoleUser
		if i%2 == 1 {
			want = api.RoleAssistant
		}
		if m.Role != want {
			return api.NewInvalidRequestError(fmt.Sprintf("messages[%d].role", i),
				"the model only supports an optional initial system message followed by alternating user and assistant messages")
		}
	}
	if lastUser && msgs[len(msgs)-1].Role != api.RoleUser {
		return api.NewInvalidRequestError("messages", "the last message must be from the user")
	}
	return nil
}

// PromptText flattens a conversation into the text a tokenizer would see.
// It only feeds usage estimation.
func PromptText(conv Conversation) string {
	var b strings.Builder
	if conv.System != "" {
		b.WriteString(conv.System)
		b.WriteString("\n")
	}
	for _, m := range conv.Messages {
		b.WriteString(m.Text())
		b.WriteString("\n")
	}
	return b.String()
}
