package conversational

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/debug"
	"github.com/rhuss/modelbridge/pkg/multimodal"
	"github.com/rhuss/modelbridge/pkg/provider"
)

// EncodeRequest converts a canonical request into a messages API body.
//
// System messages are hoisted into the system field, tool results become
// tool_result blocks in user turns, same-role runs are merged and the
// result must alternate strictly starting with a user turn.
func (a *Adapter) EncodeRequest(ctx context.Context, req *api.CanonicalRequest) (*provider.BackendPayload, error) {
	msgs, discarded, err := a.cfg.TruncateMessages(req)
	if err != nil {
		return nil, err
	}
	conv, apiErr := provider.Normalize(a.cfg.Name, msgs)
	if apiErr != nil {
		return nil, apiErr.WithContext(req.ModelID, a.cfg.Name)
	}
	if apiErr := provider.CheckAlternation(conv.Messages, false); apiErr != nil {
		return nil, apiErr.WithContext(req.ModelID, a.cfg.Name)
	}

	body := messagesRequest{
		AnthropicVersion: a.cfg.AnthropicVersion,
		System:           conv.System,
		Messages:         make([]wireMessage, 0, len(conv.Messages)),
	}
	if a.cfg.Direct {
		body.Model = req.ModelID
		body.Stream = req.Parameters.Stream
	}

	for i, m := range conv.Messages {
		wm, err := a.encodeMessage(ctx, i, m)
		if err != nil {
			return nil, provider.WithContext(err, req.ModelID, a.cfg.Name)
		}
		body.Messages = append(body.Messages, wm)
	}

	for _, t := range req.Tools {
		body.Tools = append(body.Tools, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: provider.ToolSchema(t.Parameters),
		})
	}

	if err := a.mapParameters(&body, req.Parameters); err != nil {
		return nil, provider.WithContext(err, req.ModelID, a.cfg.Name)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("conversational: marshaling request: %w", err)
	}

	debug.Log("adapters", "encoded request",
		"family", a.cfg.Name, "model", req.ModelID,
		"messages", len(body.Messages), "tools", len(body.Tools))

	return &provider.BackendPayload{
		Family:            a.cfg.Name,
		Kind:              provider.KindConversational,
		Model:             req.ModelID,
		Body:              data,
		Stream:            req.Parameters.Stream,
		PromptText:        provider.PromptText(conv),
		DiscardedMessages: discarded,
	}, nil
}

// encodeMessage converts one normalized turn. Assistant tool calls follow
// the turn's own content as tool_use blocks.
func (a *Adapter) encodeMessage(ctx context.Context, idx int, m api.CanonicalMessage) (wireMessage, error) {
	wm := wireMessage{Role: string(m.Role)}

	for _, part := range m.Content {
		var (
			block json.RawMessage
			err   error
		)
		switch part.Type {
		case api.ContentText:
			if part.Text == "" {
				continue
			}
			block, err = json.Marshal(textBlock{Type: "text", Text: part.Text})
		case api.ContentToolResult:
			block, err = json.Marshal(toolResultBlock{
				Type:      "tool_result",
				ToolUseID: part.ToolCallID,
				Content:   []textBlock{{Type: "text", Text: part.Text}},
			})
		case api.ContentImage:
			block, err = multimodal.EncodeImage(ctx, *part.Image, provider.KindConversational, a.cfg.Name, a.cfg.Resolver)
		default:
			err = api.NewUnsupportedContentError(a.cfg.Name,
				fmt.Sprintf("messages[%d]: unsupported content type %q", idx, part.Type))
		}
		if err != nil {
			return wm, err
		}
		wm.Content = append(wm.Content, block)
	}

	for j, call := range m.ToolCalls {
		args := provider.ArgumentsOrEmpty(call.Arguments)
		if !json.Valid(args) {
			return wm, api.NewInvalidRequestError(
				fmt.Sprintf("messages[%d].tool_calls[%d].arguments", idx, j),
				"tool call arguments must be valid JSON")
		}
		id := call.ID
		if id == "" {
			id = api.NewToolCallID()
		}
		block, err := json.Marshal(toolUseBlock{Type: "tool_use", ID: id, Name: call.Name, Input: args})
		if err != nil {
			return wm, err
		}
		wm.Content = append(wm.Content, block)
	}

	if len(wm.Content) == 0 {
		return wm, api.NewInvalidRequestError(fmt.Sprintf("messages[%d].content", idx),
			"message has no content the model can accept")
	}
	return wm, nil
}

// mapParameters maps and clamps sampling parameters. max_tokens is
// mandatory for this family.
func (a *Adapter) mapParameters(body *messagesRequest, p api.GenerationParameters) error {
	maxTokens := a.cfg.DefaultMaxTokens
	if p.MaxTokens != nil {
		maxTokens = *p.MaxTokens
	}
	if maxTokens <= 0 {
		return api.NewInvalidRequestError("max_tokens",
			"max_tokens is required for this model family")
	}
	body.MaxTokens = a.cfg.Bounds.ClampMaxTokens(a.cfg.Name, maxTokens)

	if p.Temperature != nil {
		v := a.cfg.Bounds.ClampTemperature(a.cfg.Name, *p.Temperature)
		body.Temperature = &v
	}
	if p.TopP != nil {
		v := a.cfg.Bounds.ClampTopP(a.cfg.Name, *p.TopP)
		body.TopP = &v
	}
	if len(p.StopSequences) > 0 {
		body.StopSequences = append([]string(nil), p.StopSequences...)
	}
	return nil
}
