package conversational

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/multimodal"
	"github.com/rhuss/modelbridge/pkg/provider"
)

// DecodeResponse converts a messages API response into a canonical
// response. Text, tool_use and image blocks are kept in order; unknown
// block types are skipped with a warning.
func (a *Adapter) DecodeResponse(payload *provider.BackendPayload, resp *provider.BackendResponse) (*api.CanonicalResponse, error) {
	var mr messagesResponse
	if err := json.Unmarshal(resp.Body, &mr); err != nil {
		return nil, api.NewTranscodingError("malformed messages response", err).WithContext(payload.Model, a.cfg.Name)
	}
	if mr.Type == "error" && mr.Error != nil {
		return nil, &provider.BackendError{Code: mr.Error.Type, Message: mr.Error.Message}
	}

	msg := api.CanonicalMessage{Role: api.RoleAssistant}
	var completion strings.Builder

	for _, raw := range mr.Content {
		var block contentBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			return nil, api.NewTranscodingError("malformed content block", err).WithContext(payload.Model, a.cfg.Name)
		}
		switch block.Type {
		case "text":
			msg.Content = append(msg.Content, api.TextPart(block.Text))
			completion.WriteString(block.Text)
		case "tool_use":
			args := provider.ArgumentsOrEmpty(block.Input)
			msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
			completion.Write(args)
		case "image":
			ref, err := multimodal.DecodeImage(provider.KindConversational, a.cfg.Name, raw)
			if err != nil {
				return nil, provider.WithContext(err, payload.Model, a.cfg.Name)
			}
			msg.Content = append(msg.Content, api.ImagePart(ref))
		default:
			slog.Warn("skipping unsupported content block",
				"family", a.cfg.Name,
				"type", block.Type,
			)
		}
	}

	var in, out *int
	if mr.Usage != nil {
		in, out = mr.Usage.InputTokens, mr.Usage.OutputTokens
	}

	return &api.CanonicalResponse{
		Message:      msg,
		FinishReason: finishReasons.Lookup(a.cfg.Name, mr.StopReason),
		Usage:        provider.ResolveUsage(a.cfg.Estimator, in, out, payload.PromptText, completion.String()),
	}, nil
}
