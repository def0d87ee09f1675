// Package generic implements the fallback adapter for families that speak a
// simple role/content-list JSON protocol. It has no tool support; images
// travel by URL or data URL.
package generic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/debug"
	"github.com/rhuss/modelbridge/pkg/multimodal"
	"github.com/rhuss/modelbridge/pkg/provider"
)

// Config holds configuration for a generic family adapter.
type Config struct {
	provider.FamilyConfig
}

var finishReasons = provider.FinishTable{
	"end":              api.FinishStop,
	"stop":             api.FinishStop,
	"stop_sequence":    api.FinishStop,
	"length":           api.FinishLength,
	"max_tokens":       api.FinishLength,
	"content_filtered": api.FinishContentFilter,
}

// Adapter implements provider.Adapter for generic families.
type Adapter struct {
	cfg Config
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates a generic adapter.
func New(cfg Config) (*Adapter, error) {
	if err := cfg.FamilyConfig.Validate(); err != nil {
		return nil, fmt.Errorf("generic: %w", err)
	}
	return &Adapter{cfg: cfg}, nil
}

func (a *Adapter) Name() string        { return a.cfg.Name }
func (a *Adapter) Kind() provider.Kind { return provider.KindGeneric }

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{Streaming: true, Vision: true, StopSequences: true}
}

func (a *Adapter) NewStreamState(payload *provider.BackendPayload) *provider.StreamState {
	return provider.NewStreamState(a.cfg.Name, a.cfg.Estimator, payload.PromptText)
}

// EncodeRequest builds the generic request body. System text is hoisted into
// one leading system message, tool results are sent as user text and
// same-role runs are merged.
func (a *Adapter) EncodeRequest(ctx context.Context, req *api.CanonicalRequest) (*provider.BackendPayload, error) {
	msgs, discarded, err := a.cfg.TruncateMessages(req)
	if err != nil {
		return nil, err
	}
	conv, apiErr := provider.Normalize(a.cfg.Name, msgs)
	if apiErr != nil {
		return nil, apiErr.WithContext(req.ModelID, a.cfg.Name)
	}
	body := chatRequest{
		Model:    req.ModelID,
		Messages: make([]wireMessage, 0, len(conv.Messages)+1),
		Stream:   req.Parameters.Stream,
	}
	if conv.System != "" {
		body.Messages = append(body.Messages, wireMessage{
			Role:    string(api.RoleSystem),
			Content: []json.RawMessage{mustMarshal(textItem{Type: "text", Text: conv.System})},
		})
	}

	for i, m := range conv.Messages {
		wm := wireMessage{Role: string(m.Role)}
		for _, part := range m.Content {
			switch part.Type {
			case api.ContentText, api.ContentToolResult:
				wm.Content = append(wm.Content, mustMarshal(textItem{Type: "text", Text: part.Text}))
			case api.ContentImage:
				img, err := multimodal.EncodeImage(ctx, *part.Image, provider.KindGeneric, a.cfg.Name, nil)
				if err != nil {
					return nil, provider.WithContext(err, req.ModelID, a.cfg.Name)
				}
				wm.Content = append(wm.Content, img)
			default:
				return nil, api.NewUnsupportedContentError(a.cfg.Name,
					fmt.Sprintf("messages[%d]: unsupported content type %q", i, part.Type)).
					WithContext(req.ModelID, a.cfg.Name)
			}
		}
		if len(m.ToolCalls) > 0 {
			return nil, api.NewUnsupportedContentError(a.cfg.Name,
				fmt.Sprintf("messages[%d]: model family does not support tool calls", i)).
				WithContext(req.ModelID, a.cfg.Name)
		}
		body.Messages = append(body.Messages, wm)
	}

	provider.DropTools(a.cfg.Name, req.Tools)

	p := req.Parameters
	if p.MaxTokens != nil {
		v := a.cfg.Bounds.ClampMaxTokens(a.cfg.Name, *p.MaxTokens)
		body.MaxTokens = &v
	}
	if p.Temperature != nil {
		v := a.cfg.Bounds.ClampTemperature(a.cfg.Name, *p.Temperature)
		body.Temperature = &v
	}
	if p.TopP != nil {
		v := a.cfg.Bounds.ClampTopP(a.cfg.Name, *p.TopP)
		body.TopP = &v
	}
	body.Stop = p.StopSequences

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("generic: marshaling request: %w", err)
	}

	debug.Log("adapters", "encoded request",
		"family", a.cfg.Name, "model", req.ModelID, "messages", len(body.Messages))

	return &provider.BackendPayload{
		Family:            a.cfg.Name,
		Kind:              provider.KindGeneric,
		Model:             req.ModelID,
		Body:              data,
		Stream:            p.Stream,
		PromptText:        provider.PromptText(conv),
		DiscardedMessages: discarded,
	}, nil
}

// DecodeResponse converts a generic response body.
func (a *Adapter) DecodeResponse(payload *provider.BackendPayload, resp *provider.BackendResponse) (*api.CanonicalResponse, error) {
	var cr chatResponse
	if err := json.Unmarshal(resp.Body, &cr); err != nil {
		return nil, api.NewTranscodingError("malformed response", err).WithContext(payload.Model, a.cfg.Name)
	}
	if cr.Error != nil {
		return nil, &provider.BackendError{Code: cr.Error.Code, Message: cr.Error.Message}
	}

	msg := api.CanonicalMessage{Role: api.RoleAssistant}
	if cr.Text != "" {
		msg.Content = []api.ContentPart{api.TextPart(cr.Text)}
	}

	var in, out *int
	if cr.Tokens != nil {
		in, out = cr.Tokens.In, cr.Tokens.Out
	}
	return &api.CanonicalResponse{
		Message:      msg,
		FinishReason: finishReasons.Lookup(a.cfg.Name, cr.StopReason),
		Usage:        provider.ResolveUsage(a.cfg.Estimator, in, out, payload.PromptText, cr.Text),
	}, nil
}

// DecodeStreamEvent translates delta and stop events.
func (a *Adapter) DecodeStreamEvent(ev provider.BackendEvent, state *provider.StreamState) (*api.CanonicalChunk, error) {
	switch ev.Type {
	case provider.BackendEventDone:
		return nil, nil
	case provider.BackendEventError:
		return nil, provider.ErrorFromEvent(ev)
	}

	var se streamEvent
	if err := json.Unmarshal(ev.Data, &se); err != nil {
		return nil, api.NewTranscodingError("malformed stream event", err)
	}

	switch se.Type {
	case "delta":
		return state.Text(se.Text), nil
	case "stop":
		if se.Tokens != nil {
			if se.Tokens.In != nil {
				state.ReportPromptTokens(*se.Tokens.In)
			}
			if se.Tokens.Out != nil {
				state.ReportCompletionTokens(*se.Tokens.Out)
			}
		}
		state.Finish(finishReasons.Lookup(a.cfg.Name, se.StopReason))
		return nil, nil
	case "error":
		code, message := "", "stream error"
		if se.Error != nil {
			code, message = se.Error.Code, se.Error.Message
		}
		return nil, &provider.BackendError{Code: code, Message: message}
	default:
		debug.Log("adapters", "ignoring stream event", "family", a.cfg.Name, "type", se.Type)
		return nil, nil
	}
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
