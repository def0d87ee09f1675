package completion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/debug"
	"github.com/rhuss/modelbridge/pkg/provider"
)

type generateRequest struct {
	Prompt      string   `json:"prompt"`
	MaxGenLen   *int     `json:"max_gen_len,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

// generateResponse is both the synchronous body and one stream chunk.
type generateResponse struct {
	Generation           string             `json:"generation"`
	StopReason           *string            `json:"stop_reason"`
	PromptTokenCount     *int               `json:"prompt_token_count"`
	GenerationTokenCount *int               `json:"generation_token_count"`
	Metrics              *invocationMetrics `json:"amazon-bedrock-invocationMetrics,omitempty"`
}

type invocationMetrics struct {
	InputTokenCount  *int `json:"inputTokenCount,omitempty"`
	OutputTokenCount *int `json:"outputTokenCount,omitempty"`
}

// EncodeRequest renders the conversation into a prompt string and maps the
// sampling parameters. Tool definitions and stop sequences are dropped.
func (a *Adapter) EncodeRequest(ctx context.Context, req *api.CanonicalRequest) (*provider.BackendPayload, error) {
	msgs, discarded, err := a.cfg.TruncateMessages(req)
	if err != nil {
		return nil, err
	}
	conv, apiErr := provider.Normalize(a.cfg.Name, msgs)
	if apiErr != nil {
		return nil, apiErr.WithContext(req.ModelID, a.cfg.Name)
	}
	if apiErr := provider.CheckAlternation(conv.Messages, true); apiErr != nil {
		return nil, apiErr.WithContext(req.ModelID, a.cfg.Name)
	}

	texts := make([]string, len(conv.Messages))
	for i, m := range conv.Messages {
		text, err := a.messageText(ctx, i, m)
		if err != nil {
			return nil, provider.WithContext(err, req.ModelID, a.cfg.Name)
		}
		texts[i] = text
	}

	provider.DropTools(a.cfg.Name, req.Tools)

	body := generateRequest{Prompt: a.cfg.Markers.Render(conv, texts)}
	p := req.Parameters
	if p.MaxTokens != nil {
		v := a.cfg.Bounds.ClampMaxTokens(a.cfg.Name, *p.MaxTokens)
		body.MaxGenLen = &v
	}
	if p.Temperature != nil {
		v := a.cfg.Bounds.ClampTemperature(a.cfg.Name, *p.Temperature)
		body.Temperature = &v
	}
	if p.TopP != nil {
		v := a.cfg.Bounds.ClampTopP(a.cfg.Name, *p.TopP)
		body.TopP = &v
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("completion: marshaling request: %w", err)
	}

	debug.Log("adapters", "encoded request",
		"family", a.cfg.Name, "model", req.ModelID, "prompt_len", len(body.Prompt))
	debug.Trace("adapters", "rendered prompt", "prompt", body.Prompt)

	return &provider.BackendPayload{
		Family:            a.cfg.Name,
		Kind:              provider.KindCompletion,
		Model:             req.ModelID,
		Body:              data,
		Stream:            p.Stream,
		PromptText:        body.Prompt,
		DiscardedMessages: discarded,
	}, nil
}

// DecodeResponse converts a generation body into a canonical response.
func (a *Adapter) DecodeResponse(payload *provider.BackendPayload, resp *provider.BackendResponse) (*api.CanonicalResponse, error) {
	var gr generateResponse
	if err := json.Unmarshal(resp.Body, &gr); err != nil {
		return nil, api.NewTranscodingError("malformed generation response", err).WithContext(payload.Model, a.cfg.Name)
	}

	msg := api.CanonicalMessage{Role: api.RoleAssistant}
	if gr.Generation != "" {
		msg.Content = []api.ContentPart{api.TextPart(gr.Generation)}
	}

	var stopReason string
	if gr.StopReason != nil {
		stopReason = *gr.StopReason
	}

	return &api.CanonicalResponse{
		Message:      msg,
		FinishReason: finishReasons.Lookup(a.cfg.Name, stopReason),
		Usage: provider.ResolveUsage(a.cfg.Estimator,
			gr.PromptTokenCount, gr.GenerationTokenCount,
			payload.PromptText, gr.Generation),
	}, nil
}

// DecodeStreamEvent translates one generation chunk. Token counts are
// cumulative; the chunk carrying a stop_reason ends the stream.
func (a *Adapter) DecodeStreamEvent(ev provider.BackendEvent, state *provider.StreamState) (*api.CanonicalChunk, error) {
	switch ev.Type {
	case provider.BackendEventDone:
		return nil, nil
	case provider.BackendEventError:
		return nil, provider.ErrorFromEvent(ev)
	}

	var gr generateResponse
	if err := json.Unmarshal(ev.Data, &gr); err != nil {
		return nil, api.NewTranscodingError("malformed generation chunk", err)
	}

	if gr.PromptTokenCount != nil {
		state.ReportPromptTokens(*gr.PromptTokenCount)
	}
	if gr.GenerationTokenCount != nil {
		state.ReportCompletionTokens(*gr.GenerationTokenCount)
	}
	if m := gr.Metrics; m != nil {
		if m.InputTokenCount != nil {
			state.ReportPromptTokens(*m.InputTokenCount)
		}
		if m.OutputTokenCount != nil {
			state.ReportCompletionTokens(*m.OutputTokenCount)
		}
	}

	chunk := state.Text(gr.Generation)
	if gr.StopReason != nil {
		state.Finish(finishReasons.Lookup(a.cfg.Name, *gr.StopReason))
	}
	return chunk, nil
}
