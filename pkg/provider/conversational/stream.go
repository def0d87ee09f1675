package conversational

import (
	"encoding/json"
	"log/slog"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/debug"
	"github.com/rhuss/modelbridge/pkg/provider"
)

// DecodeStreamEvent translates one messages API stream event.
//
// Event sequence expected:
//
//	message_start                      (prompt usage)
//	content_block_start  index=N       (text or tool_use)
//	content_block_delta  index=N       (text_delta or input_json_delta)
//	content_block_stop   index=N
//	message_delta                      (stop_reason, completion usage)
//	message_stop                       (terminal)
//
// tool_use blocks are buffered in state and emitted as a single tool call
// chunk at content_block_stop.
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
	case "message_start":
		if se.Message != nil && se.Message.Usage != nil {
			if se.Message.Usage.InputTokens != nil {
				state.ReportPromptTokens(*se.Message.Usage.InputTokens)
			}
		}
		return nil, nil

	case "content_block_start":
		if se.ContentBlock == nil {
			return nil, api.NewTranscodingError("content_block_start without a block", nil)
		}
		switch se.ContentBlock.Type {
		case "tool_use":
			state.StartToolCall(se.Index, se.ContentBlock.ID, se.ContentBlock.Name)
			return nil, nil
		case "text":
			return state.Text(se.ContentBlock.Text), nil
		default:
			debug.Log("adapters", "ignoring content block", "family", a.cfg.Name, "type", se.ContentBlock.Type)
			return nil, nil
		}

	case "content_block_delta":
		if se.Delta == nil {
			return nil, api.NewTranscodingError("content_block_delta without a delta", nil)
		}
		switch se.Delta.Type {
		case "text_delta":
			return state.Text(se.Delta.Text), nil
		case "input_json_delta":
			return nil, state.AppendToolArgs(se.Index, se.Delta.PartialJSON)
		default:
			debug.Log("adapters", "ignoring delta", "family", a.cfg.Name, "type", se.Delta.Type)
			return nil, nil
		}

	case "content_block_stop":
		return state.CompleteToolCall(se.Index), nil

	case "message_delta":
		if se.Delta != nil && se.Delta.StopReason != "" {
			state.SetFinishReason(finishReasons.Lookup(a.cfg.Name, se.Delta.StopReason))
		}
		if se.Usage != nil {
			if se.Usage.OutputTokens != nil {
				state.ReportCompletionTokens(*se.Usage.OutputTokens)
			}
			if se.Usage.InputTokens != nil {
				state.ReportPromptTokens(*se.Usage.InputTokens)
			}
		}
		return nil, nil

	case "message_stop":
		if se.Metrics != nil {
			if se.Metrics.InputTokenCount != nil {
				state.ReportPromptTokens(*se.Metrics.InputTokenCount)
			}
			if se.Metrics.OutputTokenCount != nil {
				state.ReportCompletionTokens(*se.Metrics.OutputTokenCount)
			}
		}
		state.Finish("")
		return nil, nil

	case "ping":
		return nil, nil

	case "error":
		if se.Error == nil {
			return nil, &provider.BackendError{Message: "stream error without details"}
		}
		return nil, &provider.BackendError{Code: se.Error.Type, Message: se.Error.Message}

	default:
		slog.Warn("skipping unknown stream event",
			"family", a.cfg.Name,
			"type", se.Type,
			"data", debug.Truncate(string(ev.Data), 200),
		)
		return nil, nil
	}
}

