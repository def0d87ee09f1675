package provider

import (
	"fmt"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/debug"
)

// PartitionTurns groups message indices into units that are kept or
// discarded together. Every system message is its own partition; a user
// message opens a turn that also takes the assistant and tool messages
// following it. Messages before the first user message form their own
// partitions.
func PartitionTurns(msgs []api.CanonicalMessage) [][]int {
	var parts [][]int
	open := false
	for i, m := range msgs {
		switch {
		case m.Role == api.RoleSystem:
			parts = append(parts, []int{i})
			open = false
		case m.Role == api.RoleUser:
			parts = append(parts, []int{i})
			open = true
		case open:
			last := &parts[len(parts)-1]
			*last = append(*last, i)
		default:
			parts = append(parts, []int{i})
		}
	}
	return parts
}

// TruncatePrompt picks the messages to drop so the prompt fits in limit
// tokens. System partitions and the last partition are always kept; the
// oldest remaining turns are discarded first, whole. The returned indices
// are ascending. A limit the kept messages alone exceed is an invalid
// request.
func TruncatePrompt(msgs []api.CanonicalMessage, limit int, est Estimator) ([]int, *api.Error) {
	parts := PartitionTurns(msgs)
	if len(parts) == 0 {
		return nil, nil
	}

	tokens := func(part []int) int {
		n := 0
		for _, i := range part {
			n += est.CountTokens(msgs[i].Text())
		}
		return n
	}

	total, required := 0, 0
	for i, part := range parts {
		n := tokens(part)
		total += n
		if i == len(parts)-1 || msgs[part[0]].Role == api.RoleSystem {
			required += n
		}
	}
	if required > limit {
		return nil, api.NewInvalidRequestError("parameters.max_prompt_tokens", fmt.Sprintf(
			"Token count of the last message and all system messages (%d) exceeds the maximum prompt tokens (%d).",
			required, limit))
	}

	var discarded []int
	for _, part := range parts[:len(parts)-1] {
		if total <= limit {
			break
		}
		if msgs[part[0]].Role == api.RoleSystem {
			continue
		}
		total -= tokens(part)
		discarded = append(discarded, part...)
	}
	return discarded, nil
}

// TruncateMessages applies the prompt token limit to req. The limit is the
// request's max_prompt_tokens, or the family's MaxPromptTokens when the
// request sets none; with neither the messages are returned unchanged. A
// request limit above the family's is rejected. It returns the kept messages
// and the indices of the discarded ones.
func (c FamilyConfig) TruncateMessages(req *api.CanonicalRequest) ([]api.CanonicalMessage, []int, error) {
	limit := c.MaxPromptTokens
	if p := req.Parameters.MaxPromptTokens; p != nil {
		if c.MaxPromptTokens > 0 && *p > c.MaxPromptTokens {
			return nil, nil, api.NewInvalidRequestError("parameters.max_prompt_tokens", fmt.Sprintf(
				"The request maximum prompt tokens is %d. However, the model's maximum context length is %d tokens.",
				*p, c.MaxPromptTokens)).WithContext(req.ModelID, c.Name)
		}
		limit = *p
	}
	if limit <= 0 {
		return req.Messages, nil, nil
	}

	discarded, apiErr := TruncatePrompt(req.Messages, limit, c.Estimator)
	if apiErr != nil {
		return nil, nil, apiErr.WithContext(req.ModelID, c.Name)
	}
	if len(discarded) == 0 {
		return req.Messages, nil, nil
	}

	drop := make(map[int]bool, len(discarded))
	for _, i := range discarded {
		drop[i] = true
	}
	kept := make([]api.CanonicalMessage, 0, len(req.Messages)-len(discarded))
	for i, m := range req.Messages {
		if !drop[i] {
			kept = append(kept, m)
		}
	}
	debug.Log("adapters", "prompt truncated",
		"family", c.Name, "model", req.ModelID, "limit", limit, "discarded", discarded)
	return kept, discarded, nil
}
