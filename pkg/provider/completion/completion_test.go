package completion

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/provider"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(Config{FamilyConfig: provider.FamilyConfig{
		Name:      "family-l",
		Bounds:    provider.DefaultBounds(),
		Estimator: provider.CharEstimator{CharsPerToken: 4},
	}})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func turn(role api.Role, text string) api.CanonicalMessage {
	return api.CanonicalMessage{Role: role, Content: []api.ContentPart{api.TextPart(text)}}
}

func prompt(t *testing.T, payload *provider.BackendPayload) generateRequest {
	t.Helper()
	var body generateRequest
	if err := json.Unmarshal(payload.Body, &body); err != nil {
		t.Fatal(err)
	}
	return body
}

func TestEncodeRequest_Prompt(t *testing.T) {
	a := newTestAdapter(t)
	tests := []struct {
		name string
		msgs []api.CanonicalMessage
		want string
	}{
		{
			name: "single message",
			msgs: []api.CanonicalMessage{turn(api.RoleUser, "  human message1  ")},
			want: "<s>[INST] human message1 [/INST]",
		},
		{
			name: "without system",
			msgs: []api.CanonicalMessage{
				turn(api.RoleUser, "  human message1  "),
				turn(api.RoleAssistant, "     ai message1     "),
				turn(api.RoleUser, "  human message2  "),
			},
			want: "<s>[INST] human message1 [/INST]" +
				" ai message1 </s>" +
				"<s>[INST] human message2 [/INST]",
		},
		{
			name: "with system",
			msgs: []api.CanonicalMessage{
				turn(api.RoleSystem, " system message1 "),
				turn(api.RoleUser, "  human message1  "),
				turn(api.RoleAssistant, "     ai message1     "),
				turn(api.RoleUser, "  human message2  "),
			},
			want: "<s>[INST] <<SYS>>\n system message1 \n<</SYS>>\n\n  human message1 [/INST]" +
				" ai message1 </s>" +
				"<s>[INST] human message2 [/INST]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := a.EncodeRequest(context.Background(), &api.CanonicalRequest{ModelID: "m", Messages: tt.msgs})
			if err != nil {
				t.Fatal(err)
			}
			if got := prompt(t, payload).Prompt; got != tt.want {
				t.Errorf("prompt =\n%q\nwant\n%q", got, tt.want)
			}
			if payload.PromptText != tt.want {
				t.Errorf("PromptText = %q", payload.PromptText)
			}
		})
	}
}

func TestEncodeRequest_CustomMarkers(t *testing.T) {
	a, err := New(Config{
		FamilyConfig: provider.FamilyConfig{Name: "x", Estimator: provider.CharEstimator{CharsPerToken: 4}},
		Markers:      Markers{InstOpen: "Human:", InstClose: "\nAssistant:", EOS: "\n"},
	})
	if err != nil {
		t.Fatal(err)
	}
	payload, err := a.EncodeRequest(context.Background(), &api.CanonicalRequest{
		ModelID:  "m",
		Messages: []api.CanonicalMessage{turn(api.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := prompt(t, payload).Prompt; got != "Human: hi \nAssistant:" {
		t.Errorf("prompt = %q", got)
	}
}

func TestEncodeRequest_AlternationErrors(t *testing.T) {
	a := newTestAdapter(t)
	tests := []struct {
		name string
		msgs []api.CanonicalMessage
		msg  string
	}{
		{
			name: "starts with assistant",
			msgs: []api.CanonicalMessage{turn(api.RoleAssistant, "a"), turn(api.RoleUser, "u")},
			msg:  "the model only supports an optional initial system message followed by alternating user and assistant messages",
		},
		{
			name: "ends with assistant",
			msgs: []api.CanonicalMessage{turn(api.RoleUser, "u"), turn(api.RoleAssistant, "a")},
			msg:  "the last message must be from the user",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.EncodeRequest(context.Background(), &api.CanonicalRequest{ModelID: "m", Messages: tt.msgs})
			apiErr, ok := api.AsError(err)
			if !ok || apiErr.Kind != api.ErrorKindInvalidRequest {
				t.Fatalf("err = %v", err)
			}
			if apiErr.Message != tt.msg {
				t.Errorf("message = %q", apiErr.Message)
			}
		})
	}
}

func TestEncodeRequest_DropsUnsupported(t *testing.T) {
	a := newTestAdapter(t)
	maxTokens, temp := 256, -1.0
	req := &api.CanonicalRequest{
		ModelID: "m",
		Messages: []api.CanonicalMessage{{
			Role: api.RoleUser,
			Content: []api.ContentPart{
				api.TextPart("describe"),
				api.ImagePart(api.ImageRef{Data: []byte("x"), MediaType: "image/png"}),
			},
		}},
		Tools: []api.ToolDefinition{{Name: "lookup"}},
		Parameters: api.GenerationParameters{
			MaxTokens:     &maxTokens,
			Temperature:   &temp,
			StopSequences: []string{"###"},
		},
	}

	payload, err := a.EncodeRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(payload.Body, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["prompt"] != "<s>[INST] describe [/INST]" {
		t.Errorf("prompt = %v", raw["prompt"])
	}
	if raw["max_gen_len"] != float64(256) {
		t.Errorf("max_gen_len = %v", raw["max_gen_len"])
	}
	if raw["temperature"] != float64(0) {
		t.Errorf("temperature = %v, want clamped 0", raw["temperature"])
	}
	for _, key := range []string{"stop", "stop_sequences", "tools"} {
		if _, ok := raw[key]; ok {
			t.Errorf("unexpected field %q in body", key)
		}
	}
}

func TestEncodeRequest_ImageOnlyIsFatal(t *testing.T) {
	a := newTestAdapter(t)
	req := &api.CanonicalRequest{
		ModelID: "m",
		Messages: []api.CanonicalMessage{{
			Role:    api.RoleUser,
			Content: []api.ContentPart{api.ImagePart(api.ImageRef{Ref: "https://example.com/a.png"})},
		}},
	}
	_, err := a.EncodeRequest(context.Background(), req)
	if !api.IsKind(err, api.ErrorKindUnsupportedContent) {
		t.Fatalf("err = %v, want unsupported_content", err)
	}
}

func TestDecodeResponse(t *testing.T) {
	a := newTestAdapter(t)
	payload := &provider.BackendPayload{Model: "m", PromptText: "<s>[INST] hi [/INST]"}

	resp, err := a.DecodeResponse(payload, &provider.BackendResponse{Body: json.RawMessage(
		`{"generation":" Hello!","prompt_token_count":9,"generation_token_count":3,"stop_reason":"length"}`,
	)})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Role != api.RoleAssistant || resp.Message.Text() != " Hello!" {
		t.Errorf("message = %+v", resp.Message)
	}
	if resp.FinishReason != api.FinishLength {
		t.Errorf("finish = %s", resp.FinishReason)
	}
	if resp.Usage != (api.Usage{PromptTokens: 9, CompletionTokens: 3}) {
		t.Errorf("usage = %+v", resp.Usage)
	}

	resp, err = a.DecodeResponse(payload, &provider.BackendResponse{Body: json.RawMessage(
		`{"generation":"abcdefgh","stop_reason":"stop"}`,
	)})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Usage.Estimated || resp.Usage.CompletionTokens != 2 || resp.Usage.PromptTokens != 5 {
		t.Errorf("estimated usage = %+v", resp.Usage)
	}
}

func TestDecodeStreamEvent(t *testing.T) {
	a := newTestAdapter(t)
	state := a.NewStreamState(&provider.BackendPayload{PromptText: "p"})

	events := []string{
		`{"generation":"Hel","prompt_token_count":4,"generation_token_count":1,"stop_reason":null}`,
		`{"generation":"lo","prompt_token_count":null,"generation_token_count":2,"stop_reason":null}`,
		`{"generation":"","prompt_token_count":null,"generation_token_count":2,"stop_reason":"stop",` +
			`"amazon-bedrock-invocationMetrics":{"inputTokenCount":4,"outputTokenCount":2}}`,
	}
	var texts []string
	for i, data := range events {
		chunk, err := a.DecodeStreamEvent(provider.DataEvent("", data), state)
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if chunk != nil {
			texts = append(texts, chunk.Delta.Content.Text)
		}
		if finished := state.Finished(); finished != (i == len(events)-1) {
			t.Errorf("after event %d Finished() = %v", i, finished)
		}
	}
	if len(texts) != 2 || texts[0] != "Hel" || texts[1] != "lo" {
		t.Errorf("texts = %q", texts)
	}
	term := state.TerminalChunk()
	if term.FinishReason != api.FinishStop || *term.Usage != (api.Usage{PromptTokens: 4, CompletionTokens: 2}) {
		t.Errorf("terminal = %s %+v", term.FinishReason, *term.Usage)
	}
}

func TestEchoRoundTrip(t *testing.T) {
	a := newTestAdapter(t)
	payload, err := a.EncodeRequest(context.Background(), &api.CanonicalRequest{
		ModelID:  "m",
		Messages: []api.CanonicalMessage{turn(api.RoleUser, "echo me")},
	})
	if err != nil {
		t.Fatal(err)
	}

	// An echo backend answers with the last instruction's text.
	body := prompt(t, payload)
	echoed, _ := json.Marshal(map[string]any{"generation": "echo me", "stop_reason": "stop"})
	if body.Prompt == "" {
		t.Fatal("empty prompt")
	}

	resp, err := a.DecodeResponse(payload, &provider.BackendResponse{Body: echoed})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Role != api.RoleAssistant || resp.Message.Text() != "echo me" {
		t.Errorf("round trip message = %+v", resp.Message)
	}
}
