package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rhuss/modelbridge/pkg/eventstream"
	"github.com/rhuss/modelbridge/pkg/provider"
)

const (
	conversationalBody = `{"messages":[{"role":"user","content":[{"type":"text","text":"hi there"}]}],"max_tokens":16}`
	completionBody     = `{"prompt":"<s>[INST] <<SYS>>\nbe brief\n<</SYS>>\n\nhi there [/INST]"}`
	genericBody        = `{"model":"family-a-v2","messages":[{"role":"user","content":[{"type":"text","text":"hi there"}]}]}`
)

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestInvoke(t *testing.T) {
	srv := httptest.NewServer(newMux(eventstream.FormatSSE))
	defer srv.Close()

	tests := []struct {
		kind string
		body string
		text func(map[string]any) string
	}{
		{"conversational", conversationalBody, func(m map[string]any) string {
			return m["content"].([]any)[0].(map[string]any)["text"].(string)
		}},
		{"completion", completionBody, func(m map[string]any) string { return m["generation"].(string) }},
		{"generic", genericBody, func(m map[string]any) string { return m["text"].(string) }},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			resp := post(t, srv.URL+"/"+tt.kind+"/invoke", tt.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			var m map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
				t.Fatal(err)
			}
			if got := tt.text(m); got != "You said: hi there" {
				t.Errorf("text = %q", got)
			}
		})
	}
}

func TestInvokeStream(t *testing.T) {
	srv := httptest.NewServer(newMux(eventstream.FormatSSE))
	defer srv.Close()

	for _, format := range []eventstream.Format{eventstream.FormatSSE, eventstream.FormatNDJSON, eventstream.FormatFrames} {
		for _, kind := range []string{"conversational", "completion", "generic"} {
			t.Run(string(format)+"/"+kind, func(t *testing.T) {
				body := map[string]string{
					"conversational": conversationalBody,
					"completion":     completionBody,
					"generic":        genericBody,
				}[kind]
				resp := post(t, srv.URL+"/"+kind+"/invoke-with-response-stream?format="+string(format), body)
				if resp.StatusCode != http.StatusOK {
					t.Fatalf("status = %d", resp.StatusCode)
				}

				stream, err := eventstream.New(format, resp.Body)
				if err != nil {
					t.Fatal(err)
				}
				defer stream.Close()

				var n int
				var last string
				for {
					ev, err := stream.Next(context.Background())
					if errors.Is(err, io.EOF) {
						break
					}
					if err != nil {
						t.Fatalf("Next: %v", err)
					}
					if ev.Type == provider.BackendEventData {
						n++
						last = string(ev.Data)
					}
				}
				if n < 2 {
					t.Errorf("got %d events", n)
				}
				if !strings.Contains(last, "stop") {
					t.Errorf("last event %s carries no stop", last)
				}
			})
		}
	}
}

func TestInvokeErrors(t *testing.T) {
	srv := httptest.NewServer(newMux(eventstream.FormatSSE))
	defer srv.Close()

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"throttled", "/generic/invoke", strings.Replace(genericBody, "hi there", "please throttle", 1), 429, "ThrottlingException"},
		{"overloaded", "/conversational/invoke-with-response-stream", strings.Replace(conversationalBody, "hi there", "overload", 1), 503, "ServiceUnavailableException"},
		{"unknown kind", "/chat/invoke", genericBody, 404, "ResourceNotFoundException"},
		{"bad json", "/generic/invoke", "{", 400, "ValidationException"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv.URL+tt.path, tt.body)
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if got := resp.Header.Get("X-Amzn-ErrorType"); got != tt.code {
				t.Errorf("error type = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestLastUserText(t *testing.T) {
	var req request
	if err := json.Unmarshal([]byte(completionBody), &req); err != nil {
		t.Fatal(err)
	}
	if got := req.lastUserText(); got != "hi there" {
		t.Errorf("lastUserText = %q", got)
	}
}
