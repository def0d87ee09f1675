// Command mock-backend runs a deterministic stand-in for the three backend
// family kinds. It echoes the last user text back in each kind's wire
// format, synchronously or as an event stream, so the bridge can be
// exercised end to end without a real model.
//
// Routes:
//
//	POST /{kind}/invoke                       synchronous response
//	POST /{kind}/invoke-with-response-stream  event stream
//	GET  /healthz
//
// where {kind} is conversational, completion or generic. A user text that
// contains "throttle" yields a 429, one that contains "overload" a 503.
//
// Configuration:
//
//	MOCK_PORT   - Listen port (default: 9000)
//	MOCK_FORMAT - Stream framing: sse, ndjson or frames (default: sse).
//	              A ?format= query parameter overrides it per request.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rhuss/modelbridge/pkg/eventstream"
)

func main() {
	port := envOrDefault("MOCK_PORT", "9000")
	format, err := eventstream.ParseFormat(os.Getenv("MOCK_FORMAT"))
	if err != nil {
		slog.Error("invalid MOCK_FORMAT", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{Addr: ":" + port, Handler: newMux(format)}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port, "format", format)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func newMux(format eventstream.Format) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{kind}/invoke", func(w http.ResponseWriter, r *http.Request) {
		handleInvoke(w, r)
	})
	mux.HandleFunc("POST /{kind}/invoke-with-response-stream", func(w http.ResponseWriter, r *http.Request) {
		handleStream(w, r, format)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

// --- Request parsing ---

type request struct {
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

// lastUserText returns the text the reply echoes. Completion prompts carry
// the conversation as rendered text; the last instruction block is used.
func (r *request) lastUserText() string {
	if r.Prompt != "" {
		p := r.Prompt
		if i := strings.LastIndex(p, "[INST]"); i >= 0 {
			p = p[i+len("[INST]"):]
		}
		if i := strings.Index(p, "[/INST]"); i >= 0 {
			p = p[:i]
		}
		if i := strings.LastIndex(p, "<</SYS>>"); i >= 0 {
			p = p[i+len("<</SYS>>"):]
		}
		return strings.TrimSpace(p)
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role != "user" {
			continue
		}
		var parts []string
		for _, c := range r.Messages[i].Content {
			if c.Type == "text" {
				parts = append(parts, c.Text)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (*request, string, bool) {
	kind := r.PathValue("kind")
	switch kind {
	case "conversational", "completion", "generic":
	default:
		writeError(w, http.StatusNotFound, "ResourceNotFoundException", fmt.Sprintf("unknown kind %q", kind))
		return nil, "", false
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationException", "invalid JSON: "+err.Error())
		return nil, "", false
	}

	text := strings.ToLower(req.lastUserText())
	switch {
	case strings.Contains(text, "throttle"):
		w.Header().Set("Retry-After", "2")
		writeError(w, http.StatusTooManyRequests, "ThrottlingException", "Too many requests, please wait before trying again.")
		return nil, "", false
	case strings.Contains(text, "overload"):
		writeError(w, http.StatusServiceUnavailable, "ServiceUnavailableException", "Model is overloaded.")
		return nil, "", false
	}
	return &req, kind, true
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Amzn-ErrorType", code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// reply is the deterministic answer to a request, split into the tokens a
// stream delivers one by one.
func reply(req *request) []string {
	text := req.lastUserText()
	if text == "" {
		return []string{"Hello", "!"}
	}
	tokens := []string{"You", " said", ":"}
	for _, w := range strings.Fields(text) {
		tokens = append(tokens, " "+w)
	}
	return tokens
}

func promptTokens(req *request) int {
	n := len(strings.Fields(req.Prompt))
	for _, m := range req.Messages {
		for _, c := range m.Content {
			n += len(strings.Fields(c.Text))
		}
	}
	return n
}

// --- Synchronous ---

func handleInvoke(w http.ResponseWriter, r *http.Request) {
	req, kind, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	tokens := reply(req)
	text := strings.Join(tokens, "")
	in, out := promptTokens(req), len(tokens)

	var resp any
	switch kind {
	case "conversational":
		resp = map[string]any{
			"id":          "msg_mock",
			"type":        "message",
			"role":        "assistant",
			"content":     []any{map[string]any{"type": "text", "text": text}},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": in, "output_tokens": out},
		}
	case "completion":
		resp = map[string]any{
			"generation":             text,
			"stop_reason":            "stop",
			"prompt_token_count":     in,
			"generation_token_count": out,
		}
	default:
		resp = map[string]any{
			"text":        text,
			"stop_reason": "end",
			"tokens":      map[string]any{"in": in, "out": out},
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Streaming ---

func handleStream(w http.ResponseWriter, r *http.Request, format eventstream.Format) {
	if q := r.URL.Query().Get("format"); q != "" {
		f, err := eventstream.ParseFormat(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "ValidationException", err.Error())
			return
		}
		format = f
	}

	req, kind, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	enc, err := eventstream.NewEncoder(format, w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType(format))
	w.Header().Set("Cache-Control", "no-cache")

	send := func(name string, v any) {
		data, _ := json.Marshal(v)
		enc.Encode(name, data)
		flusher.Flush()
	}

	tokens := reply(req)
	in, out := promptTokens(req), len(tokens)

	switch kind {
	case "conversational":
		send("message_start", map[string]any{
			"type":    "message_start",
			"message": map[string]any{"id": "msg_mock", "role": "assistant", "usage": map[string]any{"input_tokens": in}},
		})
		send("content_block_start", map[string]any{
			"type": "content_block_start", "index": 0,
			"content_block": map[string]any{"type": "text", "text": ""},
		})
		for _, tok := range tokens {
			send("content_block_delta", map[string]any{
				"type": "content_block_delta", "index": 0,
				"delta": map[string]any{"type": "text_delta", "text": tok},
			})
		}
		send("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0})
		send("message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": "end_turn"},
			"usage": map[string]any{"output_tokens": out},
		})
		send("message_stop", map[string]any{"type": "message_stop"})

	case "completion":
		for i, tok := range tokens {
			chunk := map[string]any{"generation": tok, "stop_reason": nil}
			if i == 0 {
				chunk["prompt_token_count"] = in
			}
			if i == len(tokens)-1 {
				chunk["stop_reason"] = "stop"
				chunk["generation_token_count"] = out
			}
			send("chunk", chunk)
		}

	default:
		for _, tok := range tokens {
			send("delta", map[string]any{"type": "delta", "text": tok})
		}
		send("stop", map[string]any{
			"type":        "stop",
			"stop_reason": "end",
			"tokens":      map[string]any{"in": in, "out": out},
		})
	}

	enc.Done()
	flusher.Flush()
}

func contentType(format eventstream.Format) string {
	switch format {
	case eventstream.FormatNDJSON:
		return "application/x-ndjson"
	case eventstream.FormatFrames:
		return "application/vnd.amazon.eventstream"
	default:
		return "text/event-stream"
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
