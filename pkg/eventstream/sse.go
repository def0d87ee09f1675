package eventstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rhuss/modelbridge/pkg/debug"
	"github.com/rhuss/modelbridge/pkg/provider"
)

// maxLineSize bounds a single SSE or NDJSON line.
const maxLineSize = 1 << 20

// SSEReader decodes a Server-Sent Events body.
//
// SSE format expected:
//
//	event: content_block_delta\n
//	data: {"type":"content_block_delta",...}\n
//	\n
//	data: [DONE]\n
//	\n
//
// An event named "error" (or ending in "Exception") becomes a
// BackendEventError. Data that is not valid JSON fails the stream with a
// transcoding error.
type SSEReader struct {
	closer
	scanner *bufio.Scanner
}

// NewSSEReader creates an SSE decoder that reads from body.
func NewSSEReader(body io.ReadCloser) *SSEReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &SSEReader{closer: closer{body: body}, scanner: scanner}
}

// Next implements provider.EventStream.
func (r *SSEReader) Next(ctx context.Context) (provider.BackendEvent, error) {
	var (
		name string
		data []string
	)
	for {
		if err := ctx.Err(); err != nil {
			return provider.BackendEvent{}, err
		}
		if r.closed {
			return provider.BackendEvent{}, io.ErrClosedPipe
		}

		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return provider.BackendEvent{}, fmt.Errorf("reading event stream: %w", err)
			}
			if len(data) > 0 {
				return sseEvent(name, data)
			}
			return provider.BackendEvent{}, io.EOF
		}

		line := r.scanner.Text()
		if line == "" {
			if len(data) == 0 {
				name = ""
				continue
			}
			return sseEvent(name, data)
		}

		// Comment lines start with ':'.
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
}

func sseEvent(name string, lines []string) (provider.BackendEvent, error) {
	payload := strings.Join(lines, "\n")
	if strings.TrimSpace(payload) == "[DONE]" {
		return provider.BackendEvent{Type: provider.BackendEventDone, Name: name}, nil
	}
	if isErrorName(name) {
		return provider.BackendEvent{Type: provider.BackendEventError, Name: name, Data: errorPayload(payload)}, nil
	}
	if !json.Valid([]byte(payload)) {
		return provider.BackendEvent{}, malformedEvent(name, []byte(payload))
	}
	debug.Trace("backend", "sse event", "event", name, "data", payload)
	return provider.BackendEvent{Type: provider.BackendEventData, Name: name, Data: json.RawMessage(payload)}, nil
}

// isErrorName reports whether a wire-level event name denotes an error.
func isErrorName(name string) bool {
	return name == "error" || strings.HasSuffix(name, "Exception")
}

// errorPayload returns payload as JSON, wrapping plain text as a message.
func errorPayload(payload string) json.RawMessage {
	if json.Valid([]byte(payload)) {
		return json.RawMessage(payload)
	}
	data, _ := json.Marshal(map[string]string{"message": payload})
	return data
}

type sseEncoder struct {
	w io.Writer
}

func (e *sseEncoder) Encode(name string, data []byte) error {
	var b strings.Builder
	if name != "" {
		b.WriteString("event: ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	b.WriteString("data: ")
	b.Write(data)
	b.WriteString("\n\n")
	_, err := io.WriteString(e.w, b.String())
	return err
}

func (e *sseEncoder) Done() error {
	_, err := io.WriteString(e.w, "data: [DONE]\n\n")
	return err
}
