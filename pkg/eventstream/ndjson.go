package eventstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rhuss/modelbridge/pkg/provider"
)

// NDJSONReader decodes newline-delimited JSON. Every non-empty line is one
// data event; the stream ends at EOF. A line that is not JSON fails the
// stream.
type NDJSONReader struct {
	closer
	scanner *bufio.Scanner
}

// NewNDJSONReader creates an NDJSON decoder that reads from body.
func NewNDJSONReader(body io.ReadCloser) *NDJSONReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &NDJSONReader{closer: closer{body: body}, scanner: scanner}
}

// Next implements provider.EventStream.
func (r *NDJSONReader) Next(ctx context.Context) (provider.BackendEvent, error) {
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
			return provider.BackendEvent{}, io.EOF
		}

		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return provider.BackendEvent{}, malformedEvent("", line)
		}
		data := make(json.RawMessage, len(line))
		copy(data, line)
		return provider.BackendEvent{Type: provider.BackendEventData, Data: data}, nil
	}
}

type ndjsonEncoder struct {
	w io.Writer
}

func (e *ndjsonEncoder) Encode(_ string, data []byte) error {
	if _, err := e.w.Write(data); err != nil {
		return err
	}
	_, err := e.w.Write([]byte("\n"))
	return err
}

func (e *ndjsonEncoder) Done() error { return nil }
