// Package eventstream normalizes backend streaming wire formats into
// provider.BackendEvent values. Three formats are supported:
//
//   - sse: Server-Sent Events ("event:" names, "data:" payloads, [DONE])
//   - ndjson: one JSON document per line
//   - frames: 4-byte big-endian length prefix followed by a JSON envelope
//
// Decoders implement provider.EventStream and own the response body.
package eventstream

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/debug"
	"github.com/rhuss/modelbridge/pkg/provider"
)

// Format names a wire format.
type Format string

const (
	FormatSSE    Format = "sse"
	FormatNDJSON Format = "ndjson"
	FormatFrames Format = "frames"
)

// ParseFormat validates a format name. The empty string selects SSE.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatSSE:
		return FormatSSE, nil
	case FormatNDJSON:
		return FormatNDJSON, nil
	case FormatFrames:
		return FormatFrames, nil
	default:
		return "", fmt.Errorf("unknown stream format %q (want sse, ndjson or frames)", s)
	}
}

// New returns a decoder for body in the given format.
func New(format Format, body io.ReadCloser) (provider.EventStream, error) {
	switch format {
	case FormatSSE, "":
		return NewSSEReader(body), nil
	case FormatNDJSON:
		return NewNDJSONReader(body), nil
	case FormatFrames:
		return NewFrameReader(body), nil
	default:
		return nil, fmt.Errorf("unknown stream format %q", format)
	}
}

// Encoder writes events in a wire format. The mock backend uses it to
// serve streams.
type Encoder interface {
	Encode(name string, data []byte) error
	Done() error
}

// NewEncoder returns an encoder for w in the given format.
func NewEncoder(format Format, w io.Writer) (Encoder, error) {
	switch format {
	case FormatSSE, "":
		return &sseEncoder{w: w}, nil
	case FormatNDJSON:
		return &ndjsonEncoder{w: w}, nil
	case FormatFrames:
		return &frameEncoder{w: w}, nil
	default:
		return nil, fmt.Errorf("unknown stream format %q", format)
	}
}

// closer closes the underlying body exactly once.
type closer struct {
	body   io.Closer
	once   sync.Once
	err    error
	closed bool
}

func (c *closer) Close() error {
	c.once.Do(func() {
		c.closed = true
		if c.body != nil {
			c.err = c.body.Close()
		}
	})
	return c.err
}

// malformedEvent is returned by Next for a data payload that is not JSON.
// Skipping it would drop content from the middle of the stream.
func malformedEvent(name string, payload []byte) error {
	msg := "malformed stream event"
	if name != "" {
		msg += " " + name
	}
	return api.NewTranscodingError(fmt.Sprintf("%s: %s", msg, debug.Truncate(string(payload), 200)), nil)
}
