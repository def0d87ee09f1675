package eventstream

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rhuss/modelbridge/pkg/debug"
	"github.com/rhuss/modelbridge/pkg/provider"
)

// MaxFrameSize bounds a single frame payload.
const MaxFrameSize = 16 << 20

// frame is the JSON envelope of a length-prefixed frame. A chunk frame
// carries the backend event as base64 in Bytes; an exception frame names
// the exception in Type and carries a message.
type frame struct {
	Type    string `json:"type"`
	Bytes   []byte `json:"bytes,omitempty"`
	Message string `json:"message,omitempty"`
}

// FrameReader decodes length-prefixed frames: a 4-byte big-endian payload
// length followed by a JSON frame envelope.
type FrameReader struct {
	closer
	r io.Reader
}

// NewFrameReader creates a frame decoder that reads from body.
func NewFrameReader(body io.ReadCloser) *FrameReader {
	return &FrameReader{closer: closer{body: body}, r: body}
}

// Next implements provider.EventStream.
func (r *FrameReader) Next(ctx context.Context) (provider.BackendEvent, error) {
	if err := ctx.Err(); err != nil {
		return provider.BackendEvent{}, err
	}
	if r.closed {
		return provider.BackendEvent{}, io.ErrClosedPipe
	}

	var prefix [4]byte
	if _, err := io.ReadFull(r.r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return provider.BackendEvent{}, io.EOF
		}
		return provider.BackendEvent{}, fmt.Errorf("reading frame length: %w", err)
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxFrameSize {
		return provider.BackendEvent{}, fmt.Errorf("frame of %d bytes exceeds limit of %d", size, MaxFrameSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return provider.BackendEvent{}, fmt.Errorf("reading frame payload: %w", err)
	}

	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return provider.BackendEvent{}, fmt.Errorf("decoding frame: %w", err)
	}
	debug.Trace("backend", "frame", "type", f.Type, "size", size)

	switch {
	case f.Type != "" && f.Type != "chunk":
		data, _ := json.Marshal(map[string]string{"message": f.Message})
		return provider.BackendEvent{Type: provider.BackendEventError, Name: f.Type, Data: data}, nil
	case len(f.Bytes) == 0:
		return provider.BackendEvent{}, fmt.Errorf("chunk frame without payload")
	case !json.Valid(f.Bytes):
		return provider.BackendEvent{}, malformedEvent("chunk", f.Bytes)
	default:
		return provider.BackendEvent{Type: provider.BackendEventData, Name: "chunk", Data: f.Bytes}, nil
	}
}

type frameEncoder struct {
	w io.Writer
}

func (e *frameEncoder) Encode(name string, data []byte) error {
	f := frame{Type: "chunk", Bytes: data}
	if isErrorName(name) {
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &msg)
		f = frame{Type: name, Message: msg.Message}
	}
	return WriteFrame(e.w, f)
}

func (e *frameEncoder) Done() error { return nil }

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, f any) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}
