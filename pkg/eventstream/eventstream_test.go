package eventstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/provider"
)

type trackingBody struct {
	io.Reader
	closed int
}

func (b *trackingBody) Close() error {
	b.closed++
	return nil
}

func readAll(t *testing.T, s provider.EventStream) []provider.BackendEvent {
	t.Helper()
	var out []provider.BackendEvent
	for {
		ev, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, ev)
	}
}

func TestSSEReader(t *testing.T) {
	input := strings.Join([]string{
		": keep-alive",
		"",
		"event: message_start",
		`data: {"type":"message_start"}`,
		"",
		`data: {"type":"delta",`,
		`data: "text":"hi"}`,
		"",
		"event: throttlingException",
		`data: {"message":"slow down"}`,
		"",
		"data: [DONE]",
		"",
		`data: {"trailing":true}`,
	}, "\n")

	events := readAll(t, NewSSEReader(io.NopCloser(strings.NewReader(input))))
	if len(events) != 5 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}

	if events[0].Name != "message_start" || string(events[0].Data) != `{"type":"message_start"}` {
		t.Errorf("event 0 = %+v", events[0])
	}
	if string(events[1].Data) != "{\"type\":\"delta\",\n\"text\":\"hi\"}" {
		t.Errorf("multi-line data = %q", events[1].Data)
	}
	if events[2].Type != provider.BackendEventError || events[2].Name != "throttlingException" {
		t.Errorf("event 2 = %+v", events[2])
	}
	if events[3].Type != provider.BackendEventDone {
		t.Errorf("event 3 type = %s", events[3].Type)
	}
	if string(events[4].Data) != `{"trailing":true}` {
		t.Errorf("unterminated final event = %q", events[4].Data)
	}
}

func TestSSEReader_PlainTextError(t *testing.T) {
	input := "event: error\ndata: upstream exploded\n\n"
	events := readAll(t, NewSSEReader(io.NopCloser(strings.NewReader(input))))
	if len(events) != 1 || events[0].Type != provider.BackendEventError {
		t.Fatalf("events = %+v", events)
	}
	be := provider.ErrorFromEvent(events[0])
	if be.Code != "error" || be.Message != "upstream exploded" {
		t.Errorf("backend error = %+v", be)
	}
}

func TestSSEReader_Malformed(t *testing.T) {
	input := strings.Join([]string{
		`data: {"type":"delta","text":"Hel"}`,
		"",
		`data: {"type":"delta","text":" wor`,
		"",
		`data: {"type":"stop"}`,
		"",
	}, "\n")
	r := NewSSEReader(io.NopCloser(strings.NewReader(input)))

	if _, err := r.Next(context.Background()); err != nil {
		t.Fatalf("first event: %v", err)
	}
	_, err := r.Next(context.Background())
	if !api.IsKind(err, api.ErrorKindTranscoding) {
		t.Fatalf("malformed event: err = %v, want transcoding error", err)
	}
}

func TestNDJSONReader_Malformed(t *testing.T) {
	r := NewNDJSONReader(io.NopCloser(strings.NewReader("{\"type\":\"delta\"}\n{broken\n{\"type\":\"stop\"}\n")))
	if _, err := r.Next(context.Background()); err != nil {
		t.Fatalf("first line: %v", err)
	}
	if _, err := r.Next(context.Background()); !api.IsKind(err, api.ErrorKindTranscoding) {
		t.Fatalf("broken line: err = %v, want transcoding error", err)
	}
}

func TestNDJSONReader(t *testing.T) {
	input := "{\"type\":\"delta\",\"text\":\"a\"}\n\n  \n{\"type\":\"stop\"}\n"
	events := readAll(t, NewNDJSONReader(io.NopCloser(strings.NewReader(input))))
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	if string(events[1].Data) != `{"type":"stop"}` {
		t.Errorf("event 1 = %s", events[1].Data)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewEncoder(FormatFrames, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.Encode("", []byte(`{"generation":"hi"}`)); err != nil {
		t.Fatal(err)
	}
	if err := enc.Encode("modelStreamErrorException", []byte(`{"message":"boom"}`)); err != nil {
		t.Fatal(err)
	}

	events := readAll(t, NewFrameReader(io.NopCloser(&buf)))
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].Type != provider.BackendEventData || string(events[0].Data) != `{"generation":"hi"}` {
		t.Errorf("chunk frame = %+v", events[0])
	}
	if events[1].Type != provider.BackendEventError || events[1].Name != "modelStreamErrorException" {
		t.Errorf("exception frame = %+v", events[1])
	}
	if be := provider.ErrorFromEvent(events[1]); be.Message != "boom" {
		t.Errorf("exception message = %q", be.Message)
	}
}

func TestFrameReader_Truncated(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, frame{Type: "chunk", Bytes: []byte(`{}`)}); err != nil {
		t.Fatal(err)
	}
	truncated := buf.Bytes()[:buf.Len()-2]

	r := NewFrameReader(io.NopCloser(bytes.NewReader(truncated)))
	_, err := r.Next(context.Background())
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("truncated frame: err = %v, want transport error", err)
	}
}

func TestEncoderRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatSSE, FormatNDJSON} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			enc, err := NewEncoder(format, &buf)
			if err != nil {
				t.Fatal(err)
			}
			for _, data := range []string{`{"n":1}`, `{"n":2}`} {
				if err := enc.Encode("chunk", []byte(data)); err != nil {
					t.Fatal(err)
				}
			}
			if err := enc.Done(); err != nil {
				t.Fatal(err)
			}

			stream, err := New(format, io.NopCloser(&buf))
			if err != nil {
				t.Fatal(err)
			}
			var data []provider.BackendEvent
			for _, ev := range readAll(t, stream) {
				if ev.Type == provider.BackendEventData {
					data = append(data, ev)
				}
			}
			if len(data) != 2 || string(data[1].Data) != `{"n":2}` {
				t.Errorf("events = %+v", data)
			}
		})
	}
}

func TestClose(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("data: {}\n\n")}
	r := NewSSEReader(body)
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if body.closed != 1 {
		t.Errorf("body closed %d times, want 1", body.closed)
	}
	if _, err := r.Next(context.Background()); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Next after Close: err = %v", err)
	}
}

func TestNext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewNDJSONReader(io.NopCloser(strings.NewReader("{}\n")))
	if _, err := r.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatSSE, "SSE": FormatSSE, "ndjson": FormatNDJSON, " frames ": FormatFrames} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
