// Package httpbackend invokes backend families over HTTP. A Client posts the
// encoded payload body to a configured endpoint and returns either the raw
// response body or a decoded event stream. Non-success responses become
// provider.BackendError values for the error mapper.
package httpbackend

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/rhuss/modelbridge/pkg/debug"
	"github.com/rhuss/modelbridge/pkg/errmap"
	"github.com/rhuss/modelbridge/pkg/eventstream"
	"github.com/rhuss/modelbridge/pkg/observability"
	"github.com/rhuss/modelbridge/pkg/provider"
)

// MaxResponseSize bounds a synchronous response body.
const MaxResponseSize = 32 << 20

// Config holds the endpoint settings of one family.
type Config struct {
	Family    string
	URL       string
	StreamURL string // defaults to URL
	APIKey    string // sent as a bearer token when set
	Format    eventstream.Format
	Headers   map[string]string
	Timeout   time.Duration // synchronous calls only; 0 = 120s

	// Transport is the underlying round tripper. Nil means
	// http.DefaultTransport.
	Transport http.RoundTripper
}

// Client implements provider.Invoker and provider.StreamInvoker.
type Client struct {
	cfg        Config
	httpClient *http.Client

	// streamClient has no timeout; a stream can legitimately outlast any
	// fixed limit, so the context controls its lifetime.
	streamClient *http.Client
}

var (
	_ provider.Invoker       = (*Client)(nil)
	_ provider.StreamInvoker = (*Client)(nil)
)

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("httpbackend: family %s: url is required", cfg.Family)
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = cfg.URL
	}
	for _, raw := range []string{cfg.URL, cfg.StreamURL} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("httpbackend: family %s: invalid url %q", cfg.Family, raw)
		}
	}
	if cfg.Format == "" {
		cfg.Format = eventstream.FormatSSE
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	transport := &observability.Transport{Family: cfg.Family, Next: cfg.Transport}
	return &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
		streamClient: &http.Client{Transport: transport},
	}, nil
}

// Invoke performs a synchronous call.
func (c *Client) Invoke(ctx context.Context, payload *provider.BackendPayload) (*provider.BackendResponse, error) {
	resp, err := c.do(ctx, c.httpClient, c.cfg.URL, "application/json", payload)
	if err != nil {
		return nil, err
	}
	body, err := decodedBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, &provider.BackendError{StatusCode: resp.StatusCode, Message: "undecodable response body", Err: err}
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", c.cfg.Family, err)
	}
	if len(data) > MaxResponseSize {
		return nil, &provider.BackendError{StatusCode: resp.StatusCode,
			Message: fmt.Sprintf("response exceeds %d bytes", MaxResponseSize)}
	}

	debug.Log("backend", "response", "family", c.cfg.Family, "status", resp.StatusCode, "bytes", len(data))
	debug.Raw("backend", string(data))
	return &provider.BackendResponse{Body: data}, nil
}

// InvokeStreaming opens a stream. The returned stream owns the response
// body; closing it releases the connection.
func (c *Client) InvokeStreaming(ctx context.Context, payload *provider.BackendPayload) (provider.EventStream, error) {
	resp, err := c.do(ctx, c.streamClient, c.cfg.StreamURL, acceptFor(c.cfg.Format), payload)
	if err != nil {
		return nil, err
	}
	body, err := decodedBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, &provider.BackendError{StatusCode: resp.StatusCode, Message: "undecodable response body", Err: err}
	}
	debug.Log("backend", "stream opened", "family", c.cfg.Family, "format", c.cfg.Format)
	return eventstream.New(c.cfg.Format, body)
}

// do sends the payload and returns a successful response. Error statuses
// are converted to *provider.BackendError.
func (c *Client) do(ctx context.Context, client *http.Client, target, accept string, payload *provider.BackendPayload) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload.Body))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", c.cfg.Family, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	// Setting Accept-Encoding disables the transport's transparent gzip,
	// so decodedBody handles both encodings.
	req.Header.Set("Accept-Encoding", "gzip, br")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	debug.Log("backend", "request", "family", c.cfg.Family, "url", target, "stream", payload.Stream, "bytes", len(payload.Body))
	debug.Raw("backend", string(payload.Body))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s backend: %w", c.cfg.Family, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	return nil, c.errorResponse(resp)
}

// errorResponse maps a non-2xx response to a backend error and closes its
// body, decoder included.
func (c *Client) errorResponse(resp *http.Response) error {
	if body, derr := decodedBody(resp); derr == nil {
		resp.Body = body
	}
	defer resp.Body.Close()
	be := errmap.FromHTTPResponse(resp)
	debug.Log("backend", "error response", "family", c.cfg.Family, "status", resp.StatusCode, "code", be.Code, "message", be.Message)
	return be
}

func acceptFor(format eventstream.Format) string {
	switch format {
	case eventstream.FormatNDJSON:
		return "application/x-ndjson"
	case eventstream.FormatFrames:
		return "application/vnd.amazon.eventstream"
	default:
		return "text/event-stream"
	}
}

// decodedBody unwraps the response's Content-Encoding.
func decodedBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return &decodingBody{Reader: zr, dec: zr, body: resp.Body}, nil
	case "br":
		return &decodingBody{Reader: brotli.NewReader(resp.Body), body: resp.Body}, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}

// decodingBody reads through a decompressor and closes both it and the
// underlying body.
type decodingBody struct {
	io.Reader
	dec    io.Closer
	body   io.Closer
	closed bool
}

func (d *decodingBody) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if d.dec != nil {
		d.dec.Close()
	}
	return d.body.Close()
}
