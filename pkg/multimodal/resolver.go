package multimodal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultMaxImageBytes caps the size of a fetched image.
const DefaultMaxImageBytes = 20 << 20

// Resolver fetches the bytes behind an image reference.
type Resolver interface {
	Resolve(ctx context.Context, ref string) ([]byte, error)
}

// HTTPResolver downloads image references over HTTP. Relative references
// are resolved against BaseURL + "/v1/". The API key is only sent to URLs
// under BaseURL, never to third-party hosts.
type HTTPResolver struct {
	BaseURL  string
	APIKey   string
	MaxBytes int64
	Client   *http.Client
}

// NewHTTPResolver creates an HTTPResolver with a bounded client timeout.
func NewHTTPResolver(baseURL, apiKey string, timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPResolver{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		APIKey:   apiKey,
		MaxBytes: DefaultMaxImageBytes,
		Client:   &http.Client{Timeout: timeout},
	}
}

// Resolve implements Resolver.
func (r *HTTPResolver) Resolve(ctx context.Context, ref string) ([]byte, error) {
	target, err := r.absolute(ref)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if r.APIKey != "" && r.trusted(target) {
		req.Header.Set("Api-Key", r.APIKey)
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	limit := r.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxImageBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("image exceeds %d bytes", limit)
	}
	return data, nil
}

func (r *HTTPResolver) absolute(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", ref, err)
	}
	if u.IsAbs() {
		return ref, nil
	}
	if r.BaseURL == "" {
		return "", fmt.Errorf("relative image reference %q without a base URL", ref)
	}
	base, err := url.Parse(r.BaseURL + "/v1/")
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

// trusted reports whether target lies under BaseURL.
func (r *HTTPResolver) trusted(target string) bool {
	if r.BaseURL == "" {
		return false
	}
	t, b := strings.ToLower(target), strings.ToLower(r.BaseURL)
	return t == b || strings.HasPrefix(t, b+"/")
}
