package multimodal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/provider"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

type staticResolver struct {
	data []byte
	err  error
	refs []string
}

func (r *staticResolver) Resolve(_ context.Context, ref string) ([]byte, error) {
	r.refs = append(r.refs, ref)
	return r.data, r.err
}

func TestEncodeImage_ConversationalInline(t *testing.T) {
	raw, err := EncodeImage(context.Background(),
		api.ImageRef{Data: pngBytes, MediaType: "image/png"},
		provider.KindConversational, "claude", nil)
	require.NoError(t, err)

	var img ConversationalImage
	require.NoError(t, json.Unmarshal(raw, &img))
	assert.Equal(t, "image", img.Type)
	assert.Equal(t, "base64", img.Source.Type)
	assert.Equal(t, "image/png", img.Source.MediaType)
	assert.Equal(t, "iVBORw0KGgoAAAAA", img.Source.Data)
}

func TestEncodeImage_ConversationalReference(t *testing.T) {
	r := &staticResolver{data: pngBytes}

	raw, err := EncodeImage(context.Background(),
		api.ImageRef{Ref: "files/abc/cat.jpg"},
		provider.KindConversational, "claude", r)
	require.NoError(t, err)

	var img ConversationalImage
	require.NoError(t, json.Unmarshal(raw, &img))
	assert.Equal(t, "image/jpeg", img.Source.MediaType, "media type guessed from extension")
	assert.Equal(t, []string{"files/abc/cat.jpg"}, r.refs)
}

func TestEncodeImage_ConversationalReferenceSniffed(t *testing.T) {
	r := &staticResolver{data: pngBytes}

	raw, err := EncodeImage(context.Background(),
		api.ImageRef{Ref: "https://example.com/blob"},
		provider.KindConversational, "claude", r)
	require.NoError(t, err)

	var img ConversationalImage
	require.NoError(t, json.Unmarshal(raw, &img))
	assert.Equal(t, "image/png", img.Source.MediaType)
}

func TestEncodeImage_ConversationalReferenceWithoutResolver(t *testing.T) {
	_, err := EncodeImage(context.Background(),
		api.ImageRef{Ref: "https://example.com/cat.png"},
		provider.KindConversational, "claude", nil)
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.ErrorKindUnsupportedContent))
}

func TestEncodeImage_ResolverFailure(t *testing.T) {
	r := &staticResolver{err: errors.New("404")}
	_, err := EncodeImage(context.Background(),
		api.ImageRef{Ref: "https://example.com/cat.png"},
		provider.KindConversational, "claude", r)
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.ErrorKindInvalidRequest))
}

func TestEncodeImage_UnsupportedMediaType(t *testing.T) {
	_, err := EncodeImage(context.Background(),
		api.ImageRef{Data: []byte("BM"), MediaType: "image/bmp"},
		provider.KindConversational, "claude", nil)
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.ErrorKindInvalidRequest))
	assert.Contains(t, err.Error(), "webp")
}

func TestEncodeImage_Generic(t *testing.T) {
	raw, err := EncodeImage(context.Background(),
		api.ImageRef{Ref: "https://example.com/cat.png"},
		provider.KindGeneric, "generic", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"image","url":"https://example.com/cat.png"}`, string(raw))

	raw, err = EncodeImage(context.Background(),
		api.ImageRef{Data: []byte("GIF89a"), MediaType: "image/gif"},
		provider.KindGeneric, "generic", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"image","url":"data:image/gif;base64,R0lGODlh"}`, string(raw))
}

func TestEncodeImage_Completion(t *testing.T) {
	_, err := EncodeImage(context.Background(),
		api.ImageRef{Data: pngBytes, MediaType: "image/png"},
		provider.KindCompletion, "llama", nil)
	require.Error(t, err)

	apiErr, ok := api.AsError(err)
	require.True(t, ok)
	assert.Equal(t, api.ErrorKindUnsupportedContent, apiErr.Kind)
	assert.Equal(t, "llama", apiErr.Family)
}

func TestDecodeImage_RoundTrip(t *testing.T) {
	for _, kind := range []provider.Kind{provider.KindConversational, provider.KindGeneric} {
		t.Run(string(kind), func(t *testing.T) {
			ref := api.ImageRef{Data: pngBytes, MediaType: "image/png"}
			raw, err := EncodeImage(context.Background(), ref, kind, "f", nil)
			require.NoError(t, err)

			got, err := DecodeImage(kind, "f", raw)
			require.NoError(t, err)
			assert.Equal(t, ref, got)
		})
	}
}

func TestDecodeImage_GenericReference(t *testing.T) {
	got, err := DecodeImage(provider.KindGeneric, "f", json.RawMessage(`{"type":"image","url":"https://x/y.webp"}`))
	require.NoError(t, err)
	assert.Equal(t, api.ImageRef{Ref: "https://x/y.webp", MediaType: "image/webp"}, got)
}

func TestValidateMediaType(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"image/png", "image/png", false},
		{"IMAGE/JPEG", "image/jpeg", false},
		{"image/jpg", "image/jpeg", false},
		{"image/webp; q=1", "image/webp", false},
		{"image/tiff", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ValidateMediaType(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestHTTPResolver(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Api-Key")
		if r.URL.Path != "/v1/files/img.png" {
			http.NotFound(w, r)
			return
		}
		w.Write(pngBytes)
	}))
	defer srv.Close()

	r := NewHTTPResolver(srv.URL, "secret", 0)

	data, err := r.Resolve(context.Background(), "files/img.png")
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
	assert.Equal(t, "secret", gotKey)

	_, err = r.Resolve(context.Background(), "files/missing.png")
	assert.Error(t, err)
}

func TestHTTPResolver_NoKeyForForeignHosts(t *testing.T) {
	var gotKey string
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Api-Key")
		w.Write(pngBytes)
	}))
	defer foreign.Close()

	r := NewHTTPResolver("https://storage.internal", "secret", 0)
	_, err := r.Resolve(context.Background(), foreign.URL+"/cat.png")
	require.NoError(t, err)
	assert.Empty(t, gotKey)
}

func TestHTTPResolver_NoKeyForLookalikeHost(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Api-Key")
		w.Write(pngBytes)
	}))
	defer srv.Close()

	// The base URL is a string prefix of the server URL but names another
	// port.
	r := NewHTTPResolver(srv.URL[:len(srv.URL)-1], "secret", 0)
	_, err := r.Resolve(context.Background(), srv.URL+"/cat.png")
	require.NoError(t, err)
	assert.Empty(t, gotKey)
}

func TestHTTPResolver_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	r := NewHTTPResolver(srv.URL, "", 0)
	r.MaxBytes = 16
	_, err := r.Resolve(context.Background(), srv.URL+"/big.png")
	assert.Error(t, err)
}
