// Package multimodal converts image content between the canonical
// [api.ImageRef] and the native image encodings of each backend family.
//
// Conversational families take inline base64 bytes with a media type, so
// references are fetched through an injected [Resolver]. Generic families
// take a URL, so inline bytes become a data URL. Completion families cannot
// represent images at all. Only png, jpeg, gif and webp are accepted.
package multimodal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/provider"
)

// supportedMediaTypes lists the image types every family accepts.
var supportedMediaTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// SupportedExtensions is shown to callers when they send an unsupported type.
var SupportedExtensions = []string{"png", "jpeg", "jpg", "gif", "webp"}

// Base64Source is the source object of a conversational image block.
type Base64Source struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ConversationalImage is a conversational family image content block.
type ConversationalImage struct {
	Type   string       `json:"type"`
	Source Base64Source `json:"source"`
}

// GenericImage is a generic family image entry.
type GenericImage struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// EncodeImage converts ref to the native image block of the given family
// kind. It fails with an UnsupportedContent error for families that cannot
// represent images; whether that is fatal is the calling adapter's choice.
// resolver may be nil, in which case references cannot be inlined.
func EncodeImage(ctx context.Context, ref api.ImageRef, kind provider.Kind, family string, resolver Resolver) (json.RawMessage, error) {
	switch kind {
	case provider.KindConversational:
		img, err := toConversational(ctx, ref, family, resolver)
		if err != nil {
			return nil, err
		}
		return json.Marshal(img)

	case provider.KindGeneric:
		img, err := toGeneric(ref)
		if err != nil {
			return nil, err
		}
		return json.Marshal(img)

	default:
		return nil, api.NewUnsupportedContentError(family,
			fmt.Sprintf("model family kind %q does not accept images", kind))
	}
}

func toConversational(ctx context.Context, ref api.ImageRef, family string, resolver Resolver) (*ConversationalImage, error) {
	data := ref.Data
	mediaType := ref.MediaType

	if !ref.Inline() {
		if resolver == nil {
			return nil, api.NewUnsupportedContentError(family,
				"image references cannot be resolved for this model family; send inline image data")
		}
		if mediaType == "" {
			mediaType = GuessMediaType(ref.Ref)
		}
		fetched, err := resolver.Resolve(ctx, ref.Ref)
		if err != nil {
			return nil, api.NewInvalidRequestError("image",
				fmt.Sprintf("failed to fetch image %s: %v", ref.Ref, err))
		}
		data = fetched
		if mediaType == "" {
			mediaType = http.DetectContentType(data)
		}
	}

	mediaType, err := ValidateMediaType(mediaType)
	if err != nil {
		return nil, err
	}

	return &ConversationalImage{
		Type: "image",
		Source: Base64Source{
			Type:      "base64",
			MediaType: mediaType,
			Data:      base64.StdEncoding.EncodeToString(data),
		},
	}, nil
}

func toGeneric(ref api.ImageRef) (*GenericImage, error) {
	if !ref.Inline() {
		if ref.MediaType != "" {
			if _, err := ValidateMediaType(ref.MediaType); err != nil {
				return nil, err
			}
		}
		return &GenericImage{Type: "image", URL: ref.Ref}, nil
	}

	mediaType, err := ValidateMediaType(ref.MediaType)
	if err != nil {
		return nil, err
	}
	return &GenericImage{
		Type: "image",
		URL:  "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(ref.Data),
	}, nil
}

// DecodeImage converts a native image block returned by a backend into an
// ImageRef. Conversational blocks yield inline bytes; generic blocks yield
// inline bytes for data URLs and a reference otherwise.
func DecodeImage(kind provider.Kind, family string, raw json.RawMessage) (api.ImageRef, error) {
	switch kind {
	case provider.KindConversational:
		var img ConversationalImage
		if err := json.Unmarshal(raw, &img); err != nil {
			return api.ImageRef{}, api.NewTranscodingError("malformed image block", err)
		}
		if img.Source.Type != "base64" {
			return api.ImageRef{}, api.NewTranscodingError(
				fmt.Sprintf("unsupported image source type %q", img.Source.Type), nil)
		}
		data, err := base64.StdEncoding.DecodeString(img.Source.Data)
		if err != nil {
			return api.ImageRef{}, api.NewTranscodingError("image data is not valid base64", err)
		}
		return api.ImageRef{Data: data, MediaType: img.Source.MediaType}, nil

	case provider.KindGeneric:
		var img GenericImage
		if err := json.Unmarshal(raw, &img); err != nil {
			return api.ImageRef{}, api.NewTranscodingError("malformed image entry", err)
		}
		if mediaType, data, ok := parseDataURL(img.URL); ok {
			return api.ImageRef{Data: data, MediaType: mediaType}, nil
		}
		return api.ImageRef{Ref: img.URL, MediaType: GuessMediaType(img.URL)}, nil

	default:
		return api.ImageRef{}, api.NewUnsupportedContentError(family,
			fmt.Sprintf("model family kind %q does not return images", kind))
	}
}

// ValidateMediaType normalizes mediaType and checks it is a supported image
// type.
func ValidateMediaType(mediaType string) (string, error) {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mediaType))
	}
	if mt == "image/jpg" {
		mt = "image/jpeg"
	}
	if !supportedMediaTypes[mt] {
		return "", api.NewInvalidRequestError("image.media_type",
			fmt.Sprintf("unsupported media type %q; supported image types: %s",
				mediaType, strings.Join(SupportedExtensions, ", ")))
	}
	return mt, nil
}

// GuessMediaType derives a media type from the extension of a URL or path.
// It returns "" when nothing can be guessed.
func GuessMediaType(ref string) string {
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return ""
	}
	mt := mime.TypeByExtension(ext)
	if mt == "" {
		return ""
	}
	mt, _, _ = strings.Cut(mt, ";")
	return mt
}

func parseDataURL(s string) (string, []byte, bool) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, false
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, false
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, false
	}
	return mediaType, data, true
}
