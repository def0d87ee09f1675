package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/backend/httpbackend"
	"github.com/rhuss/modelbridge/pkg/config"
	"github.com/rhuss/modelbridge/pkg/engine"
	"github.com/rhuss/modelbridge/pkg/errmap"
	"github.com/rhuss/modelbridge/pkg/eventstream"
	"github.com/rhuss/modelbridge/pkg/multimodal"
	"github.com/rhuss/modelbridge/pkg/provider"
	"github.com/rhuss/modelbridge/pkg/provider/completion"
	"github.com/rhuss/modelbridge/pkg/provider/conversational"
	"github.com/rhuss/modelbridge/pkg/provider/generic"
	"github.com/rhuss/modelbridge/pkg/router"
)

// bridge is the assembled component graph for one configuration.
type bridge struct {
	cfg    *config.Config
	router *router.Router
	engine *engine.Engine
}

// build creates adapters, the routing table and one HTTP backend per family
// that has a URL. transport is passed to every backend client; nil means
// http.DefaultTransport.
func build(cfg *config.Config, transport http.RoundTripper) (*bridge, error) {
	entries := make([]router.Entry, 0, len(cfg.Families))
	backends := make(map[string]engine.Backend, len(cfg.Families))
	resolver := newResolver(cfg.Images)

	for _, f := range cfg.Families {
		adapter, err := newAdapter(f, resolver)
		if err != nil {
			return nil, fmt.Errorf("family %s: %w", f.Name, err)
		}
		entries = append(entries, router.Entry{Adapter: adapter, Models: f.Models, Patterns: f.Patterns})

		if f.Backend.URL == "" {
			continue
		}
		client, err := newBackend(f, transport)
		if err != nil {
			return nil, fmt.Errorf("family %s: %w", f.Name, err)
		}
		backends[f.Name] = engine.Backend{Invoker: client, Streamer: client}
	}

	r, err := router.New(entries...)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(r, backends, engine.Config{
		Validation: validation(cfg),
		Mapper:     newMapper(cfg.Errors),
		Timeout:    cfg.Engine.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return &bridge{cfg: cfg, router: r, engine: eng}, nil
}

func validation(cfg *config.Config) api.ValidationConfig {
	return api.ValidationConfig{
		MaxMessages:    cfg.Engine.MaxMessages,
		MaxContentSize: cfg.Engine.MaxContentSize,
		MaxTools:       cfg.Engine.MaxTools,
	}
}

// newResolver fetches image references for families that need inline image
// data. Without a base URL only absolute references resolve.
func newResolver(cfg config.ImagesConfig) *multimodal.HTTPResolver {
	r := multimodal.NewHTTPResolver(cfg.BaseURL, cfg.APIKey, cfg.Timeout)
	if cfg.MaxBytes > 0 {
		r.MaxBytes = cfg.MaxBytes
	}
	return r
}

func newAdapter(f config.FamilyConfig, resolver multimodal.Resolver) (provider.Adapter, error) {
	est, err := newEstimator(f)
	if err != nil {
		return nil, err
	}
	base := provider.FamilyConfig{
		Name:            f.Name,
		Bounds:          f.Bounds,
		Estimator:       est,
		MaxPromptTokens: f.MaxPromptTokens,
	}

	switch provider.Kind(f.Kind) {
	case provider.KindConversational:
		return conversational.New(conversational.Config{
			FamilyConfig:     base,
			DefaultMaxTokens: f.DefaultMaxTokens,
			AnthropicVersion: f.AnthropicVersion,
			Direct:           f.Direct,
			Resolver:         resolver,
		})
	case provider.KindCompletion:
		return completion.New(completion.Config{FamilyConfig: base, Markers: f.Markers})
	case provider.KindGeneric:
		return generic.New(generic.Config{FamilyConfig: base})
	default:
		return nil, fmt.Errorf("unknown kind %q", f.Kind)
	}
}

// newEstimator prefers the configured BPE encoding and falls back to the
// character heuristic when none is set.
func newEstimator(f config.FamilyConfig) (provider.Estimator, error) {
	if f.Tokenizer == "" {
		return provider.CharEstimator{CharsPerToken: f.CharsPerToken}, nil
	}
	return provider.NewTokenizerEstimator(f.Tokenizer)
}

func newBackend(f config.FamilyConfig, transport http.RoundTripper) (*httpbackend.Client, error) {
	format, err := eventstream.ParseFormat(f.Backend.Format)
	if err != nil {
		return nil, err
	}
	timeout := f.Backend.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return httpbackend.New(httpbackend.Config{
		Family:    f.Name,
		URL:       f.Backend.URL,
		StreamURL: f.Backend.StreamURL,
		APIKey:    f.Backend.APIKey,
		Format:    format,
		Headers:   f.Backend.Headers,
		Timeout:   timeout,
		Transport: transport,
	})
}

func newMapper(cfg config.ErrorsConfig) *errmap.Mapper {
	overrides := make(map[string]api.ErrorKind, len(cfg.Codes))
	for code, kind := range cfg.Codes {
		overrides[code] = api.ErrorKind(kind)
	}
	return errmap.New(overrides)
}
