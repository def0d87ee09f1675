package config

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/eventstream"
	"github.com/rhuss/modelbridge/pkg/provider"
)

// errorKinds are the kinds an error code override may map to.
var errorKinds = map[api.ErrorKind]bool{
	api.ErrorKindInvalidRequest:     true,
	api.ErrorKindUnknownModel:       true,
	api.ErrorKindUnsupportedContent: true,
	api.ErrorKindRateLimited:        true,
	api.ErrorKindModelUnavailable:   true,
	api.ErrorKindContentFiltered:    true,
	api.ErrorKindTranscoding:        true,
	api.ErrorKindUnknown:            true,
}

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Families) == 0 {
		errs = append(errs, fmt.Errorf("families: at least one family is required"))
	}

	names := make(map[string]int, len(c.Families))
	for i := range c.Families {
		f := &c.Families[i]
		p := fmt.Sprintf("families[%d]", i)
		if f.Name != "" {
			if j, dup := names[f.Name]; dup {
				errs = append(errs, fmt.Errorf("%s.name: %q already used by families[%d]", p, f.Name, j))
			}
			names[f.Name] = i
		}
		errs = append(errs, f.validate(p)...)
	}

	if c.Images.BaseURL != "" {
		if u, err := url.Parse(c.Images.BaseURL); err != nil || !u.IsAbs() {
			errs = append(errs, fmt.Errorf("images.base_url must be an absolute URL, got %q", c.Images.BaseURL))
		}
	}
	if c.Images.Timeout < 0 || c.Images.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("images limits must not be negative"))
	}

	if c.Engine.Timeout < 0 {
		errs = append(errs, fmt.Errorf("engine.timeout must not be negative, got %s", c.Engine.Timeout))
	}
	if c.Engine.MaxMessages < 0 || c.Engine.MaxContentSize < 0 || c.Engine.MaxTools < 0 {
		errs = append(errs, fmt.Errorf("engine limits must not be negative"))
	}

	for code, kind := range c.Errors.Codes {
		if !errorKinds[api.ErrorKind(kind)] {
			errs = append(errs, fmt.Errorf("errors.codes.%s: unknown error kind %q", code, kind))
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json", "":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with '/', got %q", c.Observability.Metrics.Path))
	}

	return errors.Join(errs...)
}

func (f *FamilyConfig) validate(p string) []error {
	var errs []error

	if f.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required", p))
	}
	if !provider.Kind(f.Kind).Valid() {
		errs = append(errs, fmt.Errorf("%s.kind must be \"conversational\", \"completion\" or \"generic\", got %q", p, f.Kind))
	}
	if len(f.Models) == 0 && len(f.Patterns) == 0 {
		errs = append(errs, fmt.Errorf("%s: at least one of models or patterns is required", p))
	}
	for j, pat := range f.Patterns {
		if _, err := path.Match(pat, ""); err != nil {
			errs = append(errs, fmt.Errorf("%s.patterns[%d]: invalid pattern %q", p, j, pat))
		}
	}

	if f.CharsPerToken <= 0 {
		errs = append(errs, fmt.Errorf("%s.chars_per_token must be > 0, got %v", p, f.CharsPerToken))
	}
	if f.Bounds.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("%s.bounds.max_tokens must not be negative", p))
	}
	if f.Bounds.Temperature.Min > f.Bounds.Temperature.Max {
		errs = append(errs, fmt.Errorf("%s.bounds.temperature: min %v exceeds max %v", p, f.Bounds.Temperature.Min, f.Bounds.Temperature.Max))
	}
	if f.Bounds.TopP.Min > f.Bounds.TopP.Max {
		errs = append(errs, fmt.Errorf("%s.bounds.top_p: min %v exceeds max %v", p, f.Bounds.TopP.Min, f.Bounds.TopP.Max))
	}
	if f.MaxPromptTokens < 0 {
		errs = append(errs, fmt.Errorf("%s.max_prompt_tokens must not be negative", p))
	}
	if f.DefaultMaxTokens < 0 {
		errs = append(errs, fmt.Errorf("%s.default_max_tokens must not be negative", p))
	}

	if _, err := eventstream.ParseFormat(f.Backend.Format); err != nil {
		errs = append(errs, fmt.Errorf("%s.backend.format: %w", p, err))
	}
	if f.Backend.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.backend.timeout must not be negative", p))
	}

	return errs
}
