// Package config provides unified configuration for modelbridge.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (MODELBRIDGE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Per-family defaults
//  6. Validation
package config

import (
	"time"

	"github.com/rhuss/modelbridge/pkg/provider"
	"github.com/rhuss/modelbridge/pkg/provider/completion"
)

// Config holds all configuration for modelbridge.
type Config struct {
	Families      []FamilyConfig      `yaml:"families"`
	Images        ImagesConfig        `yaml:"images"`
	Engine        EngineConfig        `yaml:"engine"`
	Errors        ErrorsConfig        `yaml:"errors"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// FamilyConfig describes one backend family: how requests are encoded, which
// model ids route to it and where its backend lives.
type FamilyConfig struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`     // "conversational", "completion" or "generic"
	Models   []string `yaml:"models"`   // exact model ids
	Patterns []string `yaml:"patterns"` // glob patterns, e.g. "anthropic.claude-*"

	Bounds          provider.Bounds `yaml:"bounds"`
	CharsPerToken   float64         `yaml:"chars_per_token"`   // required, no built-in default
	Tokenizer       string          `yaml:"tokenizer"`         // optional BPE encoding, e.g. "cl100k_base"
	MaxPromptTokens int             `yaml:"max_prompt_tokens"` // prompt limit for truncation, 0 = none

	// conversational only
	DefaultMaxTokens int    `yaml:"default_max_tokens"`
	AnthropicVersion string `yaml:"anthropic_version"`
	Direct           bool   `yaml:"direct"`

	// completion only; unset markers select the Llama-2 defaults
	Markers completion.Markers `yaml:"markers"`

	Backend BackendConfig `yaml:"backend"`
}

// BackendConfig holds the HTTP endpoint of a family's backend.
type BackendConfig struct {
	URL        string            `yaml:"url"`
	StreamURL  string            `yaml:"stream_url"` // defaults to url
	APIKey     string            `yaml:"api_key"`
	APIKeyFile string            `yaml:"api_key_file"` // _file variant for api_key
	Format     string            `yaml:"format"`       // "sse" (default), "ndjson" or "frames"
	Headers    map[string]string `yaml:"headers"`
	Timeout    time.Duration     `yaml:"timeout"` // per call, 0 = none
}

// ImagesConfig holds the file storage image references are fetched from.
// Relative references resolve against BaseURL + "/v1/"; the API key is only
// sent to URLs under BaseURL.
type ImagesConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	APIKeyFile string        `yaml:"api_key_file"` // _file variant for api_key
	Timeout    time.Duration `yaml:"timeout"`      // default: 30s
	MaxBytes   int64         `yaml:"max_bytes"`    // default: 20 MiB
}

// EngineConfig holds dispatcher settings.
type EngineConfig struct {
	Timeout        time.Duration `yaml:"timeout"`          // 0 = caller's context only
	MaxMessages    int           `yaml:"max_messages"`     // default: 1000
	MaxContentSize int           `yaml:"max_content_size"` // bytes, default: 20 MiB
	MaxTools       int           `yaml:"max_tools"`        // default: 128
}

// ErrorsConfig extends the built-in backend error code table.
type ErrorsConfig struct {
	// Codes maps backend error codes to error kinds, e.g.
	// "QuotaExceeded: rate_limited".
	Codes map[string]string `yaml:"codes"`
}

// LoggingConfig holds log settings. MODELBRIDGE_DEBUG and
// MODELBRIDGE_LOG_LEVEL override the respective fields.
type LoggingConfig struct {
	Debug  string `yaml:"debug"`  // comma separated debug categories
	Level  string `yaml:"level"`  // default: "INFO"
	Format string `yaml:"format"` // "text" (default) or "json"
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: false
	Addr    string `yaml:"addr"`    // default: ":9090"
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			MaxMessages:    1000,
			MaxContentSize: 20 * 1024 * 1024,
			MaxTools:       128,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Addr: ":9090",
				Path: "/metrics",
			},
		},
	}
}

// Family returns the family with the given name.
func (c *Config) Family(name string) (*FamilyConfig, bool) {
	for i := range c.Families {
		if c.Families[i].Name == name {
			return &c.Families[i], true
		}
	}
	return nil, false
}

// applyFamilyDefaults fills in what a family left unset. Families come from
// a YAML list, so Defaults cannot cover them.
func applyFamilyDefaults(c *Config) {
	def := provider.DefaultBounds()
	for i := range c.Families {
		f := &c.Families[i]
		if f.Bounds.Temperature == (provider.FloatRange{}) {
			f.Bounds.Temperature = def.Temperature
		}
		if f.Bounds.TopP == (provider.FloatRange{}) {
			f.Bounds.TopP = def.TopP
		}
		if f.Kind == string(provider.KindCompletion) && f.Markers.IsZero() {
			f.Markers = completion.DefaultMarkers()
		}
		if f.Backend.Format == "" {
			f.Backend.Format = "sse"
		}
		if f.Backend.StreamURL == "" {
			f.Backend.StreamURL = f.Backend.URL
		}
	}
}
