// Package completion implements the adapter for families that take a single
// flattened prompt string, such as Llama-2 chat models. The conversation is
// rendered with configurable role markers; tools, images and stop sequences
// have no representation and are dropped.
package completion

import (
	"fmt"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/provider"
)

// Markers are the role delimiters used to flatten a conversation.
type Markers struct {
	BOS       string `yaml:"bos"`
	EOS       string `yaml:"eos"`
	InstOpen  string `yaml:"inst_open"`
	InstClose string `yaml:"inst_close"`
	SysOpen   string `yaml:"sys_open"`
	SysClose  string `yaml:"sys_close"`
}

// DefaultMarkers returns the Llama-2 chat markers.
func DefaultMarkers() Markers {
	return Markers{
		BOS:       "<s>",
		EOS:       "</s>",
		InstOpen:  "[INST]",
		InstClose: "[/INST]",
		SysOpen:   "<<SYS>>\n",
		SysClose:  "\n<</SYS>>\n\n",
	}
}

// IsZero reports whether no marker is set.
func (m Markers) IsZero() bool {
	return m == Markers{}
}

// Config holds configuration for a completion family adapter.
type Config struct {
	provider.FamilyConfig

	// Markers delimit turns in the rendered prompt. The zero value selects
	// DefaultMarkers.
	Markers Markers
}

var finishReasons = provider.FinishTable{
	"stop":   api.FinishStop,
	"length": api.FinishLength,
}

// Adapter implements provider.Adapter for completion families.
type Adapter struct {
	cfg Config
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates a completion adapter.
func New(cfg Config) (*Adapter, error) {
	if err := cfg.FamilyConfig.Validate(); err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}
	if cfg.Markers.IsZero() {
		cfg.Markers = DefaultMarkers()
	}
	return &Adapter{cfg: cfg}, nil
}

func (a *Adapter) Name() string        { return a.cfg.Name }
func (a *Adapter) Kind() provider.Kind { return provider.KindCompletion }

// Capabilities reports streaming only.
func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{Streaming: true}
}

func (a *Adapter) NewStreamState(payload *provider.BackendPayload) *provider.StreamState {
	return provider.NewStreamState(a.cfg.Name, a.cfg.Estimator, payload.PromptText)
}
