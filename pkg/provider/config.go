package provider

import "fmt"

// FamilyConfig holds the settings every family adapter shares.
type FamilyConfig struct {
	// Name is the configured family name used in logs, errors and metrics.
	Name string

	// Bounds are the clamp limits for sampling parameters.
	Bounds Bounds

	// Estimator approximates token usage when the backend omits it.
	Estimator Estimator

	// MaxPromptTokens is the model's prompt limit used for truncation when
	// a request sets none. Zero disables it.
	MaxPromptTokens int
}

// Validate checks the shared settings.
func (c FamilyConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("family name is required")
	}
	if c.Estimator == nil {
		return fmt.Errorf("family %s: a token estimator is required", c.Name)
	}
	if c.MaxPromptTokens < 0 {
		return fmt.Errorf("family %s: max prompt tokens must not be negative", c.Name)
	}
	return nil
}
