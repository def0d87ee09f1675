package provider

import "log/slog"

// FloatRange is an inclusive numeric interval.
type FloatRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Bounds are the per-family limits sampling parameters are clamped to.
// They are tuning values injected from configuration.
type Bounds struct {
	// MaxTokens is the largest token limit the family accepts; 0 means no
	// ceiling is enforced.
	MaxTokens   int        `yaml:"max_tokens"`
	Temperature FloatRange `yaml:"temperature"`
	TopP        FloatRange `yaml:"top_p"`
}

// DefaultBounds returns the canonical parameter ranges: temperature in
// [0,2], top_p in [0,1] and no max_tokens ceiling.
func DefaultBounds() Bounds {
	return Bounds{
		Temperature: FloatRange{Min: 0, Max: 2},
		TopP:        FloatRange{Min: 0, Max: 1},
	}
}

// ClampMaxTokens limits v to the family's ceiling.
func (b Bounds) ClampMaxTokens(family string, v int) int {
	if b.MaxTokens > 0 && v > b.MaxTokens {
		warnClamped(family, "max_tokens", v, b.MaxTokens)
		return b.MaxTokens
	}
	return v
}

// ClampTemperature limits v to the family's temperature range.
func (b Bounds) ClampTemperature(family string, v float64) float64 {
	return clampFloat(family, "temperature", v, b.Temperature)
}

// ClampTopP limits v to the family's top_p range.
func (b Bounds) ClampTopP(family string, v float64) float64 {
	return clampFloat(family, "top_p", v, b.TopP)
}

func clampFloat(family, param string, v float64, r FloatRange) float64 {
	switch {
	case v < r.Min:
		warnClamped(family, param, v, r.Min)
		return r.Min
	case v > r.Max:
		warnClamped(family, param, v, r.Max)
		return r.Max
	}
	return v
}

func warnClamped(family, param string, value, bound any) {
	slog.Warn("clamping out-of-range parameter",
		"family", family,
		"param", param,
		"value", value,
		"bound", bound,
	)
}
