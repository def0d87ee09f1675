package provider

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/rhuss/modelbridge/pkg/api"
)

// Estimator approximates the token count of a text. Results are always
// reported with Usage.Estimated set.
type Estimator interface {
	CountTokens(text string) int
}

// CharEstimator divides the character count by a per-family constant,
// rounding up. The constant is configuration; there is no built-in default.
type CharEstimator struct {
	CharsPerToken float64
}

// CountTokens implements Estimator.
func (e CharEstimator) CountTokens(text string) int {
	if text == "" || e.CharsPerToken <= 0 {
		return 0
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / e.CharsPerToken))
}

// TokenizerEstimator counts tokens with a BPE encoding. It is closer to the
// real count than CharEstimator but still not the backend's own tokenizer,
// so its results are marked estimated too.
type TokenizerEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizerEstimator loads the named BPE encoding (e.g., "cl100k_base").
func NewTokenizerEstimator(encoding string) (*TokenizerEstimator, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer %q: %w", encoding, err)
	}
	return &TokenizerEstimator{enc: enc}, nil
}

// CountTokens implements Estimator.
func (e *TokenizerEstimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(e.enc.Encode(text, nil, nil))
}

// ResolveUsage builds the usage for a call. Counts the backend reported are
// passed as non-nil pointers and used as-is; any missing count is estimated
// from the corresponding text and the result is flagged Estimated.
func ResolveUsage(est Estimator, prompt, completion *int, promptText, completionText string) api.Usage {
	var u api.Usage
	if prompt != nil {
		u.PromptTokens = *prompt
	} else {
		u.PromptTokens = est.CountTokens(promptText)
		u.Estimated = true
	}
	if completion != nil {
		u.CompletionTokens = *completion
	} else {
		u.CompletionTokens = est.CountTokens(completionText)
		u.Estimated = true
	}
	return u
}
