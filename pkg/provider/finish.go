package provider

import (
	"log/slog"

	"github.com/rhuss/modelbridge/pkg/api"
)

// FinishTable maps a family's native stop reasons onto canonical reasons.
type FinishTable map[string]api.FinishReason

// Lookup translates reason. An empty reason means the backend did not say
// and maps to stop. Unrecognized reasons also map to stop, with a warning;
// they never map to error.
func (t FinishTable) Lookup(family, reason string) api.FinishReason {
	if reason == "" {
		return api.FinishStop
	}
	if r, ok := t[reason]; ok {
		return r
	}
	slog.Warn("unknown finish reason, treating as stop",
		"family", family,
		"finish_reason", reason,
	)
	return api.FinishStop
}
