package engine

import (
	"time"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/errmap"
	"github.com/rhuss/modelbridge/pkg/provider"
)

// Backend bundles the invokers of one family. Streamer may be nil when the
// family is only called synchronously.
type Backend struct {
	Invoker  provider.Invoker
	Streamer provider.StreamInvoker
}

// Config holds configuration for the engine.
type Config struct {
	// Validation limits applied before routing. The zero value means
	// api.DefaultValidationConfig.
	Validation api.ValidationConfig

	// Mapper classifies backend failures. Nil means errmap.New(nil).
	Mapper *errmap.Mapper

	// Timeout bounds one backend call including the whole stream. Zero
	// means no limit beyond the caller's context.
	Timeout time.Duration
}

func (c Config) validation() api.ValidationConfig {
	if c.Validation == (api.ValidationConfig{}) {
		return api.DefaultValidationConfig()
	}
	return c.Validation
}

func (c Config) mapper() *errmap.Mapper {
	if c.Mapper == nil {
		return errmap.New(nil)
	}
	return c.Mapper
}
