package provider

import (
	"github.com/rhuss/modelbridge/pkg/api"
)

// ValidateCapabilities checks whether the request can be served by a family
// with the given capabilities at all. Tools and images are not checked here:
// adapters drop or reject those per their own policy. Returns an *api.Error
// naming the unsupported feature, or nil.
func ValidateCapabilities(caps Capabilities, req *api.CanonicalRequest) *api.Error {
	if req.Parameters.Stream && !caps.Streaming {
		return api.NewInvalidRequestError("stream",
			"the resolved model family does not support streaming responses")
	}

	// An assistant turn carrying tool calls cannot be expressed without
	// native tool support.
	if !caps.ToolCalling {
		for _, msg := range req.Messages {
			if len(msg.ToolCalls) > 0 {
				return api.NewInvalidRequestError("messages",
					"the resolved model family does not support tool calls in the conversation history")
			}
		}
	}

	return nil
}
