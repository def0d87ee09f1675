package api

import (
	"encoding/json"
	"fmt"
)

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxMessages    int
	MaxContentSize int
	MaxTools       int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxMessages:    1000,
		MaxContentSize: 20 * 1024 * 1024, // 20MB, inline images included
		MaxTools:       128,
	}
}

// ValidateRequest checks a CanonicalRequest for validity. It returns an
// *Error describing the first validation failure, or nil if the request is
// valid. Out-of-range sampling values are not rejected here; adapters clamp
// them to the family's bounds.
func ValidateRequest(req *CanonicalRequest, cfg ValidationConfig) *Error {
	if req == nil {
		return NewInvalidRequestError("", "request is required")
	}

	if req.ModelID == "" {
		return NewInvalidRequestError("model_id", "model_id is required")
	}

	if len(req.Messages) == 0 {
		return NewInvalidRequestError("messages", "messages must contain at least one message")
	}

	if cfg.MaxMessages > 0 && len(req.Messages) > cfg.MaxMessages {
		return NewInvalidRequestError("messages",
			fmt.Sprintf("messages exceeds maximum of %d", cfg.MaxMessages))
	}

	if cfg.MaxTools > 0 && len(req.Tools) > cfg.MaxTools {
		return NewInvalidRequestError("tools",
			fmt.Sprintf("tools exceeds maximum of %d", cfg.MaxTools))
	}

	if req.Parameters.MaxTokens != nil && *req.Parameters.MaxTokens <= 0 {
		return NewInvalidRequestError("max_tokens", "max_tokens must be positive")
	}

	if req.Parameters.MaxPromptTokens != nil && *req.Parameters.MaxPromptTokens <= 0 {
		return NewInvalidRequestError("max_prompt_tokens", "max_prompt_tokens must be positive")
	}

	seen := make(map[string]bool, len(req.Tools))
	for i, tool := range req.Tools {
		if tool.Name == "" {
			return NewInvalidRequestError(fmt.Sprintf("tools[%d].name", i), "tool name is required")
		}
		if seen[tool.Name] {
			return NewInvalidRequestError(fmt.Sprintf("tools[%d].name", i),
				fmt.Sprintf("duplicate tool name %q", tool.Name))
		}
		seen[tool.Name] = true
		if len(tool.Parameters) > 0 && !json.Valid(tool.Parameters) {
			return NewInvalidRequestError(fmt.Sprintf("tools[%d].parameters", i),
				"parameters must be a valid JSON schema")
		}
	}

	size := 0
	for i := range req.Messages {
		n, apiErr := validateMessage(&req.Messages[i], i)
		if apiErr != nil {
			return apiErr
		}
		size += n
	}

	if cfg.MaxContentSize > 0 && size > cfg.MaxContentSize {
		return NewInvalidRequestError("messages",
			fmt.Sprintf("content exceeds maximum size of %d bytes", cfg.MaxContentSize))
	}

	return nil
}

// validateMessage checks one message and returns its content size in bytes.
func validateMessage(msg *CanonicalMessage, idx int) (int, *Error) {
	param := fmt.Sprintf("messages[%d]", idx)

	if !msg.Role.Valid() {
		return 0, NewInvalidRequestError(param+".role",
			fmt.Sprintf("unknown role %q", msg.Role))
	}

	if msg.Role == RoleTool && msg.ToolCallID == "" {
		return 0, NewInvalidRequestError(param+".tool_call_id",
			"tool messages must reference a tool call")
	}

	if len(msg.ToolCalls) > 0 && msg.Role != RoleAssistant {
		return 0, NewInvalidRequestError(param+".tool_calls",
			"only assistant messages may carry tool calls")
	}

	for j, call := range msg.ToolCalls {
		if call.Name == "" {
			return 0, NewInvalidRequestError(fmt.Sprintf("%s.tool_calls[%d].name", param, j),
				"tool call name is required")
		}
	}

	size := 0
	for j, part := range msg.Content {
		partParam := fmt.Sprintf("%s.content[%d]", param, j)
		switch part.Type {
		case ContentText:
			size += len(part.Text)
		case ContentToolResult:
			if part.ToolCallID == "" && msg.ToolCallID == "" {
				return 0, NewInvalidRequestError(partParam+".tool_call_id",
					"tool results must reference a tool call")
			}
			size += len(part.Text)
		case ContentImage:
			if apiErr := validateImage(part.Image, partParam); apiErr != nil {
				return 0, apiErr
			}
			size += len(part.Image.Data)
		default:
			return 0, NewInvalidRequestError(partParam+".type",
				fmt.Sprintf("unknown content type %q", part.Type))
		}
	}

	return size, nil
}

func validateImage(img *ImageRef, param string) *Error {
	if img == nil {
		return NewInvalidRequestError(param+".image", "image part has no image")
	}
	hasData := len(img.Data) > 0
	hasRef := img.Ref != ""
	if hasData == hasRef {
		return NewInvalidRequestError(param+".image",
			"exactly one of inline data or reference must be set")
	}
	if hasData && img.MediaType == "" {
		return NewInvalidRequestError(param+".image.media_type",
			"inline images require a media type")
	}
	return nil
}
