package provider

import (
	"encoding/json"
	"log/slog"

	"github.com/rhuss/modelbridge/pkg/api"
)

// emptyObjectSchema is sent for tools declared without parameters; backends
// with native tool support reject a missing schema.
var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ToolSchema returns params, or an empty object schema when params is unset.
func ToolSchema(params json.RawMessage) json.RawMessage {
	if len(params) == 0 || string(params) == "null" {
		return emptyObjectSchema
	}
	return params
}

// DropTools logs that a family without tool support is ignoring the
// request's tool definitions. It is a no-op when there are none.
func DropTools(family string, tools []api.ToolDefinition) {
	if len(tools) == 0 {
		return
	}
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	slog.Warn("model family does not support tools, dropping tool definitions",
		"family", family,
		"tools", names,
	)
}

// DropImage logs that an image part is being dropped from a message that
// still carries other content.
func DropImage(family string, msgIndex int, reason error) {
	slog.Warn("dropping image the model family cannot represent",
		"family", family,
		"message", msgIndex,
		"reason", reason,
	)
}

// ArgumentsOrEmpty returns args, or "{}" when unset. Families that need a
// JSON object for tool input use it for calls issued without arguments.
func ArgumentsOrEmpty(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage(`{}`)
	}
	return args
}
