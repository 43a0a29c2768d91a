package mcpclient

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// InputSchema is the declared JSON Schema of an operation's arguments.
type InputSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

// Operation describes one tool exposed by the server. Operations are
// immutable after discovery.
type Operation struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema InputSchema     `json:"input_schema"`
	RawSchema   json.RawMessage `json:"-"`
}

// operationFromTool converts a discovered mcp.Tool into an Operation,
// preserving the raw schema for later validation.
func operationFromTool(tool mcp.Tool) Operation {
	raw, err := json.Marshal(tool.InputSchema)
	if err != nil {
		raw = nil
	}
	return Operation{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: InputSchema{
			Type:       tool.InputSchema.Type,
			Properties: tool.InputSchema.Properties,
			Required:   tool.InputSchema.Required,
		},
		RawSchema: raw,
	}
}
