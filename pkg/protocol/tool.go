package protocol

import "strings"

// ToolDescriptor is the metadata a tool-providing session reports for one tool.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolDefinition describes a tool available to the LLM (OpenAI function-calling format).
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the function schema within a tool definition.
type ToolFunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// NewToolDefinition creates a ToolDefinition in OpenAI function-calling format.
func NewToolDefinition(name, description string, parameters map[string]any) ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunctionSchema{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// Definition converts a discovered descriptor into the function-calling schema.
// A missing schema becomes an empty object schema, which every provider accepts.
func (d ToolDescriptor) Definition() ToolDefinition {
	params := d.InputSchema
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return NewToolDefinition(d.Name, d.Description, params)
}

// ToolResultSeparator joins the text segments of a tool result.
const ToolResultSeparator = "\n\n"

// ToolResult is the textual output of one tool invocation, as an ordered list of segments.
type ToolResult struct {
	Segments []string `json:"segments"`
}

// TextResult wraps a single string as a ToolResult.
func TextResult(s string) ToolResult {
	return ToolResult{Segments: []string{s}}
}

// Text joins the segments into the single string folded into the transcript.
func (r ToolResult) Text() string {
	return strings.Join(r.Segments, ToolResultSeparator)
}
