package jsonrpc

import (
	"encoding/json"
	"strings"
)

// ToolDescriptor is one entry of a tools/list result.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// CallToolParams is the params object of a tools/call request.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ContentBlock is one item of a tool result.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// ToolResult is the conventional tools/call result shape. IsError marks a
// tool-level failure that the server still reported as a result.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Text joins the text blocks of the result.
func (r ToolResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, block := range r.Content {
		if block.Type == "text" || block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func DecodeToolResult(raw json.RawMessage) (ToolResult, error) {
	var out ToolResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return ToolResult{}, err
	}
	return out, nil
}

// DecodeToolList extracts result.tools. Absent or malformed shapes yield an
// empty slice; entries without a name are skipped.
func DecodeToolList(raw json.RawMessage) []ToolDescriptor {
	var envelope struct {
		Tools []json.RawMessage `json:"tools"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &envelope) != nil {
		return []ToolDescriptor{}
	}
	out := make([]ToolDescriptor, 0, len(envelope.Tools))
	for _, item := range envelope.Tools {
		var tool ToolDescriptor
		if err := json.Unmarshal(item, &tool); err != nil {
			continue
		}
		if strings.TrimSpace(tool.Name) == "" {
			continue
		}
		out = append(out, tool)
	}
	return out
}
