// Package events decodes agent response messages into the tool blocks the
// screenshot hook cares about. Parsing is permissive: shapes it does not
// recognize become Other blocks or are dropped, never errors.
package events

import (
	"encoding/json"
	"strings"
)

const (
	toolUseMarker    = "ToolUseBlock"
	toolResultMarker = "ToolResultBlock"
)

// Block is one content block of an agent message.
type Block interface {
	block()
}

// ToolUse is a tool invocation requested by the model.
type ToolUse struct {
	ID   string
	Name string
}

// ToolResult is the output of a tool invocation.
type ToolResult struct {
	ToolUseID string
	Content   any
}

// Other is any block the hook does not act on.
type Other struct {
	Type string
}

func (ToolUse) block()    {}
func (ToolResult) block() {}
func (Other) block()      {}

// ParseMessage extracts the content blocks of a serialized agent message.
// payload is either a decoded JSON object (map[string]any) or raw JSON.
// Anything without a "content" list yields nil.
func ParseMessage(payload any) []Block {
	var msg map[string]any
	switch p := payload.(type) {
	case map[string]any:
		msg = p
	case json.RawMessage:
		msg = decodeObject(p)
	case []byte:
		msg = decodeObject(p)
	default:
		return nil
	}
	if msg == nil {
		return nil
	}

	content, ok := msg["content"].([]any)
	if !ok {
		return nil
	}

	blocks := make([]Block, 0, len(content))
	for _, item := range content {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		blocks = append(blocks, parseBlock(raw))
	}
	return blocks
}

// DecodeMessage parses one JSON-encoded agent message.
func DecodeMessage(data []byte) []Block {
	return ParseMessage(json.RawMessage(data))
}

func parseBlock(raw map[string]any) Block {
	blockType, _ := raw["_type"].(string)

	switch {
	case strings.Contains(blockType, toolUseMarker):
		id, idOK := raw["id"].(string)
		name, nameOK := raw["name"].(string)
		if !idOK || !nameOK {
			return Other{Type: blockType}
		}
		return ToolUse{ID: id, Name: name}

	case strings.Contains(blockType, toolResultMarker):
		id, _ := raw["tool_use_id"].(string)
		if id == "" {
			return Other{Type: blockType}
		}
		return ToolResult{ToolUseID: id, Content: raw["content"]}
	}
	return Other{Type: blockType}
}

func decodeObject(data []byte) map[string]any {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil
	}
	return msg
}
