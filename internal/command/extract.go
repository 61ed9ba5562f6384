package command

import (
	"encoding/json"
	"strings"
)

// blockNodes end with a line break when flattened.
var blockNodes = map[string]bool{
	"paragraph":  true,
	"heading":    true,
	"listItem":   true,
	"blockquote": true,
	"codeBlock":  true,
	"rule":       true,
}

// ExtractText flattens a comment body to plain text. Strings pass through;
// rich-document trees (Atlassian document format and similar) are walked
// depth-first and their text leaves concatenated in document order.
func ExtractText(body any) string {
	switch v := body.(type) {
	case nil:
		return ""
	case string:
		if doc, ok := parseDocument(v); ok {
			return ExtractText(doc)
		}
		return v
	case []byte:
		return ExtractText(json.RawMessage(v))
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return string(v)
		}
		return ExtractText(decoded)
	case map[string]any, []any:
		var sb strings.Builder
		walk(&sb, v)
		return strings.TrimRight(sb.String(), "\n")
	default:
		return ""
	}
}

// parseDocument recognizes a serialized document tree inside a string body.
func parseDocument(s string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return nil, false
	}
	if _, ok := doc["content"]; !ok {
		return nil, false
	}
	return doc, true
}

func walk(sb *strings.Builder, node any) {
	switch n := node.(type) {
	case []any:
		for _, child := range n {
			walk(sb, child)
		}
	case map[string]any:
		nodeType, _ := n["type"].(string)
		switch nodeType {
		case "text":
			if text, ok := n["text"].(string); ok {
				sb.WriteString(text)
			}
			return
		case "hardBreak":
			sb.WriteString("\n")
			return
		case "mention", "emoji", "inlineCard":
			if attrs, ok := n["attrs"].(map[string]any); ok {
				if text, ok := attrs["text"].(string); ok {
					sb.WriteString(text)
				} else if url, ok := attrs["url"].(string); ok {
					sb.WriteString(url)
				}
			}
			return
		}

		if content, ok := n["content"]; ok {
			walk(sb, content)
		} else if text, ok := n["text"].(string); ok && nodeType == "" {
			sb.WriteString(text)
		}

		if blockNodes[nodeType] {
			sb.WriteString("\n")
		}
	}
}
