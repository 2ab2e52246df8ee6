// Package content defines the block-tree content model shared by the editor
// and the server-side renderer, and the deterministic JSON -> HTML renderer.
package content

import (
	"encoding/json"
	"fmt"
)

// Node is a node in the content tree. Block nodes carry children in Content;
// the text leaf carries Text plus inline Marks.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark is an inline formatting annotation on a text node.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Registered node and mark types. The schema is closed: anything outside
// these sets fails rendering instead of being silently dropped, because the
// rendered HTML is the durable, publicly served artifact.
const (
	TypeDoc            = "doc"
	TypeParagraph      = "paragraph"
	TypeHeading        = "heading"
	TypeText           = "text"
	TypeImage          = "image"
	TypeSpacer         = "spacer"
	TypePriceTable     = "priceTable"
	TypeBulletList     = "bulletList"
	TypeOrderedList    = "orderedList"
	TypeListItem       = "listItem"
	TypeHardBreak      = "hardBreak"
	TypeHorizontalRule = "horizontalRule"
)

const (
	MarkBold      = "bold"
	MarkItalic    = "italic"
	MarkUnderline = "underline"
	MarkStrike    = "strike"
	MarkCode      = "code"
	MarkLink      = "link"
)

var nodeTypes = map[string]struct{}{
	TypeDoc:            {},
	TypeParagraph:      {},
	TypeHeading:        {},
	TypeText:           {},
	TypeImage:          {},
	TypeSpacer:         {},
	TypePriceTable:     {},
	TypeBulletList:     {},
	TypeOrderedList:    {},
	TypeListItem:       {},
	TypeHardBreak:      {},
	TypeHorizontalRule: {},
}

var markTypes = map[string]struct{}{
	MarkBold:      {},
	MarkItalic:    {},
	MarkUnderline: {},
	MarkStrike:    {},
	MarkCode:      {},
	MarkLink:      {},
}

// Error reports a content-model violation: an unregistered node or mark
// type, or a structurally malformed node.
type Error struct {
	NodeType string
	Reason   string
}

func (e *Error) Error() string {
	if e.NodeType == "" {
		return "content: " + e.Reason
	}
	return fmt.Sprintf("content: node %q: %s", e.NodeType, e.Reason)
}

func contentError(nodeType, reason string) *Error {
	return &Error{NodeType: nodeType, Reason: reason}
}

// Parse decodes a serialized Content Document and verifies the root is a
// doc node. It does not validate the full tree; Render walks every node
// and fails closed on the first violation.
func Parse(raw []byte) (Node, error) {
	var root Node
	if err := json.Unmarshal(raw, &root); err != nil {
		return Node{}, contentError("", "invalid JSON: "+err.Error())
	}
	if root.Type != TypeDoc {
		return Node{}, contentError(root.Type, "root must be a doc node")
	}
	return root, nil
}

// IsRegistered reports whether a node type is part of the schema.
func IsRegistered(nodeType string) bool {
	_, ok := nodeTypes[nodeType]
	return ok
}

func attrString(attrs map[string]any, key string) string {
	if attrs == nil {
		return ""
	}
	value, _ := attrs[key].(string)
	return value
}

func attrFloat(attrs map[string]any, key string) (float64, bool) {
	if attrs == nil {
		return 0, false
	}
	switch v := attrs[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

func attrInt(attrs map[string]any, key string, fallback int) int {
	value, ok := attrFloat(attrs, key)
	if !ok {
		return fallback
	}
	return int(value)
}
