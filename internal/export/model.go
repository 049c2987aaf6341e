// Package export models the vendor conversation export and turns each exported
// conversation into a flat history.Conversation.
package export

import (
	"bytes"
	"encoding/json"
)

// RawExportRecord is one conversation as written by the export tool.
type RawExportRecord struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Title          *string                `json:"title"`
	CreateTime     *float64               `json:"create_time"`
	UpdateTime     *float64               `json:"update_time"`
	Mapping        map[string]MessageNode `json:"mapping"`
	CurrentNode    *string                `json:"current_node"`
	GizmoID        *string                `json:"gizmo_id,omitempty"`
}

// MessageNode is one vertex of the conversation tree. Structural nodes (the
// root, branch points) carry no Message.
type MessageNode struct {
	ID       string   `json:"id"`
	Parent   *string  `json:"parent"`
	Children []string `json:"children"`
	Message  *Message `json:"message"`
}

// Message is the payload of a node.
type Message struct {
	ID         string          `json:"id"`
	Author     Author          `json:"author"`
	CreateTime *float64        `json:"create_time"`
	Content    *Content        `json:"content"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// Author identifies who wrote a message.
type Author struct {
	Role string  `json:"role"`
	Name *string `json:"name,omitempty"`
}

// Content is a type discriminator plus an ordered list of parts.
type Content struct {
	ContentType string `json:"content_type"`
	Parts       []Part `json:"parts"`
}

// Part is one element of Content.Parts. The export mixes plain strings with
// structured objects (image pointers and the like), so the raw JSON is kept and
// only interpreted on demand.
type Part struct {
	raw json.RawMessage
}

// TextPart builds a plain text part.
func TextPart(s string) Part {
	b, _ := json.Marshal(s)
	return Part{raw: b}
}

// RawPart builds a part from raw JSON.
func RawPart(raw string) Part {
	return Part{raw: json.RawMessage(raw)}
}

func (p *Part) UnmarshalJSON(b []byte) error {
	p.raw = append(p.raw[:0], b...)
	return nil
}

func (p Part) MarshalJSON() ([]byte, error) {
	if len(p.raw) == 0 {
		return []byte("null"), nil
	}
	return p.raw, nil
}

// Text returns the part's string value when the part is a JSON string.
func (p Part) Text() (string, bool) {
	if len(p.raw) == 0 || p.raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(p.raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// IsNull reports whether the part is absent or JSON null.
func (p Part) IsNull() bool {
	t := bytes.TrimSpace(p.raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// IsEmpty reports whether the part carries nothing: null or an empty string.
// Any structured value counts as non-empty.
func (p Part) IsEmpty() bool {
	if p.IsNull() {
		return true
	}
	if s, ok := p.Text(); ok {
		return s == ""
	}
	return false
}

// ContentType returns the content_type of a structured part, or "".
func (p Part) ContentType() string {
	t := bytes.TrimSpace(p.raw)
	if len(t) == 0 || t[0] != '{' {
		return ""
	}
	var probe struct {
		ContentType string `json:"content_type"`
	}
	if err := json.Unmarshal(t, &probe); err != nil {
		return ""
	}
	return probe.ContentType
}
