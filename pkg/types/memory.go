package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ContentKind tags the shape carried by a Content value.
type ContentKind string

const (
	// ContentText is plain free-form text
	ContentText ContentKind = "text"

	// ContentStructured is a checkpoint-style structured payload
	ContentStructured ContentKind = "structured"
)

// CheckpointContent is the structured payload of a checkpoint.
type CheckpointContent struct {
	Description string   `json:"description"`
	Highlights  []string `json:"highlights,omitempty"`
	ActiveFiles []string `json:"activeFiles,omitempty"`
	WorkContext string   `json:"workContext,omitempty"`
	GitBranch   string   `json:"gitBranch,omitempty"`
}

// Content is a tagged variant: either plain text or a structured payload.
// On the wire plain text is a JSON string and structured content a JSON object.
type Content struct {
	Kind       ContentKind
	Text       string
	Structured *CheckpointContent
}

// TextContent builds a plain-text Content.
func TextContent(text string) Content {
	return Content{Kind: ContentText, Text: text}
}

// StructuredContent builds a structured Content.
func StructuredContent(c CheckpointContent) Content {
	return Content{Kind: ContentStructured, Structured: &c}
}

// Description returns the primary text: the plain text, or the structured
// description.
func (c Content) Description() string {
	if c.Kind == ContentStructured && c.Structured != nil {
		return c.Structured.Description
	}
	return c.Text
}

// Highlights returns curator-selected salient phrases (structured only).
func (c Content) Highlights() []string {
	if c.Kind == ContentStructured && c.Structured != nil {
		return c.Structured.Highlights
	}
	return nil
}

// SearchText returns all free text of the content except highlights.
func (c Content) SearchText() string {
	if c.Kind != ContentStructured || c.Structured == nil {
		return c.Text
	}
	parts := []string{c.Structured.Description}
	if c.Structured.WorkContext != "" {
		parts = append(parts, c.Structured.WorkContext)
	}
	if c.Structured.GitBranch != "" {
		parts = append(parts, c.Structured.GitBranch)
	}
	parts = append(parts, c.Structured.ActiveFiles...)
	return strings.Join(parts, " ")
}

// MarshalJSON encodes text content as a string and structured content as an object.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Kind == ContentStructured {
		if c.Structured == nil {
			return nil, fmt.Errorf("types: structured content without payload")
		}
		return json.Marshal(c.Structured)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts either a JSON string or a structured object.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = TextContent("")
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*c = TextContent(s)
		return nil
	case '{':
		var sc CheckpointContent
		if err := json.Unmarshal(trimmed, &sc); err != nil {
			return err
		}
		*c = StructuredContent(sc)
		return nil
	default:
		return fmt.Errorf("types: content must be a string or an object")
	}
}

// MemoryItem is a single short-lived memory: a checkpoint, a TODO note, a
// general note or workspace context.
type MemoryItem struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"timestamp"`
	Workspace string    `json:"workspace"`
	Kind      Kind      `json:"kind"`
	Content   Content   `json:"content"`
	TTLHours  int       `json:"ttlHours"`           // 0 means no expiry
	Tags      []string  `json:"tags"`
	SessionID string    `json:"sessionId,omitempty"` // Session in which the item was created
}

func (m *MemoryItem) EntityID() string        { return m.ID }
func (m *MemoryItem) EntityKind() Kind        { return m.Kind }
func (m *MemoryItem) EntityWorkspace() string { return m.Workspace }
func (m *MemoryItem) Created() time.Time      { return m.CreatedAt }

// Stamp implements Entity.
func (m *MemoryItem) Stamp(id, workspace string, now time.Time) {
	if m.ID == "" {
		m.ID = id
	}
	m.Workspace = workspace
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
}

// ExpiresAt returns the instant the item becomes eligible for cleanup.
// ok is false for items without a TTL.
func (m *MemoryItem) ExpiresAt() (at time.Time, ok bool) {
	if m.TTLHours <= 0 {
		return time.Time{}, false
	}
	return m.CreatedAt.Add(time.Duration(m.TTLHours) * time.Hour), true
}

// Expired reports whether the TTL has elapsed at now.
func (m *MemoryItem) Expired(now time.Time) bool {
	at, ok := m.ExpiresAt()
	return ok && !now.Before(at)
}

// HasTag reports whether the item carries tag (case-insensitive).
func (m *MemoryItem) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
