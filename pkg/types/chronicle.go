package types

import "time"

// ChronicleKind classifies a chronicle entry.
type ChronicleKind string

const (
	ChronicleDecision   ChronicleKind = "decision"
	ChronicleMilestone  ChronicleKind = "milestone"
	ChronicleIssue      ChronicleKind = "issue"
	ChronicleResolution ChronicleKind = "resolution"
	ChronicleNote       ChronicleKind = "note"
)

// ChronicleEntry is a timestamped decision or milestone record.
type ChronicleEntry struct {
	ID            string        `json:"id"`
	Workspace     string        `json:"workspace"`
	Timestamp     time.Time     `json:"timestamp"`
	Kind          ChronicleKind `json:"kind"`
	Description   string        `json:"description"`
	RelatedPlanID string        `json:"relatedPlanId,omitempty"`
	RelatedTodoID string        `json:"relatedTodoId,omitempty"`
}

func (c *ChronicleEntry) EntityID() string        { return c.ID }
func (c *ChronicleEntry) EntityKind() Kind        { return KindChronicle }
func (c *ChronicleEntry) EntityWorkspace() string { return c.Workspace }
func (c *ChronicleEntry) Created() time.Time      { return c.Timestamp }

// Stamp implements Entity.
func (c *ChronicleEntry) Stamp(id, workspace string, now time.Time) {
	if c.ID == "" {
		c.ID = id
	}
	c.Workspace = workspace
	if c.Timestamp.IsZero() {
		c.Timestamp = now
	}
	if c.Kind == "" {
		c.Kind = ChronicleNote
	}
}
