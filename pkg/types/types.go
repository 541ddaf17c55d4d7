// Package types defines the core data structures for the goldfish memory
// system: memory items (checkpoints and notes), TODO lists, plans, chronicle
// entries and the derived relationship records that link them.
package types

import "time"

// Kind identifies the type of a stored entity. It also selects the storage
// partition the entity lives in.
type Kind string

// Memory item kinds
const (
	// KindCheckpoint is a timestamped snapshot of work context
	KindCheckpoint Kind = "checkpoint"

	// KindTodoNote is a free-form note attached to ongoing TODO work
	KindTodoNote Kind = "todo-note"

	// KindGeneral is an unclassified memory
	KindGeneral Kind = "general"

	// KindContext is background context for the workspace
	KindContext Kind = "context"
)

// Structured entity kinds
const (
	KindTodoList  Kind = "todo-list"
	KindPlan      Kind = "plan"
	KindChronicle Kind = "chronicle"
)

// MemoryKinds lists the kinds carried by MemoryItem.
var MemoryKinds = []Kind{KindCheckpoint, KindTodoNote, KindGeneral, KindContext}

// AllKinds lists every entity kind known to the system.
var AllKinds = []Kind{
	KindCheckpoint,
	KindTodoNote,
	KindGeneral,
	KindContext,
	KindTodoList,
	KindPlan,
	KindChronicle,
}

// IsMemoryKind reports whether k is stored as a MemoryItem.
func IsMemoryKind(k Kind) bool {
	for _, mk := range MemoryKinds {
		if k == mk {
			return true
		}
	}
	return false
}

// IsValidKind reports whether k is a known entity kind.
func IsValidKind(k Kind) bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Entity is implemented by every persisted record type. Stores use it to
// route records to their partition and to fill in identity fields.
type Entity interface {
	// EntityID returns the record identifier (empty before the first save).
	EntityID() string

	// EntityKind returns the record kind.
	EntityKind() Kind

	// EntityWorkspace returns the canonical workspace slug.
	EntityWorkspace() string

	// Created returns the creation timestamp.
	Created() time.Time

	// Stamp fills identity fields on save: id is used only when the record
	// has none, workspace always replaces the current value, and now becomes
	// the creation time when unset (and the update time where tracked).
	Stamp(id, workspace string, now time.Time)
}
