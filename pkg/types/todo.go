package types

import (
	"strconv"
	"time"
)

// TodoStatus is the progress state of a TodoItem.
type TodoStatus string

const (
	TodoPending TodoStatus = "pending"
	TodoActive  TodoStatus = "active"
	TodoDone    TodoStatus = "done"
)

// TodoItem is a single task inside a TodoList.
type TodoItem struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	Status    TodoStatus `json:"status"`
	Priority  string     `json:"priority,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// TodoList is an ordered list of tasks. At most one list per workspace is
// active at a time.
type TodoList struct {
	ID          string     `json:"id"`
	Workspace   string     `json:"workspace"`
	Title       string     `json:"title"`
	Items       []TodoItem `json:"items"`
	IsActive    bool       `json:"isActive"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// SourcePlanID is the plan this list was generated from, if any.
	SourcePlanID string `json:"sourcePlanId,omitempty"`
}

func (l *TodoList) EntityID() string        { return l.ID }
func (l *TodoList) EntityKind() Kind        { return KindTodoList }
func (l *TodoList) EntityWorkspace() string { return l.Workspace }
func (l *TodoList) Created() time.Time      { return l.CreatedAt }

// Stamp implements Entity. Items without an ID are numbered by position.
func (l *TodoList) Stamp(id, workspace string, now time.Time) {
	if l.ID == "" {
		l.ID = id
	}
	l.Workspace = workspace
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	if l.Items == nil {
		l.Items = []TodoItem{}
	}
	for i := range l.Items {
		if l.Items[i].ID == "" {
			l.Items[i].ID = itemID(i)
		}
		if l.Items[i].Status == "" {
			l.Items[i].Status = TodoPending
		}
		if l.Items[i].CreatedAt.IsZero() {
			l.Items[i].CreatedAt = l.CreatedAt
		}
	}
	done, total := l.Progress()
	switch {
	case total > 0 && done == total && l.CompletedAt == nil:
		l.CompletedAt = &now
	case done < total:
		l.CompletedAt = nil
	}
}

// Progress returns the number of done items and the total item count.
func (l *TodoList) Progress() (done, total int) {
	for _, it := range l.Items {
		if it.Status == TodoDone {
			done++
		}
	}
	return done, len(l.Items)
}

// SetStatus moves every item to status, stamping UpdatedAt.
func (l *TodoList) SetStatus(status TodoStatus, now time.Time) {
	for i := range l.Items {
		l.Items[i].Status = status
		l.Items[i].UpdatedAt = &now
	}
}

func itemID(i int) string {
	return strconv.Itoa(i + 1)
}
