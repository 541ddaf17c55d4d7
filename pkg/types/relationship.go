package types

// RelationshipRecord links a Plan to the TodoLists generated from it and to
// the checkpoints associated with it. It is derived data: it can always be
// recomputed from the stored plans, lists and checkpoints and is never
// consulted for status.
type RelationshipRecord struct {
	PlanID     string     `json:"planId"`
	PlanTitle  string     `json:"planTitle"`
	PlanStatus PlanStatus `json:"planStatus"`

	LinkedTodoIDs       []string `json:"linkedTodoIds"`
	LinkedCheckpointIDs []string `json:"linkedCheckpointIds"`

	// PrimaryCheckpointID is the closest-in-time linked checkpoint.
	PrimaryCheckpointID string `json:"primaryCheckpointId,omitempty"`

	Tags []string `json:"tags"`

	// Aggregate progress over every linked TodoList
	CompletionPercentage int `json:"completionPercentage"`
	DoneItems            int `json:"doneItems"`
	TotalItems           int `json:"totalItems"`
}

// HasTodo reports whether the record links the given TodoList.
func (r *RelationshipRecord) HasTodo(id string) bool {
	for _, t := range r.LinkedTodoIDs {
		if t == id {
			return true
		}
	}
	return false
}

// HasCheckpoint reports whether the record links the given checkpoint.
func (r *RelationshipRecord) HasCheckpoint(id string) bool {
	for _, c := range r.LinkedCheckpointIDs {
		if c == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of r.
func (r RelationshipRecord) Clone() RelationshipRecord {
	c := r
	c.LinkedTodoIDs = append([]string{}, r.LinkedTodoIDs...)
	c.LinkedCheckpointIDs = append([]string{}, r.LinkedCheckpointIDs...)
	c.Tags = append([]string{}, r.Tags...)
	return c
}
