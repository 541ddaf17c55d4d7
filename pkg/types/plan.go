package types

import "time"

// PlanStatus is the lifecycle status of a Plan.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanActive    PlanStatus = "active"
	PlanComplete  PlanStatus = "complete"
	PlanAbandoned PlanStatus = "abandoned"
)

// Plan is a strategic document that can generate a TodoList. At most one
// plan per workspace is active at a time.
type Plan struct {
	ID          string     `json:"id"`
	Workspace   string     `json:"workspace"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Items       []string   `json:"items"`
	Discoveries []string   `json:"discoveries"`
	Category    string     `json:"category,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	Status      PlanStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (p *Plan) EntityID() string        { return p.ID }
func (p *Plan) EntityKind() Kind        { return KindPlan }
func (p *Plan) EntityWorkspace() string { return p.Workspace }
func (p *Plan) Created() time.Time      { return p.CreatedAt }

// Stamp implements Entity.
func (p *Plan) Stamp(id, workspace string, now time.Time) {
	if p.ID == "" {
		p.ID = id
	}
	p.Workspace = workspace
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = PlanDraft
	}
	if p.Items == nil {
		p.Items = []string{}
	}
	if p.Discoveries == nil {
		p.Discoveries = []string{}
	}
}

// GenerateTodoList builds an active TodoList with one pending item per plan
// item. The list is linked back to the plan through SourcePlanID.
func (p *Plan) GenerateTodoList(now time.Time) *TodoList {
	items := make([]TodoItem, 0, len(p.Items))
	for i, content := range p.Items {
		items = append(items, TodoItem{
			ID:        itemID(i),
			Content:   content,
			Status:    TodoPending,
			Priority:  p.Priority,
			CreatedAt: now,
		})
	}
	return &TodoList{
		Workspace:    p.Workspace,
		Title:        p.Title,
		Items:        items,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
		SourcePlanID: p.ID,
	}
}
