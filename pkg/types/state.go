package types

// ValidPlanStatuses contains all valid plan status values
var ValidPlanStatuses = []PlanStatus{
	PlanDraft,
	PlanActive,
	PlanComplete,
	PlanAbandoned,
}

// ValidTodoStatuses contains all valid todo item status values
var ValidTodoStatuses = []TodoStatus{
	TodoPending,
	TodoActive,
	TodoDone,
}

// ValidChronicleKinds contains all valid chronicle entry kinds
var ValidChronicleKinds = []ChronicleKind{
	ChronicleDecision,
	ChronicleMilestone,
	ChronicleIssue,
	ChronicleResolution,
	ChronicleNote,
}

// IsValidPlanStatus checks if the given status is a valid plan status.
// Empty string is considered valid (defaults to draft on save).
func IsValidPlanStatus(status PlanStatus) bool {
	if status == "" {
		return true
	}
	for _, s := range ValidPlanStatuses {
		if status == s {
			return true
		}
	}
	return false
}

// IsValidTodoStatus checks if the given status is a valid item status.
func IsValidTodoStatus(status TodoStatus) bool {
	for _, s := range ValidTodoStatuses {
		if status == s {
			return true
		}
	}
	return false
}

// IsValidChronicleKind checks if the given kind is a valid chronicle kind.
func IsValidChronicleKind(kind ChronicleKind) bool {
	for _, k := range ValidChronicleKinds {
		if kind == k {
			return true
		}
	}
	return false
}

// IsValidPlanTransition validates plan status transitions.
//
// Valid transitions:
//
//	draft -> active | abandoned
//	active -> complete | abandoned | draft
//	complete -> active
//	abandoned -> draft | active
//
// Staying in the same status is always allowed.
func IsValidPlanTransition(current, next PlanStatus) bool {
	if next == "" {
		return false
	}
	if current == next {
		return true
	}

	switch current {
	case "", PlanDraft:
		return next == PlanActive || next == PlanAbandoned || (current == "" && next == PlanDraft)

	case PlanActive:
		return next == PlanComplete || next == PlanAbandoned || next == PlanDraft

	case PlanComplete:
		return next == PlanActive

	case PlanAbandoned:
		return next == PlanDraft || next == PlanActive

	default:
		return false
	}
}

// IsValidTodoTransition validates item status transitions. Items move
// pending -> active -> done; reopening (done -> pending/active) and
// skipping straight to done are allowed.
func IsValidTodoTransition(current, next TodoStatus) bool {
	return IsValidTodoStatus(current) && IsValidTodoStatus(next)
}
