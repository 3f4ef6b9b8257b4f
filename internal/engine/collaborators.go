package engine

import "context"

// Verdict is a quality gate's judgement of a task description.
type Verdict struct {
	Valid   bool     `json:"valid"`
	Reasons []string `json:"reasons,omitempty"`
}

// QualityGate approves or rejects candidate task descriptions before
// insertion. Rejection is a normal outcome, never an error.
type QualityGate interface {
	Validate(description string) Verdict
}

// Capacity is the per-layer maxima derived from a slot budget.
type Capacity struct {
	Project struct {
		Max int `json:"max"`
	} `json:"project"`
	Initiative struct {
		Max int `json:"max"`
	} `json:"initiative"`
	Task struct {
		QueuedCap int `json:"queued_cap"`
	} `json:"task"`
}

// CapacityCalculator converts a slot budget into layer maxima and
// decides saturation. Pure functions of configuration and counts.
type CapacityCalculator interface {
	Compute(slotBudget int) Capacity
	AtCapacity(current, max int) bool
}

const IssueBlock = "BLOCK"

type ValidationIssue struct {
	Level    string `json:"level"`
	EntityID string `json:"entity_id"`
}

type ValidationResult struct {
	OK     bool              `json:"ok"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// OKRValidator flags structurally broken entities. A returned error is
// non-fatal to the tick: the engine proceeds as if nothing is blocked.
type OKRValidator interface {
	Validate(ctx context.Context) (ValidationResult, error)
}

// ValidationContext carries the BLOCK-flagged entity ids for exactly
// one tick. It is built once per pass and passed by value through the
// checks into the factory, so overlapping ticks cannot see each
// other's blocked sets.
type ValidationContext struct {
	blocked map[string]struct{}
}

func NewValidationContext(issues []ValidationIssue) ValidationContext {
	blocked := make(map[string]struct{})
	for _, issue := range issues {
		if issue.Level == IssueBlock && issue.EntityID != "" {
			blocked[issue.EntityID] = struct{}{}
		}
	}
	return ValidationContext{blocked: blocked}
}

// Blocked reports whether any of the given entity ids was BLOCK-flagged.
func (v ValidationContext) Blocked(entityIDs ...string) bool {
	if len(v.blocked) == 0 {
		return false
	}
	for _, id := range entityIDs {
		if id == "" {
			continue
		}
		if _, ok := v.blocked[id]; ok {
			return true
		}
	}
	return false
}
