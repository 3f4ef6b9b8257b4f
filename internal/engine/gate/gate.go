// Package gate holds the reference implementations of the engine's
// external collaborators: the description quality gate, the capacity
// calculator, and the OKR structural validator. The engine depends
// only on the interfaces; these defaults make the system runnable end
// to end.
package gate

import (
	"context"
	"strings"

	"okrbrain/internal/engine"
	"okrbrain/internal/repo"
)

// RuleGate is a rule-based quality gate over task descriptions.
type RuleGate struct {
	MinLength int
}

func (g RuleGate) Validate(description string) engine.Verdict {
	var reasons []string
	trimmed := strings.TrimSpace(description)
	min := g.MinLength
	if min <= 0 {
		min = 40
	}
	if len(trimmed) < min {
		reasons = append(reasons, "description_too_short")
	}
	lower := strings.ToLower(trimmed)
	if !strings.Contains(lower, "post /v0/") && !strings.Contains(lower, "enqueue") && !strings.Contains(lower, "create") {
		reasons = append(reasons, "description_missing_instructions")
	}
	return engine.Verdict{Valid: len(reasons) == 0, Reasons: reasons}
}

// SlotCapacity derives per-layer maxima from a slot budget: projects
// get an eighth of the budget, initiatives a quarter, queued tasks the
// whole of it.
type SlotCapacity struct{}

func (SlotCapacity) Compute(slotBudget int) engine.Capacity {
	var c engine.Capacity
	c.Project.Max = atLeastOne(slotBudget / 8)
	c.Initiative.Max = atLeastOne(slotBudget / 4)
	c.Task.QueuedCap = atLeastOne(slotBudget)
	return c
}

func (SlotCapacity) AtCapacity(current, max int) bool {
	return current >= max
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// StructuralValidator flags entities whose position in the hierarchy
// is broken badly enough that decomposing them would create orphaned
// work: goals still active under a terminal parent.
type StructuralValidator struct {
	Repo repo.Repo
}

func (v StructuralValidator) Validate(ctx context.Context) (engine.ValidationResult, error) {
	rows, err := v.Repo.DB.QueryContext(ctx, `SELECT c.id FROM goals c
JOIN goals p ON p.id=c.parent_id
WHERE c.status='active' AND p.status IN ('completed','archived','cancelled')`)
	if err != nil {
		return engine.ValidationResult{}, err
	}
	defer rows.Close()
	var issues []engine.ValidationIssue
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return engine.ValidationResult{}, err
		}
		issues = append(issues, engine.ValidationIssue{Level: engine.IssueBlock, EntityID: id})
	}
	if err := rows.Err(); err != nil {
		return engine.ValidationResult{}, err
	}
	return engine.ValidationResult{OK: len(issues) == 0, Issues: issues}, nil
}
