package engine

import (
	"context"
	"fmt"
	"log"

	"okrbrain/internal/domain"
	"okrbrain/internal/repo"
)

// Checks 1-3: adjacent goal layers. Each finds parents of parentType
// with no child of the type directly below and asks the factory to fill
// the gap, keyed by the parent goal. The created child's parent_id must
// point at the immediate parent; the instructions say so explicitly
// because layer skipping is disallowed.
func (e Engine) checkGoalLayerGap(ctx context.Context, vctx ValidationContext, check, parentType string) ([]Action, error) {
	childType := domain.ChildGoalType(parentType)
	gaps, err := e.Repo.GoalsMissingChild(ctx, parentType, childType)
	if err != nil {
		return nil, fmt.Errorf("scan %s gaps: %w", parentType, err)
	}
	var actions []Action
	for _, g := range gaps {
		hit, err := e.Dedup.HasExistingDecompositionTask(ctx, g.ID)
		if err != nil {
			return actions, fmt.Errorf("dedup goal %s: %w", g.ID, err)
		}
		if hit {
			actions = append(actions, Action{Check: check, Type: ActionSkipDedup, GoalID: g.ID})
			continue
		}
		res, err := e.Factory.CreateDecompositionTask(ctx, vctx, TaskSpec{
			Title:       fmt.Sprintf("Decompose %s %q into %s entries", goalTypeLabel(parentType), g.Title, goalTypeLabel(childType)),
			Description: goalLayerInstructions(g, parentType, childType),
			GoalID:      g.ID,
			Payload: map[string]any{
				"level":          childType,
				"parent_goal_id": g.ID,
			},
		})
		if err != nil {
			return actions, fmt.Errorf("create task for goal %s: %w", g.ID, err)
		}
		actions = append(actions, actionFor(check, res, g.ID, ""))
	}
	return actions, nil
}

// Check 4: area KRs with no project link. The gap is a missing
// project_kr_links row, not a missing goal; the instructions carry the
// project naming policy verbatim because the downstream agent, not the
// engine, enforces it.
func (e Engine) checkAreaKRProjectLink(ctx context.Context, vctx ValidationContext) ([]Action, error) {
	gaps, err := e.Repo.AreaKRsWithoutProjectLink(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan unlinked area KRs: %w", err)
	}
	var actions []Action
	for _, g := range gaps {
		hit, err := e.Dedup.HasExistingDecompositionTask(ctx, g.ID)
		if err != nil {
			return actions, fmt.Errorf("dedup goal %s: %w", g.ID, err)
		}
		if hit {
			actions = append(actions, Action{Check: CheckAreaKRLink, Type: ActionSkipDedup, GoalID: g.ID})
			continue
		}
		res, err := e.Factory.CreateDecompositionTask(ctx, vctx, TaskSpec{
			Title:       fmt.Sprintf("Link or create a project for key result %q", g.Title),
			Description: projectLinkInstructions(g),
			GoalID:      g.ID,
			Payload: map[string]any{
				"level": "project",
				"kr_id": g.ID,
			},
		})
		if err != nil {
			return actions, fmt.Errorf("create task for goal %s: %w", g.ID, err)
		}
		actions = append(actions, actionFor(CheckAreaKRLink, res, g.ID, ""))
	}
	return actions, nil
}

// Check 5: active projects linked to live KRs with no initiative yet.
// The natural key here is the project, so dedup runs against
// (project_id, level).
func (e Engine) checkProjectInitiativeGap(ctx context.Context, vctx ValidationContext) ([]Action, error) {
	gaps, err := e.Repo.ProjectsWithoutInitiatives(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan projects without initiatives: %w", err)
	}
	var actions []Action
	for _, p := range gaps {
		hit, err := e.Dedup.HasExistingDecompositionTaskByProject(ctx, p.ID, "project")
		if err != nil {
			return actions, fmt.Errorf("dedup project %s: %w", p.ID, err)
		}
		if hit {
			actions = append(actions, Action{Check: CheckInitiativeGap, Type: ActionSkipDedup, ProjectID: p.ID})
			continue
		}
		krIDs, err := e.Repo.ListProjectKrIDs(ctx, p.ID)
		if err != nil {
			return actions, fmt.Errorf("list KR links for project %s: %w", p.ID, err)
		}
		if len(krIDs) == 0 {
			// The candidate query requires a live link, so this only
			// happens when the link was removed mid-scan.
			log.Printf("okrbrain: project %s lost its KR link mid-scan, skipping", p.ID)
			actions = append(actions, Action{Check: CheckInitiativeGap, Type: ActionSkipUnlinked, ProjectID: p.ID})
			continue
		}
		res, err := e.Factory.CreateDecompositionTask(ctx, vctx, TaskSpec{
			Title:       fmt.Sprintf("Break project %q into initiatives", p.Title),
			Description: initiativeGapInstructions(p),
			GoalID:      krIDs[0],
			ProjectID:   p.ID,
			Payload: map[string]any{
				"level":      "project",
				"project_id": p.ID,
			},
			Key: repo.DedupKey{ProjectID: p.ID, Level: "project"},
		})
		if err != nil {
			return actions, fmt.Errorf("create task for project %s: %w", p.ID, err)
		}
		actions = append(actions, actionFor(CheckInitiativeGap, res, krIDs[0], p.ID))
	}
	return actions, nil
}

func goalTypeLabel(t string) string {
	switch t {
	case domain.GoalGlobalOKR:
		return "global objective"
	case domain.GoalGlobalKR:
		return "global key result"
	case domain.GoalAreaOKR:
		return "area objective"
	case domain.GoalAreaKR:
		return "area key result"
	}
	return t
}

func goalLayerInstructions(g domain.Goal, parentType, childType string) string {
	return fmt.Sprintf(`Analyze the %s %q (goal id %s) and create the missing %s entries beneath it.

Call POST /v0/goals once per new entry with type=%q and parent_id=%q. The parent_id must reference this goal directly; never attach a new entry to a layer above it. Each entry needs a measurable, outcome-focused title and status 'active'. Create between one and three entries; prefer fewer, sharper entries over broad coverage.`,
		goalTypeLabel(parentType), g.Title, g.ID, goalTypeLabel(childType), childType, g.ID)
}

func projectLinkInstructions(g domain.Goal) string {
	return fmt.Sprintf(`The area key result %q (goal id %s) has no project working toward it.

Either link an existing project (POST /v0/projects/{id}/links with kr_id=%q) or create a new one (POST /v0/projects with type='project', then link it). Naming policy: no numeric prefixes such as "I1:", do not name the project identically to the key result, and scope it to one to two weeks of work. Link exactly one project; if several candidates exist, pick the one whose current scope overlaps most.`,
		g.Title, g.ID, g.ID)
}

func initiativeGapInstructions(p domain.Project) string {
	return fmt.Sprintf(`The project %q (project id %s) is active and linked to live key results but has no initiatives.

Create one to three initiatives via POST /v0/projects with type='initiative' and parent_id=%q. Each initiative should be an independently shippable slice of the project, sized to roughly one week. Carry over the project's KR linkage where the initiative serves a specific key result.`,
		p.Title, p.ID, p.ID)
}
