package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"okrbrain/internal/domain"
	"okrbrain/internal/repo"
)

// Check 6: active initiatives with nothing live under them get one
// seeding task. The candidate query treats 'canceled' (US) tasks as
// still live, so an initiative whose work was explicitly canceled is
// never re-seeded; 'cancelled' (UK) is terminal and re-seeds. A seed
// that finished inside the dedup window still covers the gap, same as
// every other check.
func (e Engine) checkInitiativeSeed(ctx context.Context, vctx ValidationContext) ([]Action, error) {
	candidates, err := e.Repo.InitiativesNeedingSeed(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan initiatives needing seed: %w", err)
	}
	var actions []Action
	for _, ini := range candidates {
		hit, err := e.Dedup.HasExistingDecompositionTaskByProject(ctx, ini.ID, "initiative")
		if err != nil {
			return actions, fmt.Errorf("dedup initiative %s: %w", ini.ID, err)
		}
		if hit {
			actions = append(actions, Action{Check: CheckSeeder, Type: ActionSkipDedup, ProjectID: ini.ID})
			continue
		}
		krID, err := e.resolveKr(ctx, ini)
		if err != nil {
			return actions, fmt.Errorf("resolve KR for initiative %s: %w", ini.ID, err)
		}
		if krID == "" {
			log.Printf("okrbrain: initiative %s has no resolvable KR, skipping seed", ini.ID)
			actions = append(actions, Action{Check: CheckSeeder, Type: ActionSkipUnlinked, ProjectID: ini.ID})
			continue
		}
		active, err := e.Repo.CountActiveTasksForGoal(ctx, krID)
		if err != nil {
			return actions, fmt.Errorf("count active tasks for goal %s: %w", krID, err)
		}
		if active >= e.Config.Brain.KrSaturation {
			actions = append(actions, Action{Check: CheckSeeder, Type: ActionSkipSaturated, GoalID: krID, ProjectID: ini.ID})
			continue
		}
		res, err := e.Factory.CreateDecompositionTask(ctx, vctx, TaskSpec{
			Title:       fmt.Sprintf("Seed initiative %q with executable tasks", ini.Title),
			Description: e.seedInstructions(ini),
			GoalID:      krID,
			ProjectID:   ini.ID,
			Payload: map[string]any{
				"level":         "initiative",
				"initiative_id": ini.ID,
			},
			Key: repo.DedupKey{ProjectID: ini.ID, Level: "initiative"},
		})
		if err != nil {
			return actions, fmt.Errorf("seed initiative %s: %w", ini.ID, err)
		}
		actions = append(actions, actionFor(CheckSeeder, res, krID, ini.ID))
	}
	return actions, nil
}

// resolveKr resolves the owning key result for an initiative through a
// strict fallback chain, stopping at the first hit:
//  1. KR links on the parent project
//  2. the initiative's own kr_id
//  3. the parent project's kr_id
//  4. KR links on the initiative itself
//
// Returns "" when all four fail.
func (e Engine) resolveKr(ctx context.Context, ini domain.Project) (string, error) {
	var parent *domain.Project
	if ini.ParentID != nil {
		p, err := e.Repo.GetProject(ctx, *ini.ParentID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return "", err
		}
		if err == nil {
			parent = &p
		}
	}
	if parent != nil {
		links, err := e.Repo.ListProjectKrIDs(ctx, parent.ID)
		if err != nil {
			return "", err
		}
		if len(links) > 0 {
			return links[0], nil
		}
	}
	if ini.KrID != nil && *ini.KrID != "" {
		return *ini.KrID, nil
	}
	if parent != nil && parent.KrID != nil && *parent.KrID != "" {
		return *parent.KrID, nil
	}
	links, err := e.Repo.ListProjectKrIDs(ctx, ini.ID)
	if err != nil {
		return "", err
	}
	if len(links) > 0 {
		return links[0], nil
	}
	return "", nil
}

func (e Engine) seedInstructions(ini domain.Project) string {
	if ini.DecompositionDepth >= e.Config.Brain.MaxDecompositionDepth {
		return fmt.Sprintf(`The initiative %q (project id %s) has no live tasks and sits at the maximum decomposition depth.

Do NOT create further sub-initiatives. Produce direct, file-level dev tasks instead: analyze the initiative's scope and enqueue concrete tasks via POST /v0/tasks, each naming the files or endpoints to change and a verifiable completion criterion. Create at most %d tasks.`,
			ini.Title, ini.ID, e.Config.Brain.TargetStock)
	}
	return fmt.Sprintf(`The initiative %q (project id %s) has no live tasks.

Analyze its scope and seed it: either break it into sub-initiatives (POST /v0/projects with type='initiative', parent_id=%q) where the work naturally splits, or enqueue executable dev tasks directly via POST /v0/tasks. Each task needs a concrete deliverable and a verifiable completion criterion. Create at most %d items.`,
		ini.Title, ini.ID, ini.ID, e.Config.Brain.TargetStock)
}
