package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"okrbrain/internal/domain"
	"okrbrain/internal/repo"
)

// Execution-frontier inventory: rather than keeping the whole tree
// decomposed, only initiatives with recent task activity have their
// ready-task stock topped up, and only when it drops below the low
// watermark. Replenishment asks for a small fixed batch, not the full
// target stock, and respects a global WIP ceiling.
func (e Engine) checkFrontierInventory(ctx context.Context, vctx ValidationContext) ([]Action, error) {
	cutoff := e.now().Add(-e.Config.ActivityWindow()).UTC().Format(time.RFC3339)
	frontier, err := e.Repo.ActiveInitiatives(ctx, cutoff, e.Config.Brain.MaxActiveInitiatives)
	if err != nil {
		return nil, fmt.Errorf("scan active initiatives: %w", err)
	}
	var actions []Action
	for _, ini := range frontier {
		krID, err := e.resolveKr(ctx, ini)
		if err != nil {
			return actions, fmt.Errorf("resolve KR for initiative %s: %w", ini.ID, err)
		}
		if krID == "" {
			log.Printf("okrbrain: active initiative %s has no resolvable KR, skipping replenishment", ini.ID)
			continue
		}
		active, err := e.Repo.CountActiveTasksForGoal(ctx, krID)
		if err != nil {
			return actions, fmt.Errorf("count active tasks for goal %s: %w", krID, err)
		}
		if active >= e.Config.Brain.KrSaturation {
			actions = append(actions, Action{Check: CheckInventory, Type: ActionSkipSaturated, GoalID: krID, ProjectID: ini.ID})
			continue
		}
		ready, err := e.Repo.CountQueuedTasksForProject(ctx, ini.ID)
		if err != nil {
			return actions, fmt.Errorf("count ready tasks for initiative %s: %w", ini.ID, err)
		}
		if ready >= e.Config.Brain.LowWatermark {
			continue
		}
		// Active-only on purpose: once a batch finishes, the next tick
		// either finds the stock replenished or triggers a fresh batch.
		inFlight, err := e.Dedup.HasActiveDecompositionTaskByProject(ctx, ini.ID, "initiative")
		if err != nil {
			return actions, fmt.Errorf("dedup replenishment for initiative %s: %w", ini.ID, err)
		}
		if inFlight {
			actions = append(actions, Action{Check: CheckInventory, Type: ActionSkipReplenishInFlight, ProjectID: ini.ID})
			continue
		}
		wip, err := e.Repo.CountDecompositionWIP(ctx)
		if err != nil {
			return actions, fmt.Errorf("count decomposition WIP: %w", err)
		}
		if wip >= e.Config.Brain.WipCeiling {
			log.Printf("okrbrain: decomposition WIP ceiling reached (%d), deferring replenishment of %s", wip, ini.ID)
			actions = append(actions, Action{Check: CheckInventory, Type: ActionSkipWipCeiling, ProjectID: ini.ID})
			continue
		}
		res, err := e.Factory.CreateDecompositionTask(ctx, vctx, TaskSpec{
			Title:       fmt.Sprintf("Replenish ready tasks for initiative %q", ini.Title),
			Description: e.replenishInstructions(ini, ready),
			GoalID:      krID,
			ProjectID:   ini.ID,
			Payload: map[string]any{
				"level":         "initiative",
				"initiative_id": ini.ID,
				"batch_size":    e.Config.Brain.ReplenishBatchSize,
			},
			Key: repo.DedupKey{ProjectID: ini.ID, Level: "initiative"},
		})
		if err != nil {
			return actions, fmt.Errorf("replenish initiative %s: %w", ini.ID, err)
		}
		actions = append(actions, actionFor(CheckInventory, res, krID, ini.ID))
	}
	return actions, nil
}

func (e Engine) replenishInstructions(ini domain.Project, ready int) string {
	return fmt.Sprintf(`The initiative %q (project id %s) is actively being worked but its ready-task stock is down to %d (low watermark %d).

Enqueue exactly %d new ready tasks via POST /v0/tasks under this initiative. Derive them from the initiative's remaining scope and the recently completed work; each needs a concrete deliverable and a verifiable completion criterion. Do not restate work already queued or in progress.`,
		ini.Title, ini.ID, ready, e.Config.Brain.LowWatermark, e.Config.Brain.ReplenishBatchSize)
}
