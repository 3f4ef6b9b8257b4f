package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"okrbrain/internal/domain"
	"okrbrain/internal/repo"
)

// Check 7: completed exploratory tasks that asked for further
// decomposition get exactly one follow-up each, carrying the
// exploration's findings forward as context for the agent.
func (e Engine) checkExploratoryContinuation(ctx context.Context, vctx ValidationContext) ([]Action, error) {
	cutoff := e.now().Add(-e.Config.DedupWindow()).UTC().Format(time.RFC3339)
	sources, err := e.Repo.CompletedExploratoryTasks(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("scan completed exploratory tasks: %w", err)
	}
	var actions []Action
	for _, src := range sources {
		if src.GoalID == nil || *src.GoalID == "" {
			log.Printf("okrbrain: exploratory task %s has no goal, skipping continuation", src.ID)
			actions = append(actions, Action{Check: CheckContinuation, Type: ActionSkipUnlinked, TaskID: src.ID})
			continue
		}
		exists, err := e.Repo.ExistsContinuationTask(ctx, *src.GoalID, src.ProjectID, src.ID)
		if err != nil {
			return actions, fmt.Errorf("dedup continuation for task %s: %w", src.ID, err)
		}
		if exists {
			actions = append(actions, Action{Check: CheckContinuation, Type: ActionSkipDedup, TaskID: src.ID, GoalID: *src.GoalID})
			continue
		}
		findings := payloadString(src.PayloadJSON, "findings")
		if findings == "" {
			// Degrades instruction quality but does not block creation.
			log.Printf("okrbrain: exploratory task %s completed with empty findings", src.ID)
		}
		projectID := ""
		if src.ProjectID != nil {
			projectID = *src.ProjectID
		}
		res, err := e.Factory.CreateDecompositionTask(ctx, vctx, TaskSpec{
			Title:       fmt.Sprintf("Continue decomposition from exploration %q", src.Title),
			Description: continuationInstructions(src, findings),
			GoalID:      *src.GoalID,
			ProjectID:   projectID,
			Payload: map[string]any{
				"decomposition":      "continue",
				"exploratory_source": src.ID,
			},
			Key: repo.DedupKey{GoalID: *src.GoalID, SourceID: src.ID},
		})
		if err != nil {
			return actions, fmt.Errorf("create continuation for task %s: %w", src.ID, err)
		}
		a := actionFor(CheckContinuation, res, *src.GoalID, projectID)
		if a.TaskID == "" {
			a.TaskID = src.ID
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func continuationInstructions(src domain.Task, findings string) string {
	base := fmt.Sprintf(`The exploratory task %q (task id %s) completed and recommended further decomposition.

Use its findings below to create the follow-up work it identified: enqueue concrete tasks via POST /v0/tasks under the same goal and project, each with a verifiable completion criterion.`, src.Title, src.ID)
	if findings == "" {
		return base + "\n\nThe exploration recorded no findings; re-derive the decomposition from the task's title and its goal's scope."
	}
	return base + "\n\nFindings:\n" + findings
}

func payloadString(payloadJSON, key string) string {
	if payloadJSON == "" {
		return ""
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}
