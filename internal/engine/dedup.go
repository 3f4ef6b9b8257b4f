package engine

import (
	"context"
	"time"

	"okrbrain/internal/repo"
)

// DedupGuard answers "does this gap already have a decomposition task
// in flight or recently finished". All three predicates fetch the
// decomposition rows for the key and run them through the status
// window functions; the race between a negative answer and the
// subsequent insert is closed by the factory's conditional insert,
// not here.
type DedupGuard struct {
	Repo   repo.Repo
	Window time.Duration
	Now    func() time.Time
}

// HasExistingDecompositionTask is the goal-keyed predicate: true for
// queued/in_progress/canceled rows, and for completed or failed rows
// inside the dedup window. Canceled counts forever.
func (d DedupGuard) HasExistingDecompositionTask(ctx context.Context, goalID string) (bool, error) {
	return d.blocked(ctx, repo.DedupKey{GoalID: goalID}, false)
}

// HasExistingDecompositionTaskByProject is the same window semantics
// keyed by (project, payload level), for layers whose natural key is a
// project rather than a goal.
func (d DedupGuard) HasExistingDecompositionTaskByProject(ctx context.Context, projectID, level string) (bool, error) {
	return d.blocked(ctx, repo.DedupKey{ProjectID: projectID, Level: level}, false)
}

// HasActiveDecompositionTaskByProject matches only queued/in_progress
// rows. Inventory replenishment uses this narrower variant so that a
// finished batch stops blocking and the watermark check decides what
// happens next.
func (d DedupGuard) HasActiveDecompositionTaskByProject(ctx context.Context, projectID, level string) (bool, error) {
	return d.blocked(ctx, repo.DedupKey{ProjectID: projectID, Level: level}, true)
}

func (d DedupGuard) blocked(ctx context.Context, key repo.DedupKey, activeOnly bool) (bool, error) {
	tasks, err := d.Repo.DecompositionTasksForKey(ctx, key)
	if err != nil {
		return false, err
	}
	now := time.Now()
	if d.Now != nil {
		now = d.Now()
	}
	for _, t := range tasks {
		status := TaskStatus(t.Status)
		if activeOnly {
			if status.Active() {
				return true, nil
			}
			continue
		}
		var completedAt time.Time
		if t.CompletedAt != nil {
			completedAt = parseStamp(*t.CompletedAt)
		}
		if status.BlocksReplenishment(completedAt, parseStamp(t.CreatedAt), now, d.Window) {
			return true, nil
		}
	}
	return false, nil
}

// parseStamp tolerates malformed rows: a zero time never blocks, so a
// corrupt timestamp fails open instead of wedging its gap.
func parseStamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
