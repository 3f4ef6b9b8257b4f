package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"okrbrain/internal/domain"
	"okrbrain/internal/repo"
)

// ErrNoGoalLinkage is the factory's hard precondition: a task with no
// goal becomes permanently unreachable by downstream scoring, so the
// factory refuses rather than degrades. Callers that can tolerate a
// missing goal skip the item before reaching the factory.
var ErrNoGoalLinkage = errors.New("decomposition task requires a goal linkage")

// TaskSpec is one candidate decomposition task.
type TaskSpec struct {
	Title       string
	Description string
	GoalID      string
	ProjectID   string
	TaskType    string
	// Payload entries are merged over the decomposition marker;
	// callers may override "decomposition" to "continue".
	Payload map[string]any
	// Key guards the conditional insert. Zero value falls back to the
	// goal id.
	Key repo.DedupKey
}

// TaskResult reports what the factory did. Rejection and dedup
// suppression are data, not errors.
type TaskResult struct {
	Created  bool         `json:"created"`
	Deduped  bool         `json:"deduped,omitempty"`
	Rejected bool         `json:"rejected,omitempty"`
	Reasons  []string     `json:"reasons,omitempty"`
	Task     *domain.Task `json:"task,omitempty"`
}

// TaskFactory validates a candidate against the quality gate and the
// tick's validation context, then inserts it behind the dedup-key
// guard.
type TaskFactory struct {
	Repo    repo.Repo
	Quality QualityGate
	Now     func() time.Time
}

func (f TaskFactory) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f TaskFactory) CreateDecompositionTask(ctx context.Context, vctx ValidationContext, spec TaskSpec) (TaskResult, error) {
	if spec.GoalID == "" {
		return TaskResult{}, ErrNoGoalLinkage
	}
	if vctx.Blocked(spec.GoalID, spec.ProjectID) {
		return TaskResult{Rejected: true, Reasons: []string{"okr_validation_blocked"}}, nil
	}
	if f.Quality != nil {
		if verdict := f.Quality.Validate(spec.Description); !verdict.Valid {
			return TaskResult{Rejected: true, Reasons: verdict.Reasons}, nil
		}
	}

	payload := map[string]any{"decomposition": "true"}
	for k, v := range spec.Payload {
		payload[k] = v
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return TaskResult{}, fmt.Errorf("marshal task payload: %w", err)
	}

	taskType := spec.TaskType
	if taskType == "" {
		taskType = "decomposition"
	}
	now := f.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:            uuid.New().String(),
		Title:         spec.Title,
		Description:   spec.Description,
		Status:        string(StatusQueued),
		GoalID:        &spec.GoalID,
		TaskType:      taskType,
		Priority:      "P0",
		TriggerSource: "brain_auto",
		PayloadJSON:   string(payloadJSON),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if spec.ProjectID != "" {
		t.ProjectID = &spec.ProjectID
	}

	key := spec.Key
	if key.GoalID == "" && key.ProjectID == "" {
		key.GoalID = spec.GoalID
	}
	inserted, err := f.Repo.InsertDecompositionTaskIfAbsent(ctx, t, key)
	if err != nil {
		return TaskResult{}, fmt.Errorf("insert decomposition task: %w", err)
	}
	if !inserted {
		return TaskResult{Deduped: true}, nil
	}
	return TaskResult{Created: true, Task: &t}, nil
}
