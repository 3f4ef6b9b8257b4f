package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"okrbrain/internal/domain"
)

const taskColumns = `id,title,description,status,goal_id,project_id,task_type,priority,trigger_source,payload_json,created_at,updated_at,completed_at`

// Decomposition-marked rows carry payload.decomposition ('true' or
// 'continue'); every dedup and WIP query keys off this marker.
const decompositionMarker = `json_extract(payload_json,'$.decomposition') IN ('true','continue')`

func scanTask(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var description, goalID, projectID, priority, trigger, payload, completedAt sql.NullString
	if err := scan(&t.ID, &t.Title, &description, &t.Status, &goalID, &projectID, &t.TaskType,
		&priority, &trigger, &payload, &t.CreatedAt, &t.UpdatedAt, &completedAt); err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if goalID.Valid {
		t.GoalID = &goalID.String
	}
	if projectID.Valid {
		t.ProjectID = &projectID.String
	}
	if priority.Valid {
		t.Priority = priority.String
	}
	if trigger.Valid {
		t.TriggerSource = trigger.String
	}
	if payload.Valid {
		t.PayloadJSON = payload.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), t.Status, nullableStringPtr(t.GoalID), nullableStringPtr(t.ProjectID),
		t.TaskType, nullable(t.Priority), nullable(t.TriggerSource), nullable(t.PayloadJSON),
		t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

type TaskFilters struct {
	Status        string
	GoalID        string
	ProjectID     string
	TaskType      string
	TriggerSource string
	Limit         int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.GoalID != "" {
		clauses = append(clauses, "goal_id=?")
		args = append(args, f.GoalID)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.TaskType != "" {
		clauses = append(clauses, "task_type=?")
		args = append(args, f.TaskType)
	}
	if f.TriggerSource != "" {
		clauses = append(clauses, "trigger_source=?")
		args = append(args, f.TriggerSource)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// UpdateTaskStatus moves a task into a new status, stamping
// completed_at for completed/failed transitions. The engine only reads
// these states; this write path belongs to the downstream agent.
func (r Repo) UpdateTaskStatus(ctx context.Context, id, status, now string) error {
	var completedAt any
	if status == "completed" || status == "failed" {
		completedAt = now
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=?, completed_at=COALESCE(?, completed_at) WHERE id=?`,
		status, now, completedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DedupKey identifies one decomposition gap: either a goal id, or a
// (project id, payload level) pair for layers whose natural key is a
// project.
type DedupKey struct {
	GoalID    string
	ProjectID string
	Level     string
	// SourceID narrows the key to one exploratory source task, for
	// continuation follow-ups.
	SourceID string
}

func (k DedupKey) clause() (string, []any) {
	if k.SourceID != "" {
		return "goal_id=? AND json_extract(payload_json,'$.exploratory_source')=?", []any{k.GoalID, k.SourceID}
	}
	if k.GoalID != "" {
		return "goal_id=?", []any{k.GoalID}
	}
	return "project_id=? AND json_extract(payload_json,'$.level')=?", []any{k.ProjectID, k.Level}
}

// DecompositionTasksForKey returns every decomposition-marked task for
// one dedup key, any status. Which statuses still cover the gap is the
// engine's call, not a query parameter.
func (r Repo) DecompositionTasksForKey(ctx context.Context, key DedupKey) ([]domain.Task, error) {
	keyClause, args := key.clause()
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + decompositionMarker +
		` AND ` + keyClause + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// InsertDecompositionTaskIfAbsent inserts the task only when no
// queued/in_progress decomposition task with the same dedup key exists,
// in one statement, so overlapping ticks cannot both insert for the
// same gap. Returns false when the guard suppressed the insert.
func (r Repo) InsertDecompositionTaskIfAbsent(ctx context.Context, t domain.Task, key DedupKey) (bool, error) {
	keyClause, keyArgs := key.clause()
	query := fmt.Sprintf(`INSERT INTO tasks(%s)
SELECT ?,?,?,?,?,?,?,?,?,?,?,?,?
WHERE NOT EXISTS (SELECT 1 FROM tasks WHERE %s AND %s AND status IN ('queued','in_progress'))`,
		taskColumns, decompositionMarker, keyClause)
	args := []any{
		t.ID, t.Title, nullable(t.Description), t.Status, nullableStringPtr(t.GoalID), nullableStringPtr(t.ProjectID),
		t.TaskType, nullable(t.Priority), nullable(t.TriggerSource), nullable(t.PayloadJSON),
		t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt),
	}
	args = append(args, keyArgs...)
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ExistsContinuationTask reports whether a follow-up for the given
// exploratory source task already exists in any blocking status.
func (r Repo) ExistsContinuationTask(ctx context.Context, goalID string, projectID *string, sourceTaskID string) (bool, error) {
	clauses := []string{`goal_id=?`}
	args := []any{goalID}
	if projectID != nil {
		clauses = append(clauses, `project_id=?`)
		args = append(args, *projectID)
	}
	clauses = append(clauses,
		`json_extract(payload_json,'$.decomposition')='continue'`,
		`json_extract(payload_json,'$.exploratory_source')=?`,
		`status IN ('queued','in_progress','completed','canceled')`,
	)
	args = append(args, sourceTaskID)
	query := `SELECT 1 FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` LIMIT 1`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

// CompletedExploratoryTasks finds exploratory tasks completed since the
// cutoff whose payload asks for further decomposition.
func (r Repo) CompletedExploratoryTasks(ctx context.Context, cutoff string) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
WHERE task_type='exploratory' AND status='completed' AND completed_at >= ?
AND json_extract(payload_json,'$.next_action')='decompose'
ORDER BY completed_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountActiveTasksForGoal counts queued/in_progress tasks attached to a
// goal, the input to the KR saturation check.
func (r Repo) CountActiveTasksForGoal(ctx context.Context, goalID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE goal_id=? AND status IN ('queued','in_progress')`, goalID).Scan(&n)
	return n, err
}

// CountQueuedTasksForProject counts the ready stock under a project.
func (r Repo) CountQueuedTasksForProject(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE project_id=? AND status='queued'`, projectID).Scan(&n)
	return n, err
}

// CountDecompositionWIP counts in-flight decomposition tasks across the
// whole system, the input to the global WIP ceiling.
func (r Repo) CountDecompositionWIP(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE `+decompositionMarker+` AND status IN ('queued','in_progress')`).Scan(&n)
	return n, err
}

// LayerCounts feeds the three-tier capacity gate.
type LayerCounts struct {
	ActiveProjects    int
	ActiveInitiatives int
	QueuedTasks       int
}

func (r Repo) CountLayers(ctx context.Context) (LayerCounts, error) {
	var c LayerCounts
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM projects WHERE type='project' AND status='active'`).Scan(&c.ActiveProjects); err != nil {
		return c, err
	}
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM projects WHERE type='initiative' AND status='active'`).Scan(&c.ActiveInitiatives); err != nil {
		return c, err
	}
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE status='queued'`).Scan(&c.QueuedTasks); err != nil {
		return c, err
	}
	return c, nil
}

// CountTasksByStatus summarizes the task table for the status surface.
func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
