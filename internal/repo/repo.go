package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"okrbrain/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// Goal statuses that no longer accept decomposition work. "decomposing"
// is excluded from gap scans as well: the gap is already being handled.
var terminalGoalStatuses = []string{"completed", "archived", "cancelled"}

const goalColumns = `id,type,parent_id,title,status,created_at`

func scanGoal(scan func(...any) error) (domain.Goal, error) {
	var g domain.Goal
	var parentID sql.NullString
	if err := scan(&g.ID, &g.Type, &parentID, &g.Title, &g.Status, &g.CreatedAt); err != nil {
		return g, err
	}
	if parentID.Valid {
		g.ParentID = &parentID.String
	}
	return g, nil
}

func (r Repo) InsertGoal(ctx context.Context, g domain.Goal) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO goals(id,type,parent_id,title,status,created_at) VALUES (?,?,?,?,?,?)`,
		g.ID, g.Type, nullableStringPtr(g.ParentID), g.Title, g.Status, g.CreatedAt)
	return err
}

func (r Repo) GetGoal(ctx context.Context, id string) (domain.Goal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id=?`, id)
	g, err := scanGoal(row.Scan)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	return g, err
}

type GoalFilters struct {
	Type   string
	Status string
	Parent string
	Limit  int
}

func (r Repo) ListGoals(ctx context.Context, f GoalFilters) ([]domain.Goal, error) {
	var clauses []string
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Parent != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.Parent)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + goalColumns + ` FROM goals ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Goal
	for rows.Next() {
		g, err := scanGoal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) UpdateGoalStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE goals SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func statusPlaceholders(statuses []string) (string, []any) {
	marks := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		marks[i] = "?"
		args[i] = s
	}
	return strings.Join(marks, ","), args
}

// GoalsMissingChild finds goals of parentType with no child goal of
// childType, skipping terminal and currently-decomposing parents.
func (r Repo) GoalsMissingChild(ctx context.Context, parentType, childType string) ([]domain.Goal, error) {
	marks, statusArgs := statusPlaceholders(terminalGoalStatuses)
	query := fmt.Sprintf(`SELECT %s FROM goals g
WHERE g.type=? AND g.status NOT IN (%s) AND g.status != 'decomposing'
AND NOT EXISTS (SELECT 1 FROM goals c WHERE c.parent_id=g.id AND c.type=?)
ORDER BY g.created_at ASC, g.id ASC`, goalColumns, marks)
	args := append([]any{parentType}, statusArgs...)
	args = append(args, childType)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Goal
	for rows.Next() {
		g, err := scanGoal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

// AreaKRsWithoutProjectLink finds area_kr goals that no project is
// linked to yet.
func (r Repo) AreaKRsWithoutProjectLink(ctx context.Context) ([]domain.Goal, error) {
	marks, statusArgs := statusPlaceholders(terminalGoalStatuses)
	query := fmt.Sprintf(`SELECT %s FROM goals g
WHERE g.type='area_kr' AND g.status NOT IN (%s) AND g.status != 'decomposing'
AND NOT EXISTS (SELECT 1 FROM project_kr_links l WHERE l.kr_id=g.id)
ORDER BY g.created_at ASC, g.id ASC`, goalColumns, marks)
	rows, err := r.DB.QueryContext(ctx, query, statusArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Goal
	for rows.Next() {
		g, err := scanGoal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

const projectColumns = `id,type,parent_id,kr_id,title,status,decomposition_depth,created_at`

func scanProject(scan func(...any) error) (domain.Project, error) {
	var p domain.Project
	var parentID, krID sql.NullString
	if err := scan(&p.ID, &p.Type, &parentID, &krID, &p.Title, &p.Status, &p.DecompositionDepth, &p.CreatedAt); err != nil {
		return p, err
	}
	if parentID.Valid {
		p.ParentID = &parentID.String
	}
	if krID.Valid {
		p.KrID = &krID.String
	}
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,type,parent_id,kr_id,title,status,decomposition_depth,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Type, nullableStringPtr(p.ParentID), nullableStringPtr(p.KrID), p.Title, p.Status, p.DecompositionDepth, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	p, err := scanProject(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

type ProjectFilters struct {
	Type   string
	Status string
	Parent string
	Limit  int
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Parent != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.Parent)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectColumns + ` FROM projects ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) LinkProjectKr(ctx context.Context, projectID, krID, createdAt string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO project_kr_links(project_id,kr_id,created_at) VALUES (?,?,?)`,
		projectID, krID, createdAt)
	return err
}

// ListProjectKrIDs returns the KR ids linked to a project, ordered for
// deterministic fallback resolution.
func (r Repo) ListProjectKrIDs(ctx context.Context, projectID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT kr_id FROM project_kr_links WHERE project_id=? ORDER BY kr_id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ProjectsWithoutInitiatives finds active projects linked to at least
// one non-terminal KR that have no child initiative yet.
func (r Repo) ProjectsWithoutInitiatives(ctx context.Context) ([]domain.Project, error) {
	marks, statusArgs := statusPlaceholders(terminalGoalStatuses)
	query := fmt.Sprintf(`SELECT %s FROM projects p
WHERE p.type='project' AND p.status='active'
AND EXISTS (SELECT 1 FROM project_kr_links l JOIN goals g ON g.id=l.kr_id WHERE l.project_id=p.id AND g.status NOT IN (%s))
AND NOT EXISTS (SELECT 1 FROM projects c WHERE c.parent_id=p.id AND c.type='initiative')
ORDER BY p.created_at ASC, p.id ASC`, projectColumns, marks)
	rows, err := r.DB.QueryContext(ctx, query, statusArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// InitiativesNeedingSeed finds active initiatives with no live task.
// "Live" deliberately includes 'canceled' (US spelling): an initiative
// whose only task was explicitly canceled is never re-seeded, while
// 'cancelled' (UK spelling) counts as terminal and re-seeds.
func (r Repo) InitiativesNeedingSeed(ctx context.Context) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects p
WHERE p.type='initiative' AND p.status='active'
AND NOT EXISTS (SELECT 1 FROM tasks t WHERE t.project_id=p.id AND t.status NOT IN ('completed','cancelled'))
ORDER BY p.created_at ASC, p.id ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ActiveInitiatives returns the execution frontier: initiatives with a
// task touched since the cutoff, most recently active first, capped to
// limit.
func (r Repo) ActiveInitiatives(ctx context.Context, cutoff string, limit int) ([]domain.Project, error) {
	query := `SELECT p.id,p.type,p.parent_id,p.kr_id,p.title,p.status,p.decomposition_depth,p.created_at
FROM projects p
JOIN tasks t ON t.project_id=p.id
WHERE p.type='initiative' AND p.status='active'
AND t.updated_at >= ? AND t.status IN ('queued','in_progress','completed')
GROUP BY p.id
ORDER BY MAX(t.updated_at) DESC, p.id ASC
LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
