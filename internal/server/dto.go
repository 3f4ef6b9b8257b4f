package server

import (
	"okrbrain/internal/domain"
)

type CreateGoalRequest struct {
	ID       string  `json:"id,omitempty"`
	Type     string  `json:"type" enum:"global_okr,global_kr,area_okr,area_kr"`
	ParentID *string `json:"parent_id,omitempty"`
	Title    string  `json:"title"`
	Status   string  `json:"status,omitempty"`
}

type GoalResponse struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	ParentID  *string `json:"parent_id,omitempty"`
	Title     string  `json:"title"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
}

func goalResponse(g domain.Goal) GoalResponse {
	return GoalResponse{
		ID:        g.ID,
		Type:      g.Type,
		ParentID:  g.ParentID,
		Title:     g.Title,
		Status:    g.Status,
		CreatedAt: g.CreatedAt,
	}
}

func mapGoals(in []domain.Goal) []GoalResponse {
	out := make([]GoalResponse, 0, len(in))
	for _, g := range in {
		out = append(out, goalResponse(g))
	}
	return out
}

type CreateProjectRequest struct {
	ID                 string  `json:"id,omitempty"`
	Type               string  `json:"type" enum:"project,initiative"`
	ParentID           *string `json:"parent_id,omitempty"`
	KrID               *string `json:"kr_id,omitempty"`
	Title              string  `json:"title"`
	Status             string  `json:"status,omitempty"`
	DecompositionDepth int     `json:"decomposition_depth,omitempty"`
}

type ProjectResponse struct {
	ID                 string  `json:"id"`
	Type               string  `json:"type"`
	ParentID           *string `json:"parent_id,omitempty"`
	KrID               *string `json:"kr_id,omitempty"`
	Title              string  `json:"title"`
	Status             string  `json:"status"`
	DecompositionDepth int     `json:"decomposition_depth"`
	CreatedAt          string  `json:"created_at"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:                 p.ID,
		Type:               p.Type,
		ParentID:           p.ParentID,
		KrID:               p.KrID,
		Title:              p.Title,
		Status:             p.Status,
		DecompositionDepth: p.DecompositionDepth,
		CreatedAt:          p.CreatedAt,
	}
}

func mapProjects(in []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(in))
	for _, p := range in {
		out = append(out, projectResponse(p))
	}
	return out
}

type CreateTaskRequest struct {
	ID          string  `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	GoalID      *string `json:"goal_id,omitempty"`
	ProjectID   *string `json:"project_id,omitempty"`
	TaskType    string  `json:"task_type,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	PayloadJSON string  `json:"payload_json,omitempty"`
}

type TaskResponse struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	Status        string  `json:"status"`
	GoalID        *string `json:"goal_id,omitempty"`
	ProjectID     *string `json:"project_id,omitempty"`
	TaskType      string  `json:"task_type"`
	Priority      string  `json:"priority,omitempty"`
	TriggerSource string  `json:"trigger_source,omitempty"`
	PayloadJSON   string  `json:"payload_json,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
	CompletedAt   *string `json:"completed_at,omitempty"`
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        t.Status,
		GoalID:        t.GoalID,
		ProjectID:     t.ProjectID,
		TaskType:      t.TaskType,
		Priority:      t.Priority,
		TriggerSource: t.TriggerSource,
		PayloadJSON:   t.PayloadJSON,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		CompletedAt:   t.CompletedAt,
	}
}

func mapTasks(in []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(in))
	for _, t := range in {
		out = append(out, taskResponse(t))
	}
	return out
}

type StatusResponse struct {
	ManualMode        bool           `json:"manual_mode"`
	ActiveProjects    int            `json:"active_projects"`
	ActiveInitiatives int            `json:"active_initiatives"`
	QueuedTasks       int            `json:"queued_tasks"`
	TaskCounts        map[string]int `json:"task_counts"`
}

type ManualModeRequest struct {
	Enabled bool `json:"enabled"`
}

type ManualModeResponse struct {
	Enabled bool `json:"enabled"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

func mapEvents(in []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(in))
	for _, e := range in {
		out = append(out, EventResponse{
			ID:         e.ID,
			TS:         e.TS,
			Type:       e.Type,
			EntityKind: e.EntityKind,
			EntityID:   e.EntityID,
			ActorID:    e.ActorID,
			Payload:    e.Payload,
		})
	}
	return out
}
