package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"okrbrain/internal/domain"
	"okrbrain/internal/engine"
	"okrbrain/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"goal not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the okrbrain API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("okrbrain API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerDecomposition(group, cfg.Engine)
	registerGoals(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerEvents(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Pipeline status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		manual, err := e.Repo.ManualMode(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		layers, err := e.Repo.CountLayers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountTasksByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{
			ManualMode:        manual,
			ActiveProjects:    layers.ActiveProjects,
			ActiveInitiatives: layers.ActiveInitiatives,
			QueuedTasks:       layers.QueuedTasks,
			TaskCounts:        counts,
		}}, nil
	})
}

func registerDecomposition(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-decomposition",
		Method:      http.MethodPost,
		Path:        "/decomposition/run",
		Summary:     "Run one decomposition tick",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Report `json:"body"`
	}, error) {
		report := e.RunDecompositionChecks(ctx)
		return &struct {
			Body engine.Report `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-manual-mode",
		Method:      http.MethodGet,
		Path:        "/decomposition/manual-mode",
		Summary:     "Read the manual-mode kill switch",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ManualModeResponse `json:"body"`
	}, error) {
		enabled, err := e.Repo.ManualMode(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ManualModeResponse `json:"body"`
		}{Body: ManualModeResponse{Enabled: enabled}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-manual-mode",
		Method:      http.MethodPut,
		Path:        "/decomposition/manual-mode",
		Summary:     "Set the manual-mode kill switch",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ManualModeRequest `json:"body"`
	}) (*struct {
		Body ManualModeResponse `json:"body"`
	}, error) {
		value := "false"
		if input.Body.Enabled {
			value = "true"
		}
		now := time.Now().UTC().Format(time.RFC3339)
		if err := e.Repo.SetFlag(ctx, repo.ManualModeFlag, value, now); err != nil {
			return nil, handleError(err)
		}
		_ = e.Events.Append(ctx, nil, "system.manual_mode", "system", repo.ManualModeFlag, ActorID(ctx), map[string]any{"enabled": input.Body.Enabled})
		return &struct {
			Body ManualModeResponse `json:"body"`
		}{Body: ManualModeResponse{Enabled: input.Body.Enabled}}, nil
	})
}

func registerGoals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-goal",
		Method:        http.MethodPost,
		Path:          "/goals",
		Summary:       "Create goal",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateGoalRequest `json:"body"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		if input.Body.Type != domain.GoalGlobalOKR && input.Body.ParentID == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "parent_id is required below global_okr", nil)
		}
		if input.Body.ParentID != nil {
			parent, err := e.Repo.GetGoal(ctx, *input.Body.ParentID)
			if err != nil {
				return nil, handleError(err)
			}
			if domain.ChildGoalType(parent.Type) != input.Body.Type {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "parent type does not sit directly above "+input.Body.Type, nil)
			}
		}
		g := domain.Goal{
			ID:        input.Body.ID,
			Type:      input.Body.Type,
			ParentID:  input.Body.ParentID,
			Title:     input.Body.Title,
			Status:    input.Body.Status,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if g.ID == "" {
			g.ID = uuid.NewString()
		}
		if g.Status == "" {
			g.Status = "active"
		}
		if err := e.Repo.InsertGoal(ctx, g); err != nil {
			return nil, handleError(err)
		}
		_ = e.Events.Append(ctx, nil, "goal.created", "goal", g.ID, ActorID(ctx), map[string]any{"type": g.Type})
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-goals",
		Method:      http.MethodGet,
		Path:        "/goals",
		Summary:     "List goals",
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type" enum:"global_okr,global_kr,area_okr,area_kr"`
		Status string `query:"status"`
		Parent string `query:"parent_id"`
		Limit  int    `query:"limit" default:"100"`
	}) (*struct {
		Body []GoalResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListGoals(ctx, repo.GoalFilters{
			Type:   input.Type,
			Status: input.Status,
			Parent: input.Parent,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []GoalResponse `json:"body"`
		}{Body: mapGoals(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-goal",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}",
		Summary:     "Get goal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string `path:"goal_id"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		g, err := e.Repo.GetGoal(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-goal-status",
		Method:      http.MethodPatch,
		Path:        "/goals/{goal_id}/status",
		Summary:     "Update goal status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string `path:"goal_id"`
		Body   struct {
			Status string `json:"status" enum:"active,decomposing,completed,archived,cancelled"`
		} `json:"body"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		if err := e.Repo.UpdateGoalStatus(ctx, input.GoalID, input.Body.Status); err != nil {
			return nil, handleError(err)
		}
		g, err := e.Repo.GetGoal(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		_ = e.Events.Append(ctx, nil, "goal.status", "goal", g.ID, ActorID(ctx), map[string]any{"status": g.Status})
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(g)}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project or initiative",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		if input.Body.Type == "initiative" && input.Body.ParentID == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "parent_id is required for initiatives", nil)
		}
		if input.Body.ParentID != nil {
			if _, err := e.Repo.GetProject(ctx, *input.Body.ParentID); err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.KrID != nil {
			if _, err := e.Repo.GetGoal(ctx, *input.Body.KrID); err != nil {
				return nil, handleError(err)
			}
		}
		now := time.Now().UTC().Format(time.RFC3339)
		p := domain.Project{
			ID:                 input.Body.ID,
			Type:               input.Body.Type,
			ParentID:           input.Body.ParentID,
			KrID:               input.Body.KrID,
			Title:              input.Body.Title,
			Status:             input.Body.Status,
			DecompositionDepth: input.Body.DecompositionDepth,
			CreatedAt:          now,
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.Status == "" {
			p.Status = "active"
		}
		if err := e.Repo.InsertProject(ctx, p); err != nil {
			return nil, handleError(err)
		}
		if p.Type == "project" && p.KrID != nil {
			if err := e.Repo.LinkProjectKr(ctx, p.ID, *p.KrID, now); err != nil {
				return nil, handleError(err)
			}
		}
		_ = e.Events.Append(ctx, nil, "project.created", "project", p.ID, ActorID(ctx), map[string]any{"type": p.Type})
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects and initiatives",
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type" enum:"project,initiative"`
		Status string `query:"status"`
		Parent string `query:"parent_id"`
		Limit  int    `query:"limit" default:"100"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx, repo.ProjectFilters{
			Type:   input.Type,
			Status: input.Status,
			Parent: input.Parent,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "link-project-kr",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/links",
		Summary:       "Link a project to a key result",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      struct {
			KrID string `json:"kr_id"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			KrIDs []string `json:"kr_ids"`
		} `json:"body"`
	}, error) {
		if input.Body.KrID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "kr_id is required", nil)
		}
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		kr, err := e.Repo.GetGoal(ctx, input.Body.KrID)
		if err != nil {
			return nil, handleError(err)
		}
		if kr.Type != domain.GoalAreaKR && kr.Type != domain.GoalGlobalKR {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "linked goal must be a key result", nil)
		}
		now := time.Now().UTC().Format(time.RFC3339)
		if err := e.Repo.LinkProjectKr(ctx, input.ProjectID, input.Body.KrID, now); err != nil {
			return nil, handleError(err)
		}
		krIDs, err := e.Repo.ListProjectKrIDs(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				KrIDs []string `json:"kr_ids"`
			} `json:"body"`
		}{}
		out.Body.KrIDs = krIDs
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-krs",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/links",
		Summary:     "List key results linked to a project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body struct {
			KrIDs []string `json:"kr_ids"`
		} `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		krIDs, err := e.Repo.ListProjectKrIDs(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				KrIDs []string `json:"kr_ids"`
			} `json:"body"`
		}{}
		out.Body.KrIDs = krIDs
		return out, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		if input.Body.GoalID != nil {
			if _, err := e.Repo.GetGoal(ctx, *input.Body.GoalID); err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.ProjectID != nil {
			if _, err := e.Repo.GetProject(ctx, *input.Body.ProjectID); err != nil {
				return nil, handleError(err)
			}
		}
		now := time.Now().UTC().Format(time.RFC3339)
		t := domain.Task{
			ID:            input.Body.ID,
			Title:         input.Body.Title,
			Description:   input.Body.Description,
			Status:        string(engine.StatusQueued),
			GoalID:        input.Body.GoalID,
			ProjectID:     input.Body.ProjectID,
			TaskType:      input.Body.TaskType,
			Priority:      input.Body.Priority,
			TriggerSource: "api",
			PayloadJSON:   input.Body.PayloadJSON,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.TaskType == "" {
			t.TaskType = "dev"
		}
		if err := e.Repo.InsertTask(ctx, t); err != nil {
			return nil, handleError(err)
		}
		_ = e.Events.Append(ctx, nil, "task.created", "task", t.ID, ActorID(ctx), map[string]any{"task_type": t.TaskType})
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		Status        string `query:"status"`
		GoalID        string `query:"goal_id"`
		ProjectID     string `query:"project_id"`
		TaskType      string `query:"task_type"`
		TriggerSource string `query:"trigger_source"`
		Limit         int    `query:"limit" default:"100"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			Status:        input.Status,
			GoalID:        input.GoalID,
			ProjectID:     input.ProjectID,
			TaskType:      input.TaskType,
			TriggerSource: input.TriggerSource,
			Limit:         input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Update task status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   struct {
			Status string `json:"status" enum:"queued,in_progress,completed,failed,canceled,cancelled"`
		} `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if !engine.TaskStatus(input.Body.Status).Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid task status", nil)
		}
		now := time.Now().UTC().Format(time.RFC3339)
		if err := e.Repo.UpdateTaskStatus(ctx, input.TaskID, input.Body.Status, now); err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		_ = e.Events.Append(ctx, nil, "task.status", "task", t.ID, ActorID(ctx), map[string]any{"status": t.Status})
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"goal,project,task,system,engine"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}
