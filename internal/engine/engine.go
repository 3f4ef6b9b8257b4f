package engine

import (
	"context"
	"database/sql"
	"log"
	"time"

	"okrbrain/internal/config"
	"okrbrain/internal/events"
	"okrbrain/internal/repo"
)

// Engine is the OKR decomposition control loop. It owns no durable
// state beyond the database; one call to RunDecompositionChecks is one
// scheduler tick.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Quality   QualityGate
	Capacity  CapacityCalculator
	Validator OKRValidator
	Now       func() time.Time

	Dedup   DedupGuard
	Factory TaskFactory
}

func New(db *sql.DB, cfg *config.Config, quality QualityGate, capacity CapacityCalculator, validator OKRValidator) Engine {
	e := Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Quality:   quality,
		Capacity:  capacity,
		Validator: validator,
		Now:       time.Now,
	}
	return e.prepared()
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// prepared rebuilds the guard and factory so they share the engine's
// clock, which tests may have replaced after New.
func (e Engine) prepared() Engine {
	e.Dedup = DedupGuard{Repo: e.Repo, Window: e.Config.DedupWindow(), Now: e.Now}
	e.Factory = TaskFactory{Repo: e.Repo, Quality: e.Quality, Now: e.Now}
	e.Events.Now = e.Now
	return e
}

// RunDecompositionChecks executes one tick: kill switch, capacity
// gate, then the surviving checks in fixed order, accumulating every
// action into one flat report. The tick always completes; per-check
// failures become error actions and a failure in the capacity
// computation itself degrades to an empty report.
func (e Engine) RunDecompositionChecks(ctx context.Context) Report {
	e = e.prepared()

	manual, err := e.Repo.ManualMode(ctx)
	if err != nil {
		return degradedReport("read manual mode: " + err.Error())
	}
	if manual {
		return Report{Skipped: true, Reason: "manual_mode", Actions: []Action{}}
	}

	counts, err := e.Repo.CountLayers(ctx)
	if err != nil {
		return degradedReport("count layers: " + err.Error())
	}
	capacity := e.Capacity.Compute(e.Config.Brain.SlotBudget)
	projectSaturated := e.Capacity.AtCapacity(counts.ActiveProjects, capacity.Project.Max)
	initiativeSaturated := e.Capacity.AtCapacity(counts.ActiveInitiatives, capacity.Initiative.Max)
	taskSaturated := e.Capacity.AtCapacity(counts.QueuedTasks, capacity.Task.QueuedCap)

	vctx := e.buildValidationContext(ctx)

	var actions []Action
	if projectSaturated {
		actions = append(actions, Action{Check: CheckGlobalOKRGap, Type: ActionSkipCapacity, Reason: "project_layer_saturated"})
	} else {
		actions = append(actions, e.runCheck(ctx, CheckGlobalOKRGap, func(ctx context.Context) ([]Action, error) {
			return e.checkGoalLayerGap(ctx, vctx, CheckGlobalOKRGap, "global_okr")
		})...)
		actions = append(actions, e.runCheck(ctx, CheckGlobalKRGap, func(ctx context.Context) ([]Action, error) {
			return e.checkGoalLayerGap(ctx, vctx, CheckGlobalKRGap, "global_kr")
		})...)
		actions = append(actions, e.runCheck(ctx, CheckAreaOKRGap, func(ctx context.Context) ([]Action, error) {
			return e.checkGoalLayerGap(ctx, vctx, CheckAreaOKRGap, "area_okr")
		})...)
		actions = append(actions, e.runCheck(ctx, CheckAreaKRLink, func(ctx context.Context) ([]Action, error) {
			return e.checkAreaKRProjectLink(ctx, vctx)
		})...)
	}

	if initiativeSaturated {
		actions = append(actions, Action{Check: CheckInitiativeGap, Type: ActionSkipCapacity, Reason: "initiative_layer_saturated"})
	} else {
		actions = append(actions, e.runCheck(ctx, CheckInitiativeGap, func(ctx context.Context) ([]Action, error) {
			return e.checkProjectInitiativeGap(ctx, vctx)
		})...)
	}

	if taskSaturated {
		actions = append(actions, Action{Check: CheckInventory, Type: ActionSkipCapacity, Reason: "task_layer_saturated"})
	} else {
		actions = append(actions, e.runCheck(ctx, CheckInventory, func(ctx context.Context) ([]Action, error) {
			return e.checkFrontierInventory(ctx, vctx)
		})...)
		actions = append(actions, e.runCheck(ctx, CheckSeeder, func(ctx context.Context) ([]Action, error) {
			return e.checkInitiativeSeed(ctx, vctx)
		})...)
		actions = append(actions, e.runCheck(ctx, CheckContinuation, func(ctx context.Context) ([]Action, error) {
			return e.checkExploratoryContinuation(ctx, vctx)
		})...)
	}

	if actions == nil {
		actions = []Action{}
	}
	report := Report{Actions: actions, Summary: summarize(actions)}
	e.recordTick(ctx, report)
	return report
}

// runCheck isolates one check: its error becomes an error action and
// never aborts the sibling checks.
func (e Engine) runCheck(ctx context.Context, name string, fn func(context.Context) ([]Action, error)) []Action {
	actions, err := fn(ctx)
	if err != nil {
		log.Printf("okrbrain: check %s failed: %v", name, err)
		actions = append(actions, Action{Check: name, Type: ActionError, Reason: err.Error()})
	}
	return actions
}

// buildValidationContext runs the OKR validator once for this tick.
// Fail open: a validator error yields an empty blocked set, never a
// stale one.
func (e Engine) buildValidationContext(ctx context.Context) ValidationContext {
	if e.Validator == nil {
		return NewValidationContext(nil)
	}
	result, err := e.Validator.Validate(ctx)
	if err != nil {
		log.Printf("okrbrain: OKR validation failed, proceeding unblocked: %v", err)
		return NewValidationContext(nil)
	}
	return NewValidationContext(result.Issues)
}

func (e Engine) recordTick(ctx context.Context, report Report) {
	for _, a := range report.Actions {
		if a.Type != ActionCreate {
			continue
		}
		if err := e.Events.Append(ctx, nil, "task.decomposition.created", "task", a.TaskID, "brain", events.EventPayload{
			"check":      a.Check,
			"goal_id":    a.GoalID,
			"project_id": a.ProjectID,
		}); err != nil {
			log.Printf("okrbrain: record create event: %v", err)
		}
	}
	if err := e.Events.Append(ctx, nil, "decomposition.tick", "engine", "", "brain", events.EventPayload{
		"total_created":  report.Summary.TotalCreated,
		"total_skipped":  report.Summary.TotalSkipped,
		"total_rejected": report.Summary.TotalRejected,
		"total_errors":   report.Summary.TotalErrors,
	}); err != nil {
		log.Printf("okrbrain: record tick event: %v", err)
	}
}

func degradedReport(msg string) Report {
	log.Printf("okrbrain: tick degraded: %s", msg)
	return Report{Actions: []Action{}, Summary: Summary{Error: msg}}
}
