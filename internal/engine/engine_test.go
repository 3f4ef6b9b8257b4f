package engine_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"okrbrain/internal/config"
	"okrbrain/internal/db"
	"okrbrain/internal/domain"
	"okrbrain/internal/engine"
	"okrbrain/internal/engine/gate"
	"okrbrain/internal/migrate"
	"okrbrain/internal/repo"
)

var testNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Repo   repo.Repo
	Config *config.Config
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	r := repo.Repo{DB: conn}
	eng := engine.New(conn, cfg,
		gate.RuleGate{MinLength: cfg.Quality.MinDescriptionLength},
		gate.SlotCapacity{},
		gate.StructuralValidator{Repo: r},
	)
	eng.Now = func() time.Time { return testNow }
	return testEnv{Engine: eng, Repo: r, Config: cfg, Ctx: context.Background()}
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func seedGoal(t *testing.T, env testEnv, id, goalType string, parentID *string, status string) {
	t.Helper()
	err := env.Repo.InsertGoal(env.Ctx, domain.Goal{
		ID: id, Type: goalType, ParentID: parentID, Title: "goal " + id,
		Status: status, CreatedAt: ts(testNow.Add(-48 * time.Hour)),
	})
	if err != nil {
		t.Fatalf("seed goal %s: %v", id, err)
	}
}

func seedProject(t *testing.T, env testEnv, id, projType string, parentID, krID *string, depth int) {
	t.Helper()
	err := env.Repo.InsertProject(env.Ctx, domain.Project{
		ID: id, Type: projType, ParentID: parentID, KrID: krID, Title: "project " + id,
		Status: "active", DecompositionDepth: depth, CreatedAt: ts(testNow.Add(-48 * time.Hour)),
	})
	if err != nil {
		t.Fatalf("seed project %s: %v", id, err)
	}
}

func seedTask(t *testing.T, env testEnv, task domain.Task) {
	t.Helper()
	if task.Title == "" {
		task.Title = "task " + task.ID
	}
	if task.TaskType == "" {
		task.TaskType = "dev"
	}
	if task.CreatedAt == "" {
		task.CreatedAt = ts(testNow.Add(-2 * time.Hour))
	}
	if task.UpdatedAt == "" {
		task.UpdatedAt = task.CreatedAt
	}
	if err := env.Repo.InsertTask(env.Ctx, task); err != nil {
		t.Fatalf("seed task %s: %v", task.ID, err)
	}
}

func linkKr(t *testing.T, env testEnv, projectID, krID string) {
	t.Helper()
	if err := env.Repo.LinkProjectKr(env.Ctx, projectID, krID, ts(testNow)); err != nil {
		t.Fatalf("link %s->%s: %v", projectID, krID, err)
	}
}

func actionsFor(report engine.Report, check string) []engine.Action {
	var out []engine.Action
	for _, a := range report.Actions {
		if a.Check == check {
			out = append(out, a)
		}
	}
	return out
}

func brainTasks(t *testing.T, env testEnv) []domain.Task {
	t.Helper()
	tasks, err := env.Repo.ListTasks(env.Ctx, repo.TaskFilters{TriggerSource: "brain_auto"})
	if err != nil {
		t.Fatalf("list brain tasks: %v", err)
	}
	return tasks
}

func strPtr(s string) *string { return &s }

func TestManualModeSkipsScan(t *testing.T) {
	env := newTestEnv(t)
	seedGoal(t, env, "g1", domain.GoalGlobalOKR, nil, "active")
	if err := env.Repo.SetFlag(env.Ctx, repo.ManualModeFlag, "true", ts(testNow)); err != nil {
		t.Fatal(err)
	}
	report := env.Engine.RunDecompositionChecks(env.Ctx)
	if !report.Skipped || report.Reason != "manual_mode" {
		t.Fatalf("expected manual-mode skip, got %+v", report)
	}
	if len(brainTasks(t, env)) != 0 {
		t.Fatal("manual mode must not create tasks")
	}

	if err := env.Repo.SetFlag(env.Ctx, repo.ManualModeFlag, "false", ts(testNow)); err != nil {
		t.Fatal(err)
	}
	report = env.Engine.RunDecompositionChecks(env.Ctx)
	if report.Skipped {
		t.Fatalf("expected scan to run after flag reset, got %+v", report)
	}
}

func TestGoalLayerGapCreatesOnce(t *testing.T) {
	env := newTestEnv(t)
	seedGoal(t, env, "okr-1", domain.GoalGlobalOKR, nil, "active")

	report := env.Engine.RunDecompositionChecks(env.Ctx)
	acts := actionsFor(report, engine.CheckGlobalOKRGap)
	if len(acts) != 1 || acts[0].Type != engine.ActionCreate {
		t.Fatalf("expected one create action, got %+v", acts)
	}
	tasks := brainTasks(t, env)
	if len(tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(tasks))
	}
	task := tasks[0]
	if task.Status != "queued" || task.Priority != "P0" || task.TriggerSource != "brain_auto" {
		t.Fatalf("unexpected task fields: %+v", task)
	}
	if task.GoalID == nil || *task.GoalID != "okr-1" {
		t.Fatalf("task not linked to the gap goal: %+v", task)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(task.PayloadJSON), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["decomposition"] != "true" || payload["level"] != domain.GoalGlobalKR {
		t.Fatalf("unexpected payload: %v", payload)
	}

	report = env.Engine.RunDecompositionChecks(env.Ctx)
	acts = actionsFor(report, engine.CheckGlobalOKRGap)
	if len(acts) != 1 || acts[0].Type != engine.ActionSkipDedup {
		t.Fatalf("expected dedup skip on second scan, got %+v", acts)
	}
	if len(brainTasks(t, env)) != 1 {
		t.Fatal("second scan must not create a duplicate")
	}
}

func TestDedupWindowBoundary(t *testing.T) {
	window := config.Default().DedupWindow()

	t.Run("completed just outside the window stops blocking", func(t *testing.T) {
		env := newTestEnv(t)
		seedGoal(t, env, "okr-1", domain.GoalGlobalOKR, nil, "active")
		seedTask(t, env, domain.Task{
			ID: "old-d13n", Status: "completed", GoalID: strPtr("okr-1"),
			TaskType: "decomposition", TriggerSource: "brain_auto",
			PayloadJSON: `{"decomposition":"true"}`,
			CompletedAt: strPtr(ts(testNow.Add(-window - time.Second))),
		})
		report := env.Engine.RunDecompositionChecks(env.Ctx)
		acts := actionsFor(report, engine.CheckGlobalOKRGap)
		if len(acts) != 1 || acts[0].Type != engine.ActionCreate {
			t.Fatalf("expected create past the window, got %+v", acts)
		}
	})

	t.Run("completed inside the window blocks", func(t *testing.T) {
		env := newTestEnv(t)
		seedGoal(t, env, "okr-1", domain.GoalGlobalOKR, nil, "active")
		seedTask(t, env, domain.Task{
			ID: "recent-d13n", Status: "completed", GoalID: strPtr("okr-1"),
			TaskType: "decomposition", TriggerSource: "brain_auto",
			PayloadJSON: `{"decomposition":"true"}`,
			CompletedAt: strPtr(ts(testNow.Add(-window + time.Minute))),
		})
		report := env.Engine.RunDecompositionChecks(env.Ctx)
		acts := actionsFor(report, engine.CheckGlobalOKRGap)
		if len(acts) != 1 || acts[0].Type != engine.ActionSkipDedup {
			t.Fatalf("expected dedup skip inside the window, got %+v", acts)
		}
	})

	t.Run("canceled blocks with no time bound", func(t *testing.T) {
		env := newTestEnv(t)
		seedGoal(t, env, "okr-1", domain.GoalGlobalOKR, nil, "active")
		seedTask(t, env, domain.Task{
			ID: "killed-d13n", Status: "canceled", GoalID: strPtr("okr-1"),
			TaskType: "decomposition", TriggerSource: "brain_auto",
			PayloadJSON: `{"decomposition":"true"}`,
			CreatedAt:   ts(testNow.Add(-30 * 24 * time.Hour)),
		})
		report := env.Engine.RunDecompositionChecks(env.Ctx)
		acts := actionsFor(report, engine.CheckGlobalOKRGap)
		if len(acts) != 1 || acts[0].Type != engine.ActionSkipDedup {
			t.Fatalf("expected canceled to block forever, got %+v", acts)
		}
	})

	t.Run("cancelled is terminal and stops blocking", func(t *testing.T) {
		env := newTestEnv(t)
		seedGoal(t, env, "okr-1", domain.GoalGlobalOKR, nil, "active")
		seedTask(t, env, domain.Task{
			ID: "dropped-d13n", Status: "cancelled", GoalID: strPtr("okr-1"),
			TaskType: "decomposition", TriggerSource: "brain_auto",
			PayloadJSON: `{"decomposition":"true"}`,
			CreatedAt:   ts(testNow.Add(-30 * 24 * time.Hour)),
		})
		report := env.Engine.RunDecompositionChecks(env.Ctx)
		acts := actionsFor(report, engine.CheckGlobalOKRGap)
		if len(acts) != 1 || acts[0].Type != engine.ActionCreate {
			t.Fatalf("expected cancelled not to block, got %+v", acts)
		}
	})
}

// seedHierarchy builds one linked branch: area KR, active project with
// a KR link, and one active initiative under the project.
func seedHierarchy(t *testing.T, env testEnv) {
	t.Helper()
	seedGoal(t, env, "kr-1", domain.GoalAreaKR, nil, "active")
	seedProject(t, env, "proj-1", "project", nil, nil, 0)
	linkKr(t, env, "proj-1", "kr-1")
	seedProject(t, env, "init-1", "initiative", strPtr("proj-1"), nil, 1)
}

func TestInitiativeSeedCancellationSpelling(t *testing.T) {
	t.Run("canceled keeps the initiative unseeded", func(t *testing.T) {
		env := newTestEnv(t)
		seedHierarchy(t, env)
		seedTask(t, env, domain.Task{
			ID: "t1", Status: "canceled", ProjectID: strPtr("init-1"),
			CreatedAt: ts(testNow.Add(-30 * 24 * time.Hour)),
		})
		report := env.Engine.RunDecompositionChecks(env.Ctx)
		if acts := actionsFor(report, engine.CheckSeeder); len(acts) != 0 {
			t.Fatalf("canceled task must suppress seeding, got %+v", acts)
		}
		if len(brainTasks(t, env)) != 0 {
			t.Fatal("no tasks expected")
		}
	})

	t.Run("cancelled reseeds the initiative", func(t *testing.T) {
		env := newTestEnv(t)
		seedHierarchy(t, env)
		seedTask(t, env, domain.Task{
			ID: "t1", Status: "cancelled", ProjectID: strPtr("init-1"),
			CreatedAt: ts(testNow.Add(-30 * 24 * time.Hour)),
		})
		report := env.Engine.RunDecompositionChecks(env.Ctx)
		acts := actionsFor(report, engine.CheckSeeder)
		if len(acts) != 1 || acts[0].Type != engine.ActionCreate {
			t.Fatalf("expected one seed create, got %+v", acts)
		}
		if acts[0].GoalID != "kr-1" {
			t.Fatalf("seed must resolve the parent project's KR, got %q", acts[0].GoalID)
		}
	})
}

func TestInitiativeSeedDedupWindow(t *testing.T) {
	// A short activity window keeps the initiative off the execution
	// frontier, so only the seeder sees it.
	t.Run("seed completed inside the window blocks reseeding", func(t *testing.T) {
		env := newTestEnv(t)
		env.Config.Brain.ActivityWindowHours = 1
		seedHierarchy(t, env)
		seedTask(t, env, domain.Task{
			ID: "seed-1", Status: "completed", GoalID: strPtr("kr-1"), ProjectID: strPtr("init-1"),
			TaskType: "decomposition", TriggerSource: "brain_auto",
			PayloadJSON: `{"decomposition":"true","level":"initiative","initiative_id":"init-1"}`,
			CompletedAt: strPtr(ts(testNow.Add(-2 * time.Hour))),
			CreatedAt:   ts(testNow.Add(-3 * time.Hour)),
			UpdatedAt:   ts(testNow.Add(-2 * time.Hour)),
		})
		report := env.Engine.RunDecompositionChecks(env.Ctx)
		acts := actionsFor(report, engine.CheckSeeder)
		if len(acts) != 1 || acts[0].Type != engine.ActionSkipDedup {
			t.Fatalf("expected dedup skip for a recently finished seed, got %+v", acts)
		}
		if len(brainTasks(t, env)) != 1 {
			t.Fatal("a seed completed inside the window must not be recreated")
		}
	})

	t.Run("seed completed past the window reseeds", func(t *testing.T) {
		env := newTestEnv(t)
		env.Config.Brain.ActivityWindowHours = 1
		window := env.Config.DedupWindow()
		seedHierarchy(t, env)
		seedTask(t, env, domain.Task{
			ID: "seed-1", Status: "completed", GoalID: strPtr("kr-1"), ProjectID: strPtr("init-1"),
			TaskType: "decomposition", TriggerSource: "brain_auto",
			PayloadJSON: `{"decomposition":"true","level":"initiative","initiative_id":"init-1"}`,
			CompletedAt: strPtr(ts(testNow.Add(-window - time.Hour))),
			CreatedAt:   ts(testNow.Add(-window - 2*time.Hour)),
			UpdatedAt:   ts(testNow.Add(-window - time.Hour)),
		})
		report := env.Engine.RunDecompositionChecks(env.Ctx)
		acts := actionsFor(report, engine.CheckSeeder)
		if len(acts) != 1 || acts[0].Type != engine.ActionCreate {
			t.Fatalf("expected reseed past the window, got %+v", acts)
		}
	})
}

func TestKrSaturationSkipsSeeding(t *testing.T) {
	t.Run("three active tasks saturate the KR", func(t *testing.T) {
		env := newTestEnv(t)
		seedHierarchy(t, env)
		// Saturate kr-1 via sibling work on the parent project.
		for _, id := range []string{"w1", "w2", "w3"} {
			seedTask(t, env, domain.Task{
				ID: id, Status: "queued", GoalID: strPtr("kr-1"), ProjectID: strPtr("proj-1"),
			})
		}
		report := env.Engine.RunDecompositionChecks(env.Ctx)
		acts := actionsFor(report, engine.CheckSeeder)
		if len(acts) != 1 || acts[0].Type != engine.ActionSkipSaturated {
			t.Fatalf("expected saturation skip, got %+v", acts)
		}
		if acts[0].GoalID != "kr-1" || acts[0].ProjectID != "init-1" {
			t.Fatalf("unexpected skip target: %+v", acts[0])
		}
	})

	t.Run("two active tasks leave room to seed", func(t *testing.T) {
		env := newTestEnv(t)
		seedHierarchy(t, env)
		for _, id := range []string{"w1", "w2"} {
			seedTask(t, env, domain.Task{
				ID: id, Status: "queued", GoalID: strPtr("kr-1"), ProjectID: strPtr("proj-1"),
			})
		}
		report := env.Engine.RunDecompositionChecks(env.Ctx)
		acts := actionsFor(report, engine.CheckSeeder)
		if len(acts) != 1 || acts[0].Type != engine.ActionCreate {
			t.Fatalf("expected seed create one below saturation, got %+v", acts)
		}
	})
}

func TestKrResolutionPrefersParentProjectLinks(t *testing.T) {
	env := newTestEnv(t)
	seedGoal(t, env, "kr-a", domain.GoalAreaKR, nil, "active")
	seedGoal(t, env, "kr-b", domain.GoalAreaKR, nil, "active")
	seedProject(t, env, "proj-1", "project", nil, nil, 0)
	linkKr(t, env, "proj-1", "kr-a")
	// kr-b must stay behind a direct link so check 4 stays quiet.
	seedProject(t, env, "proj-b", "project", nil, nil, 0)
	linkKr(t, env, "proj-b", "kr-b")
	seedProject(t, env, "init-b", "initiative", strPtr("proj-b"), nil, 1)
	seedTask(t, env, domain.Task{ID: "busy-b", Status: "in_progress", ProjectID: strPtr("init-b")})
	// The initiative under test carries its own kr_id pointing at kr-b,
	// which the parent project's link must outrank.
	seedProject(t, env, "init-1", "initiative", strPtr("proj-1"), strPtr("kr-b"), 1)

	report := env.Engine.RunDecompositionChecks(env.Ctx)
	acts := actionsFor(report, engine.CheckSeeder)
	if len(acts) != 1 || acts[0].Type != engine.ActionCreate {
		t.Fatalf("expected one seed create, got %+v", acts)
	}
	if acts[0].GoalID != "kr-a" {
		t.Fatalf("parent project link must win the KR fallback, got %q", acts[0].GoalID)
	}
}

func TestProjectCapacityGate(t *testing.T) {
	env := newTestEnv(t)
	seedGoal(t, env, "okr-1", domain.GoalGlobalOKR, nil, "active")
	// Default slot budget 40 gives the project layer 40/8 = 5 slots.
	for _, id := range []string{"p1", "p2", "p3", "p4", "p5"} {
		seedProject(t, env, id, "project", nil, nil, 0)
	}
	report := env.Engine.RunDecompositionChecks(env.Ctx)
	acts := actionsFor(report, engine.CheckGlobalOKRGap)
	if len(acts) != 1 || acts[0].Type != engine.ActionSkipCapacity {
		t.Fatalf("expected capacity skip for the goal layer, got %+v", acts)
	}
	if acts[0].Reason != "project_layer_saturated" {
		t.Fatalf("unexpected reason %q", acts[0].Reason)
	}
	if len(brainTasks(t, env)) != 0 {
		t.Fatal("saturated project layer must not create goal-layer tasks")
	}
}

type failingValidator struct{}

func (failingValidator) Validate(context.Context) (engine.ValidationResult, error) {
	return engine.ValidationResult{}, context.DeadlineExceeded
}

func TestValidationBlocksFlaggedGoal(t *testing.T) {
	env := newTestEnv(t)
	// An active KR under a completed objective is structurally broken:
	// decomposing it would build on a closed branch.
	seedGoal(t, env, "okr-done", domain.GoalGlobalOKR, nil, "completed")
	seedGoal(t, env, "kr-orphan", domain.GoalGlobalKR, strPtr("okr-done"), "active")

	report := env.Engine.RunDecompositionChecks(env.Ctx)
	acts := actionsFor(report, engine.CheckGlobalKRGap)
	if len(acts) != 1 || acts[0].Type != engine.ActionRejected {
		t.Fatalf("expected validation rejection, got %+v", acts)
	}
	if acts[0].Reason != "okr_validation_blocked" {
		t.Fatalf("unexpected reason %q", acts[0].Reason)
	}
	if len(brainTasks(t, env)) != 0 {
		t.Fatal("blocked goal must not get a task")
	}

	// Fail open: a broken validator must not stop decomposition.
	env.Engine.Validator = failingValidator{}
	report = env.Engine.RunDecompositionChecks(env.Ctx)
	acts = actionsFor(report, engine.CheckGlobalKRGap)
	if len(acts) != 1 || acts[0].Type != engine.ActionCreate {
		t.Fatalf("expected fail-open create, got %+v", acts)
	}
}

func TestFrontierReplenishment(t *testing.T) {
	env := newTestEnv(t)
	seedHierarchy(t, env)
	// One queued task keeps the initiative on the frontier and out of
	// the seeder, with the ready stock below the default watermark of 2.
	seedTask(t, env, domain.Task{
		ID: "work-1", Status: "queued", GoalID: strPtr("kr-1"), ProjectID: strPtr("init-1"),
		UpdatedAt: ts(testNow.Add(-time.Hour)), CreatedAt: ts(testNow.Add(-time.Hour)),
	})

	report := env.Engine.RunDecompositionChecks(env.Ctx)
	acts := actionsFor(report, engine.CheckInventory)
	if len(acts) != 1 || acts[0].Type != engine.ActionCreate {
		t.Fatalf("expected one replenishment create, got %+v", acts)
	}
	created, err := env.Repo.GetTask(env.Ctx, acts[0].TaskID)
	if err != nil {
		t.Fatalf("get created task: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(created.PayloadJSON), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["batch_size"] != float64(env.Config.Brain.ReplenishBatchSize) {
		t.Fatalf("expected batch_size %d in payload, got %v", env.Config.Brain.ReplenishBatchSize, payload["batch_size"])
	}
	if !strings.Contains(created.Description, "Enqueue exactly") {
		t.Fatalf("replenishment instructions missing: %q", created.Description)
	}

	// Second scan: the stock is back at the watermark, nothing happens.
	report = env.Engine.RunDecompositionChecks(env.Ctx)
	if acts := actionsFor(report, engine.CheckInventory); len(acts) != 0 {
		t.Fatalf("expected quiet inventory on second scan, got %+v", acts)
	}
	if len(brainTasks(t, env)) != 1 {
		t.Fatal("second scan must not create another batch")
	}
}

func TestWipCeilingDefersReplenishment(t *testing.T) {
	env := newTestEnv(t)
	env.Config.Brain.WipCeiling = 1
	seedHierarchy(t, env)
	seedTask(t, env, domain.Task{
		ID: "work-1", Status: "queued", GoalID: strPtr("kr-1"), ProjectID: strPtr("init-1"),
		UpdatedAt: ts(testNow.Add(-time.Hour)), CreatedAt: ts(testNow.Add(-time.Hour)),
	})
	// Unrelated decomposition work already in flight fills the ceiling.
	seedGoal(t, env, "kr-other", domain.GoalAreaKR, nil, "active")
	seedTask(t, env, domain.Task{
		ID: "d13n-other", Status: "queued", GoalID: strPtr("kr-other"),
		TaskType: "decomposition", TriggerSource: "brain_auto",
		PayloadJSON: `{"decomposition":"true"}`,
	})

	report := env.Engine.RunDecompositionChecks(env.Ctx)
	acts := actionsFor(report, engine.CheckInventory)
	if len(acts) != 1 || acts[0].Type != engine.ActionSkipWipCeiling {
		t.Fatalf("expected WIP ceiling skip, got %+v", acts)
	}
}

func TestExploratoryContinuation(t *testing.T) {
	env := newTestEnv(t)
	seedHierarchy(t, env)
	seedTask(t, env, domain.Task{ID: "busy", Status: "in_progress", ProjectID: strPtr("init-1")})
	seedTask(t, env, domain.Task{
		ID: "exp-1", Status: "completed", TaskType: "exploratory",
		GoalID: strPtr("kr-1"), ProjectID: strPtr("init-1"),
		PayloadJSON: `{"next_action":"decompose","findings":"split the importer by source format"}`,
		CompletedAt: strPtr(ts(testNow.Add(-2 * time.Hour))),
	})

	report := env.Engine.RunDecompositionChecks(env.Ctx)
	acts := actionsFor(report, engine.CheckContinuation)
	if len(acts) != 1 || acts[0].Type != engine.ActionCreate {
		t.Fatalf("expected one continuation create, got %+v", acts)
	}
	created, err := env.Repo.GetTask(env.Ctx, acts[0].TaskID)
	if err != nil {
		t.Fatal(err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(created.PayloadJSON), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["decomposition"] != "continue" || payload["exploratory_source"] != "exp-1" {
		t.Fatalf("unexpected continuation payload: %v", payload)
	}
	if !strings.Contains(created.Description, "split the importer by source format") {
		t.Fatalf("findings not carried into instructions: %q", created.Description)
	}

	report = env.Engine.RunDecompositionChecks(env.Ctx)
	acts = actionsFor(report, engine.CheckContinuation)
	if len(acts) != 1 || acts[0].Type != engine.ActionSkipDedup {
		t.Fatalf("expected continuation dedup on second scan, got %+v", acts)
	}
}

func TestTickRecordsEvents(t *testing.T) {
	env := newTestEnv(t)
	seedGoal(t, env, "okr-1", domain.GoalGlobalOKR, nil, "active")
	env.Engine.RunDecompositionChecks(env.Ctx)

	ticks, err := env.Repo.LatestEvents(env.Ctx, 10, "decomposition.tick", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(ticks) != 1 {
		t.Fatalf("expected one tick event, got %d", len(ticks))
	}
	creates, err := env.Repo.LatestEvents(env.Ctx, 10, "task.decomposition.created", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(creates) != 1 {
		t.Fatalf("expected one create event, got %d", len(creates))
	}
}
