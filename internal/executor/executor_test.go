package executor_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"sitepilot/internal/action"
	"sitepilot/internal/config"
	"sitepilot/internal/db"
	"sitepilot/internal/domain"
	"sitepilot/internal/executor"
	"sitepilot/internal/migrate"
	"sitepilot/internal/repo"
)

type testEnv struct {
	Exec  executor.Executor
	Repo  repo.Repo
	Cfg   *config.Config
	Ctx   context.Context
	Scope domain.Scope
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
	cfg := config.Default(dir)
	exec := executor.New(conn, cfg)
	exec.Now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	seq := 0
	exec.NewID = func() string {
		seq++
		return fmt.Sprintf("id-%04d", seq)
	}
	ctx := context.Background()
	r := exec.Repo
	now := "2025-03-01T12:00:00Z"
	if err := r.InsertCompany(ctx, domain.Company{ID: "co-1", Name: "Acme Build", Status: "active", CreatedAt: now}); err != nil {
		t.Fatalf("seed company: %v", err)
	}
	if err := r.InsertProject(ctx, domain.Project{ID: "proj-1", CompanyID: "co-1", Name: "Bridge", Status: "active", SchemaVariant: "standard", CreatedAt: now}); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if err := r.InsertProject(ctx, domain.Project{ID: "proj-legacy", CompanyID: "co-1", Name: "Old Depot", Status: "active", SchemaVariant: "legacy", CreatedAt: now}); err != nil {
		t.Fatalf("seed legacy project: %v", err)
	}
	return testEnv{
		Exec:  exec,
		Repo:  r,
		Cfg:   cfg,
		Ctx:   ctx,
		Scope: domain.Scope{UserID: "user-1", CompanyID: "co-1", ProjectID: "proj-1"},
	}
}

func mustData(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return b
}

func createTask(t *testing.T, env testEnv, scope domain.Scope, modules []string, payload action.CreateTaskPayload) action.Envelope {
	t.Helper()
	env2, err := env.Exec.Execute(env.Ctx, scope, action.Descriptor{
		Action:  action.KindCreateTaskWithCostAndSchedule,
		Modules: modules,
		Data:    mustData(t, payload),
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return env2
}

func TestUnknownActionFailsBeforeWrites(t *testing.T) {
	env := newTestEnv(t)
	got, err := env.Exec.Execute(env.Ctx, env.Scope, action.Descriptor{Action: "MAKE_COFFEE"})
	if !errors.Is(err, executor.ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
	if got.Success {
		t.Fatalf("expected failure envelope")
	}
	if got.Error == "" {
		t.Fatalf("expected error message in envelope")
	}
	if len(got.Results) != 0 || len(got.ChangeEvents) != 0 {
		t.Fatalf("unknown action must not produce results or events")
	}
	tasks, err := env.Repo.ListTasks(env.Ctx, "tasks", "proj-1")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("unknown action must not write, found %d tasks", len(tasks))
	}
}

func TestCreateTaskModuleOptOut(t *testing.T) {
	env := newTestEnv(t)
	budget := 5000.0

	// Budget in the payload, but the Cost module not opted in: no cost row.
	got := createTask(t, env, env.Scope, []string{action.ModuleTasks}, action.CreateTaskPayload{
		Title:  "Pour foundation",
		Budget: &budget,
	})
	if !got.Success {
		t.Fatalf("execute failed: %s", got.Error)
	}
	if len(got.Results) != 1 || len(got.ChangeEvents) != 1 {
		t.Fatalf("expected exactly one result and one event, got %d/%d", len(got.Results), len(got.ChangeEvents))
	}
	total, err := env.Repo.ProjectBudgetTotal(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("budget total: %v", err)
	}
	if total != 0 {
		t.Fatalf("cost row written without Cost module, total=%v", total)
	}

	// Same payload with the module opted in.
	got = createTask(t, env, env.Scope, []string{action.ModuleTasks, action.ModuleCost}, action.CreateTaskPayload{
		Title:  "Frame walls",
		Budget: &budget,
	})
	if len(got.Results) != 2 || len(got.ChangeEvents) != 2 {
		t.Fatalf("expected two results and two events, got %d/%d", len(got.Results), len(got.ChangeEvents))
	}
	if got.Results[1].Module != action.ModuleCost || got.Results[1].Action != action.OpCreate {
		t.Fatalf("unexpected cost result: %+v", got.Results[1])
	}
	total, err = env.Repo.ProjectBudgetTotal(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("budget total: %v", err)
	}
	if total != budget {
		t.Fatalf("expected budget %v recorded, got %v", budget, total)
	}
}

func TestCreateTaskAssignsWithTeamModule(t *testing.T) {
	env := newTestEnv(t)
	got := createTask(t, env, env.Scope, []string{action.ModuleTasks, action.ModuleTeam}, action.CreateTaskPayload{
		Title:      "Install windows",
		AssignedTo: "worker-7",
	})
	if !got.Success {
		t.Fatalf("execute failed: %s", got.Error)
	}
	if len(got.Results) != 2 {
		t.Fatalf("expected task + assignment results, got %d", len(got.Results))
	}
	last := got.ChangeEvents[len(got.ChangeEvents)-1]
	if last.Operation != action.WriteUpdate || last.Table != "tasks" {
		t.Fatalf("expected tasks UPDATE event, got %+v", last)
	}
	tasks, err := env.Repo.ListTasks(env.Ctx, "tasks", "proj-1")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].AssignedTo == nil || *tasks[0].AssignedTo != "worker-7" {
		t.Fatalf("assignment not persisted: %+v", tasks)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Exec.Execute(env.Ctx, env.Scope, action.Descriptor{
		Action:  action.KindCreateTaskWithCostAndSchedule,
		Modules: []string{action.ModuleTasks},
		Data:    mustData(t, action.CreateTaskPayload{Title: "   "}),
	})
	if err == nil {
		t.Fatalf("expected validation error for empty title")
	}
	bad := -10.0
	_, err = env.Exec.Execute(env.Ctx, env.Scope, action.Descriptor{
		Action:  action.KindCreateTaskWithCostAndSchedule,
		Modules: []string{action.ModuleTasks},
		Data:    mustData(t, action.CreateTaskPayload{Title: "x", Budget: &bad}),
	})
	if err == nil {
		t.Fatalf("expected validation error for negative budget")
	}
	companyScope := domain.Scope{UserID: "user-1", CompanyID: "co-1"}
	_, err = env.Exec.Execute(env.Ctx, companyScope, action.Descriptor{
		Action:  action.KindCreateTaskWithCostAndSchedule,
		Modules: []string{action.ModuleTasks},
		Data:    mustData(t, action.CreateTaskPayload{Title: "x"}),
	})
	if err == nil {
		t.Fatalf("expected error when no project is scoped")
	}
}

func TestForecastComputesWithoutWrites(t *testing.T) {
	env := newTestEnv(t)
	budget := 1000.0
	createTask(t, env, env.Scope, []string{action.ModuleTasks, action.ModuleCost}, action.CreateTaskPayload{Title: "a", Budget: &budget})
	createTask(t, env, env.Scope, []string{action.ModuleTasks, action.ModuleCost}, action.CreateTaskPayload{Title: "b", Budget: &budget})

	desc := action.Descriptor{
		Action:  action.KindForecastCostImpact,
		Modules: []string{action.ModuleCost, action.ModuleTime},
		Data:    mustData(t, action.ForecastPayload{DelayDays: 3}),
	}
	got, err := env.Exec.Execute(env.Ctx, env.Scope, desc)
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if len(got.ChangeEvents) != 0 {
		t.Fatalf("forecast must not emit change events, got %d", len(got.ChangeEvents))
	}
	if len(got.Results) != 1 {
		t.Fatalf("expected one forecast result, got %d", len(got.Results))
	}
	forecast, ok := got.Results[0].Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result shape: %T", got.Results[0].Result)
	}
	// 2000 budget over 2 tasks = 1000/day; 3 days delay = 3000 impact.
	if forecast["estimated_cost_impact"] != 3000.0 {
		t.Fatalf("impact = %v, want 3000", forecast["estimated_cost_impact"])
	}
	if forecast["new_total_estimate"] != 5000.0 {
		t.Fatalf("new total = %v, want 5000", forecast["new_total_estimate"])
	}

	// Idempotent: a second identical run sees the same state.
	again, err := env.Exec.Execute(env.Ctx, env.Scope, desc)
	if err != nil {
		t.Fatalf("second forecast: %v", err)
	}
	secondForecast := again.Results[0].Result.(map[string]any)
	if secondForecast["estimated_cost_impact"] != forecast["estimated_cost_impact"] {
		t.Fatalf("forecast not idempotent: %v vs %v", secondForecast, forecast)
	}
}

func TestForecastSkippedWithoutModules(t *testing.T) {
	env := newTestEnv(t)
	got, err := env.Exec.Execute(env.Ctx, env.Scope, action.Descriptor{
		Action:  action.KindForecastCostImpact,
		Modules: []string{action.ModuleCost},
		Data:    mustData(t, action.ForecastPayload{DelayDays: 3}),
	})
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if !got.Success {
		t.Fatalf("missing modules must not fail the execution: %s", got.Error)
	}
	if len(got.Results) != 0 || len(got.ChangeEvents) != 0 {
		t.Fatalf("skipped forecast must be a no-op, got %d results %d events", len(got.Results), len(got.ChangeEvents))
	}
}

func TestUpdateQualitySchedule(t *testing.T) {
	env := newTestEnv(t)
	now := "2025-03-01T12:00:00Z"
	due1 := "2025-03-10"
	due2 := "not-a-date"
	seed := []domain.QualityCheck{
		{ID: "q1", ProjectID: "proj-1", Name: "Concrete cure", Status: "scheduled", DueDate: &due1, CreatedAt: now, UpdatedAt: now},
		{ID: "q2", ProjectID: "proj-1", Name: "Electrical", Status: "scheduled", CreatedAt: now, UpdatedAt: now},
		{ID: "q3", ProjectID: "proj-1", Name: "Plumbing", Status: "scheduled", DueDate: &due2, CreatedAt: now, UpdatedAt: now},
	}
	for _, q := range seed {
		if err := env.Repo.InsertQualityCheck(env.Ctx, q); err != nil {
			t.Fatalf("seed quality check: %v", err)
		}
	}
	got, err := env.Exec.Execute(env.Ctx, env.Scope, action.Descriptor{
		Action:  action.KindUpdateQualitySchedule,
		Modules: []string{action.ModuleQuality, action.ModuleTime},
		Data:    mustData(t, action.QualitySchedulePayload{DelayDays: 7}),
	})
	if err != nil {
		t.Fatalf("shift schedule: %v", err)
	}
	// q2 has no due date and q3's does not parse; only q1 moves.
	if len(got.ChangeEvents) != 1 {
		t.Fatalf("expected one change event, got %d", len(got.ChangeEvents))
	}
	checks, err := env.Repo.ListQualityChecks(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("list checks: %v", err)
	}
	for _, c := range checks {
		switch c.ID {
		case "q1":
			if c.DueDate == nil || *c.DueDate != "2025-03-17" {
				t.Fatalf("q1 due date = %v, want 2025-03-17", c.DueDate)
			}
		case "q3":
			if c.DueDate == nil || *c.DueDate != "not-a-date" {
				t.Fatalf("q3 must be untouched, got %v", c.DueDate)
			}
		}
	}
}

func TestDeleteAllTasksScoped(t *testing.T) {
	env := newTestEnv(t)
	createTask(t, env, env.Scope, []string{action.ModuleTasks}, action.CreateTaskPayload{Title: "a"})
	createTask(t, env, env.Scope, []string{action.ModuleTasks}, action.CreateTaskPayload{Title: "b"})
	otherScope := domain.Scope{UserID: "user-1", CompanyID: "co-1", ProjectID: "proj-legacy"}
	createTask(t, env, otherScope, []string{action.ModuleTasks}, action.CreateTaskPayload{Title: "c"})

	got, err := env.Exec.Execute(env.Ctx, env.Scope, action.Descriptor{
		Action:  action.KindDeleteAllTasks,
		Modules: []string{action.ModuleTasks},
	})
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if len(got.ChangeEvents) != 2 {
		t.Fatalf("expected one DELETE event per removed row, got %d", len(got.ChangeEvents))
	}
	for _, evt := range got.ChangeEvents {
		if evt.Operation != action.WriteDelete {
			t.Fatalf("unexpected operation %q", evt.Operation)
		}
		if evt.Data["title"] == nil {
			t.Fatalf("delete event must carry the row snapshot, got %v", evt.Data)
		}
	}
	remaining, err := env.Repo.ListTasks(env.Ctx, "tasks", "proj-1")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no tasks left, got %d", len(remaining))
	}
	// The legacy project's table is out of scope.
	legacy, err := env.Repo.ListTasks(env.Ctx, "project_tasks", "proj-legacy")
	if err != nil {
		t.Fatalf("list legacy tasks: %v", err)
	}
	if len(legacy) != 1 {
		t.Fatalf("legacy project must be untouched, got %d tasks", len(legacy))
	}
}

func TestDeleteAllTasksCompanyWideClearsBothVariants(t *testing.T) {
	env := newTestEnv(t)
	createTask(t, env, env.Scope, []string{action.ModuleTasks}, action.CreateTaskPayload{Title: "a"})
	legacyScope := domain.Scope{UserID: "user-1", CompanyID: "co-1", ProjectID: "proj-legacy"}
	createTask(t, env, legacyScope, []string{action.ModuleTasks}, action.CreateTaskPayload{Title: "b"})

	companyScope := domain.Scope{UserID: "user-1", CompanyID: "co-1"}
	got, err := env.Exec.Execute(env.Ctx, companyScope, action.Descriptor{
		Action:  action.KindDeleteAllTasks,
		Modules: []string{action.ModuleTasks},
	})
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if len(got.ChangeEvents) != 2 {
		t.Fatalf("expected a DELETE event per row across both tables, got %d", len(got.ChangeEvents))
	}
	seen := map[string]bool{}
	for _, evt := range got.ChangeEvents {
		seen[evt.Table] = true
	}
	if !seen["tasks"] || !seen["project_tasks"] {
		t.Fatalf("events must cover both task tables, got %v", seen)
	}
	standard, err := env.Repo.ListTasks(env.Ctx, "tasks", "proj-1")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	legacy, err := env.Repo.ListTasks(env.Ctx, "project_tasks", "proj-legacy")
	if err != nil {
		t.Fatalf("list legacy tasks: %v", err)
	}
	if len(standard) != 0 || len(legacy) != 0 {
		t.Fatalf("company-wide delete left rows: %d standard, %d legacy", len(standard), len(legacy))
	}
}

func TestLegacyVariantRouting(t *testing.T) {
	env := newTestEnv(t)
	scope := domain.Scope{UserID: "user-1", CompanyID: "co-1", ProjectID: "proj-legacy"}
	createTask(t, env, scope, []string{action.ModuleTasks}, action.CreateTaskPayload{Title: "old-school"})

	standard, err := env.Repo.ListTasks(env.Ctx, "tasks", "proj-legacy")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(standard) != 0 {
		t.Fatalf("legacy project must not write to tasks, got %d", len(standard))
	}
	legacy, err := env.Repo.ListTasks(env.Ctx, "project_tasks", "proj-legacy")
	if err != nil {
		t.Fatalf("list legacy tasks: %v", err)
	}
	if len(legacy) != 1 {
		t.Fatalf("expected one row in project_tasks, got %d", len(legacy))
	}
}

func TestConfigVariantOverride(t *testing.T) {
	env := newTestEnv(t)
	env.Cfg.Routing.Variants = map[string]string{"proj-1": executor.VariantLegacy}

	createTask(t, env, env.Scope, []string{action.ModuleTasks}, action.CreateTaskPayload{Title: "routed"})
	legacy, err := env.Repo.ListTasks(env.Ctx, "project_tasks", "proj-1")
	if err != nil {
		t.Fatalf("list legacy tasks: %v", err)
	}
	if len(legacy) != 1 {
		t.Fatalf("config override must win over the project row, got %d rows", len(legacy))
	}
}
