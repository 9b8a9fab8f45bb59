package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"sitepilot/internal/action"
	"sitepilot/internal/broadcast"
	"sitepilot/internal/config"
	"sitepilot/internal/db"
	"sitepilot/internal/domain"
	"sitepilot/internal/executor"
	"sitepilot/internal/llm"
	"sitepilot/internal/migrate"
	"sitepilot/internal/orchestrator"
)

// scriptedProvider returns canned responses, recording the prompts it saw.
type scriptedProvider struct {
	response string
	prompts  [][]llm.Message
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	p.prompts = append(p.prompts, messages)
	return p.response, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func newTestOrchestrator(t *testing.T, provider llm.Provider) (orchestrator.Orchestrator, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default(".")
	exec := executor.New(conn, cfg)
	exec.Now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	o := orchestrator.New(exec, provider, broadcast.NewNop(), cfg)

	ctx := context.Background()
	now := "2025-03-01T12:00:00Z"
	if err := o.Repo.InsertCompany(ctx, domain.Company{ID: "co-1", Name: "Acme Build", Status: "active", CreatedAt: now}); err != nil {
		t.Fatalf("seed company: %v", err)
	}
	if err := o.Repo.UpsertMembership(ctx, domain.Membership{CompanyID: "co-1", UserID: "u1", Role: "owner", Active: true, CreatedAt: now}); err != nil {
		t.Fatalf("seed membership: %v", err)
	}
	if err := o.Repo.InsertProject(ctx, domain.Project{ID: "p1", CompanyID: "co-1", Name: "Bridge", Status: "active", SchemaVariant: "standard", CreatedAt: now}); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return o, ctx
}

func TestScopeResolution(t *testing.T) {
	o, ctx := newTestOrchestrator(t, nil)
	scope, err := o.Scope(ctx, "u1", "p1")
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	if scope.CompanyID != "co-1" || scope.ProjectID != "p1" {
		t.Fatalf("unexpected scope %+v", scope)
	}
	if _, err := o.Scope(ctx, "stranger", ""); !errors.Is(err, orchestrator.ErrNoActiveCompany) {
		t.Fatalf("expected ErrNoActiveCompany, got %v", err)
	}
}

func TestHandleMessageExecutesCommand(t *testing.T) {
	provider := &scriptedProvider{response: `On it.
EXECUTE_COMMAND: {"action": "CREATE_TASK_WITH_COST_AND_SCHEDULE", "modules": ["Tasks"], "data": {"title": "Pour slab"}}`}
	o, ctx := newTestOrchestrator(t, provider)
	scope, _ := o.Scope(ctx, "u1", "p1")

	reply, err := o.HandleMessage(ctx, scope, orchestrator.Turn{Message: "create a task to pour the slab"})
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if !reply.Executed || reply.Action != action.KindCreateTaskWithCostAndSchedule {
		t.Fatalf("expected executed reply, got %+v", reply)
	}
	if reply.Outcome == nil || !reply.Outcome.Success {
		t.Fatalf("expected successful outcome, got %+v", reply.Outcome)
	}
	if !strings.Contains(reply.Text, "On it.") {
		t.Fatalf("model prose missing from reply: %q", reply.Text)
	}

	tasks, err := o.Repo.ListTasks(ctx, "tasks", "p1")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "Pour slab" {
		t.Fatalf("task not created: %+v", tasks)
	}

	entries, err := o.Audit.Recent(ctx, "co-1", 10)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(entries) != 1 || !entries[0].Success {
		t.Fatalf("expected exactly one successful audit entry, got %+v", entries)
	}
	history, err := o.Memory.History(ctx, scope)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if len(history) != 1 || history[0].Action != action.KindCreateTaskWithCostAndSchedule {
		t.Fatalf("expected one remembered action, got %+v", history)
	}
}

func TestHandleMessageMalformedCommandInline(t *testing.T) {
	provider := &scriptedProvider{response: `Working on it.
EXECUTE_COMMAND: {"action": "CREATE_TASK_WITH_COST_AND_SCHEDULE", "data": {"title": "oops"`}
	o, ctx := newTestOrchestrator(t, provider)
	scope, _ := o.Scope(ctx, "u1", "p1")

	reply, err := o.HandleMessage(ctx, scope, orchestrator.Turn{Message: "create a task"})
	if err != nil {
		t.Fatalf("malformed command must not error: %v", err)
	}
	if reply.Executed {
		t.Fatalf("malformed command must not execute")
	}
	if !strings.Contains(reply.Text, "malformed") {
		t.Fatalf("expected inline malformed notice, got %q", reply.Text)
	}
	tasks, _ := o.Repo.ListTasks(ctx, "tasks", "p1")
	if len(tasks) != 0 {
		t.Fatalf("no task should exist, got %d", len(tasks))
	}
	entries, _ := o.Audit.Recent(ctx, "co-1", 10)
	if len(entries) != 0 {
		t.Fatalf("nothing executed, nothing audited; got %d entries", len(entries))
	}
}

func TestHandleMessagePlainReply(t *testing.T) {
	provider := &scriptedProvider{response: "The project is on schedule."}
	o, ctx := newTestOrchestrator(t, provider)
	scope, _ := o.Scope(ctx, "u1", "p1")

	reply, err := o.HandleMessage(ctx, scope, orchestrator.Turn{Message: "how are we doing?"})
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if reply.Executed || reply.Text != "The project is on schedule." {
		t.Fatalf("expected passthrough reply, got %+v", reply)
	}
	if len(provider.prompts) != 1 {
		t.Fatalf("expected one model call, got %d", len(provider.prompts))
	}
	if provider.prompts[0][0].Role != "system" {
		t.Fatalf("first prompt message must be the system instructions")
	}
}

func TestHandleMessageWithoutProvider(t *testing.T) {
	o, ctx := newTestOrchestrator(t, nil)
	scope, _ := o.Scope(ctx, "u1", "p1")
	if _, err := o.HandleMessage(ctx, scope, orchestrator.Turn{Message: "hello"}); !errors.Is(err, orchestrator.ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
}

func TestExecuteCommandStampsHistory(t *testing.T) {
	o, ctx := newTestOrchestrator(t, nil)
	scope, _ := o.Scope(ctx, "u1", "p1")

	env := o.ExecuteCommand(ctx, scope, action.Descriptor{
		Action:  action.KindCreateTaskWithCostAndSchedule,
		Modules: []string{action.ModuleTasks},
		Data:    []byte(`{"title": "Pour slab"}`),
	})
	if !env.Success {
		t.Fatalf("execute: %s", env.Error)
	}
	history, err := o.Memory.History(ctx, scope)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if len(history) != 1 || history[0].Timestamp != "2025-03-01T12:00:00Z" {
		t.Fatalf("expected stamped history entry, got %+v", history)
	}
	rec, err := o.Memory.Get(ctx, scope)
	if err != nil {
		t.Fatalf("memory record: %v", err)
	}
	var convCtx map[string]string
	if err := json.Unmarshal([]byte(rec.ContextJSON), &convCtx); err != nil {
		t.Fatalf("decode context: %v", err)
	}
	if convCtx["last_action_time"] != "2025-03-01T12:00:00Z" {
		t.Fatalf("last_action_time = %q", convCtx["last_action_time"])
	}
}

func TestExecuteCommandFailureIsAudited(t *testing.T) {
	o, ctx := newTestOrchestrator(t, nil)
	scope, _ := o.Scope(ctx, "u1", "p1")

	env := o.ExecuteCommand(ctx, scope, action.Descriptor{Action: "NOT_A_THING"})
	if env.Success {
		t.Fatalf("expected failure envelope")
	}
	entries, err := o.Audit.Recent(ctx, "co-1", 10)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(entries) != 1 || entries[0].Success || entries[0].ErrorMessage == "" {
		t.Fatalf("expected one failed audit entry, got %+v", entries)
	}
	history, err := o.Memory.History(ctx, scope)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if len(history) != 1 || len(history[0].Results) != 0 {
		t.Fatalf("failed execution recorded with results: %+v", history)
	}
}
