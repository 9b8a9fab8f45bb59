package executor

import (
	"context"
	"fmt"
	"time"

	"sitepilot/internal/action"
)

func (e Executor) createTaskWithCostAndSchedule(ctx context.Context, req request) (string, []action.Result, []action.ChangeEvent, error) {
	var p action.CreateTaskPayload
	if err := req.Desc.DecodeData(&p); err != nil {
		return "", nil, nil, err
	}
	if err := p.Validate(); err != nil {
		return "", nil, nil, err
	}
	if req.Scope.ProjectID == "" {
		return "", nil, nil, fmt.Errorf("project required to create a task")
	}
	now := e.now().UTC().Format(time.RFC3339)
	taskID := e.newID()
	taskRow := map[string]any{
		"id":          taskID,
		"project_id":  req.Scope.ProjectID,
		"company_id":  req.Scope.CompanyID,
		"title":       p.Title,
		"description": p.Description,
		"status":      "pending",
		"priority":    p.Priority,
		"start_date":  emptyToNil(p.StartDate),
		"due_date":    emptyToNil(p.DueDate),
		"created_by":  req.Scope.UserID,
		"created_at":  now,
		"updated_at":  now,
	}
	inserted, err := e.Store.Insert(ctx, req.Route.TaskTable, taskRow)
	if err != nil {
		return "", nil, nil, err
	}
	results := []action.Result{{Module: action.ModuleTasks, Action: action.OpCreate, Result: inserted}}
	events := []action.ChangeEvent{{Table: req.Route.TaskTable, Operation: action.WriteInsert, Data: inserted}}

	// Cost and Team side effects run only when the caller opted the module
	// in, even if the payload carries the fields.
	if req.Desc.HasModule(action.ModuleCost) && p.Budget != nil {
		category := p.BudgetCategory
		if category == "" {
			category = "budget"
		}
		costRow := map[string]any{
			"id":          e.newID(),
			"project_id":  req.Scope.ProjectID,
			"company_id":  req.Scope.CompanyID,
			"task_id":     taskID,
			"category":    category,
			"description": fmt.Sprintf("budget for task %q", p.Title),
			"amount":      *p.Budget,
			"created_by":  req.Scope.UserID,
			"created_at":  now,
		}
		costInserted, err := e.Store.Insert(ctx, "cost_tracking", costRow)
		if err != nil {
			return "", nil, nil, err
		}
		results = append(results, action.Result{Module: action.ModuleCost, Action: action.OpCreate, Result: costInserted})
		events = append(events, action.ChangeEvent{Table: "cost_tracking", Operation: action.WriteInsert, Data: costInserted})
	}

	if req.Desc.HasModule(action.ModuleTeam) && p.AssignedTo != "" {
		updated, err := e.Store.Update(ctx, req.Route.TaskTable,
			map[string]any{"id": taskID},
			map[string]any{"assigned_to": p.AssignedTo, "updated_at": now})
		if err != nil {
			return "", nil, nil, err
		}
		if len(updated) > 0 {
			results = append(results, action.Result{Module: action.ModuleTeam, Action: action.OpAssign, Result: updated[0]})
			events = append(events, action.ChangeEvent{Table: req.Route.TaskTable, Operation: action.WriteUpdate, Data: updated[0]})
		}
	}

	return fmt.Sprintf("created task %q", p.Title), results, events, nil
}

// forecastCostImpact is pure read plus arithmetic: no writes, no change
// events, idempotent.
func (e Executor) forecastCostImpact(ctx context.Context, req request) (string, []action.Result, []action.ChangeEvent, error) {
	if !req.Desc.HasModule(action.ModuleCost) || !req.Desc.HasModule(action.ModuleTime) {
		return "forecast skipped: requires Cost and Time modules", nil, nil, nil
	}
	var p action.ForecastPayload
	if err := req.Desc.DecodeData(&p); err != nil {
		return "", nil, nil, err
	}
	if err := p.Validate(); err != nil {
		return "", nil, nil, err
	}
	if req.Scope.ProjectID == "" {
		return "", nil, nil, fmt.Errorf("project required to forecast cost impact")
	}
	totalBudget, err := e.Repo.ProjectBudgetTotal(ctx, req.Scope.ProjectID)
	if err != nil {
		return "", nil, nil, err
	}
	taskCount, err := e.Repo.CountTasks(ctx, req.Route.TaskTable, req.Scope.ProjectID)
	if err != nil {
		return "", nil, nil, err
	}
	divisor := taskCount
	if divisor < 1 {
		divisor = 1
	}
	dailyCost := totalBudget / float64(divisor)
	impact := dailyCost * float64(p.DelayDays)
	forecast := map[string]any{
		"current_budget":        totalBudget,
		"delay_days":            p.DelayDays,
		"estimated_cost_impact": impact,
		"new_total_estimate":    totalBudget + impact,
	}
	results := []action.Result{{Module: action.ModuleCost, Action: action.OpForecast, Result: forecast}}
	message := fmt.Sprintf("a %d-day delay adds an estimated %.2f to the current budget of %.2f", p.DelayDays, impact, totalBudget)
	return message, results, nil, nil
}

func (e Executor) updateQualitySchedule(ctx context.Context, req request) (string, []action.Result, []action.ChangeEvent, error) {
	var p action.QualitySchedulePayload
	if err := req.Desc.DecodeData(&p); err != nil {
		return "", nil, nil, err
	}
	if err := p.Validate(); err != nil {
		return "", nil, nil, err
	}
	if req.Scope.ProjectID == "" {
		return "", nil, nil, fmt.Errorf("project required to shift the quality schedule")
	}
	checks, err := e.Repo.ListQualityChecks(ctx, req.Scope.ProjectID)
	if err != nil {
		return "", nil, nil, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	var (
		updatedRows []map[string]any
		events      []action.ChangeEvent
	)
	for _, check := range checks {
		// Rows without a due date are untouched and absent from the result.
		if check.DueDate == nil || *check.DueDate == "" {
			continue
		}
		shifted, ok := shiftDate(*check.DueDate, p.DelayDays)
		if !ok {
			continue
		}
		rows, err := e.Store.Update(ctx, "quality_checks",
			map[string]any{"id": check.ID},
			map[string]any{"due_date": shifted, "updated_at": now})
		if err != nil {
			return "", nil, nil, err
		}
		if len(rows) == 0 {
			continue
		}
		updatedRows = append(updatedRows, rows[0])
		events = append(events, action.ChangeEvent{Table: "quality_checks", Operation: action.WriteUpdate, Data: rows[0]})
	}
	results := []action.Result{{Module: action.ModuleQuality, Action: action.OpUpdate, Result: updatedRows}}
	message := fmt.Sprintf("shifted %d quality checks by %d days", len(updatedRows), p.DelayDays)
	return message, results, events, nil
}

func (e Executor) deleteAllTasks(ctx context.Context, req request) (string, []action.Result, []action.ChangeEvent, error) {
	tables := []string{req.Route.TaskTable}
	filter := map[string]any{"project_id": req.Scope.ProjectID}
	if req.Scope.ProjectID == "" {
		// A company-wide delete has no single route; it must clear both
		// schema variants.
		tables = []string{"tasks", "project_tasks"}
		filter = map[string]any{"company_id": req.Scope.CompanyID}
	}
	var events []action.ChangeEvent
	deleted := 0
	for _, table := range tables {
		snapshots, err := e.Store.Delete(ctx, table, filter)
		if err != nil {
			return "", nil, nil, err
		}
		deleted += len(snapshots)
		for _, row := range snapshots {
			events = append(events, action.ChangeEvent{Table: table, Operation: action.WriteDelete, Data: row})
		}
	}
	results := []action.Result{{
		Module: action.ModuleTasks,
		Action: action.OpDelete,
		Result: map[string]any{"deleted_count": deleted},
	}}
	return fmt.Sprintf("deleted %d tasks", deleted), results, events, nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02"}

func shiftDate(value string, days int) (string, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.AddDate(0, 0, days).Format(layout), true
		}
	}
	return "", false
}

func emptyToNil(v string) any {
	if v == "" {
		return nil
	}
	return v
}
