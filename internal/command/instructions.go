package command

import (
	"fmt"
	"strings"

	"sitepilot/internal/action"
	"sitepilot/internal/domain"
)

// Instructions is the system prompt handed to the model. It enumerates the
// registered actions and the output convention the parser understands.
func Instructions(modules []string) string {
	var b strings.Builder
	b.WriteString(`You are SitePilot, an assistant for construction project management.
You help with tasks, schedules, budgets and quality checks.

When the user asks you to change project data, reply with a short explanation
followed by exactly one command on its own line:

EXECUTE_COMMAND: {"action": "<ACTION>", "modules": [...], "data": {...}}

Available actions:

CREATE_TASK_WITH_COST_AND_SCHEDULE
  data: {"title": string, "description": string, "budget": number,
         "due_date": "YYYY-MM-DD", "assigned_to": string}
  Creates a task; with the Cost module it also records the budget, and with
  the Team module it assigns the task.

FORECAST_COST_IMPACT
  data: {"delay_days": number}
  Estimates the cost impact of a schedule delay. Requires the Cost and Time
  modules; makes no changes.

UPDATE_QUALITY_SCHEDULE
  data: {"delay_days": number}
  Shifts the due date of every scheduled quality check by the given number
  of days.

DELETE_ALL_TASKS
  data: {}
  Deletes every task in the current project. Only emit this when the user
  asks for it explicitly.

`)
	if len(modules) > 0 {
		fmt.Fprintf(&b, "Enabled modules for this company: %s.\n", strings.Join(modules, ", "))
	} else {
		fmt.Fprintf(&b, "Enabled modules for this company: %s, %s, %s, %s, %s.\n",
			action.ModuleTasks, action.ModuleCost, action.ModuleTime, action.ModuleTeam, action.ModuleQuality)
	}
	b.WriteString("If the user is only asking a question, answer it without a command.\n")
	return b.String()
}

// ContextSummary renders recent action history as extra prompt context so the
// model can refer back to what it already did.
func ContextSummary(history []domain.HistoryEntry, limit int) string {
	if len(history) == 0 {
		return ""
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	var b strings.Builder
	b.WriteString("Recent actions in this conversation:\n")
	for _, h := range history {
		fmt.Fprintf(&b, "- %s at %s\n", h.Action, h.Timestamp)
	}
	return b.String()
}
