package server

import (
	"encoding/json"

	"sitepilot/internal/domain"
)

type MessageContext struct {
	ProjectID   string `json:"project_id,omitempty"`
	CurrentPage string `json:"current_page,omitempty" example:"tasks"`
}

type AgentMessageRequest struct {
	Message string          `json:"message" example:"Create a task for pouring the foundation"`
	Context *MessageContext `json:"context,omitempty"`
}

type AgentCommandRequest struct {
	Action    string          `json:"action" example:"CREATE_TASK_WITH_COST_AND_SCHEDULE"`
	Modules   []string        `json:"modules,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	ProjectID string          `json:"project_id,omitempty"`
}

type CreateTaskRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	StartDate      *string  `json:"start_date,omitempty" format:"date"`
	DueDate        *string  `json:"due_date,omitempty" format:"date"`
	Budget         *float64 `json:"budget,omitempty"`
	BudgetCategory string   `json:"budget_category,omitempty"`
	AssignedTo     *string  `json:"assigned_to,omitempty"`
}

type MemoryResponse struct {
	Scope   domain.Scope          `json:"scope"`
	History []domain.HistoryEntry `json:"history"`
}

type AuditResponse struct {
	Items []domain.AuditLogEntry `json:"items"`
}

type ProjectsResponse struct {
	Items []domain.Project `json:"items"`
}

type TasksResponse struct {
	Items []domain.Task `json:"items"`
}
