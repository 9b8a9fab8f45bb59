// Package action defines the command vocabulary the executor dispatches on:
// descriptors, their typed payloads, and the results and change events an
// execution produces.
package action

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Known action kinds. The executor's registry is closed over these; anything
// else fails before a single write happens.
const (
	KindCreateTaskWithCostAndSchedule = "CREATE_TASK_WITH_COST_AND_SCHEDULE"
	KindForecastCostImpact            = "FORECAST_COST_IMPACT"
	KindUpdateQualitySchedule         = "UPDATE_QUALITY_SCHEDULE"
	KindDeleteAllTasks                = "DELETE_ALL_TASKS"
)

// Module labels. These are bookkeeping only: a handler consults them to decide
// which side effects the caller opted into, nothing more.
const (
	ModuleTasks       = "Tasks"
	ModuleCost        = "Cost"
	ModuleTime        = "Time"
	ModuleQuality     = "Quality"
	ModuleTeam        = "Team"
	ModuleScope       = "Scope"
	ModuleProcurement = "Procurement"
)

// Operation labels carried on results and change events.
const (
	OpCreate   = "CREATE"
	OpUpdate   = "UPDATE"
	OpDelete   = "DELETE"
	OpAssign   = "ASSIGN"
	OpForecast = "FORECAST"

	WriteInsert = "INSERT"
	WriteUpdate = "UPDATE"
	WriteDelete = "DELETE"
)

// Descriptor is one requested multi-module operation. Immutable once parsed.
type Descriptor struct {
	Action  string          `json:"action"`
	Modules []string        `json:"modules,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// HasModule reports whether the caller opted the named module in.
// Comparison is case-insensitive; the model is not reliable about casing.
func (d Descriptor) HasModule(name string) bool {
	for _, m := range d.Modules {
		if strings.EqualFold(strings.TrimSpace(m), name) {
			return true
		}
	}
	return false
}

// DecodeData unmarshals the free-form payload into a typed variant. An absent
// payload decodes as the zero value.
func (d Descriptor) DecodeData(v any) error {
	if len(d.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", d.Action, err)
	}
	return nil
}

// DataMap returns the raw payload as a generic map, for memory/audit records.
func (d Descriptor) DataMap() map[string]any {
	if len(d.Data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(d.Data, &m); err != nil {
		return nil
	}
	return m
}

// Result is the outcome for one module touched by an execution. Results are
// ordered by execution sequence: later entries may reference identifiers
// produced by earlier ones.
type Result struct {
	Module string `json:"module"`
	Action string `json:"action"`
	Result any    `json:"result"`
}

// ChangeEvent mirrors one write to the data store. Transient: produced for
// the broadcast publisher and never persisted.
type ChangeEvent struct {
	Table     string         `json:"table"`
	Operation string         `json:"operation" enum:"INSERT,UPDATE,DELETE"`
	Data      map[string]any `json:"data"`
}

// CreateTaskPayload parameterizes CREATE_TASK_WITH_COST_AND_SCHEDULE.
type CreateTaskPayload struct {
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	StartDate      string   `json:"start_date,omitempty"`
	DueDate        string   `json:"due_date,omitempty"`
	Budget         *float64 `json:"budget,omitempty"`
	BudgetCategory string   `json:"budget_category,omitempty"`
	AssignedTo     string   `json:"assigned_to,omitempty"`
}

func (p CreateTaskPayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if p.Budget != nil && *p.Budget < 0 {
		return fmt.Errorf("budget must not be negative")
	}
	return nil
}

// ForecastPayload parameterizes FORECAST_COST_IMPACT.
type ForecastPayload struct {
	DelayDays int `json:"delay_days"`
}

func (p ForecastPayload) Validate() error {
	if p.DelayDays < 0 {
		return fmt.Errorf("delay_days must not be negative")
	}
	return nil
}

// QualitySchedulePayload parameterizes UPDATE_QUALITY_SCHEDULE.
type QualitySchedulePayload struct {
	DelayDays int `json:"delay_days"`
}

func (p QualitySchedulePayload) Validate() error {
	if p.DelayDays == 0 {
		return fmt.Errorf("delay_days is required")
	}
	return nil
}

// Envelope is the caller-visible outcome of one execution.
type Envelope struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message,omitempty"`
	Results      []Result      `json:"results,omitempty"`
	ChangeEvents []ChangeEvent `json:"-"`
	ExecutionMS  int64         `json:"execution_time_ms"`
	Error        string        `json:"error,omitempty"`
}
