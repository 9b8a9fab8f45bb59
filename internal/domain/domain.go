package domain

type Company struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Membership struct {
	CompanyID string `json:"company_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID            string `json:"id"`
	CompanyID     string `json:"company_id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	SchemaVariant string `json:"schema_variant" enum:"standard,legacy"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	CompanyID   string  `json:"company_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"pending,in_progress,done,canceled"`
	Priority    string  `json:"priority,omitempty"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	StartDate   *string `json:"start_date,omitempty" format:"date"`
	DueDate     *string `json:"due_date,omitempty" format:"date"`
	CreatedBy   string  `json:"created_by"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type CostEntry struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	CompanyID   string  `json:"company_id"`
	TaskID      *string `json:"task_id,omitempty"`
	Category    string  `json:"category"`
	Description string  `json:"description,omitempty"`
	Amount      float64 `json:"amount"`
	CreatedBy   string  `json:"created_by"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type QualityCheck struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	DueDate   *string `json:"due_date,omitempty" format:"date"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

// AuditLogEntry records one execution attempt. Rows are append-only; nothing
// in this codebase updates or deletes them.
type AuditLogEntry struct {
	ID           int64  `json:"id"`
	UserID       string `json:"user_id"`
	CompanyID    string `json:"company_id"`
	ProjectID    string `json:"project_id,omitempty"`
	ActionType   string `json:"action_type"`
	Description  string `json:"description,omitempty"`
	CommandJSON  string `json:"command_json,omitempty"`
	ResultJSON   string `json:"result_json,omitempty"`
	ExecutionMS  int64  `json:"execution_time_ms"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// MemoryRecord holds the conversational context for one (user, company,
// project) triple. ActionHistoryJSON is an ordered JSON array of
// HistoryEntry, capped at the memory store's limit.
type MemoryRecord struct {
	UserID            string `json:"user_id"`
	CompanyID         string `json:"company_id"`
	ProjectID         string `json:"project_id,omitempty"`
	ActionHistoryJSON string `json:"action_history_json"`
	ContextJSON       string `json:"context_json,omitempty"`
	UpdatedAt         string `json:"updated_at" format:"date-time"`
}

// HistoryEntry is one executed action inside a MemoryRecord.
type HistoryEntry struct {
	Action    string         `json:"action"`
	Data      map[string]any `json:"data,omitempty"`
	Modules   []string       `json:"modules,omitempty"`
	Results   []any          `json:"results,omitempty"`
	Timestamp string         `json:"timestamp" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Hash      string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Scope is the ambient identity every execution runs under. ProjectID may be
// empty for company-wide actions.
type Scope struct {
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id"`
	ProjectID string `json:"project_id,omitempty"`
}
