package repo

import (
	"context"
	"database/sql"

	"sitepilot/internal/domain"
)

// InsertAuditEntry appends one execution attempt to the audit log. There is
// deliberately no update or delete counterpart.
func (r Repo) InsertAuditEntry(ctx context.Context, e domain.AuditLogEntry) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO audit_log(user_id,company_id,project_id,action_type,description,command_json,result_json,execution_time_ms,success,error_message,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.UserID, e.CompanyID, nullable(e.ProjectID), e.ActionType, nullable(e.Description),
		nullable(e.CommandJSON), nullable(e.ResultJSON), e.ExecutionMS, boolToInt(e.Success),
		nullable(e.ErrorMessage), e.CreatedAt)
	return err
}

func (r Repo) ListAuditEntries(ctx context.Context, companyID string, limit int) ([]domain.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,user_id,company_id,COALESCE(project_id,''),action_type,COALESCE(description,''),COALESCE(command_json,''),COALESCE(result_json,''),execution_time_ms,success,COALESCE(error_message,''),created_at
FROM audit_log WHERE company_id=? ORDER BY id DESC LIMIT ?`, companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditLogEntry
	for rows.Next() {
		var e domain.AuditLogEntry
		var success int
		if err := rows.Scan(&e.ID, &e.UserID, &e.CompanyID, &e.ProjectID, &e.ActionType, &e.Description,
			&e.CommandJSON, &e.ResultJSON, &e.ExecutionMS, &success, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Success = success != 0
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) GetMemory(ctx context.Context, scope domain.Scope) (domain.MemoryRecord, error) {
	var m domain.MemoryRecord
	var contextJSON sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`SELECT user_id,company_id,project_id,action_history_json,context_json,updated_at FROM agent_memory WHERE user_id=? AND company_id=? AND project_id=?`,
		scope.UserID, scope.CompanyID, scope.ProjectID).
		Scan(&m.UserID, &m.CompanyID, &m.ProjectID, &m.ActionHistoryJSON, &contextJSON, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	m.ContextJSON = contextJSON.String
	return m, err
}

// UpsertMemory writes the full record for a scope; the memory store owns the
// capping logic.
func (r Repo) UpsertMemory(ctx context.Context, m domain.MemoryRecord) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO agent_memory(user_id,company_id,project_id,action_history_json,context_json,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(user_id,company_id,project_id) DO UPDATE SET action_history_json=excluded.action_history_json, context_json=excluded.context_json, updated_at=excluded.updated_at`,
		m.UserID, m.CompanyID, m.ProjectID, m.ActionHistoryJSON, nullable(m.ContextJSON), m.UpdatedAt)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
