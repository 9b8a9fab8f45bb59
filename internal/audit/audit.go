// Package audit writes the append-only record of every execution attempt.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sitepilot/internal/action"
	"sitepilot/internal/domain"
	"sitepilot/internal/repo"
)

type Logger struct {
	Repo repo.Repo
	Now  func() time.Time
}

func New(r repo.Repo) Logger {
	return Logger{Repo: r, Now: time.Now}
}

func (l Logger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Log records one execution attempt. Called exactly once per descriptor
// execution, on both success and failure paths.
func (l Logger) Log(ctx context.Context, scope domain.Scope, desc action.Descriptor, env action.Envelope) error {
	entry := domain.AuditLogEntry{
		UserID:      scope.UserID,
		CompanyID:   scope.CompanyID,
		ProjectID:   scope.ProjectID,
		ActionType:  desc.Action,
		Description: env.Message,
		ExecutionMS: env.ExecutionMS,
		Success:     env.Success,
		CreatedAt:   l.now().UTC().Format(time.RFC3339),
	}
	if !env.Success {
		entry.ErrorMessage = env.Error
	}
	if data, err := json.Marshal(desc); err == nil {
		entry.CommandJSON = string(data)
	}
	if env.Success && len(env.Results) > 0 {
		if data, err := json.Marshal(env.Results); err == nil {
			entry.ResultJSON = string(data)
		}
	}
	if err := l.Repo.InsertAuditEntry(ctx, entry); err != nil {
		return fmt.Errorf("audit log write: %w", err)
	}
	return nil
}

// Recent lists the newest entries for a company.
func (l Logger) Recent(ctx context.Context, companyID string, limit int) ([]domain.AuditLogEntry, error) {
	return l.Repo.ListAuditEntries(ctx, companyID, limit)
}
