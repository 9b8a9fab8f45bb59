// Package memory keeps a bounded per-(user, company, project) history of
// executed actions, used as conversational context for later commands.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sitepilot/internal/domain"
	"sitepilot/internal/repo"
)

// MaxHistory caps the action history per scope; insertion evicts from the
// front.
const MaxHistory = 50

type Store struct {
	Repo repo.Repo
	Now  func() time.Time
}

func New(r repo.Repo) Store {
	return Store{Repo: r, Now: time.Now}
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Record appends one executed action to the scope's history, creating the
// record on first use and truncating to the newest MaxHistory entries.
func (s Store) Record(ctx context.Context, scope domain.Scope, entry domain.HistoryEntry) error {
	history := []domain.HistoryEntry{}
	existing, err := s.Repo.GetMemory(ctx, scope)
	switch {
	case err == nil:
		if existing.ActionHistoryJSON != "" {
			if err := json.Unmarshal([]byte(existing.ActionHistoryJSON), &history); err != nil {
				// A corrupt history is advisory data; start over rather
				// than fail the action.
				history = nil
			}
		}
	case errors.Is(err, repo.ErrNotFound):
	default:
		return err
	}
	history = append(history, entry)
	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal action history: %w", err)
	}
	contextJSON, err := json.Marshal(map[string]any{
		"last_action":      entry.Action,
		"last_action_time": entry.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal conversation context: %w", err)
	}
	return s.Repo.UpsertMemory(ctx, domain.MemoryRecord{
		UserID:            scope.UserID,
		CompanyID:         scope.CompanyID,
		ProjectID:         scope.ProjectID,
		ActionHistoryJSON: string(historyJSON),
		ContextJSON:       string(contextJSON),
		UpdatedAt:         s.now().UTC().Format(time.RFC3339),
	})
}

// Get returns the current record for a scope, or ErrNotFound.
func (s Store) Get(ctx context.Context, scope domain.Scope) (domain.MemoryRecord, error) {
	return s.Repo.GetMemory(ctx, scope)
}

// History decodes the scope's stored history, newest last. A missing record
// yields an empty slice.
func (s Store) History(ctx context.Context, scope domain.Scope) ([]domain.HistoryEntry, error) {
	rec, err := s.Repo.GetMemory(ctx, scope)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var history []domain.HistoryEntry
	if rec.ActionHistoryJSON == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(rec.ActionHistoryJSON), &history); err != nil {
		return nil, fmt.Errorf("decode action history: %w", err)
	}
	return history, nil
}
