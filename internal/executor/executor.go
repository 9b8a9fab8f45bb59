// Package executor runs one action descriptor against the data store, fanning
// it out into the module writes the caller opted into.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sitepilot/internal/action"
	"sitepilot/internal/config"
	"sitepilot/internal/domain"
	"sitepilot/internal/repo"
)

// ErrUnknownAction is returned before any write when the descriptor names an
// action outside the registry.
var ErrUnknownAction = errors.New("unknown action")

type Executor struct {
	Repo   repo.Repo
	Store  repo.Store
	Config *config.Config
	Now    func() time.Time
	NewID  func() string
}

func New(db *sql.DB, cfg *config.Config) Executor {
	r := repo.Repo{DB: db}
	return Executor{
		Repo:   r,
		Store:  r,
		Config: cfg,
		Now:    time.Now,
		NewID:  func() string { return uuid.New().String() },
	}
}

func (e Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Executor) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.New().String()
}

// request carries the per-execution context every handler needs.
type request struct {
	Scope domain.Scope
	Desc  action.Descriptor
	Route TableRoute
}

type handlerFunc func(e Executor, ctx context.Context, req request) (string, []action.Result, []action.ChangeEvent, error)

// registry is the closed dispatch table. New action kinds register here and
// nowhere else.
var registry = map[string]handlerFunc{
	action.KindCreateTaskWithCostAndSchedule: Executor.createTaskWithCostAndSchedule,
	action.KindForecastCostImpact:            Executor.forecastCostImpact,
	action.KindUpdateQualitySchedule:         Executor.updateQualitySchedule,
	action.KindDeleteAllTasks:                Executor.deleteAllTasks,
}

// Known reports whether an action kind is registered.
func Known(kind string) bool {
	_, ok := registry[kind]
	return ok
}

// Execute runs one descriptor to completion. Failure is atomic from the
// caller's perspective: no partial result or event list is ever returned.
// Writes already applied by a failing handler are not compensated; handlers
// order their writes most-important-first by convention.
func (e Executor) Execute(ctx context.Context, scope domain.Scope, desc action.Descriptor) (action.Envelope, error) {
	start := e.now()
	handler, ok := registry[desc.Action]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownAction, desc.Action)
		return failure(start, e.now(), err), err
	}
	route, err := e.resolveRoute(ctx, scope.ProjectID)
	if err != nil {
		return failure(start, e.now(), err), err
	}
	message, results, events, err := handler(e, ctx, request{Scope: scope, Desc: desc, Route: route})
	if err != nil {
		return failure(start, e.now(), err), err
	}
	return action.Envelope{
		Success:      true,
		Message:      message,
		Results:      results,
		ChangeEvents: events,
		ExecutionMS:  e.now().Sub(start).Milliseconds(),
	}, nil
}

func failure(start, end time.Time, err error) action.Envelope {
	return action.Envelope{
		Success:     false,
		Error:       err.Error(),
		ExecutionMS: end.Sub(start).Milliseconds(),
	}
}
