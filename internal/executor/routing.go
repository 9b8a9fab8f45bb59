package executor

import (
	"context"
	"errors"

	"sitepilot/internal/repo"
)

// TableRoute is the schema-variant routing decision for one execution. It is
// resolved once at the top of Execute and threaded through the handlers, so
// no handler compares project ids inline.
type TableRoute struct {
	Variant   string
	TaskTable string
}

const (
	VariantStandard = "standard"
	VariantLegacy   = "legacy"
)

func routeForVariant(variant string) TableRoute {
	if variant == VariantLegacy {
		return TableRoute{Variant: VariantLegacy, TaskTable: "project_tasks"}
	}
	return TableRoute{Variant: VariantStandard, TaskTable: "tasks"}
}

// Route exposes the routing decision for read paths that need the same
// task table an execution would use.
func (e Executor) Route(ctx context.Context, projectID string) (TableRoute, error) {
	return e.resolveRoute(ctx, projectID)
}

// resolveRoute picks the task-table variant for the scoped project. A
// sitepilot.yml override wins over the project row; company-wide actions
// (no project) default to the standard table, except bulk deletes which
// clear both variants themselves.
func (e Executor) resolveRoute(ctx context.Context, projectID string) (TableRoute, error) {
	if projectID == "" {
		return routeForVariant(VariantStandard), nil
	}
	if e.Config != nil {
		if variant, ok := e.Config.Routing.Variants[projectID]; ok {
			return routeForVariant(variant), nil
		}
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return routeForVariant(VariantStandard), nil
		}
		return TableRoute{}, err
	}
	return routeForVariant(p.SchemaVariant), nil
}
