// Package server exposes the agent over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"sitepilot/internal/action"
	"sitepilot/internal/orchestrator"
	"sitepilot/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Orchestrator orchestrator.Orchestrator
	BasePath     string
	Auth         AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"message is required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the SitePilot API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newCORSMiddleware())
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Orchestrator.Repo))
	hcfg := huma.DefaultConfig("SitePilot API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerAgent(group, cfg.Orchestrator)
	registerMemory(group, cfg.Orchestrator)
	registerAudit(group, cfg.Orchestrator)
	registerProjects(group, cfg.Orchestrator)
	registerTasks(group, cfg.Orchestrator)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, orchestrator.ErrNoActiveCompany) {
		return newAPIError(http.StatusForbidden, "no_active_company", err.Error(), nil)
	}
	if errors.Is(err, orchestrator.ErrNoProvider) {
		return newAPIError(http.StatusServiceUnavailable, "no_provider", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerAgent(api huma.API, o orchestrator.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "agent-message",
		Method:      http.MethodPost,
		Path:        "/agent/message",
		Summary:     "Send a message to the agent",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body AgentMessageRequest `json:"body"`
	}) (*struct {
		Body orchestrator.Reply `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Message) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "message is required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var projectID, currentPage string
		if input.Body.Context != nil {
			projectID = input.Body.Context.ProjectID
			currentPage = input.Body.Context.CurrentPage
		}
		scope, err := o.Scope(ctx, userID, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		reply, err := o.HandleMessage(ctx, scope, orchestrator.Turn{Message: input.Body.Message, CurrentPage: currentPage})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body orchestrator.Reply `json:"body"`
		}{Body: reply}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-command",
		Method:      http.MethodPost,
		Path:        "/agent/command",
		Summary:     "Execute a command directly",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body AgentCommandRequest `json:"body"`
	}) (*struct {
		Body action.Envelope `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Action) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "action is required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		scope, err := o.Scope(ctx, userID, input.Body.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		desc := action.Descriptor{
			Action:  input.Body.Action,
			Modules: input.Body.Modules,
			Data:    input.Body.Data,
		}
		env := o.ExecuteCommand(ctx, scope, desc)
		return &struct {
			Body action.Envelope `json:"body"`
		}{Body: env}, nil
	})
}

func registerMemory(api huma.API, o orchestrator.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "agent-memory",
		Method:      http.MethodGet,
		Path:        "/agent/memory",
		Summary:     "Conversation memory",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
	}) (*struct {
		Body MemoryResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		scope, err := o.Scope(ctx, userID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		history, err := o.Memory.History(ctx, scope)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MemoryResponse `json:"body"`
		}{Body: MemoryResponse{Scope: scope, History: history}}, nil
	})
}

func registerAudit(api huma.API, o orchestrator.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "audit-list",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Recent audit entries",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body AuditResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		scope, err := o.Scope(ctx, userID, "")
		if err != nil {
			return nil, handleError(err)
		}
		entries, err := o.Audit.Recent(ctx, scope.CompanyID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuditResponse `json:"body"`
		}{Body: AuditResponse{Items: entries}}, nil
	})
}

func registerProjects(api huma.API, o orchestrator.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ProjectsResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		scope, err := o.Scope(ctx, userID, "")
		if err != nil {
			return nil, handleError(err)
		}
		items, err := o.Repo.ListProjects(ctx, scope.CompanyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectsResponse `json:"body"`
		}{Body: ProjectsResponse{Items: items}}, nil
	})
}

func registerTasks(api huma.API, o orchestrator.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body TasksResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		scope, err := o.Scope(ctx, userID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		route, err := o.Executor.Route(ctx, scope.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := o.Repo.ListTasks(ctx, route.TaskTable, scope.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TasksResponse `json:"body"`
		}{Body: TasksResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body action.Envelope `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Title) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		scope, err := o.Scope(ctx, userID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		data, err := json.Marshal(input.Body)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid body", map[string]any{"error": err.Error()})
		}
		modules := []string{action.ModuleTasks}
		if input.Body.Budget != nil {
			modules = append(modules, action.ModuleCost)
		}
		if input.Body.DueDate != nil {
			modules = append(modules, action.ModuleTime)
		}
		if input.Body.AssignedTo != nil {
			modules = append(modules, action.ModuleTeam)
		}
		env := o.ExecuteCommand(ctx, scope, action.Descriptor{
			Action:  action.KindCreateTaskWithCostAndSchedule,
			Modules: modules,
			Data:    data,
		})
		if !env.Success {
			return nil, handleError(errors.New(env.Error))
		}
		return &struct {
			Body action.Envelope `json:"body"`
		}{Body: env}, nil
	})
}
