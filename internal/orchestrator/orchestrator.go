// Package orchestrator ties the conversational surface to the action
// executor: it resolves the caller's scope, asks the language model what to
// do, runs the extracted command and fans the outcome out into memory, audit
// and broadcast.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"sitepilot/internal/action"
	"sitepilot/internal/audit"
	"sitepilot/internal/broadcast"
	"sitepilot/internal/command"
	"sitepilot/internal/config"
	"sitepilot/internal/domain"
	"sitepilot/internal/executor"
	"sitepilot/internal/llm"
	"sitepilot/internal/memory"
	"sitepilot/internal/repo"
)

// ErrNoActiveCompany is returned when the caller has no active membership to
// resolve a company scope from.
var ErrNoActiveCompany = errors.New("no active company membership")

// ErrNoProvider is returned from the message path when no language model is
// configured; direct command execution still works.
var ErrNoProvider = errors.New("no language model configured")

type Orchestrator struct {
	Repo      repo.Repo
	Executor  executor.Executor
	Memory    memory.Store
	Audit     audit.Logger
	Broadcast *broadcast.Publisher
	Provider  llm.Provider
	Config    *config.Config
}

func New(exec executor.Executor, provider llm.Provider, pub *broadcast.Publisher, cfg *config.Config) Orchestrator {
	return Orchestrator{
		Repo:      exec.Repo,
		Executor:  exec,
		Memory:    memory.New(exec.Repo),
		Audit:     audit.New(exec.Repo),
		Broadcast: pub,
		Provider:  provider,
		Config:    cfg,
	}
}

// Turn is one inbound conversational message together with the UI context it
// was sent from. CurrentPage is optional and only shapes the prompt.
type Turn struct {
	Message     string
	CurrentPage string
}

// Reply is the conversational answer plus the execution outcome, when a
// command was run.
type Reply struct {
	Text     string           `json:"text"`
	Executed bool             `json:"executed"`
	Action   string           `json:"action,omitempty"`
	Outcome  *action.Envelope `json:"outcome,omitempty"`
}

// Scope resolves the caller's active company membership into an execution
// scope. Project is optional; an empty project id means company-wide.
func (o Orchestrator) Scope(ctx context.Context, userID, projectID string) (domain.Scope, error) {
	m, err := o.Repo.ActiveMembership(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Scope{}, ErrNoActiveCompany
	}
	if err != nil {
		return domain.Scope{}, err
	}
	return domain.Scope{UserID: userID, CompanyID: m.CompanyID, ProjectID: projectID}, nil
}

// HandleMessage runs one conversational turn. The model's prose always comes
// back to the caller; a malformed command never surfaces as an error, it is
// reported inline in the reply text instead.
func (o Orchestrator) HandleMessage(ctx context.Context, scope domain.Scope, turn Turn) (Reply, error) {
	if o.Provider == nil {
		return Reply{}, ErrNoProvider
	}
	response, err := o.Provider.Chat(ctx, o.buildMessages(ctx, scope, turn))
	if err != nil {
		return Reply{}, fmt.Errorf("language model: %w", err)
	}

	payload, err := command.Extract(response)
	if errors.Is(err, command.ErrNoCommand) {
		return Reply{Text: response}, nil
	}
	if err != nil {
		return Reply{Text: command.WithoutCommand(response) + "\n\n(The requested command was malformed and was not executed.)"}, nil
	}
	desc, err := command.Parse(payload)
	if err != nil {
		return Reply{Text: command.WithoutCommand(response) + "\n\n(The requested command could not be parsed and was not executed.)"}, nil
	}

	env := o.ExecuteCommand(ctx, scope, desc)
	text := command.WithoutCommand(response)
	if text != "" {
		text += "\n\n"
	}
	text += summarize(desc, env)
	return Reply{Text: text, Executed: true, Action: desc.Action, Outcome: &env}, nil
}

// ExecuteCommand runs one descriptor and applies the side effects. Side
// effect failures are logged, never returned; the envelope reflects only the
// execution itself.
func (o Orchestrator) ExecuteCommand(ctx context.Context, scope domain.Scope, desc action.Descriptor) action.Envelope {
	env, _ := o.Executor.Execute(ctx, scope, desc)

	now := time.Now
	if o.Executor.Now != nil {
		now = o.Executor.Now
	}
	entry := domain.HistoryEntry{
		Action:    desc.Action,
		Data:      desc.DataMap(),
		Modules:   desc.Modules,
		Timestamp: now().UTC().Format(time.RFC3339),
	}
	if env.Success {
		entry.Results = make([]any, 0, len(env.Results))
		for _, r := range env.Results {
			entry.Results = append(entry.Results, r)
		}
	}
	if err := o.Memory.Record(ctx, scope, entry); err != nil {
		log.Printf("orchestrator: memory record failed: %v", err)
	}
	if err := o.Audit.Log(ctx, scope, desc, env); err != nil {
		log.Printf("orchestrator: %v", err)
	}
	if o.Broadcast != nil {
		o.Broadcast.PublishAll(ctx, env.ChangeEvents)
	}

	return env
}

func (o Orchestrator) buildMessages(ctx context.Context, scope domain.Scope, turn Turn) []llm.Message {
	msgs := []llm.Message{{Role: "system", Content: command.Instructions(nil)}}
	history, err := o.Memory.History(ctx, scope)
	if err != nil {
		log.Printf("orchestrator: memory load failed: %v", err)
	}
	if summary := command.ContextSummary(history, 10); summary != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: summary})
	}
	if turn.CurrentPage != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: "The user is currently on the " + turn.CurrentPage + " page."})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: turn.Message})
	return msgs
}

// summarize renders an envelope as one line of reply text.
func summarize(desc action.Descriptor, env action.Envelope) string {
	if !env.Success {
		return fmt.Sprintf("%s failed: %s", humanAction(desc.Action), env.Error)
	}
	if env.Message != "" {
		return env.Message
	}
	return fmt.Sprintf("%s completed.", humanAction(desc.Action))
}

func humanAction(kind string) string {
	return strings.ReplaceAll(strings.ToLower(kind), "_", " ")
}
