package command_test

import (
	"errors"
	"strings"
	"testing"

	"sitepilot/internal/command"
)

func TestExtractBalancedObject(t *testing.T) {
	response := `Sure, creating that now.
EXECUTE_COMMAND: {"action": "CREATE_TASK_WITH_COST_AND_SCHEDULE", "modules": ["Tasks"], "data": {"title": "Pour {the} slab"}}
Let me know if you need anything else.`
	payload, err := command.Extract(response)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := `{"action": "CREATE_TASK_WITH_COST_AND_SCHEDULE", "modules": ["Tasks"], "data": {"title": "Pour {the} slab"}}`
	if payload != want {
		t.Fatalf("payload = %q, want %q", payload, want)
	}

	desc, err := command.Parse(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if desc.Action != "CREATE_TASK_WITH_COST_AND_SCHEDULE" {
		t.Fatalf("action = %q", desc.Action)
	}
	if len(desc.Modules) != 1 || desc.Modules[0] != "Tasks" {
		t.Fatalf("modules = %v", desc.Modules)
	}
}

func TestExtractBracesInsideStrings(t *testing.T) {
	response := `EXECUTE_COMMAND: {"action": "X", "data": {"note": "escaped \" and } inside"}} trailing`
	payload, err := command.Extract(response)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.HasSuffix(payload, `inside"}}`) {
		t.Fatalf("payload truncated wrong: %q", payload)
	}
}

func TestExtractNoCommand(t *testing.T) {
	_, err := command.Extract("The budget looks fine so far.")
	if !errors.Is(err, command.ErrNoCommand) {
		t.Fatalf("expected ErrNoCommand, got %v", err)
	}
}

func TestExtractUnbalanced(t *testing.T) {
	cases := []string{
		`EXECUTE_COMMAND: {"action": "X", "data": {"title": "oops"`,
		`EXECUTE_COMMAND: no json here`,
		`the model wrote EXECUTE_COMMAND: but as prose {"action": "X"}`,
	}
	for _, c := range cases {
		if _, err := command.Extract(c); !errors.Is(err, command.ErrMalformed) {
			t.Fatalf("%q: expected ErrMalformed, got %v", c, err)
		}
	}
}

func TestParseRequiresAction(t *testing.T) {
	if _, err := command.Parse(`{"modules": ["Tasks"]}`); err == nil {
		t.Fatalf("expected error for missing action")
	}
	if _, err := command.Parse(`{"action": "   "}`); err == nil {
		t.Fatalf("expected error for blank action")
	}
	if _, err := command.Parse(`not json`); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}

func TestWithoutCommand(t *testing.T) {
	response := "Done!\nEXECUTE_COMMAND: {\"action\": \"X\"}\n"
	got := command.WithoutCommand(response)
	if got != "Done!" {
		t.Fatalf("got %q", got)
	}
	if got := command.WithoutCommand("no command"); got != "no command" {
		t.Fatalf("passthrough broken: %q", got)
	}
}
