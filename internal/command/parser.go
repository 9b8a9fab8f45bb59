// Package command implements the grammar the language model uses to request
// an action: the literal `EXECUTE_COMMAND:` followed by one brace-balanced
// JSON object, followed by arbitrary trailing prose.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"sitepilot/internal/action"
)

const Marker = "EXECUTE_COMMAND:"

var (
	// ErrNoCommand means the response is a pure conversational turn.
	ErrNoCommand = errors.New("no command present")
	// ErrMalformed means the marker is present but no balanced JSON object
	// follows it.
	ErrMalformed = errors.New("malformed command payload")
)

// Extract returns the raw JSON object following the marker. Trailing prose
// after the closing brace is ignored; a naive to-end-of-string match would
// swallow it.
func Extract(response string) (string, error) {
	idx := strings.Index(response, Marker)
	if idx < 0 {
		return "", ErrNoCommand
	}
	rest := response[idx+len(Marker):]
	start := strings.IndexByte(rest, '{')
	if start < 0 {
		return "", ErrMalformed
	}
	// Anything before the brace must be whitespace, otherwise the marker is
	// being quoted in prose rather than used.
	if strings.TrimSpace(rest[:start]) != "" {
		return "", ErrMalformed
	}
	payload, ok := balancedObject(rest[start:])
	if !ok {
		return "", ErrMalformed
	}
	return payload, nil
}

// balancedObject scans one JSON object from the front of s, tracking brace
// depth while respecting string literals and escapes.
func balancedObject(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// Parse decodes an extracted payload into a descriptor.
func Parse(payload string) (action.Descriptor, error) {
	var desc action.Descriptor
	if err := json.Unmarshal([]byte(payload), &desc); err != nil {
		return desc, fmt.Errorf("parse command: %w", err)
	}
	if strings.TrimSpace(desc.Action) == "" {
		return desc, fmt.Errorf("parse command: action is required")
	}
	return desc, nil
}

// WithoutCommand strips the marker and its JSON object from the response,
// leaving the model's prose for display.
func WithoutCommand(response string) string {
	idx := strings.Index(response, Marker)
	if idx < 0 {
		return response
	}
	before := response[:idx]
	rest := response[idx+len(Marker):]
	start := strings.IndexByte(rest, '{')
	if start >= 0 {
		if payload, ok := balancedObject(rest[start:]); ok {
			return strings.TrimSpace(before + rest[start+len(payload):])
		}
	}
	return strings.TrimSpace(before)
}
