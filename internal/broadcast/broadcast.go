// Package broadcast fans change events out to live subscribers. Delivery is
// best-effort: no ordering across events, no acknowledgement, no retry.
package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"sitepilot/internal/action"
	"sitepilot/internal/config"
)

const defaultTimeout = 5 * time.Second

type Publisher struct {
	targets      []config.BroadcastTarget
	client       *http.Client
	newChannelID func() string
	now          func() time.Time
}

func New(targets []config.BroadcastTarget) *Publisher {
	return &Publisher{
		targets:      targets,
		client:       &http.Client{Timeout: defaultTimeout},
		newChannelID: func() string { return uuid.New().String() },
		now:          time.Now,
	}
}

// NewNop returns a publisher with no targets; Publish becomes a no-op.
func NewNop() *Publisher {
	return New(nil)
}

type notification struct {
	Channel   string         `json:"channel"`
	Table     string         `json:"table"`
	Operation string         `json:"operation"`
	Data      map[string]any `json:"data"`
	TS        string         `json:"ts"`
}

// Publish sends one notification per target for the event, each on a fresh
// ephemeral channel. Failures are logged and never propagated.
func (p *Publisher) Publish(ctx context.Context, evt action.ChangeEvent) {
	for _, target := range p.targets {
		if target.Enabled != nil && !*target.Enabled {
			continue
		}
		if strings.TrimSpace(target.URL) == "" {
			continue
		}
		if err := p.post(ctx, target, evt); err != nil {
			log.Printf("broadcast: deliver %s %s to %s failed: %v", evt.Operation, evt.Table, target.URL, err)
		}
	}
}

// PublishAll delivers every event from one execution.
func (p *Publisher) PublishAll(ctx context.Context, events []action.ChangeEvent) {
	for _, evt := range events {
		p.Publish(ctx, evt)
	}
}

func (p *Publisher) post(ctx context.Context, target config.BroadcastTarget, evt action.ChangeEvent) error {
	channel := p.newChannelID()
	body := notification{
		Channel:   channel,
		Table:     evt.Table,
		Operation: evt.Operation,
		Data:      evt.Data,
		TS:        p.now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	client := p.client
	if target.TimeoutSeconds > 0 {
		timeout := time.Duration(target.TimeoutSeconds) * time.Second
		if timeout != client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sitepilot-Event", evt.Operation)
	req.Header.Set("X-Sitepilot-Channel", channel)
	if strings.TrimSpace(target.Secret) != "" {
		req.Header.Set("X-Sitepilot-Secret", target.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
