// Package llm abstracts the external language model behind a small provider
// interface so the orchestrator can be tested without network calls.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"sitepilot/internal/config"
)

type Message struct {
	Role    string
	Content string
}

type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Name() string
}

// NewProvider builds the OpenAI-backed provider from config. Returns nil when
// no API key is configured; callers treat a nil provider as
// direct-command-only mode.
func NewProvider(cfg config.OpenAIConfig) Provider {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	client := openai.NewClient(opts...)
	return &openAIProvider{client: client, model: model}
}

type openAIProvider struct {
	client openai.Client
	model  string
}

func (o *openAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{Model: openai.ChatModel(o.model)}
	for _, msg := range messages {
		switch strings.ToLower(msg.Role) {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(msg.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(msg.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(msg.Content))
		}
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *openAIProvider) Name() string {
	return "openai"
}
