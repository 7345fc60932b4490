package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sweetpotato0/coach-qa/llm"
	"github.com/sweetpotato0/coach-qa/message"
)

// Config holds OpenAI provider configuration. Any OpenAI-compatible endpoint
// works through BaseURL.
type Config struct {
	ID      string
	APIKey  string
	BaseURL string
	Model   string
}

// DefaultConfig returns default OpenAI configuration
func DefaultConfig(apiKey string) Config {
	return Config{
		ID:     "openai",
		APIKey: apiKey,
		Model:  "gpt-4o-mini",
	}
}

// Provider implements llm.Backend for the Chat Completions API.
type Provider struct {
	config Config
	client openai.Client
}

var _ llm.Backend = (*Provider)(nil)

// New creates a new OpenAI provider using official SDK. SDK-level retries are
// disabled; llm.Call owns the retry policy.
func New(config Config) *Provider {
	if config.Model == "" {
		config.Model = string(openai.ChatModelGPT4oMini)
	}
	if config.ID == "" {
		config.ID = "openai"
	}

	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		config: config,
		client: openai.NewClient(options...),
	}
}

// ID implements llm.Backend.
func (p *Provider) ID() string { return p.config.ID }

// Complete implements llm.Backend.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case message.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(msg.Text()))
		case message.RoleUser:
			msgs = append(msgs, openai.UserMessage(msg.Text()))
		case message.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(msg.Text()))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(p.config.Model),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Response{}, mapError(err)
	}
	if len(completion.Choices) == 0 {
		return llm.Response{}, llm.ErrEmptyResponse
	}

	return llm.Response{
		Text:  completion.Choices[0].Message.Content,
		Model: completion.Model,
	}, nil
}

func mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &llm.StatusError{Code: apiErr.StatusCode, Err: err}
	}
	return fmt.Errorf("openai: %w", err)
}
