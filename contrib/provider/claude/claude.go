package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sweetpotato0/coach-qa/llm"
	"github.com/sweetpotato0/coach-qa/message"
)

// Config holds Claude provider configuration
type Config struct {
	ID        string
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int64
}

// DefaultConfig returns default Claude configuration
func DefaultConfig(apiKey string) Config {
	return Config{
		ID:        "claude",
		APIKey:    apiKey,
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
	}
}

// Provider implements llm.Backend for the Anthropic Messages API.
type Provider struct {
	config Config
	client anthropic.Client
}

var _ llm.Backend = (*Provider)(nil)

// New creates a new Claude provider using official SDK
func New(config Config) *Provider {
	def := DefaultConfig(config.APIKey)
	if config.ID == "" {
		config.ID = def.ID
	}
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = def.MaxTokens
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
		client: anthropic.NewClient(options...),
	}
}

// ID implements llm.Backend.
func (p *Provider) ID() string { return p.config.ID }

// Complete implements llm.Backend.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	systemPrompts := []string{}
	if req.System != "" {
		systemPrompts = append(systemPrompts, req.System)
	}
	conversation := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case message.RoleSystem:
			systemPrompts = append(systemPrompts, msg.Text())
		case message.RoleUser:
			conversation = append(conversation, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text())))
		case message.RoleAssistant:
			conversation = append(conversation, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text())))
		}
	}

	maxTokens := p.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		Messages:  conversation,
		MaxTokens: maxTokens,
	}
	if len(systemPrompts) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(systemPrompts, "\n")}}
	}

	apiMessage, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Response{}, mapError(err)
	}

	var text strings.Builder
	for _, block := range apiMessage.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return llm.Response{Text: text.String(), Model: string(apiMessage.Model)}, nil
}

func mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &llm.StatusError{Code: apiErr.StatusCode, Err: err}
	}
	return fmt.Errorf("claude: %w", err)
}
