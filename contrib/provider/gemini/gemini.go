package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sweetpotato0/coach-qa/llm"
	"github.com/sweetpotato0/coach-qa/message"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Config holds Gemini provider configuration
type Config struct {
	ID     string
	APIKey string
	Model  string
}

// DefaultConfig returns default Gemini configuration
func DefaultConfig(apiKey string) Config {
	return Config{
		ID:     "gemini",
		APIKey: apiKey,
		Model:  "gemini-1.5-flash",
	}
}

// Provider implements llm.Backend for Google Gemini.
type Provider struct {
	config Config
	client *genai.Client
}

var _ llm.Backend = (*Provider)(nil)

// New creates a Gemini client. Close releases its connection.
func New(ctx context.Context, config Config) (*Provider, error) {
	def := DefaultConfig(config.APIKey)
	if config.ID == "" {
		config.ID = def.ID
	}
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Provider{config: config, client: client}, nil
}

// Close releases the client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// ID implements llm.Backend.
func (p *Provider) ID() string { return p.config.ID }

// Complete implements llm.Backend. Earlier turns become chat history and the
// final user message is sent.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := p.client.GenerativeModel(p.config.Model)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	history, last := splitHistory(req.Messages)
	if last == "" {
		return llm.Response{}, fmt.Errorf("gemini: request must end with a user message")
	}
	session := model.StartChat()
	session.History = history

	resp, err := session.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return llm.Response{}, mapError(err)
	}
	return llm.Response{Text: responseText(resp), Model: p.config.Model}, nil
}

func splitHistory(msgs []message.Message) ([]*genai.Content, string) {
	var history []*genai.Content
	for i, msg := range msgs {
		if i == len(msgs)-1 && msg.Role == message.RoleUser {
			return history, msg.Text()
		}
		role := "user"
		if msg.Role == message.RoleAssistant {
			role = "model"
		} else if msg.Role == message.RoleSystem {
			continue
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Text())}})
	}
	return history, ""
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}

func mapError(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return &llm.StatusError{Code: gErr.Code, Err: err}
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.Internal:
			return &llm.StatusError{Code: 503, Err: err}
		case codes.DeadlineExceeded:
			return fmt.Errorf("gemini: %w: %v", context.DeadlineExceeded, err)
		}
	}
	return fmt.Errorf("gemini: %w", err)
}
