package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sweetpotato0/coach-qa/llm"
	"github.com/sweetpotato0/coach-qa/message"
)

const cohereAPIURL = "https://api.cohere.ai/v1/chat"

// Config holds Cohere provider configuration
type Config struct {
	ID       string
	APIKey   string
	Model    string
	Endpoint string
}

// DefaultConfig returns default Cohere configuration
func DefaultConfig(apiKey string) Config {
	return Config{
		ID:       "cohere",
		APIKey:   apiKey,
		Model:    "command-r",
		Endpoint: cohereAPIURL,
	}
}

// Provider implements llm.Backend over Cohere's chat endpoint.
type Provider struct {
	config Config
	client *http.Client
}

var _ llm.Backend = (*Provider)(nil)

// New creates a new Cohere provider. Timeouts come from the request context.
func New(config Config) *Provider {
	def := DefaultConfig(config.APIKey)
	if config.ID == "" {
		config.ID = def.ID
	}
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.Endpoint == "" {
		config.Endpoint = def.Endpoint
	}
	return &Provider{
		config: config,
		client: &http.Client{},
	}
}

type chatTurn struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

type chatRequest struct {
	Model       string     `json:"model"`
	Message     string     `json:"message"`
	Preamble    string     `json:"preamble,omitempty"`
	ChatHistory []chatTurn `json:"chat_history,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Text    string `json:"text"`
	Message string `json:"message,omitempty"`
}

// ID implements llm.Backend.
func (p *Provider) ID() string { return p.config.ID }

// Complete implements llm.Backend. The last user message is sent as the
// prompt; earlier turns become chat history.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if p.config.APIKey == "" {
		return llm.Response{}, fmt.Errorf("cohere API key not configured")
	}

	payload := chatRequest{
		Model:     p.config.Model,
		Preamble:  req.System,
		MaxTokens: req.MaxTokens,
	}
	for i, msg := range req.Messages {
		if i == len(req.Messages)-1 && msg.Role == message.RoleUser {
			payload.Message = msg.Text()
			break
		}
		switch msg.Role {
		case message.RoleUser:
			payload.ChatHistory = append(payload.ChatHistory, chatTurn{Role: "USER", Message: msg.Text()})
		case message.RoleAssistant:
			payload.ChatHistory = append(payload.ChatHistory, chatTurn{Role: "CHATBOT", Message: msg.Text()})
		}
	}
	if payload.Message == "" {
		return llm.Response{}, fmt.Errorf("cohere: request must end with a user message")
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return llm.Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return llm.Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.config.APIKey))
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return llm.Response{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return llm.Response{}, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return llm.Response{}, &llm.StatusError{
			Code: httpResp.StatusCode,
			Err:  fmt.Errorf("cohere API error: %s", string(respBody)),
		}
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return llm.Response{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return llm.Response{Text: resp.Text, Model: p.config.Model}, nil
}
