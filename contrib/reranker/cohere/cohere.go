package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sweetpotato0/coach-qa/pkg/logging"
	"github.com/sweetpotato0/coach-qa/rag/document"
	"github.com/sweetpotato0/coach-qa/rag/reranker"
)

const defaultEndpoint = "https://api.cohere.com/v1/rerank"

// Client implements Cohere's ReRank API.
type Client struct {
	apiKey     string
	model      string
	maxDocs    int
	httpClient *http.Client
	endpoint   string
	fallback   reranker.Reranker
	rerankOpts []reranker.Option
	cfg        reranker.Config
	logger     *slog.Logger
}

var _ reranker.Reranker = (*Client)(nil)

// Option customises the Cohere reranker client.
type Option func(*Client)

// WithModel overrides the default Cohere model (rerank-english-v3.0).
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMaxDocuments limits how many chunks are sent per call.
func WithMaxDocuments(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

// WithHTTPClient swaps the HTTP client (useful for timeouts or proxies).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithEndpoint overrides the Cohere API endpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithFallback specifies the reranker used when Cohere is unavailable.
func WithFallback(r reranker.Reranker) Option {
	return func(c *Client) {
		if r != nil {
			c.fallback = r
		}
	}
}

// WithRerankOptions sets the top-K and minimum score cut-offs.
func WithRerankOptions(opts ...reranker.Option) Option {
	return func(c *Client) {
		c.rerankOpts = append(c.rerankOpts, opts...)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a new Cohere-based reranker. Without an explicit fallback it
// falls back to the lexical reranker configured with the same cut-offs.
func New(apiKey string, opts ...Option) *Client {
	client := &Client{
		apiKey:     apiKey,
		model:      "rerank-english-v3.0",
		maxDocs:    50,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		endpoint:   defaultEndpoint,
	}
	for _, opt := range opts {
		opt(client)
	}
	client.cfg = reranker.NewConfig(client.rerankOpts...)
	if client.fallback == nil {
		client.fallback = reranker.NewLexical(client.rerankOpts...)
	}
	client.logger = logging.Or(client.logger, "reranker.cohere")
	return client
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank implements reranker.Reranker. Any API failure degrades to the
// fallback reranker; only context cancellation is returned as an error.
func (c *Client) Rerank(ctx context.Context, question string, chunks []document.Chunk) (reranker.Result, error) {
	if len(chunks) == 0 {
		return reranker.Result{}, nil
	}
	if strings.TrimSpace(question) == "" || c.apiKey == "" {
		return c.fallback.Rerank(ctx, question, chunks)
	}

	limit := len(chunks)
	if limit > c.maxDocs {
		limit = c.maxDocs
	}
	docTexts := make([]string, limit)
	for i := 0; i < limit; i++ {
		docTexts[i] = chunks[i].SearchText()
	}

	scored, err := c.call(ctx, question, docTexts, chunks[:limit])
	if err != nil {
		if ctx.Err() != nil {
			return reranker.Result{}, ctx.Err()
		}
		c.logger.Warn("cohere rerank failed, using fallback", "error", err)
		return c.fallback.Rerank(ctx, question, chunks)
	}
	return reranker.Select(scored, c.cfg), nil
}

func (c *Client) call(ctx context.Context, question string, docTexts []string, chunks []document.Chunk) ([]document.Scored, error) {
	reqBody, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     question,
		Documents: docTexts,
		TopN:      len(docTexts),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cohere rerank failed: status %d", resp.StatusCode)
	}

	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decode cohere response: %w", err)
	}

	scored := make([]document.Scored, 0, len(rr.Results))
	for _, res := range rr.Results {
		if res.Index < 0 || res.Index >= len(chunks) {
			continue
		}
		scored = append(scored, document.Scored{Chunk: chunks[res.Index], Score: res.RelevanceScore})
	}
	if len(scored) == 0 {
		return nil, fmt.Errorf("cohere returned no results")
	}
	return scored, nil
}
