package cohere

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sweetpotato0/coach-qa/rag/document"
	"github.com/sweetpotato0/coach-qa/rag/reranker"
)

type stubReranker struct {
	called bool
}

func (s *stubReranker) Rerank(ctx context.Context, q string, c []document.Chunk) (reranker.Result, error) {
	s.called = true
	return reranker.Result{
		Items:      []document.Scored{{Chunk: c[0], Score: 0.5}},
		Confidence: 0.5,
	}, nil
}

func chunks() []document.Chunk {
	now := time.Now()
	return []document.Chunk{
		{ID: "chunk-1", Text: "Wall passing drill", CreatedAt: now},
		{ID: "chunk-2", Text: "Shooting technique", CreatedAt: now},
	}
}

func TestCohereRerankerFallsBackWithoutKey(t *testing.T) {
	fallback := &stubReranker{}
	client := New("", WithFallback(fallback))

	res, err := client.Rerank(context.Background(), "passing drill", chunks())
	if err != nil {
		t.Fatalf("Rerank error: %v", err)
	}
	if len(res.Items) != 1 || !fallback.called {
		t.Fatalf("expected fallback path")
	}
}

func TestCohereRerankerUsesAPIScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing auth header")
		}
		var req rerankRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Query != "passing drill" || len(req.Documents) != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"results":[{"index":1,"relevance_score":0.05},{"index":0,"relevance_score":0.92}]}`))
	}))
	defer srv.Close()

	fallback := &stubReranker{}
	client := New("key",
		WithEndpoint(srv.URL),
		WithFallback(fallback),
		WithRerankOptions(reranker.WithMinScore(0.1)),
	)
	res, err := client.Rerank(context.Background(), "passing drill", chunks())
	if err != nil {
		t.Fatalf("Rerank error: %v", err)
	}
	if fallback.called {
		t.Fatal("fallback should not run on success")
	}
	if len(res.Items) != 1 || res.Items[0].Chunk.ID != "chunk-1" || res.Confidence != 0.92 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCohereRerankerFallsBackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fallback := &stubReranker{}
	client := New("key", WithEndpoint(srv.URL), WithFallback(fallback))
	if _, err := client.Rerank(context.Background(), "passing drill", chunks()); err != nil {
		t.Fatalf("Rerank error: %v", err)
	}
	if !fallback.called {
		t.Fatal("expected fallback after 503")
	}
}
