package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sweetpotato0/coach-qa/llm"
)

func TestCompleteSendsSystemAndUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			MaxCompletionTokens int `json:"max_completion_tokens"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Model != "gpt-test" || len(body.Messages) != 2 || body.Messages[0].Role != "system" || body.MaxCompletionTokens != 64 {
			t.Errorf("unexpected request %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Use the wall."}}]}`))
	}))
	defer srv.Close()

	p := New(Config{ID: "primary", APIKey: "k", BaseURL: srv.URL + "/", Model: "gpt-test"})
	resp, err := p.Complete(context.Background(), llm.Prompt("be brief", "passing drill?", 64))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "Use the wall." || p.ID() != "primary" {
		t.Fatalf("resp = %+v, id = %s", resp, p.ID())
	}
}

func TestCompleteMapsStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	p := New(Config{APIKey: "k", BaseURL: srv.URL + "/"})
	_, err := p.Complete(context.Background(), llm.Prompt("", "hi", 10))
	var se *llm.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want StatusError 503", err)
	}
	if !llm.IsTransient(err) {
		t.Fatal("503 should be transient")
	}
}
