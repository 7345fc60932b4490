package claude

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sweetpotato0/coach-qa/llm"
)

func TestCompleteJoinsTextBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			System []struct {
				Text string `json:"text"`
			} `json:"system"`
			MaxTokens int `json:"max_tokens"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.System) != 1 || body.System[0].Text != "coach voice" || body.MaxTokens != 200 {
			t.Errorf("unexpected body %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"Keep your "},{"type":"text","text":"eyes up."}],
			"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":2}}`))
	}))
	defer srv.Close()

	p := New(Config{APIKey: "k", BaseURL: srv.URL + "/", Model: "claude-test"})
	resp, err := p.Complete(context.Background(), llm.Prompt("coach voice", "rewrite", 200))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "Keep your eyes up." || p.ID() != "claude" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestCompleteMapsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer srv.Close()

	p := New(Config{APIKey: "k", BaseURL: srv.URL + "/"})
	_, err := p.Complete(context.Background(), llm.Prompt("", "hi", 10))
	var se *llm.StatusError
	if !errors.As(err, &se) || se.Code != 529 || !llm.IsTransient(err) {
		t.Fatalf("err = %v", err)
	}
}
