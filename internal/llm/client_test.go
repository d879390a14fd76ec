package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/feichai0017/legal-rag/internal/models"
)

func TestStreamCompleteForwardsDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("Authorization = %q", got)
		}
		var body chatBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if !body.Stream || body.Model != "gpt-test" {
			t.Errorf("body = %+v", body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	f := NewFactory(NewClient(Provider{BaseURL: srv.URL, APIKey: "key"}), nil, "")
	model := f.Primary(ModelConfig{ModelName: "gpt-test", Streaming: true})

	var chunks []string
	full, err := model.Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, func(s string) error {
		chunks = append(chunks, s)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if full != "Hello" || strings.Join(chunks, "|") != "Hel|lo" {
		t.Fatalf("full = %q chunks = %v", full, chunks)
	}
}

func TestStreamOutlivesClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for _, part := range []string{"slow", " but", " complete"} {
			time.Sleep(40 * time.Millisecond)
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient(Provider{BaseURL: srv.URL, APIKey: "key", Timeout: 60 * time.Millisecond})
	full, err := client.StreamComplete(context.Background(), ModelConfig{ModelName: "gpt-test", Streaming: true},
		[]Message{{Role: RoleUser, Content: "hi"}}, func(string) error { return nil })
	if err != nil {
		t.Fatalf("StreamComplete: %v", err)
	}
	if full != "slow but complete" {
		t.Fatalf("full = %q", full)
	}
}

func TestCompleteHonorsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient(Provider{BaseURL: srv.URL, APIKey: "key", Timeout: 50 * time.Millisecond})
	start := time.Now()
	if _, err := client.Complete(context.Background(), ModelConfig{ModelName: "gpt-test"}, []Message{{Role: RoleUser, Content: "hi"}}); err == nil {
		t.Fatal("Complete succeeded past its timeout")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Complete took %v", elapsed)
	}
}

func TestRateLimitIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	c := NewClient(Provider{BaseURL: srv.URL, APIKey: "key"})
	_, err := c.Complete(context.Background(), ModelConfig{ModelName: "m"}, nil)
	var rl *models.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rl.RetryAfter != 2*time.Second {
		t.Fatalf("RetryAfter = %v", rl.RetryAfter)
	}
}

func TestNonStreamingModelEmitsOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"whole answer"}}]}`))
	}))
	defer srv.Close()

	f := NewFactory(NewClient(Provider{BaseURL: srv.URL}), nil, "")
	calls := 0
	full, err := f.Primary(ModelConfig{ModelName: "m"}).Stream(context.Background(), nil, func(s string) error {
		calls++
		return nil
	})
	if err != nil || full != "whole answer" {
		t.Fatalf("full = %q err = %v", full, err)
	}
	if calls != 1 {
		t.Fatalf("want=1 got=%d", calls)
	}
}

func TestSecondaryUsesOverrideModel(t *testing.T) {
	f := NewFactory(NewClient(Provider{}), NewClient(Provider{AuthHeader: "api-key"}), "gpt-35-deploy")
	if got := f.Secondary(ModelConfig{ModelName: "gpt-4"}).Name(); got != "gpt-35-deploy" {
		t.Fatalf("Name = %q", got)
	}
	if got := f.Primary(ModelConfig{ModelName: "gpt-4"}).Name(); got != "gpt-4" {
		t.Fatalf("Name = %q", got)
	}
}

func TestEmbedKeepsInputOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[2]},{"index":0,"embedding":[1]}]}`))
	}))
	defer srv.Close()

	e := NewEmbedder(NewClient(Provider{BaseURL: srv.URL}), "text-embedding-3-small")
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Fatalf("vecs = %v", vecs)
	}
}
