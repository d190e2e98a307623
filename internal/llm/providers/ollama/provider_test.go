package ollamaprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ponder/internal/llm/core"
)

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	p, err := New(Config{
		Host:       server.URL,
		EmbedModel: "nomic-embed-text",
		Retry:      core.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func chatRequest() *core.Request {
	temp := 0.2
	return &core.Request{
		Model:       "llama3.2",
		System:      "Be brief.",
		Messages:    []core.Message{{Role: core.RoleUser, Content: "Should I move?"}},
		MaxTokens:   256,
		Temperature: &temp,
	}
}

func TestStreamEmitsDeltasUsageAndDone(t *testing.T) {
	t.Parallel()

	var body map[string]any
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = fmt.Fprintln(w, `{"model":"llama3.2","message":{"role":"assistant","content":"What "},"done":false}`)
		_, _ = fmt.Fprintln(w, `{"model":"llama3.2","message":{"role":"assistant","content":"matters most?"},"done":false}`)
		_, _ = fmt.Fprintln(w, `{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":12,"eval_count":5}`)
	}))

	stream, err := p.Stream(context.Background(), chatRequest())
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	text, done, err := core.Collect(stream)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if text != "What matters most?" {
		t.Fatalf("text = %q", text)
	}
	if done.Reason != core.StopReasonStop || done.Usage.InputTokens != 12 || done.Usage.OutputTokens != 5 {
		t.Fatalf("done = %#v", done)
	}

	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v, want system + user", body["messages"])
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "Be brief." {
		t.Fatalf("system message = %v", first)
	}
	options, _ := body["options"].(map[string]any)
	if options["num_predict"] != float64(256) || options["temperature"] != 0.2 {
		t.Fatalf("options = %v", options)
	}
}

func TestStreamRetriesServerErrorsBeforeOutput(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintln(w, `{"error":"model loading"}`)
			return
		}
		_, _ = fmt.Fprintln(w, `{"message":{"role":"assistant","content":"ok"},"done":true,"done_reason":"stop"}`)
	}))

	stream, err := p.Stream(context.Background(), chatRequest())
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	text, _, err := core.Collect(stream)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if text != "ok" || calls.Load() != 2 {
		t.Fatalf("text = %q after %d calls", text, calls.Load())
	}
}

func TestStreamCancelEndsWithAbortedError(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		_, _ = fmt.Fprintln(w, `{"message":{"role":"assistant","content":"partial"},"done":false}`)
		if flusher != nil {
			flusher.Flush()
		}
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := p.Stream(ctx, chatRequest())
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var sawAborted bool
	for ev := range stream {
		if ev.Type == core.EventTextDelta {
			cancel()
		}
		if ev.Type == core.EventError && ev.Done != nil && ev.Done.Reason == core.StopReasonAborted {
			sawAborted = true
		}
	}
	if !sawAborted {
		t.Fatal("expected aborted terminal error after cancellation")
	}
}

func TestStreamRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, http.NotFoundHandler())
	if _, err := p.Stream(context.Background(), &core.Request{Model: "m"}); !errors.Is(err, core.ErrInvalidRequest) {
		t.Fatalf("Stream() error = %v, want %v", err, core.ErrInvalidRequest)
	}
}

func TestPingAndEmbed(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(http.StatusOK)
		case "/api/embed":
			var req struct {
				Model string   `json:"model"`
				Input []string `json:"input"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Model != "nomic-embed-text" {
				t.Errorf("embed model = %q", req.Model)
			}
			vectors := make([][]float32, len(req.Input))
			for i := range vectors {
				vectors[i] = []float32{float32(i), 1}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": vectors})
		default:
			http.NotFound(w, r)
		}
	}))

	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	vectors, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 2 || vectors[1][0] != 1 {
		t.Fatalf("vectors = %v", vectors)
	}
}

func TestPingUnreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	host := server.URL
	server.Close()

	p, err := New(Config{Host: host})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Ping(context.Background()); !errors.Is(err, core.ErrUnreachable) {
		t.Fatalf("Ping() error = %v, want %v", err, core.ErrUnreachable)
	}
}
