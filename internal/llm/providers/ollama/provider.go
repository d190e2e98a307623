// Package ollamaprovider streams chat completions and embeddings from a local
// Ollama server.
package ollamaprovider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"ponder/internal/llm/core"
)

const defaultHost = "http://127.0.0.1:11434"

// Config configures the Ollama provider.
type Config struct {
	Host       string
	EmbedModel string
	HTTPClient *http.Client
	Retry      core.RetryPolicy
}

// Provider wraps the official Ollama API client.
type Provider struct {
	embedModel string
	retry      core.RetryPolicy
	client     *api.Client
}

// New constructs a provider for cfg.Host.
func New(cfg Config) (*Provider, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		host = defaultHost
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host %q: %w", host, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: ollama host %q must include scheme and host", core.ErrInvalidRequest, host)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// No overall timeout: streams stay open for the whole generation.
		httpClient = &http.Client{}
	}

	return &Provider{
		embedModel: strings.TrimSpace(cfg.EmbedModel),
		retry:      core.NormalizeRetryPolicy(cfg.Retry),
		client:     api.NewClient(base, httpClient),
	}, nil
}

// Ping reports whether the server answers a heartbeat.
func (p *Provider) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := p.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("%w: %w", core.ErrUnreachable, err)
	}
	return nil
}

// Embed returns one vector per input using the configured embedding model.
func (p *Provider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if p.embedModel == "" {
		return nil, fmt.Errorf("%w: embedding model is not configured", core.ErrInvalidRequest)
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	resp, err := p.client.Embed(ctx, &api.EmbedRequest{Model: p.embedModel, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(resp.Embeddings), len(inputs))
	}
	return resp.Embeddings, nil
}

// Stream executes one /api/chat request and emits canonical events.
func (p *Provider) Stream(ctx context.Context, req *core.Request) (<-chan core.Event, error) {
	if p == nil {
		return nil, errors.New("ollama provider is nil")
	}
	if err := core.ValidateRequest(req); err != nil {
		return nil, err
	}

	chatReq := toChatRequest(req)
	retry := core.MergeRetryPolicy(p.retry, req.Retry)
	events := make(chan core.Event, 1)

	go func() {
		defer close(events)
		state := &streamState{}
		err := core.RetryStream(ctx, retry, func() bool { return state.visible }, func() error {
			return p.streamOnce(ctx, chatReq, events, state)
		})
		if err != nil {
			core.SendTerminalEvent(events, core.ErrorEvent(fmt.Errorf("ollama stream: %w", err), state.usage))
		}
	}()

	return events, nil
}

type streamState struct {
	usage        core.Usage
	visible      bool
	startEmitted bool
	done         bool
}

func (p *Provider) streamOnce(ctx context.Context, req *api.ChatRequest, events chan<- core.Event, state *streamState) error {
	if !state.startEmitted {
		if err := core.SendEvent(ctx, events, core.Event{Type: core.EventStart}); err != nil {
			return err
		}
		state.startEmitted = true
	}

	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			state.visible = true
			if err := core.SendEvent(ctx, events, core.Event{Type: core.EventTextDelta, TextDelta: resp.Message.Content}); err != nil {
				return err
			}
		}
		if !resp.Done {
			return nil
		}

		state.usage = core.Usage{InputTokens: resp.PromptEvalCount, OutputTokens: resp.EvalCount}
		if err := core.SendEvent(ctx, events, core.Event{Type: core.EventUsage, Usage: state.usage.Clone()}); err != nil {
			return err
		}
		state.done = true
		return core.SendEvent(ctx, events, core.Event{
			Type: core.EventDone,
			Done: &core.DonePayload{Reason: mapDoneReason(resp.DoneReason), Usage: state.usage},
		})
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		if isRetryable(err) {
			return core.MarkRetryable(err)
		}
		return err
	}
	if !state.done {
		return core.MarkRetryable(errors.New("ollama stream ended without done"))
	}
	return nil
}

func toChatRequest(req *core.Request) *api.ChatRequest {
	messages := make([]api.Message, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		messages = append(messages, api.Message{Role: string(msg.Role), Content: msg.Content})
	}

	options := make(map[string]any, len(req.Options)+2)
	for k, v := range req.Options {
		options[k] = v
	}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	stream := true
	return &api.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}
}

func mapDoneReason(reason string) core.StopReason {
	switch reason {
	case "length":
		return core.StopReasonLength
	default:
		return core.StopReasonStop
	}
}

func isRetryable(err error) bool {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
