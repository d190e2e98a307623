// Package anthropicprovider streams text completions from the Anthropic
// Messages API. It is the hosted fallback when no local backend is wanted.
package anthropicprovider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"ponder/internal/llm/core"
)

// Config configures the Anthropic provider.
type Config struct {
	APIKey     string
	BaseURL    string
	Version    string
	HTTPClient *http.Client
	Retry      core.RetryPolicy
}

// Provider is a thin wrapper around the official anthropic-sdk-go client.
type Provider struct {
	apiKey string
	retry  core.RetryPolicy

	client anthropic.Client
}

// New constructs a provider with sane defaults.
func New(cfg Config) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	version := strings.TrimSpace(cfg.Version)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	clientOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0), // retries are driven by core.RetryStream
	}
	if baseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(baseURL))
	}
	if version != "" {
		clientOptions = append(clientOptions, option.WithHeader("anthropic-version", version))
	}

	return &Provider{
		apiKey: apiKey,
		retry:  core.NormalizeRetryPolicy(cfg.Retry),
		client: anthropic.NewClient(clientOptions...),
	}
}

// Ping lists one model to confirm the API key and endpoint work.
func (p *Provider) Ping(ctx context.Context) error {
	if p.apiKey == "" {
		return fmt.Errorf("%w: %w", core.ErrUnreachable, core.ErrMissingAPIKey)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := p.client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)}); err != nil {
		return fmt.Errorf("%w: %w", core.ErrUnreachable, err)
	}
	return nil
}

// Stream executes a single Anthropic Messages API streaming request.
func (p *Provider) Stream(ctx context.Context, req *core.Request) (<-chan core.Event, error) {
	if p == nil {
		return nil, errors.New("anthropic provider is nil")
	}
	if p.apiKey == "" {
		return nil, core.ErrMissingAPIKey
	}

	params, err := toSDKParams(req)
	if err != nil {
		return nil, err
	}

	events := make(chan core.Event, 1)
	retry := core.MergeRetryPolicy(p.retry, req.Retry)

	go func() {
		defer close(events)
		state := &streamState{reason: core.StopReasonStop}
		err := core.RetryStream(ctx, retry, func() bool { return state.visible }, func() error {
			return p.streamOnce(ctx, params, events, state)
		})
		if err != nil {
			core.SendTerminalEvent(events, core.ErrorEvent(fmt.Errorf("anthropic stream: %w", err), state.usage))
		}
	}()

	return events, nil
}

// streamState tracks response state across the attempts of one logical request.
type streamState struct {
	usage        core.Usage
	reason       core.StopReason
	visible      bool
	startEmitted bool
	done         bool
}

// streamOnce consumes one SDK stream and emits canonical events.
func (p *Provider) streamOnce(
	ctx context.Context,
	params anthropic.MessageNewParams,
	events chan<- core.Event,
	state *streamState,
) error {
	stream := p.client.Messages.NewStreaming(ctx, params)
	defer func() {
		_ = stream.Close()
	}()

	if !state.startEmitted {
		if err := core.SendEvent(ctx, events, core.Event{Type: core.EventStart}); err != nil {
			return err
		}
		state.startEmitted = true
	}

	for stream.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handleStreamEvent(ctx, stream.Current(), events, state); err != nil {
			return err
		}
		if state.done {
			return nil
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := stream.Err(); err != nil {
		wrapped := fmt.Errorf("anthropic sdk stream: %w", err)
		if isRetryableProviderError(err) {
			return core.MarkRetryable(wrapped)
		}
		return wrapped
	}
	if state.done {
		return nil
	}
	return core.MarkRetryable(errors.New("anthropic stream ended without message_stop"))
}

// handleStreamEvent maps the text-relevant Anthropic stream events onto canonical events.
func handleStreamEvent(
	ctx context.Context,
	event anthropic.MessageStreamEventUnion,
	events chan<- core.Event,
	state *streamState,
) error {
	switch variant := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		state.usage.InputTokens = int(variant.Message.Usage.InputTokens)
		state.usage.OutputTokens = int(variant.Message.Usage.OutputTokens)
		return core.SendEvent(ctx, events, core.Event{Type: core.EventUsage, Usage: state.usage.Clone()})

	case anthropic.ContentBlockDeltaEvent:
		if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
			state.visible = true
			return core.SendEvent(ctx, events, core.Event{Type: core.EventTextDelta, TextDelta: delta.Text})
		}
		return nil

	case anthropic.MessageDeltaEvent:
		if variant.Delta.StopReason != "" {
			state.reason = mapStopReason(string(variant.Delta.StopReason))
		}
		if variant.Usage.InputTokens > 0 {
			state.usage.InputTokens = int(variant.Usage.InputTokens)
		}
		state.usage.OutputTokens = int(variant.Usage.OutputTokens)
		return core.SendEvent(ctx, events, core.Event{Type: core.EventUsage, Usage: state.usage.Clone()})

	case anthropic.MessageStopEvent:
		state.done = true
		return core.SendEvent(ctx, events, core.Event{
			Type: core.EventDone,
			Done: &core.DonePayload{Reason: state.reason, Usage: state.usage},
		})
	}
	return nil
}
