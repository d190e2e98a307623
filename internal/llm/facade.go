// Package llm exposes the provider-agnostic streaming contract and the
// concrete backends behind one import.
package llm

import (
	"fmt"
	"strings"

	anthropicprovider "ponder/internal/llm/providers/anthropic"
	mockprovider "ponder/internal/llm/providers/mock"
	ollamaprovider "ponder/internal/llm/providers/ollama"

	"ponder/internal/llm/core"
)

type (
	// Provider is the public streaming provider contract.
	Provider = core.Provider
	// Pinger probes backend reachability.
	Pinger = core.Pinger
	// Embedder produces retrieval vectors.
	Embedder = core.Embedder

	EventType   = core.EventType
	RetryPolicy = core.RetryPolicy
	Request     = core.Request
	DonePayload = core.DonePayload
	Event       = core.Event
	Role        = core.Role
	StopReason  = core.StopReason
	Message     = core.Message
	Usage       = core.Usage

	AnthropicConfig   = anthropicprovider.Config
	AnthropicProvider = anthropicprovider.Provider
	OllamaConfig      = ollamaprovider.Config
	OllamaProvider    = ollamaprovider.Provider

	// MockProvider emits scripted events for tests.
	MockProvider = mockprovider.Provider
)

const (
	EventStart     = core.EventStart
	EventTextDelta = core.EventTextDelta
	EventUsage     = core.EventUsage
	EventDone      = core.EventDone
	EventError     = core.EventError

	RoleUser      = core.RoleUser
	RoleAssistant = core.RoleAssistant

	StopReasonStop    = core.StopReasonStop
	StopReasonLength  = core.StopReasonLength
	StopReasonError   = core.StopReasonError
	StopReasonAborted = core.StopReasonAborted
)

var (
	ErrInvalidRequest = core.ErrInvalidRequest
	ErrMissingAPIKey  = core.ErrMissingAPIKey
	ErrUnreachable    = core.ErrUnreachable
)

// Backend is a provider that can also report its reachability.
type Backend interface {
	Provider
	Pinger
}

// Backend names accepted by NewBackend.
const (
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
)

// BackendConfig selects and configures one backend.
type BackendConfig struct {
	Name      string
	Ollama    OllamaConfig
	Anthropic AnthropicConfig
}

// NewBackend constructs the named backend.
func NewBackend(cfg BackendConfig) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "", BackendOllama:
		p, err := ollamaprovider.New(cfg.Ollama)
		if err != nil {
			return nil, err
		}
		return p, nil
	case BackendAnthropic:
		return anthropicprovider.New(cfg.Anthropic), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidRequest, cfg.Name)
	}
}

// NewOllamaProvider constructs an Ollama provider.
func NewOllamaProvider(cfg OllamaConfig) (*OllamaProvider, error) {
	return ollamaprovider.New(cfg)
}

// NewAnthropicProvider constructs an Anthropic provider with normalized defaults.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	return anthropicprovider.New(cfg)
}
