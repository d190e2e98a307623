package llm

import (
	"errors"
	"testing"
)

func TestNewBackendSelectsProvider(t *testing.T) {
	t.Parallel()

	backend, err := NewBackend(BackendConfig{Name: "Ollama", Ollama: OllamaConfig{Host: "http://localhost:11434"}})
	if err != nil {
		t.Fatalf("NewBackend(ollama) error = %v", err)
	}
	if _, ok := backend.(*OllamaProvider); !ok {
		t.Fatalf("backend = %T, want *OllamaProvider", backend)
	}

	backend, err = NewBackend(BackendConfig{Name: BackendAnthropic, Anthropic: AnthropicConfig{APIKey: "k"}})
	if err != nil {
		t.Fatalf("NewBackend(anthropic) error = %v", err)
	}
	if _, ok := backend.(*AnthropicProvider); !ok {
		t.Fatalf("backend = %T, want *AnthropicProvider", backend)
	}

	if _, err := NewBackend(BackendConfig{Name: "gpt"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("NewBackend(unknown) error = %v, want %v", err, ErrInvalidRequest)
	}
	if _, err := NewBackend(BackendConfig{Ollama: OllamaConfig{Host: "localhost"}}); err == nil {
		t.Fatal("NewBackend() with host missing scheme error = nil")
	}
}
