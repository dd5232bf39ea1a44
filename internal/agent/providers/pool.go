package providers

import (
	"fmt"
	"sync"
	"time"

	"github.com/clarahq/clara/internal/agent"
)

// Spec identifies a provider instance. Kind selects the implementation;
// "ollama" and "openrouter" are OpenAI-compatible endpoints reached
// through a BaseURL override.
type Spec struct {
	Kind         string
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

func (s Spec) key() string { return s.Kind + "|" + s.BaseURL }

// Pool caches provider clients by (kind, base URL) so concurrent
// requests share connections.
type Pool struct {
	mu        sync.Mutex
	providers map[string]agent.Provider
}

func NewPool() *Pool {
	return &Pool{providers: make(map[string]agent.Provider)}
}

// Get returns the cached provider for the spec, building it on first use.
func (p *Pool) Get(spec Spec) (agent.Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if provider, ok := p.providers[spec.key()]; ok {
		return provider, nil
	}
	provider, err := build(spec)
	if err != nil {
		return nil, err
	}
	p.providers[spec.key()] = provider
	return provider, nil
}

func build(spec Spec) (agent.Provider, error) {
	switch spec.Kind {
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:       spec.APIKey,
			BaseURL:      spec.BaseURL,
			DefaultModel: spec.DefaultModel,
			MaxRetries:   spec.MaxRetries,
			RetryDelay:   spec.RetryDelay,
		})
	case "openai", "ollama", "openrouter":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:       spec.APIKey,
			BaseURL:      spec.BaseURL,
			Name:         spec.Kind,
			DefaultModel: spec.DefaultModel,
			MaxRetries:   spec.MaxRetries,
			RetryDelay:   spec.RetryDelay,
		})
	default:
		return nil, fmt.Errorf("unknown provider kind %q", spec.Kind)
	}
}
