package providers

import (
	"context"
	"fmt"
	"sort"
)

// Config represents one captioning request sent to an LLM provider
type Config struct {
	Model        string
	Temperature  float64
	SystemPrompt string
	Prompt       string
	Image        []byte
	MimeType     string
	MaxTokens    int
}

// Provider defines the interface for a vision-capable LLM provider
type Provider interface {
	Caption(ctx context.Context, config Config) (string, error)
}

// Factory builds a provider for the API key supplied with a request
type Factory func(apiKey string) Provider

// Registry maps provider names to factories and default models
type Registry struct {
	factories map[string]Factory
	models    map[string]string
	keyless   map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		models:    make(map[string]string),
		keyless:   make(map[string]bool),
	}
}

// Register adds a provider. keyless providers accept requests without an API key.
func (r *Registry) Register(name, defaultModel string, keyless bool, f Factory) {
	r.factories[name] = f
	r.models[name] = defaultModel
	r.keyless[name] = keyless
}

// Build returns a provider instance for the given name and key
func (r *Registry) Build(name, apiKey string) (Provider, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
	return f(apiKey), nil
}

func (r *Registry) DefaultModel(name string) string {
	return r.models[name]
}

// RequiresKey reports whether callers must supply an API key for the provider
func (r *Registry) RequiresKey(name string) bool {
	return !r.keyless[name]
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
