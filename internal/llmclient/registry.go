package llmclient

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/eicompanion/ei/pkg/types"
)

// kindLocal names the provider kind whose concurrency gate is sized 1,
// matching spec.md §4.2's "local" provider concurrency policy.
const kindLocal = "local"

// Registry resolves "provider:model" references to a configured eino
// ChatModel, and reports each provider's concurrency kind (local vs cloud)
// for the queue's per-provider semaphore sizing.
type Registry struct {
	mu        sync.RWMutex
	models    map[string]model.ToolCallingChatModel // keyed "provider:model"
	providers map[string]string                      // provider id -> kind ("local" | "cloud")
}

// NewRegistry returns an empty Registry; callers register providers via
// RegisterAccount before the engine starts.
func NewRegistry() *Registry {
	return &Registry{
		models:    make(map[string]model.ToolCallingChatModel),
		providers: make(map[string]string),
	}
}

// Account describes one configured provider endpoint, keyed off
// types.ProviderAccount plus a provider kind discriminator.
type Account struct {
	Provider string // "anthropic" | "openai" | "ark" | "local"
	Model    string
	APIKey   string
	BaseURL  string
	// Kind is "local" (one concurrent call) or "cloud" (up to three).
	// Defaults to "cloud" when empty.
	Kind string
}

// RegisterAccount constructs the eino ChatModel for account and indexes it
// under "provider:model".
func (r *Registry) RegisterAccount(ctx context.Context, account Account) error {
	kind := account.Kind
	if kind == "" {
		kind = "cloud"
	}

	var cm model.ToolCallingChatModel
	var err error

	switch account.Provider {
	case "anthropic":
		cfg := &claude.Config{APIKey: account.APIKey, Model: account.Model}
		if account.BaseURL != "" {
			cfg.BaseURL = &account.BaseURL
		}
		cm, err = claude.NewChatModel(ctx, cfg)
	case "openai", "local":
		maxTokens := 4096
		cfg := &openai.ChatModelConfig{APIKey: account.APIKey, Model: account.Model, MaxCompletionTokens: &maxTokens}
		if account.BaseURL != "" {
			cfg.BaseURL = account.BaseURL
		}
		cm, err = openai.NewChatModel(ctx, cfg)
		if account.Provider == "local" {
			kind = kindLocal
		}
	case "ark":
		maxTokens := 4096
		cfg := &ark.ChatModelConfig{APIKey: account.APIKey, Model: account.Model, MaxTokens: &maxTokens}
		if account.BaseURL != "" {
			cfg.BaseURL = account.BaseURL
		}
		cm, err = ark.NewChatModel(ctx, cfg)
	default:
		return fmt.Errorf("llmclient: unknown provider %q", account.Provider)
	}
	if err != nil {
		return fmt.Errorf("llmclient: create %s chat model: %w", account.Provider, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[account.Provider+":"+account.Model] = cm
	r.providers[account.Provider] = kind
	return nil
}

// Resolve implements ModelResolver: modelRef is "provider:model".
func (r *Registry) Resolve(modelRef string) (model.ToolCallingChatModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cm, ok := r.models[modelRef]
	if !ok {
		return nil, fmt.Errorf("llmclient: no chat model registered for %q", modelRef)
	}
	return cm, nil
}

// ProviderKind returns "local" or "cloud" for the given provider id, for
// the queue's per-provider semaphore sizing. Unknown providers default to
// "cloud" (the more conservative, lower-capacity-per-unit-risk default is
// actually the reverse, but an unregistered provider can never be
// dispatched to anyway, so the default is inert).
func (r *Registry) ProviderKind(providerID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if kind, ok := r.providers[providerID]; ok {
		return kind
	}
	return "cloud"
}

// ParseModelRef splits "provider:model" into its parts.
func ParseModelRef(ref string) (provider, modelID string) {
	parts := strings.SplitN(ref, ":", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return ref, ""
}

// ResolveProviderModel looks up the default model for a persona/operation,
// falling back to the Human's configured default for the given operation
// name ("response", "concept", "generation", "detail_update").
func ResolveProviderModel(settings types.HumanSettings, operation, override string) string {
	if override != "" {
		return override
	}
	if m, ok := settings.DefaultModels[operation]; ok {
		return m
	}
	return ""
}
