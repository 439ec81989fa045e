package llm

import "fmt"

// Provider names the two adapter families spec.md §4.4 requires.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
)

// New builds the Adapter for the default (untiered) role.
func New(provider Provider) (Adapter, error) {
	return NewTier(provider, "")
}

// NewTier builds the Adapter for a named role tier (planner, developer,
// reviewer, embed), resolving {prefix}_* env vars with fallback to the
// shared provider-wide vars.
func NewTier(provider Provider, prefix string) (Adapter, error) {
	switch provider {
	case ProviderOllama:
		return NewOllamaLikeTier(prefix), nil
	case ProviderOpenAI:
		return NewOpenAILikeTier(prefix), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", provider)
	}
}
