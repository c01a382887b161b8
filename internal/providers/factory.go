package providers

import (
	"fmt"

	"github.com/rhbot/rhbot/internal/config"
)

// DefaultOpenRouterBase is the OpenRouter API root.
const DefaultOpenRouterBase = "https://openrouter.ai/api/v1"

// openRouterHeaders identify the app on OpenRouter's dashboard.
var openRouterHeaders = map[string]string{
	"HTTP-Referer": "https://github.com/rhbot/rhbot",
	"X-Title":      "RHBot",
}

// NewProviderFromConfig creates the completion provider from configuration.
func NewProviderFromConfig(cfg *config.Config, opts ...ProviderOption) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if cfg.Providers.OpenRouter.APIKey == "" {
		return nil, fmt.Errorf("openrouter API key is not configured")
	}

	apiBase := cfg.Providers.OpenRouter.APIBase
	if apiBase == "" {
		apiBase = DefaultOpenRouterBase
	}
	return NewOpenAIProvider("openrouter", cfg.Providers.OpenRouter.APIKey, apiBase, cfg.Bot.Model, openRouterHeaders, opts...), nil
}
