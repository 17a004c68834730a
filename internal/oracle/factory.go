package oracle

import (
	"fmt"
	"net/http"

	"manifold/internal/config"
)

// BuildProvider constructs a Provider for the configured backend.
func BuildProvider(cfg config.LLMClientConfig, httpClient *http.Client) (Provider, error) {
	switch cfg.Provider {
	case "", "openai", "local":
		oc := cfg.OpenAI
		if cfg.Provider == "local" {
			oc.API = "completions"
		}
		return NewOpenAI(oc, httpClient), nil
	case "anthropic":
		return NewAnthropic(cfg.Anthropic, httpClient), nil
	case "google":
		return NewGoogle(cfg.Google, httpClient)
	default:
		return nil, fmt.Errorf("unsupported oracle provider: %s", cfg.Provider)
	}
}
