package main

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/floodwatch/internal/app"
	"github.com/MrWong99/floodwatch/internal/config"
	"github.com/MrWong99/floodwatch/pkg/provider/llm"
	"github.com/MrWong99/floodwatch/pkg/provider/llm/anyllm"
	llmmock "github.com/MrWong99/floodwatch/pkg/provider/llm/mock"
	"github.com/MrWong99/floodwatch/pkg/provider/llm/openai"
)

// mockNarrative is the answer of the offline "mock" provider.
const mockNarrative = "floodwatch is running with the mock model; no live summary is available."

// registerBuiltinProviders wires all built-in model factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// openai talks to the API directly and understands the extra options.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		if n, ok := optInt(entry.Options, "max_retries"); ok {
			opts = append(opts, openai.WithMaxRetries(n))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other backend goes through any-llm-go with an optional API key
	// and base URL. openai is reachable there too as "anyllm-openai".
	for _, backend := range anyllm.SupportedBackends {
		name := backend
		if backend == "openai" {
			name = "anyllm-openai"
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	reg.RegisterLLM("mock", func(entry config.ProviderEntry) (llm.Provider, error) {
		narrative := optString(entry.Options, "narrative")
		if narrative == "" {
			narrative = mockNarrative
		}
		return &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: narrative, FinishReason: llm.FinishStop},
		}, nil
	})

	for _, name := range reg.LLMNames() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// buildProviders instantiates the primary model and its fallbacks.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		if errors.Is(err, config.ErrProviderNotRegistered) {
			return nil, fmt.Errorf("unknown llm provider %q, choose one of %v", cfg.Providers.LLM.Name, reg.LLMNames())
		}
		return nil, err
	}
	ps := &app.Providers{LLM: app.NamedProvider{Name: cfg.Providers.LLM.Name, Provider: primary}}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)

	var seen []string
	for _, entry := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		name := entry.Name
		if slices.Contains(seen, name) || name == cfg.Providers.LLM.Name {
			name = fmt.Sprintf("%s-%d", name, len(seen)+1)
		}
		seen = append(seen, name)
		ps.Fallbacks = append(ps.Fallbacks, app.NamedProvider{Name: name, Provider: p})
		slog.Info("provider created", "kind", "llm-fallback", "name", name, "model", entry.Model)
	}
	return ps, nil
}

// optString returns the string option key, or "".
func optString(opts map[string]any, key string) string {
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}

// optInt returns the integer option key. YAML numbers decode as int.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// optDuration parses a duration option such as "30s".
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
