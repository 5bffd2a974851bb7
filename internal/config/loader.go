package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. ${VAR} references are expanded from the environment before
// decoding. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: console, json, text", cfg.Server.LogFormat))
	}

	errs = append(errs, validateProvider("providers.llm", cfg.Providers.LLM)...)
	for i, fb := range cfg.Providers.LLMFallbacks {
		prefix := fmt.Sprintf("providers.llm_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		errs = append(errs, validateProvider(prefix, fb)...)
	}

	for name, src := range map[string]SourceConfig{
		"floods":    cfg.Sources.Floods,
		"rivers":    cfg.Sources.Rivers,
		"forecast":  cfg.Sources.Forecast,
		"incidents": cfg.Sources.Incidents,
	} {
		prefix := "sources." + name
		if src.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout must not be negative", prefix))
		}
		if src.Retries < 0 {
			errs = append(errs, fmt.Errorf("%s.retries must not be negative", prefix))
		}
		if src.RetryDelay < 0 {
			errs = append(errs, fmt.Errorf("%s.retry_delay must not be negative", prefix))
		}
	}

	if cfg.Region.Latitude < -90 || cfg.Region.Latitude > 90 {
		errs = append(errs, fmt.Errorf("region.latitude %.4f is out of range [-90, 90]", cfg.Region.Latitude))
	}
	if cfg.Region.Longitude < -180 || cfg.Region.Longitude > 180 {
		errs = append(errs, fmt.Errorf("region.longitude %.4f is out of range [-180, 180]", cfg.Region.Longitude))
	}
	if cfg.Region.RadiusKm <= 0 || cfg.Region.RadiusKm > 100 {
		errs = append(errs, fmt.Errorf("region.radius_km %.1f is out of range (0, 100]", cfg.Region.RadiusKm))
	}

	cb := cfg.CircuitBreaker
	if cb.Enabled {
		if cb.FailureThreshold < 1 {
			errs = append(errs, fmt.Errorf("circuit_breaker.failure_threshold must be at least 1"))
		}
		if cb.Cooldown <= 0 {
			errs = append(errs, fmt.Errorf("circuit_breaker.cooldown must be positive"))
		}
	}
	switch cb.Store {
	case StoreMemory:
	case StorePostgres:
		if cfg.Storage.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("circuit_breaker.store is postgres but storage.postgres_dsn is empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("circuit_breaker.store %q is invalid; valid values: memory, postgres", cb.Store))
	}

	conv := cfg.Conversation
	if conv.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("conversation.max_iterations must be at least 1"))
	}
	if conv.MaxContextTokens < 1 {
		errs = append(errs, fmt.Errorf("conversation.max_context_tokens must be at least 1"))
	}
	if conv.Temperature < 0 || conv.Temperature > 2 {
		errs = append(errs, fmt.Errorf("conversation.temperature %.2f is out of range [0, 2]", conv.Temperature))
	}
	if conv.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("conversation.max_tokens must not be negative"))
	}

	if t := cfg.Correlation.MatchThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("correlation.match_threshold %.2f is out of range [0, 1]", t))
	}
	for i, ar := range cfg.Correlation.AreaRoads {
		prefix := fmt.Sprintf("correlation.area_roads[%d]", i)
		if ar.Area == "" {
			errs = append(errs, fmt.Errorf("%s.area is required", prefix))
		}
		if len(ar.Roads) == 0 {
			errs = append(errs, fmt.Errorf("%s.roads must not be empty", prefix))
		}
	}
	for i, tr := range cfg.Correlation.RiverTriggers {
		if tr.River == "" && tr.Station == "" {
			errs = append(errs, fmt.Errorf("correlation.river_triggers[%d] needs a river or a station", i))
		}
	}

	switch cfg.Cache.Backend {
	case CacheMemory, CacheNone:
	case CachePostgres:
		if cfg.Storage.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("cache.backend is postgres but storage.postgres_dsn is empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is invalid; valid values: memory, postgres, none", cfg.Cache.Backend))
	}
	if cfg.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must not be negative"))
	}

	return errors.Join(errs...)
}

func validateProvider(prefix string, e ProviderEntry) []error {
	if e.Name == "" {
		return nil
	}
	if e.Name != "mock" && e.Model == "" {
		return []error{fmt.Errorf("%s.model is required", prefix)}
	}
	return nil
}
