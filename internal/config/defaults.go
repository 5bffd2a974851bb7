package config

import (
	"time"

	"github.com/MrWong99/floodwatch/internal/budget"
	"github.com/MrWong99/floodwatch/internal/cache"
	"github.com/MrWong99/floodwatch/internal/fetch"
	"github.com/MrWong99/floodwatch/internal/orchestrator"
	"github.com/MrWong99/floodwatch/internal/tools/correlation"
	"github.com/MrWong99/floodwatch/pkg/provider/flood/ea"
	"github.com/MrWong99/floodwatch/pkg/provider/flood/ffc"
)

// Default returns the configuration used for every field the YAML leaves
// unset. The region defaults to Newcastle upon Tyne.
func Default() *Config {
	src := func(url string) SourceConfig {
		return SourceConfig{
			BaseURL:    url,
			Timeout:    fetch.DefaultTimeout,
			Retries:    fetch.DefaultRetries,
			RetryDelay: fetch.DefaultRetryDelay,
		}
	}
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			LogLevel:        LogInfo,
			LogFormat:       LogFormatConsole,
			ShutdownTimeout: 15 * time.Second,
		},
		Sources: SourcesConfig{
			Floods:    src(ea.DefaultBaseURL),
			Rivers:    src(ea.DefaultBaseURL),
			Forecast:  src(ffc.DefaultURL),
			Incidents: src(""),
		},
		Region: RegionConfig{
			ID:        "north-east",
			Latitude:  54.9783,
			Longitude: -1.6178,
			RadiusKm:  25,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 3,
			Cooldown:         time.Minute,
			Store:            StoreMemory,
		},
		Conversation: ConversationConfig{
			MaxIterations:    orchestrator.DefaultMaxIterations,
			MaxContextTokens: budget.DefaultCeiling,
		},
		LLMLimits: budget.DefaultLimits(),
		Correlation: correlation.Config{
			MatchThreshold: correlation.DefaultMatchThreshold,
		},
		Cache: CacheConfig{
			Backend: CacheMemory,
			TTL:     cache.DefaultTTL,
		},
	}
}
