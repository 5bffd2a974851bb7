package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only settings that
// can be applied without a restart are tracked; everything else needs one.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// LimitsChanged, CorrelationChanged and RegionChanged require the tool
	// registry to be rebuilt.
	LimitsChanged      bool
	CorrelationChanged bool
	RegionChanged      bool

	// ConversationChanged requires a new orchestrator.
	ConversationChanged bool

	// RestartRequired lists top-level sections that changed but cannot be
	// hot-reloaded.
	RestartRequired []string
}

// ToolsChanged reports whether the tool registry must be rebuilt.
func (d ConfigDiff) ToolsChanged() bool {
	return d.LimitsChanged || d.CorrelationChanged || d.RegionChanged
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ToolsChanged() && !d.ConversationChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.LimitsChanged = old.LLMLimits != new.LLMLimits
	d.CorrelationChanged = !reflect.DeepEqual(old.Correlation, new.Correlation)
	d.RegionChanged = old.Region != new.Region
	d.ConversationChanged = old.Conversation != new.Conversation

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if oldServer != newServer {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Sources != new.Sources {
		d.RestartRequired = append(d.RestartRequired, "sources")
	}
	if old.CircuitBreaker != new.CircuitBreaker {
		d.RestartRequired = append(d.RestartRequired, "circuit_breaker")
	}
	if old.Cache != new.Cache {
		d.RestartRequired = append(d.RestartRequired, "cache")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	return d
}
