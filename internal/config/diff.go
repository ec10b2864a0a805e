package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RateLimitChanged bool
	NewRateLimit     RateLimitConfig

	// RestartRequired lists top-level sections whose changes are ignored
	// until the process restarts.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.RateLimit != new.RateLimit {
		d.RateLimitChanged = true
		d.NewRateLimit = new.RateLimit
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !serverEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Database != new.Database {
		d.RestartRequired = append(d.RestartRequired, "database")
	}
	if old.Cache != new.Cache {
		d.RestartRequired = append(d.RestartRequired, "cache")
	}
	if old.Engine != new.Engine {
		d.RestartRequired = append(d.RestartRequired, "engine")
	}
	if !embeddingsEqual(old.Embeddings, new.Embeddings) {
		d.RestartRequired = append(d.RestartRequired, "embeddings")
	}
	if old.Ledger != new.Ledger {
		d.RestartRequired = append(d.RestartRequired, "ledger")
	}
	if !meteringEqual(old.Metering, new.Metering) {
		d.RestartRequired = append(d.RestartRequired, "metering")
	}
	if old.Validation != new.Validation {
		d.RestartRequired = append(d.RestartRequired, "validation")
	}
	if old.Generation != new.Generation {
		d.RestartRequired = append(d.RestartRequired, "generation")
	}
	if old.Similarity != new.Similarity {
		d.RestartRequired = append(d.RestartRequired, "similarity")
	}

	return d
}

func serverEqual(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr || a.MaxUploadBytes != b.MaxUploadBytes || a.ShutdownTimeout != b.ShutdownTimeout {
		return false
	}
	if (a.TLS == nil) != (b.TLS == nil) || (a.TLS != nil && *a.TLS != *b.TLS) {
		return false
	}
	return slices.Equal(a.CORSOrigins, b.CORSOrigins)
}

func embeddingsEqual(a, b EmbeddingsConfig) bool {
	return slices.Equal(a.URLs, b.URLs) && a.APIKey == b.APIKey &&
		a.Timeout == b.Timeout && a.Breaker == b.Breaker
}

func meteringEqual(a, b MeteringConfig) bool {
	if a.BaseCost != b.BaseCost || a.PerThousandChars != b.PerThousandChars {
		return false
	}
	if (a.AllowNegativeBalance == nil) != (b.AllowNegativeBalance == nil) {
		return false
	}
	return a.AllowNegativeBalance == nil || *a.AllowNegativeBalance == *b.AllowNegativeBalance
}
