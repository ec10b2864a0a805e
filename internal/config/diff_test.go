package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/narrata/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:     config.ServerConfig{LogLevel: config.LogInfo, ListenAddr: ":8080"},
		Engine:     config.EngineConfig{URL: "http://xtts:8020"},
		Embeddings: config.EmbeddingsConfig{URLs: []string{"http://worker:9000"}},
		RateLimit:  config.RateLimitConfig{PerMinute: 30, Burst: 5},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.RateLimitChanged {
		t.Errorf("unexpected hot-reload changes: %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level change alone should not require a restart, got %v", d.RestartRequired)
	}
}

func TestDiff_RateLimitChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.RateLimit.Burst = 20

	d := config.Diff(old, new)
	if !d.RateLimitChanged || d.NewRateLimit.Burst != 20 {
		t.Errorf("diff = %+v", d)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.ListenAddr = ":9090"
	new.Engine.RegisterVoices = true
	new.Embeddings.URLs = append(new.Embeddings.URLs, "http://worker-2:9000")
	yes := true
	new.Metering.AllowNegativeBalance = &yes

	d := config.Diff(old, new)
	for _, section := range []string{"server", "engine", "embeddings", "metering"} {
		if !slices.Contains(d.RestartRequired, section) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, section)
		}
	}
	if slices.Contains(d.RestartRequired, "storage") {
		t.Errorf("storage did not change, got %v", d.RestartRequired)
	}
}
