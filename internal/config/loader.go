package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultPublicBaseURL   = "mem://objects"
	DefaultNATSBucket      = "narrata"
	DefaultLanguage        = "en"
	DefaultRateBurst       = 5
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields that have a sensible default.
// Collaborator URLs are never defaulted: an empty URL disables the
// collaborator.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendMemory
	}
	if cfg.Storage.PublicBaseURL == "" && cfg.Storage.Backend == BackendMemory {
		cfg.Storage.PublicBaseURL = DefaultPublicBaseURL
	}
	if cfg.Storage.NATS.Bucket == "" {
		cfg.Storage.NATS.Bucket = DefaultNATSBucket
	}
	if cfg.Database.Backend == "" {
		cfg.Database.Backend = BackendMemory
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = BackendMemory
	}
	if cfg.Engine.Language == "" {
		cfg.Engine.Language = DefaultLanguage
	}
	if cfg.RateLimit.PerMinute > 0 && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = DefaultRateBurst
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}

	// Storage
	switch cfg.Storage.Backend {
	case BackendMemory:
	case BackendNATS:
		if cfg.Storage.NATS.URL == "" {
			errs = append(errs, errors.New("storage.nats.url is required when storage.backend is nats"))
		}
		if cfg.Storage.PublicBaseURL == "" {
			errs = append(errs, errors.New("storage.public_base_url is required when storage.backend is nats"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, nats", cfg.Storage.Backend))
	}

	// Database
	switch cfg.Database.Backend {
	case BackendMemory:
		slog.Warn("database.backend is memory; voice profiles will not survive a restart")
	case BackendPostgres:
		if cfg.Database.PostgresDSN == "" {
			errs = append(errs, errors.New("database.postgres_dsn is required when database.backend is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.backend %q is invalid; valid values: memory, postgres", cfg.Database.Backend))
	}

	// Cache
	switch cfg.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if cfg.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required when cache.backend is redis"))
		}
		if cfg.Cache.Redis.TTL < 0 {
			errs = append(errs, fmt.Errorf("cache.redis.ttl %s must not be negative", cfg.Cache.Redis.TTL))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is invalid; valid values: memory, redis", cfg.Cache.Backend))
	}

	// Collaborators
	if cfg.Engine.URL == "" {
		errs = append(errs, errors.New("engine.url is required"))
	} else if err := checkURL(cfg.Engine.URL); err != nil {
		errs = append(errs, fmt.Errorf("engine.url: %w", err))
	}
	for i, u := range cfg.Embeddings.URLs {
		if err := checkURL(u); err != nil {
			errs = append(errs, fmt.Errorf("embeddings.urls[%d]: %w", i, err))
		}
	}
	if len(cfg.Embeddings.URLs) == 0 {
		slog.Warn("embeddings.urls is empty; similarity will use spectral comparison only")
	}
	if cfg.Ledger.URL != "" {
		if err := checkURL(cfg.Ledger.URL); err != nil {
			errs = append(errs, fmt.Errorf("ledger.url: %w", err))
		}
	} else {
		slog.Warn("ledger.url is empty; narrations will not be billed")
	}

	// Metering
	if cfg.Metering.BaseCost < 0 || cfg.Metering.PerThousandChars < 0 {
		errs = append(errs, errors.New("metering costs must not be negative"))
	}

	// Validation limits
	v := cfg.Validation
	if v.MinFiles < 0 || v.MaxFiles < 0 || (v.MaxFiles > 0 && v.MinFiles > v.MaxFiles) {
		errs = append(errs, fmt.Errorf("validation.min_files %d / max_files %d are inconsistent", v.MinFiles, v.MaxFiles))
	}
	if v.MinDuration < 0 || v.MaxDuration < 0 || (v.MaxDuration > 0 && v.MinDuration > v.MaxDuration) {
		errs = append(errs, fmt.Errorf("validation.min_duration %s / max_duration %s are inconsistent", v.MinDuration, v.MaxDuration))
	}
	if v.MaxFileSize < 0 {
		errs = append(errs, fmt.Errorf("validation.max_file_size %d must not be negative", v.MaxFileSize))
	}

	if cfg.Engine.CloneTimeout < 0 {
		errs = append(errs, fmt.Errorf("engine.clone_timeout %s must not be negative", cfg.Engine.CloneTimeout))
	}
	if cfg.Embeddings.ExtractTimeout < 0 {
		errs = append(errs, fmt.Errorf("embeddings.extract_timeout %s must not be negative", cfg.Embeddings.ExtractTimeout))
	}

	// Generation
	if cfg.Generation.MaxReferences < 0 {
		errs = append(errs, fmt.Errorf("generation.max_references %d must not be negative", cfg.Generation.MaxReferences))
	}
	if cfg.Generation.MaxTextChars < 0 {
		errs = append(errs, fmt.Errorf("generation.max_text_chars %d must not be negative", cfg.Generation.MaxTextChars))
	}

	errs = append(errs, validateRateLimit(cfg.RateLimit)...)

	return errors.Join(errs...)
}

func validateRateLimit(rl RateLimitConfig) []error {
	var errs []error
	if rl.PerMinute < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.per_minute %.2f must not be negative", rl.PerMinute))
	}
	if rl.Burst < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.burst %d must not be negative", rl.Burst))
	}
	return errs
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must be an http or https URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
