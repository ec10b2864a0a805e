// Package app wires all narrata subsystems into a running HTTP service.
//
// The App struct owns the full lifecycle: New creates and connects all
// backends, Run serves the API until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithEngine,
// WithObjectStore, etc.). When an option is not provided, New creates the
// real implementation selected by the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/narrata/internal/api"
	"github.com/MrWong99/narrata/internal/config"
	"github.com/MrWong99/narrata/internal/generator"
	"github.com/MrWong99/narrata/internal/health"
	"github.com/MrWong99/narrata/internal/metering"
	"github.com/MrWong99/narrata/internal/narration"
	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/internal/pipeline"
	"github.com/MrWong99/narrata/internal/profile"
	"github.com/MrWong99/narrata/internal/refaudio"
	"github.com/MrWong99/narrata/internal/resilience"
	"github.com/MrWong99/narrata/internal/similarity"
	"github.com/MrWong99/narrata/pkg/provider/embeddings"
	"github.com/MrWong99/narrata/pkg/provider/embeddings/worker"
	"github.com/MrWong99/narrata/pkg/provider/ledger"
	"github.com/MrWong99/narrata/pkg/provider/ledger/httpledger"
	"github.com/MrWong99/narrata/pkg/provider/tts"
	"github.com/MrWong99/narrata/pkg/provider/tts/coqui"
	"github.com/MrWong99/narrata/pkg/storage"
	"github.com/MrWong99/narrata/pkg/storage/memory"
	"github.com/MrWong99/narrata/pkg/storage/natsobj"
)

// ReadHeaderTimeout bounds how long a client may take to send request headers.
const ReadHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes and serves the narrata API.
type App struct {
	cfg *config.Config

	// Backends, either injected or built from cfg in New.
	store    storage.Store
	profiles profile.Store
	cache    narration.Cache
	engine   tts.Provider
	embedder embeddings.Provider
	ledger   ledger.Provider

	metrics        *observe.Metrics
	metricsHandler http.Handler

	pipeline *pipeline.Pipeline
	limiter  *api.OwnerLimiter
	checkers []health.Checker
	handler  http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithObjectStore injects the object store instead of building one from config.
func WithObjectStore(s storage.Store) Option {
	return func(a *App) { a.store = s }
}

// WithProfileStore injects the profile store instead of building one from config.
func WithProfileStore(s profile.Store) Option {
	return func(a *App) { a.profiles = s }
}

// WithNarrationCache injects the narration cache instead of building one from config.
func WithNarrationCache(c narration.Cache) Option {
	return func(a *App) { a.cache = c }
}

// WithEngine injects the synthesis engine. The injected engine is still
// wrapped in a circuit breaker.
func WithEngine(e tts.Provider) Option {
	return func(a *App) { a.engine = e }
}

// WithEmbedder injects the embeddings provider instead of the worker chain.
func WithEmbedder(e embeddings.Provider) Option {
	return func(a *App) { a.embedder = e }
}

// WithLedger injects the billing ledger instead of the HTTP client.
func WithLedger(l ledger.Provider) Option {
	return func(a *App) { a.ledger = l }
}

// WithMetrics sets the metric instruments shared by all subsystems.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by connecting every backend named in cfg and wiring the
// pipeline and HTTP API on top. On error, everything connected so far is
// closed again.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.init(ctx); err != nil {
		a.runClosers()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Object storage ────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		return fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Profile store ─────────────────────────────────────────────────
	if err := a.initProfiles(ctx); err != nil {
		return fmt.Errorf("app: init profiles: %w", err)
	}

	// ── 3. Narration cache ───────────────────────────────────────────────
	if err := a.initCache(ctx); err != nil {
		return fmt.Errorf("app: init cache: %w", err)
	}

	// ── 4. Remote collaborators ──────────────────────────────────────────
	if err := a.initEngine(); err != nil {
		return fmt.Errorf("app: init engine: %w", err)
	}
	if err := a.initEmbeddings(); err != nil {
		return fmt.Errorf("app: init embeddings: %w", err)
	}
	if err := a.initLedger(); err != nil {
		return fmt.Errorf("app: init ledger: %w", err)
	}

	// ── 5. Pipeline ──────────────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 6. HTTP API ──────────────────────────────────────────────────────
	a.initAPI()
	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initStorage(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	sc := a.cfg.Storage
	switch sc.Backend {
	case config.BackendNATS:
		nc, err := nats.Connect(sc.NATS.URL, nats.Name("narrata"))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		a.closers = append(a.closers, func() error { nc.Close(); return nil })

		opts := []natsobj.Option{natsobj.WithBaseURL(sc.PublicBaseURL)}
		if sc.NATS.Replicas > 0 {
			opts = append(opts, natsobj.WithReplicas(sc.NATS.Replicas))
		}
		s, err := natsobj.New(ctx, nc, sc.NATS.Bucket, opts...)
		if err != nil {
			return err
		}
		a.store = s
		a.checkers = append(a.checkers, health.Required("storage", s))
		slog.Info("object storage connected", "backend", sc.Backend, "bucket", sc.NATS.Bucket)
	default:
		a.store = memory.New(sc.PublicBaseURL)
		slog.Info("object storage in memory", "base_url", sc.PublicBaseURL)
	}
	return nil
}

func (a *App) initProfiles(ctx context.Context) error {
	if a.profiles != nil {
		return nil
	}
	if a.cfg.Database.Backend != config.BackendPostgres {
		a.profiles = profile.NewMemoryStore()
		return nil
	}

	pool, err := profile.NewPool(ctx, a.cfg.Database.PostgresDSN)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	ps := profile.NewPostgresStore(pool)
	if err := ps.Migrate(ctx); err != nil {
		return err
	}
	a.profiles = ps
	a.checkers = append(a.checkers, health.Required("database", pool))
	slog.Info("profile store connected", "backend", config.BackendPostgres)
	return nil
}

func (a *App) initCache(ctx context.Context) error {
	if a.cache != nil {
		return nil
	}
	cc := a.cfg.Cache
	if cc.Backend != config.BackendRedis {
		a.cache = narration.NewMemoryCache()
		return nil
	}

	client, err := narration.NewRedisClient(ctx, cc.Redis.Addr, cc.Redis.Username, cc.Redis.Password, cc.Redis.DB)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, client.Close)

	var opts []narration.RedisOption
	if cc.Redis.Prefix != "" {
		opts = append(opts, narration.WithPrefix(cc.Redis.Prefix))
	}
	if cc.Redis.TTL > 0 {
		opts = append(opts, narration.WithTTL(cc.Redis.TTL))
	}
	rc := narration.NewRedisCache(client, opts...)
	a.cache = rc
	a.checkers = append(a.checkers, health.Required("cache", rc))
	slog.Info("narration cache connected", "backend", config.BackendRedis, "addr", cc.Redis.Addr)
	return nil
}

func (a *App) initEngine() error {
	ec := a.cfg.Engine
	if a.engine == nil {
		opts := []coqui.Option{coqui.WithLanguage(ec.Language)}
		if ec.Model != "" {
			opts = append(opts, coqui.WithModel(ec.Model))
		}
		if ec.Timeout > 0 {
			opts = append(opts, coqui.WithTimeout(ec.Timeout))
		}
		p, err := coqui.New(ec.URL, opts...)
		if err != nil {
			return err
		}
		a.engine = p
		a.checkers = append(a.checkers, health.Required("engine", p))
	}
	a.engine = resilience.NewGuardedEngine(a.engine, a.breakerConfig("engine", ec.Breaker))
	return nil
}

func (a *App) initEmbeddings() error {
	if a.embedder != nil {
		return nil
	}
	ec := a.cfg.Embeddings
	if len(ec.URLs) == 0 {
		return nil
	}

	var opts []worker.Option
	if ec.APIKey != "" {
		opts = append(opts, worker.WithAPIKey(ec.APIKey))
	}
	if ec.Timeout > 0 {
		opts = append(opts, worker.WithTimeout(ec.Timeout))
	}

	var fb *resilience.EmbeddingsFallback
	for i, u := range ec.URLs {
		w, err := worker.New(u, opts...)
		if err != nil {
			return fmt.Errorf("worker %d: %w", i, err)
		}
		name := fmt.Sprintf("embeddings-%d", i)
		a.checkers = append(a.checkers, health.Optional(name, w))
		if fb == nil {
			fb = resilience.NewEmbeddingsFallback(w, name, resilience.FallbackConfig{
				CircuitBreaker: a.breakerConfig(name, ec.Breaker),
			})
			continue
		}
		fb.AddFallback(name, w)
	}
	a.embedder = fb
	return nil
}

func (a *App) initLedger() error {
	if a.ledger != nil {
		return nil
	}
	lc := a.cfg.Ledger
	if lc.URL == "" {
		return nil
	}

	var opts []httpledger.Option
	if lc.APIKey != "" {
		opts = append(opts, httpledger.WithAPIKey(lc.APIKey))
	}
	if lc.Timeout > 0 {
		opts = append(opts, httpledger.WithTimeout(lc.Timeout))
	}
	l, err := httpledger.New(lc.URL, opts...)
	if err != nil {
		return err
	}
	a.ledger = resilience.NewGuardedLedger(l, a.breakerConfig("ledger", lc.Breaker))
	return nil
}

func (a *App) initPipeline() error {
	gc := a.cfg.Generation
	genOpts := []generator.Option{generator.WithMetrics(a.metrics)}
	if gc.DownloadTimeout > 0 {
		genOpts = append(genOpts, generator.WithDownloadTimeout(gc.DownloadTimeout))
	}
	if gc.EngineTimeout > 0 {
		genOpts = append(genOpts, generator.WithEngineTimeout(gc.EngineTimeout))
	}
	if gc.MaxReferences > 0 {
		genOpts = append(genOpts, generator.WithMaxReferences(gc.MaxReferences))
	}
	if gc.TempDir != "" {
		genOpts = append(genOpts, generator.WithTempDir(gc.TempDir))
	}

	mc := a.cfg.Metering
	meterOpts := []metering.Option{metering.WithMetrics(a.metrics)}
	if mc.BaseCost > 0 || mc.PerThousandChars > 0 {
		meterOpts = append(meterOpts, metering.WithPricing(metering.Pricing{
			BaseCost:         mc.BaseCost,
			PerThousandChars: mc.PerThousandChars,
		}))
	}
	if mc.AllowNegativeBalance != nil {
		meterOpts = append(meterOpts, metering.WithAllowNegativeBalance(*mc.AllowNegativeBalance))
	}

	sc := a.cfg.Similarity
	scoreOpts := []similarity.Option{similarity.WithMetrics(a.metrics)}
	if sc.Timeout > 0 {
		scoreOpts = append(scoreOpts, similarity.WithTimeout(sc.Timeout))
	}
	if sc.DisableSpectral {
		scoreOpts = append(scoreOpts, similarity.WithoutSpectral())
	}

	p, err := pipeline.New(pipeline.Deps{
		Profiles:  a.profiles,
		Storage:   a.store,
		Cache:     a.cache,
		Generator: generator.New(a.store, a.engine, genOpts...),
		Meter:     metering.New(a.ledger, meterOpts...),
		Embedder:  a.embedder,
		Engine:    a.engine,
		Scorer:    similarity.NewScorer(a.embedder, scoreOpts...),
	},
		pipeline.WithConfig(a.pipelineConfig()),
		pipeline.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.pipeline = p
	return nil
}

func (a *App) pipelineConfig() pipeline.Config {
	limits := refaudio.DefaultLimits()
	vc := a.cfg.Validation
	if vc.MaxFileSize > 0 {
		limits.MaxFileSize = vc.MaxFileSize
	}
	if vc.MinFiles > 0 {
		limits.MinFiles = vc.MinFiles
	}
	if vc.MaxFiles > 0 {
		limits.MaxFiles = vc.MaxFiles
	}
	if vc.MinDuration > 0 {
		limits.MinDuration = vc.MinDuration
	}
	if vc.MaxDuration > 0 {
		limits.MaxDuration = vc.MaxDuration
	}
	return pipeline.Config{
		Limits:              limits,
		RegisterEngineVoice: a.cfg.Engine.RegisterVoices,
		StorageTimeout:      a.cfg.Generation.StorageTimeout,
		ExtractTimeout:      a.cfg.Embeddings.ExtractTimeout,
		CloneTimeout:        a.cfg.Engine.CloneTimeout,
		MaxTextRunes:        a.cfg.Generation.MaxTextChars,
	}
}

func (a *App) maxUploadBytes() int64 {
	if n := a.cfg.Server.MaxUploadBytes; n > 0 {
		return n
	}
	l := a.pipelineConfig().Limits
	return api.UploadLimit(l.MaxFiles, l.MaxFileSize)
}

func (a *App) initAPI() {
	rl := a.cfg.RateLimit
	opts := []api.Option{
		api.WithMetrics(a.metrics),
		api.WithHealth(health.New(a.checkers...)),
		api.WithMaxUploadBytes(a.maxUploadBytes()),
	}
	if len(a.cfg.Server.CORSOrigins) > 0 {
		opts = append(opts, api.WithCORSOrigins(a.cfg.Server.CORSOrigins...))
	}
	if rl.PerMinute > 0 {
		a.limiter = api.NewOwnerLimiter(rl.PerMinute, rl.Burst)
		opts = append(opts, api.WithRateLimiter(a.limiter))
	}
	if a.metricsHandler != nil {
		opts = append(opts, api.WithMetricsHandler(a.metricsHandler))
	}
	a.handler = api.New(a.pipeline, opts...).Router()
}

// breakerConfig converts the YAML breaker settings. Zero values fall through
// to the circuit breaker defaults. Every trip is counted as a degradation.
func (a *App) breakerConfig(name string, bc config.BreakerConfig) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  bc.MaxFailures,
		ResetTimeout: bc.ResetTimeout,
		OnStateChange: func(_ string, _, to resilience.State) {
			if to == resilience.StateOpen {
				a.metrics.RecordDegradation(context.Background(), observe.DegradeBreakerOpen)
			}
		},
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the complete HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Pipeline returns the narration pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// ApplyConfig applies the hot-reloadable parts of a changed config. Changes
// that need a restart are logged and otherwise ignored.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.RateLimitChanged {
		if a.limiter != nil {
			a.limiter.SetLimit(d.NewRateLimit.PerMinute, d.NewRateLimit.Burst)
			slog.Info("rate limit updated", "per_minute", d.NewRateLimit.PerMinute, "burst", d.NewRateLimit.Burst)
		} else if d.NewRateLimit.PerMinute > 0 {
			d.RestartRequired = append(d.RestartRequired, "rate_limit")
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the API on the configured listen address and blocks until ctx
// is cancelled. The server is drained for at most the configured shutdown
// timeout.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
		return nil
	})
	return g.Wait()
}

// Shutdown drains pending ledger debits and closes all backends in order.
// It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.pipeline != nil {
			if err := a.pipeline.Close(ctx); err != nil {
				slog.Warn("pending debits not drained", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases partially initialised backends after a failed New.
func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
}
