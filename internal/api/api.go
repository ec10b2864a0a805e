// Package api exposes the narrata pipeline over HTTP.
//
// Callers are identified by the X-Owner-ID header, which an upstream
// authentication proxy sets after verifying the user. Every failure is
// returned as {"error": {"kind", "message", "hint"}} with the status code
// of its [apperr.Kind].
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MrWong99/narrata/internal/health"
	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/internal/pipeline"
	"github.com/MrWong99/narrata/internal/profile"
)

// OwnerHeader carries the authenticated owner id.
const OwnerHeader = "X-Owner-ID"

// MultipartAllowance covers form fields and part headers on top of the
// uploaded file bytes.
const MultipartAllowance = 1 << 20

// DefaultMaxUploadBytes caps a profile-creation request body: room for one
// file more than the default maximum of three 10 MiB recordings.
const DefaultMaxUploadBytes = 4*(10<<20) + MultipartAllowance

// UploadLimit is the body cap for batches of at most maxFiles files of
// maxFileSize bytes each. One extra file fits, so an oversized batch reaches
// validation and is reported as too_many_files rather than file_too_large.
func UploadLimit(maxFiles int, maxFileSize int64) int64 {
	return int64(maxFiles+1)*maxFileSize + MultipartAllowance
}

// Service is the subset of [*pipeline.Pipeline] the API calls.
type Service interface {
	CreateProfile(ctx context.Context, req pipeline.CreateProfileRequest) (*pipeline.CreateProfileResult, error)
	GetProfile(ctx context.Context, ownerID, profileID string) (*profile.VoiceProfile, error)
	ListProfiles(ctx context.Context, ownerID string) ([]profile.VoiceProfile, error)
	DeleteProfile(ctx context.Context, ownerID, profileID string) error
	ClearHistory(ctx context.Context, ownerID, profileID string) (int, error)
	Narrate(ctx context.Context, req pipeline.NarrationRequest) (*pipeline.NarrationResult, error)
}

var _ Service = (*pipeline.Pipeline)(nil)

// Option is a functional option for configuring a Handler.
type Option func(*Handler)

// WithCORSOrigins allows browser calls from the given origins.
func WithCORSOrigins(origins ...string) Option {
	return func(h *Handler) {
		h.corsOrigins = origins
	}
}

// WithRateLimiter limits narration requests per owner.
func WithRateLimiter(l *OwnerLimiter) Option {
	return func(h *Handler) {
		h.limiter = l
	}
}

// WithMaxUploadBytes caps the profile-creation body size.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUpload = n
		}
	}
}

// WithMetrics sets the metrics sink for the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(hh *health.Handler) Option {
	return func(h *Handler) {
		h.health = hh
	}
}

// WithMetricsHandler mounts handler (typically the Prometheus exporter) at
// /metrics.
func WithMetricsHandler(handler http.Handler) Option {
	return func(h *Handler) {
		h.metricsHandler = handler
	}
}

// Handler routes API requests to a [Service].
type Handler struct {
	svc            Service
	corsOrigins    []string
	limiter        *OwnerLimiter
	maxUpload      int64
	metrics        *observe.Metrics
	health         *health.Handler
	metricsHandler http.Handler
}

// New creates a Handler for svc.
func New(svc Service, opts ...Option) *Handler {
	h := &Handler{svc: svc, maxUpload: DefaultMaxUploadBytes}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Router builds the complete HTTP handler.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if len(h.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", OwnerHeader},
			MaxAge:         300,
		}))
	}

	if h.health != nil {
		h.health.Register(r)
	}
	if h.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", h.metricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(observe.Middleware(h.metrics))
		r.Use(requireOwner)
		h.Attach(r)
	})
	return r
}

// Attach registers the API routes on r. Routes expect [requireOwner] to have
// run.
func (h *Handler) Attach(r chi.Router) {
	r.Route("/voice-profiles", func(r chi.Router) {
		r.Post("/", h.handleCreateProfile)
		r.Get("/", h.handleListProfiles)
		r.Get("/{id}", h.handleGetProfile)
		r.Delete("/{id}", h.handleDeleteProfile)
		r.Delete("/{id}/narrations", h.handleClearHistory)
	})

	r.With(h.rateLimit).Post("/narrations", h.handleNarrate)
}
