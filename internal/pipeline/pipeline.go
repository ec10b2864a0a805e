// Package pipeline composes narrata's stages into the operations exposed by
// the API: voice profile creation, narration, and deletion.
//
// Collaborators that are optional enhancements (embedding worker, engine
// voice registration, similarity scoring, metering) degrade silently: their
// failures are logged and counted, and the operation still succeeds. Storage
// and synthesis failures are terminal and surface as [*apperr.Error].
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/narrata/internal/apperr"
	"github.com/MrWong99/narrata/internal/generator"
	"github.com/MrWong99/narrata/internal/metering"
	"github.com/MrWong99/narrata/internal/narration"
	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/internal/profile"
	"github.com/MrWong99/narrata/internal/refaudio"
	"github.com/MrWong99/narrata/internal/similarity"
	"github.com/MrWong99/narrata/pkg/provider/embeddings"
	"github.com/MrWong99/narrata/pkg/provider/tts"
	"github.com/MrWong99/narrata/pkg/storage"
)

// Defaults for [Config].
const (
	DefaultStorageTimeout = 30 * time.Second
	DefaultExtractTimeout = 60 * time.Second
	DefaultCloneTimeout   = 120 * time.Second
	DefaultMaxTextRunes   = 5000
)

// Config tunes the pipeline. Zero values select the defaults.
type Config struct {
	Limits refaudio.Limits

	// RegisterEngineVoice registers each new profile with the synthesis
	// engine so later narrations address it by voice id.
	RegisterEngineVoice bool

	StorageTimeout time.Duration
	ExtractTimeout time.Duration
	CloneTimeout   time.Duration

	// MaxTextRunes caps the narration text length.
	MaxTextRunes int
}

func (c *Config) applyDefaults() {
	if c.Limits == (refaudio.Limits{}) {
		c.Limits = refaudio.DefaultLimits()
	}
	if c.StorageTimeout <= 0 {
		c.StorageTimeout = DefaultStorageTimeout
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = DefaultExtractTimeout
	}
	if c.CloneTimeout <= 0 {
		c.CloneTimeout = DefaultCloneTimeout
	}
	if c.MaxTextRunes <= 0 {
		c.MaxTextRunes = DefaultMaxTextRunes
	}
}

// Deps are the pipeline's collaborators. Profiles, Storage, Cache, Generator
// and Meter are required; Embedder, Engine and Scorer may be nil.
type Deps struct {
	Profiles  profile.Store
	Storage   storage.Store
	Cache     narration.Cache
	Generator *generator.Generator
	Meter     *metering.Meter

	// Embedder extracts speaker embeddings at profile creation.
	Embedder embeddings.Provider

	// Engine is used for voice registration only; synthesis goes through
	// Generator.
	Engine tts.Provider

	Scorer *similarity.Scorer
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithConfig sets the pipeline configuration.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) {
		p.cfg = cfg
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// Pipeline runs narrata's operations. It is safe for concurrent use.
type Pipeline struct {
	Deps
	cfg     Config
	metrics *observe.Metrics
	now     func() time.Time
}

// New validates deps and builds a Pipeline.
func New(deps Deps, opts ...Option) (*Pipeline, error) {
	var errs []error
	if deps.Profiles == nil {
		errs = append(errs, errors.New("pipeline: profile store is required"))
	}
	if deps.Storage == nil {
		errs = append(errs, errors.New("pipeline: object storage is required"))
	}
	if deps.Cache == nil {
		errs = append(errs, errors.New("pipeline: narration cache is required"))
	}
	if deps.Generator == nil {
		errs = append(errs, errors.New("pipeline: generator is required"))
	}
	if deps.Meter == nil {
		errs = append(errs, errors.New("pipeline: meter is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	p := &Pipeline{Deps: deps, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	p.cfg.applyDefaults()
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// Limits returns the reference-audio limits in effect.
func (p *Pipeline) Limits() refaudio.Limits {
	return p.cfg.Limits
}

// authorize loads the profile and checks that ownerID owns it.
func (p *Pipeline) authorize(ctx context.Context, op, ownerID, profileID string) (*profile.VoiceProfile, error) {
	if ownerID == "" {
		return nil, apperr.New(apperr.KindUnauthenticated, op, "owner identity missing")
	}
	if profileID == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, op, "profile id is required")
	}
	vp, err := p.Profiles.Get(ctx, profileID)
	if errors.Is(err, profile.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, op, "voice profile not found", err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, op, "could not load voice profile", err)
	}
	if vp.OwnerID != ownerID {
		return nil, apperr.New(apperr.KindForbidden, op, "voice profile belongs to another owner")
	}
	return vp, nil
}

func (p *Pipeline) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.cfg.StorageTimeout)
}
