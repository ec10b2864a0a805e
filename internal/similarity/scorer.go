package similarity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/narrata/internal/generator"
	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/internal/profile"
	"github.com/MrWong99/narrata/pkg/audio"
	"github.com/MrWong99/narrata/pkg/provider/embeddings"
)

// ErrUnscored is returned by [Scorer.Score] when no scoring path succeeded.
var ErrUnscored = errors.New("similarity: no scoring path available")

// DefaultTimeout bounds each call to the embedding worker.
const DefaultTimeout = 15 * time.Second

// Method names the scoring path that produced a [Score].
type Method string

const (
	// MethodRemote asks the embedding worker to compare the narration
	// against the stored embedding artifact.
	MethodRemote Method = "embedding_remote"

	// MethodLocal extracts an embedding of the narration and compares it
	// with the profile's vector in-process.
	MethodLocal Method = "embedding_local"

	// MethodSpectral compares long-term spectral envelopes of the narration
	// and a reference recording. Coarse, but needs no worker.
	MethodSpectral Method = "spectral"
)

// Score is the outcome of scoring one narration.
type Score struct {
	Value    float64
	Tier     Tier
	Guidance string
	Method   Method
}

func newScore(v float64, m Method) Score {
	v = math.Max(0, math.Min(1, v))
	t := Classify(v)
	return Score{Value: v, Tier: t, Guidance: t.Guidance(), Method: m}
}

// Option is a functional option for configuring a Scorer.
type Option func(*Scorer)

// WithTimeout bounds each embedding-worker call.
func WithTimeout(d time.Duration) Option {
	return func(s *Scorer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithoutSpectral disables the raw-audio fallback.
func WithoutSpectral() Option {
	return func(s *Scorer) {
		s.spectral = false
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scorer) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Scorer rates narrations against their profile's reference voice. It is
// safe for concurrent use.
type Scorer struct {
	embedder embeddings.Provider
	timeout  time.Duration
	spectral bool
	metrics  *observe.Metrics
}

// NewScorer creates a Scorer. embedder may be nil, in which case only the
// spectral path is available.
func NewScorer(embedder embeddings.Provider, opts ...Option) *Scorer {
	s := &Scorer{embedder: embedder, timeout: DefaultTimeout, spectral: true}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Score rates art, already stored at audioURL, against p. Paths are tried in
// order of precision: remote embedding comparison, local embedding cosine,
// spectral comparison with the first downloaded reference. It returns an
// error wrapping [ErrUnscored] when none applies or all fail.
func (s *Scorer) Score(ctx context.Context, p *profile.VoiceProfile, art *generator.Artifact, audioURL string) (Score, error) {
	start := time.Now()
	defer s.metrics.RecordStage(ctx, observe.StageSimilarity, start)
	log := observe.Logger(ctx).With("profile_id", p.ID)

	var errs []error

	if s.embedder != nil && p.EmbeddingRef != "" && audioURL != "" {
		v, err := s.remote(ctx, p.EmbeddingRef, audioURL)
		if err == nil {
			return newScore(v, MethodRemote), nil
		}
		log.Debug("remote similarity failed", "err", err)
		errs = append(errs, err)
	}

	if s.embedder != nil && len(p.Embedding) > 0 && audioURL != "" {
		v, err := s.local(ctx, p.Embedding, audioURL)
		if err == nil {
			return newScore(v, MethodLocal), nil
		}
		log.Debug("local embedding similarity failed", "err", err)
		errs = append(errs, err)
	}

	if s.spectral && art != nil && art.Reference != nil {
		v, err := spectral(art)
		if err == nil {
			return newScore(v, MethodSpectral), nil
		}
		log.Debug("spectral similarity failed", "err", err)
		errs = append(errs, err)
	}

	return Score{}, errors.Join(append([]error{ErrUnscored}, errs...)...)
}

func (s *Scorer) remote(ctx context.Context, embeddingRef, audioURL string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	cmp, err := s.embedder.CompareSimilarity(ctx, embeddingRef, audioURL, OKThreshold)
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, "embeddings", "compare", "error")
		return 0, fmt.Errorf("similarity: compare: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, "embeddings", "compare", "ok")
	if cmp == nil {
		return 0, fmt.Errorf("similarity: compare: empty response: %w", embeddings.ErrUnavailable)
	}
	return cmp.Similarity, nil
}

func (s *Scorer) local(ctx context.Context, ref []float32, audioURL string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	emb, err := s.embedder.Extract(ctx, []string{audioURL})
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, "embeddings", "extract", "error")
		return 0, fmt.Errorf("similarity: extract candidate: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, "embeddings", "extract", "ok")
	if emb == nil {
		return 0, fmt.Errorf("similarity: extract candidate: empty response: %w", embeddings.ErrUnavailable)
	}
	if len(emb.Vector) != len(ref) {
		return 0, fmt.Errorf("similarity: embedding dimensions differ: %d vs %d", len(emb.Vector), len(ref))
	}
	// Speaker-embedding cosine below zero means "different speaker"; it is
	// floored rather than rescaled.
	return math.Max(0, audio.Cosine(widen(ref), widen(emb.Vector))), nil
}

func spectral(art *generator.Artifact) (float64, error) {
	if !art.Reference.Format.IsValid() {
		return 0, fmt.Errorf("similarity: reference format unknown")
	}
	cand, err := audio.Decode(art.Audio, art.Format)
	if err != nil {
		return 0, fmt.Errorf("similarity: decode narration: %w", err)
	}
	ref, err := audio.Decode(art.Reference.Data, art.Reference.Format)
	if err != nil {
		return 0, fmt.Errorf("similarity: decode reference: %w", err)
	}
	return audio.CompareSpectra(cand, ref)
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
