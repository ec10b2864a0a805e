package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MrWong99/narrata/internal/apperr"
	"github.com/MrWong99/narrata/internal/generator"
	"github.com/MrWong99/narrata/internal/metering"
	"github.com/MrWong99/narrata/internal/narration"
	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/internal/profile"
	"github.com/MrWong99/narrata/internal/similarity"
	"github.com/MrWong99/narrata/pkg/storage"
)

const opNarrate = "narration.generate"

// NarrationRequest asks for text spoken in a profile's voice.
type NarrationRequest struct {
	OwnerID   string
	ProfileID string
	Text      string
	Params    generator.Params

	// SkipCache forces a fresh generation. The result is neither looked up
	// nor recorded in the cache.
	SkipCache bool
}

// NarrationResult is the outcome of a narration request.
type NarrationResult struct {
	AudioURL    string
	ContentType string

	// Cached is true when the audio was served from the cache and no new
	// synthesis was billed.
	Cached bool

	// Similarity is nil when the narration could not be scored.
	Similarity  *float64
	QualityTier similarity.Tier
	Guidance    string

	// CacheKey identifies the narration in the cache.
	CacheKey string
}

func resultFromEntry(e narration.Entry, cached bool) *NarrationResult {
	return &NarrationResult{
		AudioURL:    e.AudioURL,
		ContentType: e.ContentType,
		Cached:      cached,
		Similarity:  e.Similarity,
		QualityTier: similarity.Tier(e.QualityTier),
		Guidance:    e.Guidance,
		CacheKey:    e.Key,
	}
}

// Narrate speaks req.Text in the profile's voice and returns where the audio
// was stored. Identical (profile, text) requests are served from the cache
// and are not billed again. Similarity scoring and metering never fail the
// request.
func (p *Pipeline) Narrate(ctx context.Context, req NarrationRequest) (*NarrationResult, error) {
	if req.OwnerID == "" {
		return nil, apperr.New(apperr.KindUnauthenticated, opNarrate, "owner identity missing")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, opNarrate, "text is required")
	}
	if n := utf8.RuneCountInString(req.Text); n > p.cfg.MaxTextRunes {
		return nil, apperr.New(apperr.KindInvalidRequest, opNarrate,
			fmt.Sprintf("text is %d characters; the limit is %d", n, p.cfg.MaxTextRunes))
	}
	vp, err := p.authorize(ctx, opNarrate, req.OwnerID, req.ProfileID)
	if err != nil {
		return nil, err
	}
	if vp.Status != profile.StatusReady {
		return nil, apperr.New(apperr.KindInvalidRequest, opNarrate,
			fmt.Sprintf("voice profile is %s", vp.Status)).
			WithHint("wait for the profile to become ready or create a new one")
	}

	log := observe.Logger(ctx).With("profile_id", vp.ID, "owner_id", vp.OwnerID)
	key := narration.Key(vp.ID, req.Text)

	if !req.SkipCache {
		e, ok, err := p.Cache.Lookup(ctx, key)
		switch {
		case err != nil:
			log.Warn("narration cache lookup failed, generating", "err", err)
			p.metrics.RecordDegradation(ctx, observe.DegradeCacheUnavailable)
		case ok:
			p.metrics.RecordNarration(ctx, true)
			log.Debug("narration served from cache", "cache_key", key)
			return resultFromEntry(e, true), nil
		}
	}

	p.metrics.InFlightNarrations.Add(ctx, 1)
	defer p.metrics.InFlightNarrations.Add(ctx, -1)

	art, err := p.Generator.Generate(ctx, vp, req.Text, req.Params)
	if err != nil {
		return nil, err
	}

	file := narration.KeyHex(key)
	if req.SkipCache {
		file += "-" + uuid.NewString()[:8]
	}
	path := storage.ArtifactPath(vp.OwnerID, vp.ID, NarrationsDir+"/"+file+art.Format.Ext())
	sctx, cancel := p.storageCtx(ctx)
	url, err := p.Storage.Put(sctx, path, art.Audio, art.Format.ContentType())
	cancel()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, opNarrate, "could not store narration audio", err)
	}

	entry := narration.Entry{
		Key:         key,
		ProfileID:   vp.ID,
		OwnerID:     vp.OwnerID,
		AudioURL:    url,
		Path:        path,
		ContentType: art.Format.ContentType(),
		CreatedAt:   p.now().UTC(),
	}
	p.score(ctx, vp, art, &entry)

	if !req.SkipCache {
		canonical, won, err := p.Cache.Store(ctx, entry)
		switch {
		case err != nil:
			log.Warn("failed to cache narration", "err", err)
			p.metrics.RecordDegradation(ctx, observe.DegradeCacheUnavailable)
		case !won:
			// A concurrent request for the same text finished first.
			if canonical.Path != path {
				p.discard(ctx, path)
			}
			p.metrics.RecordNarration(ctx, true)
			return resultFromEntry(canonical, true), nil
		}
	}

	if p.deletedMeanwhile(ctx, vp.ID) {
		log.Info("voice profile deleted during narration, dropping audio", "cache_key", key)
		p.discard(ctx, path)
		if !req.SkipCache {
			if _, err := p.Cache.DeleteProfile(ctx, vp.ID); err != nil {
				log.Warn("failed to clear narration of deleted profile", "err", err)
			}
		}
		return nil, apperr.New(apperr.KindNotFound, opNarrate, "voice profile was deleted")
	}

	p.Meter.Charge(ctx, metering.Charge{
		OwnerID:   vp.OwnerID,
		ProfileID: vp.ID,
		CacheKey:  key,
		Text:      req.Text,
	})
	p.metrics.RecordNarration(ctx, false)
	log.Info("narration generated",
		"cache_key", key,
		"bytes", len(art.Audio),
		"format", art.Format,
		"engine_native", art.EngineNative,
		"quality_tier", entry.QualityTier,
	)
	return resultFromEntry(entry, false), nil
}

// score attaches a similarity score to e. An unscored narration keeps a nil
// Similarity.
func (p *Pipeline) score(ctx context.Context, vp *profile.VoiceProfile, art *generator.Artifact, e *narration.Entry) {
	if p.Scorer == nil {
		return
	}
	s, err := p.Scorer.Score(ctx, vp, art, e.AudioURL)
	if err != nil {
		observe.Logger(ctx).Warn("narration left unscored", "profile_id", vp.ID, "err", err)
		p.metrics.RecordDegradation(ctx, observe.DegradeSimilarityUnscored)
		return
	}
	p.metrics.RecordSimilarityTier(ctx, string(s.Tier))
	v := s.Value
	e.Similarity = &v
	e.QualityTier = string(s.Tier)
	e.Guidance = s.Guidance
}

// deletedMeanwhile reports whether profile id has been deleted since the
// narration started. Lookup errors count as still present.
func (p *Pipeline) deletedMeanwhile(ctx context.Context, id string) bool {
	_, err := p.Profiles.Get(ctx, id)
	return errors.Is(err, profile.ErrNotFound)
}

func (p *Pipeline) discard(ctx context.Context, path string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.StorageTimeout)
	defer cancel()
	if err := p.Storage.Remove(ctx, path); err != nil {
		observe.Logger(ctx).Warn("failed to remove superseded narration", "path", path, "err", err)
	}
}

// waitTimeout bounds how long Close waits for in-flight ledger debits.
const waitTimeout = 10 * time.Second

// Close waits for pending metering debits to finish.
func (p *Pipeline) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	return p.Meter.Wait(ctx)
}
