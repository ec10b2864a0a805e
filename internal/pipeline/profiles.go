package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/narrata/internal/apperr"
	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/internal/profile"
	"github.com/MrWong99/narrata/internal/refaudio"
	"github.com/MrWong99/narrata/pkg/provider/embeddings"
	"github.com/MrWong99/narrata/pkg/provider/tts"
	"github.com/MrWong99/narrata/pkg/storage"
)

const (
	opCreate  = "profile.create"
	opGet     = "profile.get"
	opList    = "profile.list"
	opDelete  = "profile.delete"
	opHistory = "profile.clear_history"
)

// EmbeddingArtifact is the JSON document stored next to a profile's
// references when embedding extraction succeeds.
const EmbeddingArtifact = "embedding.json"

// NarrationsDir is the per-profile directory that holds generated audio.
const NarrationsDir = "narrations"

// CreateProfileRequest describes a new voice profile.
type CreateProfileRequest struct {
	OwnerID     string
	Name        string
	Description string
	Files       []refaudio.File
}

// CreateProfileResult reports the outcome of a successful creation.
type CreateProfileResult struct {
	Profile *profile.VoiceProfile

	// EmbeddingAvailable is false when the embedding worker could not
	// process the references. The profile is usable either way.
	EmbeddingAvailable bool
}

type embeddingDoc struct {
	ProfileID string                `json:"profile_id"`
	Model     string                `json:"model,omitempty"`
	Vector    []float32             `json:"embedding"`
	PerFile   []embeddings.FileMeta `json:"per_file_meta,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// CreateProfile validates the uploaded references, persists them, and
// returns a ready profile. Validation runs before any storage or network
// call. A storage failure leaves the record in failed status with no
// artifacts behind.
func (p *Pipeline) CreateProfile(ctx context.Context, req CreateProfileRequest) (*CreateProfileResult, error) {
	if req.OwnerID == "" {
		return nil, apperr.New(apperr.KindUnauthenticated, opCreate, "owner identity missing")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, opCreate, "profile name is required")
	}

	start := time.Now()
	set, err := refaudio.Validate(req.Files, p.cfg.Limits)
	p.metrics.RecordStage(ctx, observe.StageValidate, start)
	if err != nil {
		p.metrics.RecordProfileCreated(ctx, "rejected")
		return nil, err
	}

	vp := &profile.VoiceProfile{
		ID:          uuid.NewString(),
		OwnerID:     req.OwnerID,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Status:      profile.StatusPending,
	}
	log := observe.Logger(ctx).With("profile_id", vp.ID, "owner_id", vp.OwnerID)

	if err := p.Profiles.Create(ctx, vp); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, opCreate, "could not record voice profile", err)
	}

	refs, err := p.uploadReferences(ctx, vp, set)
	if err == nil {
		err = p.Profiles.SetReferences(ctx, vp.ID, refs)
	}
	if err != nil {
		p.abandon(ctx, log, vp)
		p.metrics.RecordProfileCreated(ctx, string(profile.StatusFailed))
		return nil, apperr.Wrap(apperr.KindStorage, opCreate, "could not store reference audio", err)
	}
	vp.References = refs

	res := &CreateProfileResult{Profile: vp}
	res.EmbeddingAvailable = p.extractEmbedding(ctx, log, vp)
	p.registerEngineVoice(ctx, log, vp, set)

	if err := p.checkStored(ctx, vp.ID); err != nil {
		p.abandon(ctx, log, vp)
		p.metrics.RecordProfileCreated(ctx, string(profile.StatusFailed))
		return nil, apperr.Wrap(apperr.KindStorage, opCreate, "stored voice profile is incomplete", err)
	}
	if err := p.Profiles.Transition(ctx, vp.ID, profile.StatusReady); err != nil {
		p.abandon(ctx, log, vp)
		p.metrics.RecordProfileCreated(ctx, string(profile.StatusFailed))
		return nil, apperr.Wrap(apperr.KindStorage, opCreate, "could not finalise voice profile", err)
	}
	vp.Status = profile.StatusReady

	p.metrics.RecordProfileCreated(ctx, string(profile.StatusReady))
	log.Info("voice profile created",
		"references", len(refs),
		"total_duration", set.TotalDuration(),
		"embedding", res.EmbeddingAvailable,
		"engine_native", vp.EngineNative(),
	)
	return res, nil
}

func (p *Pipeline) uploadReferences(ctx context.Context, vp *profile.VoiceProfile, set refaudio.ValidatedSet) ([]profile.AudioRef, error) {
	start := time.Now()
	defer p.metrics.RecordStage(ctx, observe.StageUpload, start)

	refs := make([]profile.AudioRef, 0, len(set.Files))
	for i, f := range set.Files {
		path := storage.ArtifactPath(vp.OwnerID, vp.ID, fmt.Sprintf("reference_%d%s", i+1, f.Format.Ext()))
		sctx, cancel := p.storageCtx(ctx)
		url, err := p.Storage.Put(sctx, path, f.Data, f.Format.ContentType())
		cancel()
		if err != nil {
			return nil, fmt.Errorf("pipeline: upload %s: %w", path, err)
		}
		refs = append(refs, profile.AudioRef{
			URL:         url,
			Path:        path,
			Name:        f.Name,
			ContentType: f.Format.ContentType(),
			Duration:    f.Duration,
			Size:        int64(len(f.Data)),
		})
	}
	return refs, nil
}

// abandon removes every artifact of vp and marks it failed. Errors are
// logged; the caller already has a terminal error to report.
// checkStored re-reads the persisted record and verifies it may become ready
// under the configured limits.
func (p *Pipeline) checkStored(ctx context.Context, id string) error {
	stored, err := p.Profiles.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("pipeline: reload profile: %w", err)
	}
	l := p.cfg.Limits
	return stored.CheckReadyWithin(profile.ReadyBounds{
		MinReferences: l.MinFiles,
		MaxReferences: l.MaxFiles,
		MinDuration:   l.MinDuration,
		MaxDuration:   l.MaxDuration,
	})
}

func (p *Pipeline) abandon(ctx context.Context, log *slog.Logger, vp *profile.VoiceProfile) {
	ctx = context.WithoutCancel(ctx)
	sctx, cancel := p.storageCtx(ctx)
	defer cancel()
	if err := p.Storage.RemovePrefix(sctx, storage.ProfilePrefix(vp.OwnerID, vp.ID)); err != nil {
		log.Error("failed to remove partial profile artifacts", "err", err)
	}
	if err := p.Profiles.Transition(ctx, vp.ID, profile.StatusFailed); err != nil {
		log.Error("failed to mark voice profile failed", "err", err)
	}
	vp.Status = profile.StatusFailed
}

// extractEmbedding stores the speaker embedding for vp. Every failure is
// swallowed; the return value reports whether an embedding is now attached.
func (p *Pipeline) extractEmbedding(ctx context.Context, log *slog.Logger, vp *profile.VoiceProfile) bool {
	if p.Embedder == nil {
		return false
	}
	start := time.Now()
	defer p.metrics.RecordStage(ctx, observe.StageExtract, start)

	degrade := func(msg string, err error) bool {
		log.Warn(msg, "err", err)
		p.metrics.RecordDegradation(ctx, observe.DegradeEmbeddingUnavailable)
		return false
	}

	ectx, cancel := context.WithTimeout(ctx, p.cfg.ExtractTimeout)
	emb, err := p.Embedder.Extract(ectx, vp.ReferenceURLs())
	cancel()
	if err != nil {
		return degrade("embedding extraction unavailable", err)
	}
	if emb == nil || len(emb.Vector) == 0 {
		return degrade("embedding extraction unavailable", embeddings.ErrUnavailable)
	}

	doc, err := json.Marshal(embeddingDoc{
		ProfileID: vp.ID,
		Model:     emb.Model,
		Vector:    emb.Vector,
		PerFile:   emb.PerFile,
		CreatedAt: p.now().UTC(),
	})
	if err != nil {
		return degrade("failed to encode embedding", err)
	}
	sctx, cancel := p.storageCtx(ctx)
	url, err := p.Storage.Put(sctx, storage.ArtifactPath(vp.OwnerID, vp.ID, EmbeddingArtifact), doc, "application/json")
	cancel()
	if err != nil {
		return degrade("failed to store embedding", err)
	}
	if err := p.Profiles.SetEmbedding(ctx, vp.ID, url, emb.Vector); err != nil {
		return degrade("failed to record embedding", err)
	}
	vp.EmbeddingRef = url
	vp.Embedding = emb.Vector
	return true
}

// registerEngineVoice asks the engine to learn vp's voice so narrations can
// address it by id. Failures leave vp in local-cloning mode.
func (p *Pipeline) registerEngineVoice(ctx context.Context, log *slog.Logger, vp *profile.VoiceProfile, set refaudio.ValidatedSet) {
	if !p.cfg.RegisterEngineVoice || p.Engine == nil {
		return
	}
	start := time.Now()
	defer p.metrics.RecordStage(ctx, observe.StageRegister, start)

	samples := make([]tts.Sample, len(set.Files))
	for i, f := range set.Files {
		samples[i] = tts.Sample{Name: fmt.Sprintf("reference_%d%s", i+1, f.Format.Ext()), Data: f.Data}
	}
	cctx, cancel := context.WithTimeout(ctx, p.cfg.CloneTimeout)
	voiceID, err := p.Engine.CloneVoice(cctx, "narrata-"+vp.ID, samples)
	cancel()
	if err == nil && voiceID == "" {
		err = errors.New("engine returned an empty voice id")
	}
	if err == nil {
		err = p.Profiles.SetEngineVoice(ctx, vp.ID, voiceID)
	}
	if err != nil {
		log.Warn("engine voice registration failed, using reference audio", "err", err)
		p.metrics.RecordDegradation(ctx, observe.DegradeRegistrationFailed)
		return
	}
	vp.EngineVoiceID = voiceID
}

// GetProfile returns the profile if ownerID owns it.
func (p *Pipeline) GetProfile(ctx context.Context, ownerID, profileID string) (*profile.VoiceProfile, error) {
	return p.authorize(ctx, opGet, ownerID, profileID)
}

// ListProfiles returns every profile owned by ownerID, newest first.
func (p *Pipeline) ListProfiles(ctx context.Context, ownerID string) ([]profile.VoiceProfile, error) {
	if ownerID == "" {
		return nil, apperr.New(apperr.KindUnauthenticated, opList, "owner identity missing")
	}
	list, err := p.Profiles.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, opList, "could not list voice profiles", err)
	}
	return list, nil
}

// DeleteProfile removes the profile record, every stored artifact, and every
// cached narration. Artifacts go first so that a failure leaves the record in
// place for a retry.
//
// A narration that stored its audio before the record was deleted is swept
// by a second purge; one that stores later sees the record gone and drops
// its own audio.
func (p *Pipeline) DeleteProfile(ctx context.Context, ownerID, profileID string) error {
	vp, err := p.authorize(ctx, opDelete, ownerID, profileID)
	if err != nil {
		return err
	}
	log := observe.Logger(ctx).With("profile_id", vp.ID, "owner_id", vp.OwnerID)

	if err := p.purge(ctx, vp); err != nil {
		return err
	}
	if err := p.Profiles.Delete(ctx, vp.ID); err != nil && !errors.Is(err, profile.ErrNotFound) {
		return apperr.Wrap(apperr.KindStorage, opDelete, "could not delete voice profile", err)
	}
	if err := p.purge(ctx, vp); err != nil {
		log.Warn("sweep after profile deletion failed", "err", err)
	}

	log.Info("voice profile deleted")
	return nil
}

// purge removes every stored artifact and cached narration of vp.
func (p *Pipeline) purge(ctx context.Context, vp *profile.VoiceProfile) error {
	sctx, cancel := p.storageCtx(ctx)
	err := p.Storage.RemovePrefix(sctx, storage.ProfilePrefix(vp.OwnerID, vp.ID))
	cancel()
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, opDelete, "could not remove profile audio", err)
	}
	if _, err := p.Cache.DeleteProfile(ctx, vp.ID); err != nil {
		return apperr.Wrap(apperr.KindStorage, opDelete, "could not clear cached narrations", err)
	}
	return nil
}

// ClearHistory removes every generated narration of a profile while keeping
// the profile itself. It returns the number of cache entries dropped.
func (p *Pipeline) ClearHistory(ctx context.Context, ownerID, profileID string) (int, error) {
	vp, err := p.authorize(ctx, opHistory, ownerID, profileID)
	if err != nil {
		return 0, err
	}

	n, err := p.Cache.DeleteProfile(ctx, vp.ID)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, opHistory, "could not clear cached narrations", err)
	}
	sctx, cancel := p.storageCtx(ctx)
	err = p.Storage.RemovePrefix(sctx, storage.ArtifactPath(vp.OwnerID, vp.ID, NarrationsDir)+"/")
	cancel()
	if err != nil {
		return n, apperr.Wrap(apperr.KindStorage, opHistory, "could not remove narration audio", err)
	}
	return n, nil
}
