// Package generator turns text into narration audio in a voice profile's
// voice. It fetches the profile's reference recordings, calls the synthesis
// engine, and converts the result to the requested container.
package generator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/narrata/internal/apperr"
	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/internal/profile"
	"github.com/MrWong99/narrata/pkg/audio"
	"github.com/MrWong99/narrata/pkg/provider/tts"
	"github.com/MrWong99/narrata/pkg/storage"
)

const op = "generator.generate"

// Defaults for [Generator] options.
const (
	DefaultDownloadTimeout = 10 * time.Second
	DefaultEngineTimeout   = 120 * time.Second
	DefaultMaxReferences   = 3
)

// Reference is one downloaded reference recording.
type Reference struct {
	Index  int
	Data   []byte
	Format audio.Format
}

// Artifact is the output of a successful generation.
type Artifact struct {
	Audio  []byte
	Format audio.Format

	// NativeFormat is the container the engine produced. It differs from
	// Format only when transcoding succeeded.
	NativeFormat audio.Format

	// TranscodeErr is set when the requested format could not be produced
	// and Audio was left in NativeFormat.
	TranscodeErr error

	// Reference is the first successfully downloaded reference, used for
	// raw-audio similarity scoring.
	Reference *Reference

	// EngineNative reports whether the engine was addressed by voice id.
	EngineNative bool

	ReferencesUsed   int
	ReferencesFailed int

	// Params are the clamped parameters actually sent to the engine.
	Params Params
}

// Option is a functional option for configuring a Generator.
type Option func(*Generator)

// WithDownloadTimeout bounds each reference download individually.
func WithDownloadTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.downloadTimeout = d
		}
	}
}

// WithEngineTimeout bounds the synthesis call.
func WithEngineTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.engineTimeout = d
		}
	}
}

// WithMaxReferences caps how many reference files are attached in local
// cloning mode.
func WithMaxReferences(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxReferences = n
		}
	}
}

// WithTempDir sets the parent directory for per-request scratch space.
// Defaults to [os.TempDir].
func WithTempDir(dir string) Option {
	return func(g *Generator) {
		g.tempDir = dir
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Generator) {
		if m != nil {
			g.metrics = m
		}
	}
}

// Generator synthesises narrations. It is safe for concurrent use.
type Generator struct {
	store  storage.Store
	engine tts.Provider

	downloadTimeout time.Duration
	engineTimeout   time.Duration
	maxReferences   int
	tempDir         string
	metrics         *observe.Metrics
}

// New creates a Generator reading references from store and synthesising
// with engine.
func New(store storage.Store, engine tts.Provider, opts ...Option) *Generator {
	g := &Generator{
		store:           store,
		engine:          engine,
		downloadTimeout: DefaultDownloadTimeout,
		engineTimeout:   DefaultEngineTimeout,
		maxReferences:   DefaultMaxReferences,
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Generate renders text in p's voice.
//
// Failures are *apperr.Error values of kind insufficient_reference (no
// reference could be downloaded) or engine_error (the engine failed; the
// message carries its diagnostic). Scratch files are removed before Generate
// returns, including on cancellation.
func (g *Generator) Generate(ctx context.Context, p *profile.VoiceProfile, text string, params Params) (*Artifact, error) {
	log := observe.Logger(ctx).With("profile_id", p.ID)

	scratch, err := os.MkdirTemp(g.tempDir, "narrata-gen-*")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, "could not create scratch directory", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Warn("failed to remove scratch directory", "dir", scratch, "err", err)
		}
	}()

	start := time.Now()
	refs, paths, failed := g.download(ctx, p.References, scratch)
	g.metrics.RecordStage(ctx, observe.StageDownload, start)
	if len(refs) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, apperr.Wrap(apperr.KindInsufficientReference, op, "request cancelled while fetching reference audio", err)
		}
		return nil, apperr.New(apperr.KindInsufficientReference, op,
			fmt.Sprintf("none of the %d reference recordings could be fetched", len(p.References)))
	}
	if failed > 0 {
		log.Warn("some reference recordings could not be fetched", "failed", failed, "ok", len(refs))
		g.metrics.RecordDegradation(ctx, observe.DegradePartialDownload)
	}

	params = params.Clamp()
	req := tts.Request{
		Text:        text,
		Language:    params.Language,
		Model:       params.Model,
		Speed:       params.Speed,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		Volume:      params.Volume,
	}
	if p.EngineNative() {
		req.VoiceID = p.EngineVoiceID
	} else {
		req.ReferencePaths = paths[:min(len(paths), g.maxReferences)]
	}

	start = time.Now()
	engineCtx, cancel := context.WithTimeout(ctx, g.engineTimeout)
	res, err := g.engine.Synthesize(engineCtx, req)
	cancel()
	g.metrics.RecordStage(ctx, observe.StageSynthesize, start)
	if err != nil {
		g.metrics.RecordProviderRequest(ctx, "engine", "synthesize", "error")
		return nil, engineFailure(err)
	}
	if res == nil || len(res.Audio) == 0 {
		g.metrics.RecordProviderRequest(ctx, "engine", "synthesize", "error")
		return nil, apperr.New(apperr.KindEngine, op, "synthesis engine returned no audio")
	}
	g.metrics.RecordProviderRequest(ctx, "engine", "synthesize", "ok")

	art := &Artifact{
		Audio:            res.Audio,
		Format:           res.Format,
		NativeFormat:     res.Format,
		Reference:        &refs[0],
		EngineNative:     p.EngineNative(),
		ReferencesUsed:   len(refs),
		ReferencesFailed: failed,
		Params:           params,
	}
	if !art.Format.IsValid() {
		if sniffed, err := audio.Sniff(art.Audio); err == nil {
			art.Format, art.NativeFormat = sniffed, sniffed
		}
	}

	if params.Format != "" && params.Format != art.Format {
		start = time.Now()
		out, err := audio.Transcode(art.Audio, art.Format, params.Format)
		g.metrics.RecordStage(ctx, observe.StageTranscode, start)
		if err != nil {
			log.Warn("transcode failed, returning native format",
				"from", art.Format, "to", params.Format, "err", err)
			g.metrics.RecordDegradation(ctx, observe.DegradeTranscodeFallback)
			art.TranscodeErr = err
		} else {
			art.Audio, art.Format = out, params.Format
		}
	}
	return art, nil
}

// download fetches every reference concurrently, each under its own timeout,
// and writes successful ones into dir. It returns the successful references
// and their file paths in profile order, plus the failure count.
func (g *Generator) download(ctx context.Context, refs []profile.AudioRef, dir string) ([]Reference, []string, int) {
	type slot struct {
		ref  Reference
		path string
		ok   bool
	}
	slots := make([]slot, len(refs))

	var eg errgroup.Group
	for i, ref := range refs {
		eg.Go(func() error {
			data, path, err := g.fetchOne(ctx, i, ref, dir)
			if err != nil {
				observe.Logger(ctx).Warn("reference download failed", "url", ref.URL, "err", err)
				return nil
			}
			format, _ := referenceFormat(ref, data)
			slots[i] = slot{ref: Reference{Index: i, Data: data, Format: format}, path: path, ok: true}
			return nil
		})
	}
	_ = eg.Wait()

	var (
		out    []Reference
		paths  []string
		failed int
	)
	for _, s := range slots {
		if !s.ok {
			failed++
			continue
		}
		out = append(out, s.ref)
		paths = append(paths, s.path)
	}
	return out, paths, failed
}

func (g *Generator) fetchOne(ctx context.Context, i int, ref profile.AudioRef, dir string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.downloadTimeout)
	defer cancel()

	data, err := g.store.Get(ctx, ref.URL)
	if err != nil {
		return nil, "", err
	}
	ext := "bin"
	if f, err := referenceFormat(ref, data); err == nil {
		ext = f.Ext()
	}
	path := filepath.Join(dir, fmt.Sprintf("reference_%d.%s", i+1, ext))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, "", fmt.Errorf("generator: write %s: %w", path, err)
	}
	return data, path, nil
}

func referenceFormat(ref profile.AudioRef, data []byte) (audio.Format, error) {
	if f, err := audio.FormatFromContentType(ref.ContentType); err == nil {
		return f, nil
	}
	if f, err := audio.FormatFromFilename(ref.Path); err == nil {
		return f, nil
	}
	return audio.Sniff(data)
}

// engineFailure converts a synthesis error into an engine_error that carries
// the engine's own diagnostic.
func engineFailure(err error) error {
	msg := "synthesis engine failed"
	var engErr *tts.EngineError
	switch {
	case errors.As(err, &engErr) && engErr.Diagnostic != "":
		msg = fmt.Sprintf("synthesis engine failed (status %d): %s", engErr.StatusCode, engErr.Diagnostic)
	case errors.Is(err, context.DeadlineExceeded):
		msg = "synthesis engine timed out"
	default:
		msg = msg + ": " + err.Error()
	}
	return apperr.Wrap(apperr.KindEngine, op, msg, err)
}
