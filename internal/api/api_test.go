package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/narrata/internal/apperr"
	"github.com/MrWong99/narrata/internal/generator"
	"github.com/MrWong99/narrata/internal/metering"
	"github.com/MrWong99/narrata/internal/narration"
	"github.com/MrWong99/narrata/internal/pipeline"
	"github.com/MrWong99/narrata/internal/profile"
	"github.com/MrWong99/narrata/internal/similarity"
	"github.com/MrWong99/narrata/pkg/audio"
	"github.com/MrWong99/narrata/pkg/audio/audiotest"
	"github.com/MrWong99/narrata/pkg/provider/tts"
	ttsmock "github.com/MrWong99/narrata/pkg/provider/tts/mock"
	"github.com/MrWong99/narrata/pkg/storage/memory"
)

// fakeService records requests and returns canned results.
type fakeService struct {
	mu         sync.Mutex
	created    []pipeline.CreateProfileRequest
	narrations []pipeline.NarrationRequest
	deleted    []string

	createErr  error
	narrateErr error
	profile    *profile.VoiceProfile
}

func (f *fakeService) CreateProfile(_ context.Context, req pipeline.CreateProfileRequest) (*pipeline.CreateProfileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &pipeline.CreateProfileResult{
		Profile:            &profile.VoiceProfile{ID: "p-1", OwnerID: req.OwnerID, Status: profile.StatusReady},
		EmbeddingAvailable: true,
	}, nil
}

func (f *fakeService) GetProfile(_ context.Context, ownerID, id string) (*profile.VoiceProfile, error) {
	if f.profile == nil || f.profile.ID != id {
		return nil, apperr.New(apperr.KindNotFound, "test", "voice profile not found")
	}
	if f.profile.OwnerID != ownerID {
		return nil, apperr.New(apperr.KindForbidden, "test", "not yours")
	}
	return f.profile, nil
}

func (f *fakeService) ListProfiles(_ context.Context, ownerID string) ([]profile.VoiceProfile, error) {
	if f.profile != nil && f.profile.OwnerID == ownerID {
		return []profile.VoiceProfile{*f.profile}, nil
	}
	return nil, nil
}

func (f *fakeService) DeleteProfile(_ context.Context, _, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeService) ClearHistory(context.Context, string, string) (int, error) {
	return 3, nil
}

func (f *fakeService) Narrate(_ context.Context, req pipeline.NarrationRequest) (*pipeline.NarrationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.narrations = append(f.narrations, req)
	if f.narrateErr != nil {
		return nil, f.narrateErr
	}
	score := 0.8
	return &pipeline.NarrationResult{
		AudioURL:    "mem://objects/o/p/narrations/ab.wav",
		ContentType: "audio/wav",
		Similarity:  &score,
		QualityTier: similarity.TierModerate,
		Guidance:    similarity.TierModerate.Guidance(),
	}, nil
}

func do(t *testing.T, h http.Handler, method, path, owner string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

type upload struct {
	name        string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...upload) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	for _, f := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="files"; filename="`+f.name+`"`)
		hdr.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		part.Write(f.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes(), mw.FormDataContentType()
}

func TestRouter_RequiresOwner(t *testing.T) {
	t.Parallel()
	h := New(&fakeService{}).Router()

	rec := do(t, h, http.MethodGet, "/voice-profiles", "", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if e := decodeError(t, rec); e.Kind != apperr.KindUnauthenticated || e.Hint == "" {
		t.Errorf("error = %+v", e)
	}
}

func TestCreateProfile_Multipart(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	h := New(svc).Router()

	body, ct := multipartBody(t, map[string]string{"name": "Grandma", "description": "bedtime stories"},
		upload{"a.wav", "audio/wav", []byte("RIFF-a")},
		upload{"b.mp3", "audio/mpeg", []byte("ID3-b")},
	)
	rec := do(t, h, http.MethodPost, "/voice-profiles", "owner-1", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp createProfileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ProfileID != "p-1" || resp.Status != profile.StatusReady || !resp.EmbeddingAvailable {
		t.Errorf("response = %+v", resp)
	}

	if len(svc.created) != 1 {
		t.Fatalf("CreateProfile calls = %d", len(svc.created))
	}
	got := svc.created[0]
	if got.OwnerID != "owner-1" || got.Name != "Grandma" || got.Description != "bedtime stories" {
		t.Errorf("request = %+v", got)
	}
	if len(got.Files) != 2 || got.Files[1].Name != "b.mp3" || got.Files[1].ContentType != "audio/mpeg" || string(got.Files[0].Data) != "RIFF-a" {
		t.Errorf("files = %+v", got.Files)
	}
}

func TestCreateProfile_BodyTooLarge(t *testing.T) {
	t.Parallel()
	h := New(&fakeService{}, WithMaxUploadBytes(1024)).Router()

	body, ct := multipartBody(t, map[string]string{"name": "n"},
		upload{"a.wav", "audio/wav", bytes.Repeat([]byte{1}, 4096)},
	)
	rec := do(t, h, http.MethodPost, "/voice-profiles", "owner-1", body, ct)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if e := decodeError(t, rec); e.Kind != apperr.KindFileTooLarge {
		t.Errorf("kind = %s", e.Kind)
	}
}

func TestCreateProfile_ExtraFileFitsUploadLimit(t *testing.T) {
	t.Parallel()
	const size = 4096
	svc := &fakeService{}
	h := New(svc, WithMaxUploadBytes(UploadLimit(3, size))).Router()

	full := bytes.Repeat([]byte{1}, size)
	body, ct := multipartBody(t, map[string]string{"name": "n"},
		upload{"a.wav", "audio/wav", full},
		upload{"b.wav", "audio/wav", full},
		upload{"c.wav", "audio/wav", full},
		upload{"d.wav", "audio/wav", full},
	)
	rec := do(t, h, http.MethodPost, "/voice-profiles", "owner-1", body, ct)
	if rec.Code == http.StatusRequestEntityTooLarge {
		t.Fatal("four maximum-size files were rejected as too large")
	}
	if len(svc.created) != 1 || len(svc.created[0].Files) != 4 {
		t.Fatalf("service did not receive the four files for count validation")
	}
}

func TestCreateProfile_NotMultipart(t *testing.T) {
	t.Parallel()
	h := New(&fakeService{}).Router()

	rec := do(t, h, http.MethodPost, "/voice-profiles", "owner-1", []byte(`{}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateProfile_ValidationErrorBody(t *testing.T) {
	t.Parallel()
	svc := &fakeService{createErr: apperr.New(apperr.KindTooFewFiles, "refaudio.validate", "1 file uploaded; at least 2 are required")}
	h := New(svc).Router()

	body, ct := multipartBody(t, map[string]string{"name": "n"}, upload{"a.wav", "audio/wav", []byte("x")})
	rec := do(t, h, http.MethodPost, "/voice-profiles", "owner-1", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	e := decodeError(t, rec)
	if e.Kind != apperr.KindTooFewFiles || e.Hint != apperr.KindTooFewFiles.DefaultHint() {
		t.Errorf("error = %+v", e)
	}
}

func TestNarrate_JSON(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	h := New(svc).Router()

	rec := do(t, h, http.MethodPost, "/narrations", "owner-1",
		[]byte(`{"profileId":"p-1","text":"Hello","params":{"speed":1.5,"format":"mp3"},"skipCache":true}`),
		"application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp narrationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AudioURL == "" || resp.Similarity == nil || *resp.Similarity != 0.8 || resp.QualityTier != "moderate" {
		t.Errorf("response = %+v", resp)
	}

	req := svc.narrations[0]
	if req.OwnerID != "owner-1" || req.ProfileID != "p-1" || !req.SkipCache {
		t.Errorf("request = %+v", req)
	}
	def := generator.DefaultParams()
	if req.Params.Speed != 1.5 || req.Params.Temperature != def.Temperature || req.Params.Format != audio.FormatMP3 {
		t.Errorf("params = %+v", req.Params)
	}
}

func TestNarrate_BadRequests(t *testing.T) {
	t.Parallel()
	h := New(&fakeService{}).Router()

	for _, body := range []string{
		`not json`,
		`{"profileId":"p","text":"x","params":{"format":"ogg"}}`,
		`{"profileId":"p","text":"x","voice":"alloy"}`,
	} {
		rec := do(t, h, http.MethodPost, "/narrations", "owner-1", []byte(body), "application/json")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rec.Code)
			continue
		}
		if e := decodeError(t, rec); e.Kind != apperr.KindInvalidRequest {
			t.Errorf("%s: kind = %s", body, e.Kind)
		}
	}
}

func TestNarrate_EngineError(t *testing.T) {
	t.Parallel()
	svc := &fakeService{narrateErr: apperr.New(apperr.KindEngine, "generator.generate", "synthesis engine failed (status 500): CUDA out of memory")}
	h := New(svc).Router()

	rec := do(t, h, http.MethodPost, "/narrations", "owner-1", []byte(`{"profileId":"p","text":"x"}`), "application/json")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if e := decodeError(t, rec); !strings.Contains(e.Message, "CUDA out of memory") {
		t.Errorf("message = %q", e.Message)
	}
}

func TestNarrate_InternalErrorIsOpaque(t *testing.T) {
	t.Parallel()
	svc := &fakeService{narrateErr: context.DeadlineExceeded}
	h := New(svc).Router()

	rec := do(t, h, http.MethodPost, "/narrations", "owner-1", []byte(`{"profileId":"p","text":"x"}`), "application/json")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if e := decodeError(t, rec); e.Kind != apperr.KindInternal || strings.Contains(e.Message, "deadline") {
		t.Errorf("error = %+v", e)
	}
}

func TestNarrate_RateLimited(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	h := New(svc, WithRateLimiter(NewOwnerLimiter(1, 2))).Router()

	body := []byte(`{"profileId":"p","text":"x"}`)
	for i := range 2 {
		if rec := do(t, h, http.MethodPost, "/narrations", "owner-1", body, "application/json"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	rec := do(t, h, http.MethodPost, "/narrations", "owner-1", body, "application/json")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if e := decodeError(t, rec); e.Kind != apperr.KindRateLimited {
		t.Errorf("kind = %s", e.Kind)
	}

	// Other owners have their own bucket.
	if rec := do(t, h, http.MethodPost, "/narrations", "owner-2", body, "application/json"); rec.Code != http.StatusOK {
		t.Errorf("owner-2 status = %d, want 200", rec.Code)
	}
}

func TestProfileRoutes(t *testing.T) {
	t.Parallel()
	svc := &fakeService{profile: &profile.VoiceProfile{
		ID: "p-1", OwnerID: "owner-1", Name: "Grandma", Status: profile.StatusReady,
		References: []profile.AudioRef{{URL: "mem://objects/r1.wav", Name: "r1.wav", Duration: 25 * time.Second}},
	}}
	h := New(svc).Router()

	rec := do(t, h, http.MethodGet, "/voice-profiles/p-1", "owner-1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var view profileView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Name != "Grandma" || len(view.References) != 1 || view.References[0].Duration != 25 {
		t.Errorf("view = %+v", view)
	}

	if rec := do(t, h, http.MethodGet, "/voice-profiles/p-1", "owner-2", nil, ""); rec.Code != http.StatusForbidden {
		t.Errorf("foreign get status = %d, want 403", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/voice-profiles/nope", "owner-1", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing get status = %d, want 404", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/voice-profiles", "owner-1", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"id":"p-1"`) {
		t.Errorf("list = %d %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodDelete, "/voice-profiles/p-1/narrations", "owner-1", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"cleared":3`) {
		t.Errorf("clear history = %d %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodDelete, "/voice-profiles/p-1", "owner-1", nil, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
	if len(svc.deleted) != 1 || svc.deleted[0] != "p-1" {
		t.Errorf("deleted = %v", svc.deleted)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	t.Parallel()
	h := New(&fakeService{}, WithCORSOrigins("https://studio.example.com")).Router()

	req := httptest.NewRequest(http.MethodOptions, "/narrations", nil)
	req.Header.Set("Origin", "https://studio.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", OwnerHeader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://studio.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

// TestEndToEnd drives the real pipeline with in-memory backends.
func TestEndToEnd(t *testing.T) {
	t.Parallel()

	store := memory.New(memory.DefaultBaseURL)
	engine := &ttsmock.Provider{SynthesizeResult: &tts.Result{Audio: audiotest.WAV(time.Second), Format: audio.FormatWAV}}
	p, err := pipeline.New(pipeline.Deps{
		Profiles:  profile.NewMemoryStore(),
		Storage:   store,
		Cache:     narration.NewMemoryCache(),
		Generator: generator.New(store, engine, generator.WithTempDir(t.TempDir())),
		Meter:     metering.New(nil),
		Scorer:    similarity.NewScorer(nil),
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	h := New(p).Router()

	// One file is rejected before anything is stored.
	body, ct := multipartBody(t, map[string]string{"name": "Solo"},
		upload{"a.wav", "audio/wav", audiotest.WAV(25 * time.Second)})
	rec := do(t, h, http.MethodPost, "/voice-profiles", "owner-1", body, ct)
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Kind != apperr.KindTooFewFiles {
		t.Fatalf("single file: %d %s", rec.Code, rec.Body)
	}

	body, ct = multipartBody(t, map[string]string{"name": "Duo"},
		upload{"a.wav", "audio/wav", audiotest.WAV(25 * time.Second)},
		upload{"b.wav", "audio/x-wav", audiotest.ToneWAV(30*time.Second, 330)},
	)
	rec = do(t, h, http.MethodPost, "/voice-profiles", "owner-1", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	var created createProfileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.EmbeddingAvailable {
		t.Error("no embedder configured, embedding should be unavailable")
	}

	narrate := []byte(`{"profileId":"` + created.ProfileID + `","text":"Once upon a time."}`)
	rec = do(t, h, http.MethodPost, "/narrations", "owner-1", narrate, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("narrate: %d %s", rec.Code, rec.Body)
	}
	var first narrationResponse
	json.Unmarshal(rec.Body.Bytes(), &first)

	rec = do(t, h, http.MethodPost, "/narrations", "owner-1", narrate, "application/json")
	var second narrationResponse
	json.Unmarshal(rec.Body.Bytes(), &second)
	if !second.Cached || second.AudioURL != first.AudioURL {
		t.Errorf("second narration = %+v, want cached %s", second, first.AudioURL)
	}

	rec = do(t, h, http.MethodDelete, "/voice-profiles/"+created.ProfileID, "owner-1", nil, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body)
	}
	rec = do(t, h, http.MethodPost, "/narrations", "owner-1", narrate, "application/json")
	if rec.Code != http.StatusNotFound {
		t.Errorf("narrate after delete: %d, want 404", rec.Code)
	}
}
