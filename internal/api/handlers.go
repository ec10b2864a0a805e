package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/narrata/internal/apperr"
	"github.com/MrWong99/narrata/internal/generator"
	"github.com/MrWong99/narrata/internal/pipeline"
	"github.com/MrWong99/narrata/internal/profile"
	"github.com/MrWong99/narrata/internal/refaudio"
	"github.com/MrWong99/narrata/pkg/audio"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before spilling to temp files.
const multipartMemory = 32 << 20

type createProfileResponse struct {
	ProfileID          string         `json:"profileId"`
	Status             profile.Status `json:"status"`
	EmbeddingAvailable bool           `json:"embeddingAvailable"`
	EngineNative       bool           `json:"engineNative"`
}

type referenceView struct {
	URL         string  `json:"url"`
	Name        string  `json:"name"`
	ContentType string  `json:"contentType"`
	Duration    float64 `json:"durationSeconds"`
	Size        int64   `json:"size"`
}

type profileView struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	Status             profile.Status  `json:"status"`
	References         []referenceView `json:"references"`
	EmbeddingAvailable bool            `json:"embeddingAvailable"`
	EngineNative       bool            `json:"engineNative"`
	CreatedAt          time.Time       `json:"createdAt"`
}

func viewOf(p *profile.VoiceProfile) profileView {
	refs := make([]referenceView, len(p.References))
	for i, r := range p.References {
		refs[i] = referenceView{
			URL:         r.URL,
			Name:        r.Name,
			ContentType: r.ContentType,
			Duration:    r.Duration.Seconds(),
			Size:        r.Size,
		}
	}
	return profileView{
		ID:                 p.ID,
		Name:               p.Name,
		Description:        p.Description,
		Status:             p.Status,
		References:         refs,
		EmbeddingAvailable: p.EmbeddingRef != "",
		EngineNative:       p.EngineNative(),
		CreatedAt:          p.CreatedAt,
	}
}

func (h *Handler) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, apperr.New(apperr.KindFileTooLarge, "api", fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)))
			return
		}
		writeError(w, r, apperr.Wrap(apperr.KindInvalidRequest, "api", "expected a multipart/form-data body", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	files, err := readFiles(r.MultipartForm.File["files"])
	if err != nil {
		writeError(w, r, apperr.Wrap(apperr.KindInvalidRequest, "api", "could not read uploaded files", err))
		return
	}

	res, err := h.svc.CreateProfile(r.Context(), pipeline.CreateProfileRequest{
		OwnerID:     ownerFrom(r.Context()),
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		Files:       files,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createProfileResponse{
		ProfileID:          res.Profile.ID,
		Status:             res.Profile.Status,
		EmbeddingAvailable: res.EmbeddingAvailable,
		EngineNative:       res.Profile.EngineNative(),
	})
}

func readFiles(headers []*multipart.FileHeader) ([]refaudio.File, error) {
	files := make([]refaudio.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		files = append(files, refaudio.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return files, nil
}

func (h *Handler) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListProfiles(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]profileView, len(list))
	for i := range list {
		views[i] = viewOf(&list[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": views})
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetProfile(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p))
}

func (h *Handler) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteProfile(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ClearHistory(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

type narrationParams struct {
	Model       string   `json:"model"`
	Language    string   `json:"language"`
	Speed       *float64 `json:"speed"`
	Temperature *float64 `json:"temperature"`
	TopP        *float64 `json:"topP"`
	Volume      *float64 `json:"volume"`
	Format      string   `json:"format"`
}

type narrationRequest struct {
	ProfileID string          `json:"profileId"`
	Text      string          `json:"text"`
	Params    narrationParams `json:"params"`
	SkipCache bool            `json:"skipCache"`
}

type narrationResponse struct {
	AudioURL    string   `json:"audioURL"`
	ContentType string   `json:"contentType"`
	Cached      bool     `json:"cached"`
	Similarity  *float64 `json:"similarity"`
	QualityTier string   `json:"qualityTier,omitempty"`
	Guidance    string   `json:"guidance,omitempty"`
}

func (p narrationParams) toParams() (generator.Params, error) {
	out := generator.DefaultParams()
	out.Model = p.Model
	out.Language = p.Language
	if p.Speed != nil {
		out.Speed = *p.Speed
	}
	if p.Temperature != nil {
		out.Temperature = *p.Temperature
	}
	if p.TopP != nil {
		out.TopP = *p.TopP
	}
	if p.Volume != nil {
		out.Volume = *p.Volume
	}
	if p.Format != "" {
		f := audio.Format(p.Format)
		if !f.IsValid() {
			return out, fmt.Errorf("format %q is not supported; use wav or mp3", p.Format)
		}
		out.Format = f
	}
	return out, nil
}

func (h *Handler) handleNarrate(w http.ResponseWriter, r *http.Request) {
	var req narrationRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, apperr.Wrap(apperr.KindInvalidRequest, "api", "malformed JSON body", err))
		return
	}
	params, err := req.Params.toParams()
	if err != nil {
		writeError(w, r, apperr.New(apperr.KindInvalidRequest, "api", err.Error()))
		return
	}

	res, err := h.svc.Narrate(r.Context(), pipeline.NarrationRequest{
		OwnerID:   ownerFrom(r.Context()),
		ProfileID: req.ProfileID,
		Text:      req.Text,
		Params:    params,
		SkipCache: req.SkipCache,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, narrationResponse{
		AudioURL:    res.AudioURL,
		ContentType: res.ContentType,
		Cached:      res.Cached,
		Similarity:  res.Similarity,
		QualityTier: string(res.QualityTier),
		Guidance:    res.Guidance,
	})
}
