// Package coqui provides a tts.Provider for a Coqui XTTS v2 server speaking
// the multipart synthesis API.
//
// Endpoints used:
//
//   - POST /tts: multipart form with the text, the synthesis parameters and
//     either a voice_id or one or more speaker_wav files. Returns audio bytes.
//   - POST /clone_speaker: multipart form with a name and speaker_wav files.
//     Returns {"name": "<voice id>"}.
//   - GET /health: 200 when the model is loaded.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:8002",
//	    coqui.WithLanguage("en"),
//	    coqui.WithTimeout(90*time.Second),
//	)
//	res, err := p.Synthesize(ctx, tts.Request{Text: "Hello", ReferencePaths: paths})
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/narrata/pkg/audio"
	"github.com/MrWong99/narrata/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage      = "en"
	defaultTimeout       = 90 * time.Second
	ttsEndpoint          = "/tts"
	cloneSpeakerEndpoint = "/clone_speaker"
	healthEndpoint       = "/health"

	// maxDiagnosticLen bounds how much of an error body is kept as the
	// engine diagnostic.
	maxDiagnosticLen = 2048
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language used when a request does not specify one.
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithModel sets the model used when a request does not specify one.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 90 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements tts.Provider backed by an XTTS server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	model      string
	httpClient *http.Client
}

// New creates a Provider that targets the server at serverURL. serverURL must
// be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// cloneSpeakerResponse is the JSON body returned by POST /clone_speaker.
type cloneSpeakerResponse struct {
	Name string `json:"name"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("coqui: text must not be empty")
	}
	if req.VoiceID == "" && len(req.ReferencePaths) == 0 {
		return nil, errors.New("coqui: either a voice id or reference recordings are required")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	model := req.Model
	if model == "" {
		model = p.model
	}
	fields := [][2]string{
		{"text", req.Text},
		{"language", lang},
		{"speed", formatFloat(req.Speed)},
		{"temperature", formatFloat(req.Temperature)},
		{"top_p", formatFloat(req.TopP)},
		{"volume", formatFloat(req.Volume)},
	}
	if model != "" {
		fields = append(fields, [2]string{"model", model})
	}
	if req.VoiceID != "" {
		fields = append(fields, [2]string{"voice_id", req.VoiceID})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("coqui: write field %s: %w", f[0], err)
		}
	}
	if req.VoiceID == "" {
		for _, path := range req.ReferencePaths {
			if err := attachFile(mw, path); err != nil {
				return nil, err
			}
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("coqui: close multipart writer: %w", err)
	}

	resp, err := p.postMultipart(ctx, ttsEndpoint, mw.FormDataContentType(), &body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, engineError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read %s response: %w", ttsEndpoint, err)
	}
	if len(data) == 0 {
		return nil, &tts.EngineError{StatusCode: resp.StatusCode, Diagnostic: "empty audio response"}
	}

	format, err := audio.FormatFromContentType(resp.Header.Get("Content-Type"))
	if err != nil {
		format, err = audio.Sniff(data)
		if err != nil {
			return nil, fmt.Errorf("coqui: unrecognised audio response: %w", err)
		}
	}
	return &tts.Result{Audio: data, Format: format}, nil
}

// CloneVoice registers a speaker via POST /clone_speaker. A nil or empty
// samples slice returns an error rather than sending an empty request.
func (p *Provider) CloneVoice(ctx context.Context, name string, samples []tts.Sample) (string, error) {
	if len(samples) == 0 {
		return "", errors.New("coqui: CloneVoice requires at least one audio sample")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("name", name); err != nil {
		return "", fmt.Errorf("coqui: write field name: %w", err)
	}
	for i, s := range samples {
		filename := s.Name
		if filename == "" {
			filename = fmt.Sprintf("sample_%02d.wav", i)
		}
		fw, err := mw.CreateFormFile("speaker_wav", filepath.Base(filename))
		if err != nil {
			return "", fmt.Errorf("coqui: create form file %s: %w", filename, err)
		}
		if _, err := fw.Write(s.Data); err != nil {
			return "", fmt.Errorf("coqui: write form file %s: %w", filename, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("coqui: close multipart writer: %w", err)
	}

	resp, err := p.postMultipart(ctx, cloneSpeakerEndpoint, mw.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", engineError(resp)
	}

	var cloneResp cloneSpeakerResponse
	if err := json.NewDecoder(resp.Body).Decode(&cloneResp); err != nil {
		return "", fmt.Errorf("coqui: decode clone-speaker response: %w", err)
	}
	if cloneResp.Name == "" {
		return "", errors.New("coqui: clone-speaker response missing name")
	}
	return cloneResp.Name, nil
}

// Ping checks GET /health. It matches the health.Checker signature.
func (p *Provider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+healthEndpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create health request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", healthEndpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", healthEndpoint, resp.StatusCode)
	}
	return nil
}

func (p *Provider) postMultipart(ctx context.Context, endpoint, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("coqui: create %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: POST %s: %w", endpoint, err)
	}
	return resp, nil
}

// attachFile streams the file at path into a speaker_wav form part.
func attachFile(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("coqui: open reference %s: %w", path, err)
	}
	defer f.Close()

	fw, err := mw.CreateFormFile("speaker_wav", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("coqui: create form file %s: %w", path, err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return fmt.Errorf("coqui: write form file %s: %w", path, err)
	}
	return nil
}

// engineError builds a *tts.EngineError from a failed response. XTTS servers
// return either {"detail": "..."} or plain text.
func engineError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticLen))
	diag := strings.TrimSpace(string(raw))
	var detail struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &detail) == nil && detail.Detail != "" {
		diag = detail.Detail
	}
	return &tts.EngineError{StatusCode: resp.StatusCode, Diagnostic: diag}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
