package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/narrata/pkg/provider/embeddings"
)

func TestNew_RequiresBaseURL(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty baseURL")
	}
}

func TestExtract_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != extractEndpoint {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var req extractRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.AudioURLs) != 2 {
			t.Errorf("audio_urls = %v", req.AudioURLs)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embedding": []float32{0.1, 0.2, 0.3},
			"model":     "ecapa-tdnn",
			"per_file_meta": []map[string]any{
				{"url": req.AudioURLs[0], "duration_seconds": 24.5},
				{"url": req.AudioURLs[1], "duration_seconds": 31},
			},
		})
	}))
	t.Cleanup(srv.Close)

	p, err := New(srv.URL+"/", WithAPIKey("secret"), WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	emb, err := p.Extract(context.Background(), []string{"nats://v/a.wav", "nats://v/b.wav"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(emb.Vector) != 3 || emb.Model != "ecapa-tdnn" || len(emb.PerFile) != 2 {
		t.Errorf("Extract = %+v", emb)
	}
}

func TestExtract_FailuresAreUnavailable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"service unavailable", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
		}},
		{"unsupported media", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "cannot decode", http.StatusUnsupportedMediaType)
		}},
		{"malformed body", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("{not json"))
		}},
		{"empty vector", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"embedding": []}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)

			p, _ := New(srv.URL)
			_, err := p.Extract(context.Background(), []string{"nats://v/a.wav"})
			if !errors.Is(err, embeddings.ErrUnavailable) {
				t.Errorf("err = %v, want ErrUnavailable", err)
			}
		})
	}
}

func TestExtract_WorkerDown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, _ := New(url)
	if _, err := p.Extract(context.Background(), []string{"x"}); !errors.Is(err, embeddings.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if _, err := p.Extract(context.Background(), nil); !errors.Is(err, embeddings.ErrUnavailable) {
		t.Errorf("no URLs: err = %v, want ErrUnavailable", err)
	}
}

func TestCompareSimilarity(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req compareRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.EmbeddingRef != "nats://v/u/p/embedding.json" || req.Threshold != 0.82 {
			t.Errorf("request = %+v", req)
		}
		_, _ = w.Write([]byte(`{"similarity": 1.07, "passes_threshold": true}`))
	}))
	t.Cleanup(srv.Close)

	p, _ := New(srv.URL)
	cmp, err := p.CompareSimilarity(context.Background(), "nats://v/u/p/embedding.json", "nats://v/u/p/out.wav", 0.82)
	if err != nil {
		t.Fatalf("CompareSimilarity: %v", err)
	}
	if cmp.Similarity != 1 || !cmp.PassesThreshold {
		t.Errorf("CompareSimilarity = %+v, want similarity clamped to 1", cmp)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != healthEndpoint {
			t.Errorf("path = %s", r.URL.Path)
		}
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	t.Cleanup(srv.Close)

	p, _ := New(srv.URL)
	if err := p.Ping(context.Background()); err != nil {
		t.Errorf("Ping(healthy): %v", err)
	}
	healthy.Store(false)
	if err := p.Ping(context.Background()); err == nil {
		t.Error("Ping(unhealthy): expected error")
	}
}
