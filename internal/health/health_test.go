package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func ok(context.Context) error { return nil }

func readyz(t *testing.T, h *Handler) (int, result) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New(Required("postgres", pingFunc(func(context.Context) error { return errors.New("down") })))

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz_AllCheckersPass(t *testing.T) {
	t.Parallel()
	h := New(Required("postgres", pingFunc(ok)), Required("redis", pingFunc(ok)))

	code, body := readyz(t, h)
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %q, want 200 ok", code, body.Status)
	}
	if body.Checks["postgres"] != "ok" || body.Checks["redis"] != "ok" {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestReadyz_RequiredFailure(t *testing.T) {
	t.Parallel()
	h := New(
		Required("postgres", pingFunc(ok)),
		Required("nats", pingFunc(func(context.Context) error { return errors.New("no responders") })),
	)

	code, body := readyz(t, h)
	if code != http.StatusServiceUnavailable || body.Status != "fail" {
		t.Errorf("got %d %q, want 503 fail", code, body.Status)
	}
	if !strings.HasPrefix(body.Checks["nats"], "fail: no responders") {
		t.Errorf("nats check = %q", body.Checks["nats"])
	}
}

func TestReadyz_OptionalFailureDegrades(t *testing.T) {
	t.Parallel()
	h := New(
		Required("engine", pingFunc(ok)),
		Optional("embeddings", pingFunc(func(context.Context) error { return errors.New("503") })),
	)

	code, body := readyz(t, h)
	if code != http.StatusOK || body.Status != "degraded" {
		t.Errorf("got %d %q, want 200 degraded", code, body.Status)
	}
	if !strings.HasPrefix(body.Checks["embeddings"], "degraded:") {
		t.Errorf("embeddings check = %q", body.Checks["embeddings"])
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	t.Parallel()
	code, body := readyz(t, New())
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Required("slow", pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	r := chi.NewRouter()
	New(Required("postgres", pingFunc(ok))).Register(r)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}
