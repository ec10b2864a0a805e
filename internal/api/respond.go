package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/narrata/internal/apperr"
	"github.com/MrWong99/narrata/internal/observe"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    apperr.Kind     `json:"kind"`
	Message string          `json:"message"`
	Hint    string          `json:"hint"`
	Details []apperr.Detail `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeError renders err. Errors that are not [*apperr.Error] are logged and
// reported as internal errors without their text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var typed *apperr.Error
	if !errors.As(err, &typed) {
		observe.Logger(r.Context()).Error("unhandled error", "path", r.URL.Path, "err", err)
		typed = apperr.New(apperr.KindInternal, "api", "internal error")
	}
	status := typed.Kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Warn("request failed", "path", r.URL.Path, "kind", typed.Kind, "err", err)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Kind:    typed.Kind,
		Message: typed.Message,
		Hint:    typed.RemediationHint(),
		Details: typed.Details,
	}})
}

type ownerKey struct{}

func ownerFrom(ctx context.Context) string {
	id, _ := ctx.Value(ownerKey{}).(string)
	return id
}

// requireOwner rejects requests without an owner header.
func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(OwnerHeader)
		if owner == "" {
			writeError(w, r, apperr.New(apperr.KindUnauthenticated, "api", "missing "+OwnerHeader+" header"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

// rateLimit applies the per-owner limiter, if configured.
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil {
			if ok, wait := h.limiter.Allow(ownerFrom(r.Context())); !ok {
				secs := int((wait + time.Second - 1) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				writeError(w, r, apperr.New(apperr.KindRateLimited, "api", "too many narration requests"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
