package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationHeader carries the request's trace ID back to the client.
const CorrelationHeader = "X-Correlation-ID"

// quietRoutes are polled constantly; their completions are logged at debug.
var quietRoutes = map[string]bool{"/healthz": true, "/readyz": true, "/metrics": true}

// responseStatus remembers the status code a handler wrote.
type responseStatus struct {
	http.ResponseWriter
	code int
}

func (w *responseStatus) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseStatus) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Middleware traces every request as a server span, continuing a W3C trace
// context sent by the caller. The trace ID is echoed in [CorrelationHeader].
// Once the handler returns, the span and the request duration histogram are
// labelled with the chi route pattern (e.g. /voice-profiles/{id}) rather than
// the raw path, and the completion is logged.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	var tc propagation.TraceContext

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := StartSpan(
				tc.Extract(r.Context(), propagation.HeaderCarrier(r.Header)),
				"HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method), semconv.URLPath(r.URL.Path)),
			)
			defer span.End()

			traceID := CorrelationID(ctx)
			if traceID != "" {
				w.Header().Set(CorrelationHeader, traceID)
			}
			tc.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rw := &responseStatus{ResponseWriter: w, code: http.StatusOK}
			r = r.WithContext(ctx)
			next.ServeHTTP(rw, r)
			elapsed := time.Since(start)

			route := routePattern(r)
			span.SetName("HTTP " + r.Method + " " + route)
			span.SetAttributes(semconv.HTTPRoute(route), semconv.HTTPResponseStatusCode(rw.code))

			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", route),
				attribute.String("status", strconv.Itoa(rw.code)),
			))

			level := slog.LevelInfo
			if quietRoutes[route] {
				level = slog.LevelDebug
			}
			slog.LogAttrs(ctx, level, "http request",
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.code),
				slog.Duration("elapsed", elapsed),
				slog.String("trace_id", traceID),
			)
		})
	}
}

// routePattern returns the chi route pattern matched for r, or the raw path
// outside a chi router.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
