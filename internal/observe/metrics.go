// Package observe wires narrata into OpenTelemetry. It owns the metric
// instruments every stage of the pipeline reports to, the request middleware
// that opens a span per HTTP call, and helpers that put the trace ID into log
// records.
//
// Instruments are created against a [metric.MeterProvider]. Production code
// uses the global provider installed by [InitProvider], which a Prometheus
// reader exposes on /metrics; tests build their own through [NewMetrics] and
// read it back with a manual reader.
package observe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all narrata metrics.
const meterName = "github.com/MrWong99/narrata"

// Pipeline stage names used as the "stage" attribute of StageDuration.
const (
	StageValidate   = "validate"
	StageUpload     = "upload"
	StageExtract    = "extract"
	StageRegister   = "register"
	StageDownload   = "download"
	StageSynthesize = "synthesize"
	StageTranscode  = "transcode"
	StageSimilarity = "similarity"
	StageMetering   = "metering"
)

// Degradation kinds used as the "kind" attribute of Degradations.
const (
	DegradeEmbeddingUnavailable = "embedding_unavailable"
	DegradeRegistrationFailed   = "registration_failed"
	DegradePartialDownload      = "partial_download"
	DegradeTranscodeFallback    = "transcode_fallback"
	DegradeSimilarityUnscored   = "similarity_unscored"
	DegradeMeteringFailed       = "metering_failed"
	DegradeCacheUnavailable     = "cache_unavailable"
	DegradeBreakerOpen          = "breaker_open"
)

// Metrics is the set of instruments narrata records to. The attribute keys
// each instrument expects are listed next to it.
type Metrics struct {
	StageDuration       metric.Float64Histogram   // stage
	Narrations          metric.Int64Counter       // cached
	ProfilesCreated     metric.Int64Counter       // status
	SimilarityTiers     metric.Int64Counter       // tier
	Degradations        metric.Int64Counter       // kind
	ProviderRequests    metric.Int64Counter       // provider, kind, status
	InFlightNarrations  metric.Int64UpDownCounter // none
	HTTPRequestDuration metric.Float64Histogram   // method, route, status
}

// Seconds. Synthesis of a long paragraph on CPU can take tens of seconds.
var latencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// NewMetrics creates every instrument on mp's narrata meter.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	seconds := []metric.Float64HistogramOption{
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	}
	counter := func(name, desc string) (metric.Int64Counter, error) {
		return m.Int64Counter(name, metric.WithDescription(desc))
	}

	var (
		met  Metrics
		errs = make([]error, 8)
	)
	met.StageDuration, errs[0] = m.Float64Histogram("narrata.stage.duration",
		append(seconds, metric.WithDescription("Latency of pipeline stages."))...)
	met.Narrations, errs[1] = counter("narrata.narrations", "Narrations served, by cache status.")
	met.ProfilesCreated, errs[2] = counter("narrata.profiles.created", "Voice profiles created, by final status.")
	met.SimilarityTiers, errs[3] = counter("narrata.similarity.tier", "Scored narrations by quality tier.")
	met.Degradations, errs[4] = counter("narrata.degradations", "Requests served with reduced functionality, by kind.")
	met.ProviderRequests, errs[5] = counter("narrata.provider.requests", "Collaborator calls by provider, kind and outcome.")
	met.InFlightNarrations, errs[6] = m.Int64UpDownCounter("narrata.narrations.in_flight",
		metric.WithDescription("Narrations currently being generated."))
	met.HTTPRequestDuration, errs[7] = m.Float64Histogram("narrata.http.request.duration",
		metric.WithUnit("s"), metric.WithDescription("HTTP request latency by method, route and status."))

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return &met, nil
}

// DefaultMetrics returns instruments on the global meter provider, created on
// first use.
var DefaultMetrics = sync.OnceValue(func() *Metrics {
	met, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic(err)
	}
	return met
})

// RecordStage records the time elapsed since start for stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, start time.Time) {
	m.StageDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordNarration counts one served narration.
func (m *Metrics) RecordNarration(ctx context.Context, cached bool) {
	m.Narrations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("cached", strconv.FormatBool(cached))),
	)
}

// RecordProfileCreated counts one finished profile creation.
func (m *Metrics) RecordProfileCreated(ctx context.Context, status string) {
	m.ProfilesCreated.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordSimilarityTier counts one scored narration.
func (m *Metrics) RecordSimilarityTier(ctx context.Context, tier string) {
	m.SimilarityTiers.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tier", tier)),
	)
}

// RecordDegradation counts one degraded outcome of the given kind.
func (m *Metrics) RecordDegradation(ctx context.Context, kind string) {
	m.Degradations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordProviderRequest counts one call to an external collaborator.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}
