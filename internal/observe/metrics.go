// Package observe provides application-wide observability primitives for
// Aizuchi: OpenTelemetry metrics plus a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Aizuchi metrics.
const meterName = "github.com/aizuchi-dev/aizuchi"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text segment latency, from the first
	// interim result of a segment to its final transcript.
	STTDuration metric.Float64Histogram

	// LLMFirstChunk tracks time from generation start to the first streamed
	// chunk. This is the latency that decides whether a backchannel covers
	// the gap.
	LLMFirstChunk metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency per sentence.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks the full turn: end of user speech to end of
	// system playback.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Turns counts completed dialogue turns. Use with attribute:
	//   attribute.String("outcome", "completed"|"interrupted"|"silent")
	Turns metric.Int64Counter

	// Interruptions counts barge-ins: user speech detected while playback
	// was active.
	Interruptions metric.Int64Counter

	// StaleGenerations counts generation tasks cancelled because a newer
	// utterance superseded them.
	StaleGenerations metric.Int64Counter

	// SessionRestarts counts recognizer session restarts. Use with attribute:
	//   attribute.String("reason", "turn"|"watchdog"|"error")
	SessionRestarts metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveGenerations tracks in-flight generation tasks across both
	// channels.
	ActiveGenerations metric.Int64UpDownCounter

	// PlaybackActive tracks whether audio playback is currently running
	// (0 or 1 per speaker).
	PlaybackActive metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("aizuchi.stt.duration",
		metric.WithDescription("Latency from a segment's first interim result to its final transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMFirstChunk, err = m.Float64Histogram("aizuchi.llm.first_chunk",
		metric.WithDescription("Latency from generation start to first streamed chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("aizuchi.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis per sentence."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("aizuchi.turn.duration",
		metric.WithDescription("End-to-end turn latency: end of user speech to end of playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("aizuchi.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("aizuchi.turns",
		metric.WithDescription("Total completed dialogue turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("aizuchi.interruptions",
		metric.WithDescription("Total barge-ins: user speech detected during playback."),
	); err != nil {
		return nil, err
	}
	if met.StaleGenerations, err = m.Int64Counter("aizuchi.generation.stale",
		metric.WithDescription("Total generation tasks cancelled by a newer utterance."),
	); err != nil {
		return nil, err
	}
	if met.SessionRestarts, err = m.Int64Counter("aizuchi.stt.session_restarts",
		metric.WithDescription("Total recognizer session restarts by reason."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("aizuchi.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveGenerations, err = m.Int64UpDownCounter("aizuchi.generation.active",
		metric.WithDescription("Number of in-flight generation tasks."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackActive, err = m.Int64UpDownCounter("aizuchi.playback.active",
		metric.WithDescription("Number of active playback streams."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTurn is a convenience method that records a completed turn with its
// outcome.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordSessionRestart is a convenience method that records a recognizer
// session restart with its reason.
func (m *Metrics) RecordSessionRestart(ctx context.Context, reason string) {
	m.SessionRestarts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
