// Package observe provides the application's observability primitives:
// OpenTelemetry metrics with a Prometheus exporter bridge so the standard
// /metrics endpoint keeps working.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/bloopmc/bloop"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// CommandDuration tracks end-to-end command processing latency. Use
	// with attributes: verb, status.
	CommandDuration metric.Float64Histogram

	// TranslationDuration tracks language-model translation latency.
	TranslationDuration metric.Float64Histogram

	// Commands counts processed commands. Use with attributes:
	//   attribute.String("verb", ...), attribute.String("channel", ...),
	//   attribute.String("status", ...)
	Commands metric.Int64Counter

	// Denials counts silently dropped unauthorized commands by verb.
	Denials metric.Int64Counter

	// Translations counts language-model translation attempts by status
	// ("ok", "unintelligible", "transport_error").
	Translations metric.Int64Counter

	// BehaviorTransitions counts arbiter behavior entries by behavior
	// ("combat", "flee", "sleep", "eat", "guard", "collect").
	BehaviorTransitions metric.Int64Counter

	// Reconnects counts automatic reconnect attempts after connection loss.
	Reconnects metric.Int64Counter

	// ActiveAgents tracks the number of currently connected agents.
	ActiveAgents metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries in seconds. Command
// latencies are dominated by the model round-trip.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CommandDuration, err = m.Float64Histogram("bloop.command.duration",
		metric.WithDescription("End-to-end command processing latency by verb and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslationDuration, err = m.Float64Histogram("bloop.translation.duration",
		metric.WithDescription("Language-model translation latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("bloop.commands",
		metric.WithDescription("Total processed commands by verb, channel, and status."),
	); err != nil {
		return nil, err
	}
	if met.Denials, err = m.Int64Counter("bloop.denials",
		metric.WithDescription("Total silently dropped unauthorized commands by verb."),
	); err != nil {
		return nil, err
	}
	if met.Translations, err = m.Int64Counter("bloop.translations",
		metric.WithDescription("Total translation attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.BehaviorTransitions, err = m.Int64Counter("bloop.behavior.transitions",
		metric.WithDescription("Total behavior entries by behavior."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("bloop.reconnects",
		metric.WithDescription("Total automatic reconnect attempts."),
	); err != nil {
		return nil, err
	}
	if met.ActiveAgents, err = m.Int64UpDownCounter("bloop.active_agents",
		metric.WithDescription("Number of currently connected agents."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer.
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

// RecordCommand records one processed command with its latency.
func (m *Metrics) RecordCommand(ctx context.Context, verb, channel, status string, d time.Duration) {
	m.Commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("verb", verb),
		attribute.String("channel", channel),
		attribute.String("status", status),
	))
	m.CommandDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("verb", verb),
		attribute.String("status", status),
	))
}

// RecordDenial records one silently dropped command.
func (m *Metrics) RecordDenial(ctx context.Context, verb string) {
	m.Denials.Add(ctx, 1, metric.WithAttributes(attribute.String("verb", verb)))
}

// RecordTranslation records one translation attempt with its latency.
func (m *Metrics) RecordTranslation(ctx context.Context, status string, d time.Duration) {
	m.Translations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.TranslationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordTransition records one behavior entry.
func (m *Metrics) RecordTransition(ctx context.Context, behavior string) {
	m.BehaviorTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("behavior", behavior)))
}
