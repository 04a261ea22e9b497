// Package observe provides application-wide observability primitives for
// modplay: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [NewProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all modplay metrics.
const meterName = "github.com/MrWong99/modplay"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Playback pump ---

	// FramesDecoded counts frames produced by the decoder and published.
	FramesDecoded metric.Int64Counter

	// SinkWriteDuration tracks how long each blocking write to the audio
	// output took. Under normal playback this is close to the frame time.
	SinkWriteDuration metric.Float64Histogram

	// --- Sessions ---

	// ActiveSessions tracks the number of running playback sessions (0 or 1
	// per controller).
	ActiveSessions metric.Int64UpDownCounter

	// SessionsEnded counts finished sessions. Use with attribute:
	//   attribute.String("outcome", "finished"|"stopped"|"faulted")
	SessionsEnded metric.Int64Counter

	// --- Errors ---

	// LoadErrors counts failed module loads. Use with attribute:
	//   attribute.String("kind", ...)
	LoadErrors metric.Int64Counter

	// EngineFaults counts unrecoverable decoder faults.
	EngineFaults metric.Int64Counter

	// HistoryErrors counts failed play-history writes. Use with attribute:
	//   attribute.String("driver", ...)
	HistoryErrors metric.Int64Counter

	// --- Library ---

	// LibraryScanDuration tracks the duration of a full library scan.
	LibraryScanDuration metric.Float64Histogram

	// LibraryEntries tracks the number of playable modules in the library.
	LibraryEntries metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// writeBuckets defines histogram bucket boundaries (in seconds) around the
// 20ms frame time of a tracker replay at 125 BPM.
var writeBuckets = []float64{
	0.001, 0.005, 0.01, 0.015, 0.02, 0.025, 0.03, 0.05, 0.1, 0.25,
}

// scanBuckets covers library scans from a handful of files to large archives.
var scanBuckets = []float64{
	0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Pump.
	if met.FramesDecoded, err = m.Int64Counter("modplay.frames.decoded",
		metric.WithDescription("Total frames decoded and published."),
	); err != nil {
		return nil, err
	}
	if met.SinkWriteDuration, err = m.Float64Histogram("modplay.sink.write.duration",
		metric.WithDescription("Latency of blocking writes to the audio output."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(writeBuckets...),
	); err != nil {
		return nil, err
	}

	// Sessions.
	if met.ActiveSessions, err = m.Int64UpDownCounter("modplay.sessions.active",
		metric.WithDescription("Number of running playback sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("modplay.sessions.ended",
		metric.WithDescription("Total playback sessions ended by outcome."),
	); err != nil {
		return nil, err
	}

	// Errors.
	if met.LoadErrors, err = m.Int64Counter("modplay.load.errors",
		metric.WithDescription("Total failed module loads by kind."),
	); err != nil {
		return nil, err
	}
	if met.EngineFaults, err = m.Int64Counter("modplay.engine.faults",
		metric.WithDescription("Total unrecoverable decoder faults."),
	); err != nil {
		return nil, err
	}
	if met.HistoryErrors, err = m.Int64Counter("modplay.history.errors",
		metric.WithDescription("Total failed play-history writes by driver."),
	); err != nil {
		return nil, err
	}

	// Library.
	if met.LibraryScanDuration, err = m.Float64Histogram("modplay.library.scan.duration",
		metric.WithDescription("Duration of a full module library scan."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(scanBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LibraryEntries, err = m.Int64UpDownCounter("modplay.library.entries",
		metric.WithDescription("Number of playable modules in the library."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("modplay.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
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

// RecordSessionEnded records the end of a playback session and decrements the
// active session gauge.
func (m *Metrics) RecordSessionEnded(ctx context.Context, outcome string) {
	m.ActiveSessions.Add(ctx, -1)
	m.SessionsEnded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordLoadError records a failed module load.
func (m *Metrics) RecordLoadError(ctx context.Context, kind string) {
	m.LoadErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordHistoryError records a failed play-history write.
func (m *Metrics) RecordHistoryError(ctx context.Context, driver string) {
	m.HistoryErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("driver", driver)),
	)
}
