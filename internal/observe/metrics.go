// Package observe provides application-wide observability primitives for
// livebridge: OpenTelemetry metrics with an optional Prometheus scrape
// endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via a standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all livebridge metrics.
const meterName = "github.com/redglass/livebridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// FramesCaptured counts encoded video frames sent upstream. Use with
	// attribute:
	//   attribute.String("source", ...)
	FramesCaptured metric.Int64Counter

	// AudioChunksSent counts microphone PCM chunks sent upstream.
	AudioChunksSent metric.Int64Counter

	// OutboundQueueDepth records the depth of the bounded outbound queue at
	// enqueue time.
	OutboundQueueDepth metric.Int64Gauge

	// TurnsCompleted counts completed model turns.
	TurnsCompleted metric.Int64Counter

	// Interrupts counts playback drains, explicit or turn-triggered.
	Interrupts metric.Int64Counter

	// DiscardedChunks counts playback buffers dropped by drains.
	DiscardedChunks metric.Int64Counter

	// SessionEvents counts inbound session events. Use with attribute:
	//   attribute.String("kind", ...)
	SessionEvents metric.Int64Counter

	// ToolExecutionDuration tracks tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("server", ...), attribute.String("tool", ...),
	//   attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ActiveToolServers tracks the number of connected tool server processes.
	ActiveToolServers metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// interactive tool calls, which range from milliseconds to the 30 s request
// timeout.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("livebridge.capture.frames",
		metric.WithDescription("Total encoded video frames sent upstream, by source."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksSent, err = m.Int64Counter("livebridge.capture.audio_chunks",
		metric.WithDescription("Total microphone PCM chunks sent upstream."),
	); err != nil {
		return nil, err
	}
	if met.OutboundQueueDepth, err = m.Int64Gauge("livebridge.outbound.queue_depth",
		metric.WithDescription("Depth of the bounded outbound queue at enqueue time."),
	); err != nil {
		return nil, err
	}
	if met.TurnsCompleted, err = m.Int64Counter("livebridge.session.turns",
		metric.WithDescription("Total completed model turns."),
	); err != nil {
		return nil, err
	}
	if met.Interrupts, err = m.Int64Counter("livebridge.playback.interrupts",
		metric.WithDescription("Total playback drains."),
	); err != nil {
		return nil, err
	}
	if met.DiscardedChunks, err = m.Int64Counter("livebridge.playback.discarded_chunks",
		metric.WithDescription("Total playback buffers dropped by drains."),
	); err != nil {
		return nil, err
	}
	if met.SessionEvents, err = m.Int64Counter("livebridge.session.events",
		metric.WithDescription("Total inbound session events by kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("livebridge.tool_execution.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("livebridge.tool.calls",
		metric.WithDescription("Total tool invocations by server, tool, and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveToolServers, err = m.Int64UpDownCounter("livebridge.tool_servers.active",
		metric.WithDescription("Number of connected tool server processes."),
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

// RecordFrame records one captured video frame for the named source.
func (m *Metrics) RecordFrame(ctx context.Context, source string) {
	m.FramesCaptured.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordSessionEvent records one inbound session event by kind.
func (m *Metrics) RecordSessionEvent(ctx context.Context, kind string) {
	m.SessionEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordInterrupt records one playback drain and the number of buffers it
// discarded.
func (m *Metrics) RecordInterrupt(ctx context.Context, discarded int) {
	m.Interrupts.Add(ctx, 1)
	m.DiscardedChunks.Add(ctx, int64(discarded))
}

// RecordToolCall records a tool invocation counter increment with the
// standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, server, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("server", server),
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}
