package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/codex-k8s/desktop-mcp-server/internal/cache"
)

// meterName is the instrumentation scope for all server metrics.
const meterName = "github.com/codex-k8s/desktop-mcp-server"

// latencyBuckets are histogram boundaries in seconds sized for desktop
// automation calls, from cached lookups to slow OCR passes.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Instruments holds the OpenTelemetry instruments fed by the Sink.
type Instruments struct {
	meter metric.Meter

	// ToolDuration tracks tool execution latency by tool and status.
	ToolDuration metric.Float64Histogram
	// ToolCalls counts tool invocations by tool and status.
	ToolCalls metric.Int64Counter
	// BatchSize tracks the number of requests per executed batch.
	BatchSize metric.Int64Histogram
	// BatchDuration tracks wall time per executed batch.
	BatchDuration metric.Float64Histogram
	// BatchGroups tracks the number of parallel groups per batch.
	BatchGroups metric.Int64Histogram
}

// NewInstruments creates the instruments on the given provider.
func NewInstruments(mp metric.MeterProvider) (*Instruments, error) {
	m := mp.Meter(meterName)
	var err error
	ins := &Instruments{meter: m}

	if ins.ToolDuration, err = m.Float64Histogram("desktop_mcp.tool.duration",
		metric.WithDescription("Latency of tool executions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if ins.ToolCalls, err = m.Int64Counter("desktop_mcp.tool.calls",
		metric.WithDescription("Tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if ins.BatchSize, err = m.Int64Histogram("desktop_mcp.batch.size",
		metric.WithDescription("Requests per executed batch."),
	); err != nil {
		return nil, err
	}
	if ins.BatchDuration, err = m.Float64Histogram("desktop_mcp.batch.duration",
		metric.WithDescription("Wall time of executed batches."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if ins.BatchGroups, err = m.Int64Histogram("desktop_mcp.batch.groups",
		metric.WithDescription("Parallel groups per executed batch."),
	); err != nil {
		return nil, err
	}
	return ins, nil
}

// ObserveQueue registers a gauge reporting the admission queue depth.
func (i *Instruments) ObserveQueue(depth func() int64) error {
	_, err := i.meter.Int64ObservableGauge("desktop_mcp.queue.depth",
		metric.WithDescription("Requests waiting in the admission queue."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(depth())
			return nil
		}),
	)
	return err
}

// ObserveCaches registers instruments reporting cache statistics per
// instance.
func (i *Instruments) ObserveCaches(stats func() map[string]cache.Stats) error {
	hits, err := i.meter.Int64ObservableCounter("desktop_mcp.cache.hits",
		metric.WithDescription("Cache hits by cache name."))
	if err != nil {
		return err
	}
	misses, err := i.meter.Int64ObservableCounter("desktop_mcp.cache.misses",
		metric.WithDescription("Cache misses by cache name."))
	if err != nil {
		return err
	}
	evictions, err := i.meter.Int64ObservableCounter("desktop_mcp.cache.evictions",
		metric.WithDescription("Cache evictions by cache name."))
	if err != nil {
		return err
	}
	size, err := i.meter.Int64ObservableGauge("desktop_mcp.cache.size",
		metric.WithDescription("Current entries by cache name."))
	if err != nil {
		return err
	}

	_, err = i.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for name, st := range stats() {
			attrs := metric.WithAttributes(attribute.String("cache", name))
			o.ObserveInt64(hits, st.Hits, attrs)
			o.ObserveInt64(misses, st.Misses, attrs)
			o.ObserveInt64(evictions, st.Evictions, attrs)
			o.ObserveInt64(size, int64(st.Size), attrs)
		}
		return nil
	}, hits, misses, evictions, size)
	return err
}

func (i *Instruments) recordTool(ctx context.Context, tool string, duration time.Duration, success bool) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", statusLabel(success)),
	)
	i.ToolDuration.Record(ctx, duration.Seconds(), attrs)
	i.ToolCalls.Add(ctx, 1, attrs)
}

func (i *Instruments) recordBatch(ctx context.Context, sample BatchSample) {
	if i == nil {
		return
	}
	i.BatchSize.Record(ctx, int64(sample.Requests))
	i.BatchDuration.Record(ctx, sample.Duration.Seconds())
	i.BatchGroups.Record(ctx, int64(sample.ParallelGroups))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
