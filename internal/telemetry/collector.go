package telemetry

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/codex-k8s/desktop-mcp-server/internal/cache"
)

// DefaultReportSchedule is used when no schedule is configured.
const DefaultReportSchedule = "@every 1m"

// Collector periodically copies cache statistics into the sink and logs a
// report summary.
type Collector struct {
	sink   *Sink
	caches *cache.Manager
	logger *slog.Logger
	cron   *cron.Cron
}

// NewCollector creates a collector. It does nothing until Start is called.
func NewCollector(sink *Sink, caches *cache.Manager, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Collector{sink: sink, caches: caches, logger: logger}
}

// Start schedules Collect with a cron expression or descriptor such as
// "@every 30s".
func (c *Collector) Start(schedule string) error {
	if strings.TrimSpace(schedule) == "" {
		schedule = DefaultReportSchedule
	}
	c.cron = cron.New()
	if _, err := c.cron.AddFunc(schedule, c.Collect); err != nil {
		return fmt.Errorf("telemetry schedule %q: %w", schedule, err)
	}
	c.cron.Start()
	return nil
}

// Collect records the current cache statistics and logs a summary.
func (c *Collector) Collect() {
	for name, st := range c.caches.Stats() {
		c.sink.RecordCacheMetrics(name, st.Hits, st.Misses, st.Evictions, st.Size)
	}
	report := c.sink.Report()
	c.logger.Info("telemetry report",
		"tools", len(report.Tools),
		"caches", len(report.Caches),
		"batches", report.Batches.Count,
		"batch_avg_size", report.Batches.AverageSize,
		"batch_avg_duration_ms", report.Batches.AverageDuration.Milliseconds(),
	)
}

// Stop halts the schedule and waits for a running collection to finish.
func (c *Collector) Stop() {
	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
}
