// Package telemetry aggregates per-tool, per-batch and per-cache performance
// statistics for reporting. Nothing recorded here feeds back into scheduling
// or caching decisions.
package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Sample kinds stored in the rolling history.
const (
	KindTool  = "tool"
	KindBatch = "batch"
	KindCache = "cache"
	KindTimer = "timer"
)

const defaultHistoryLimit = 1000

// ToolStats aggregates executions of one tool.
type ToolStats struct {
	Tool     string        `json:"tool"`
	Count    int64         `json:"count"`
	Failures int64         `json:"failures"`
	Total    time.Duration `json:"total"`
	Average  time.Duration `json:"average"`
	Min      time.Duration `json:"min"`
	Max      time.Duration `json:"max"`
}

// CacheStats is the last reported state of one cache instance.
type CacheStats struct {
	Name      string    `json:"name"`
	Hits      int64     `json:"hits"`
	Misses    int64     `json:"misses"`
	Evictions int64     `json:"evictions"`
	Size      int       `json:"size"`
	HitRate   float64   `json:"hit_rate"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BatchSample describes one executed batch.
type BatchSample struct {
	ID             string
	Requests       int
	Succeeded      int
	Failed         int
	Duration       time.Duration
	ParallelGroups int
}

// BatchSummary aggregates all recorded batches.
type BatchSummary struct {
	Count           int64         `json:"count"`
	Requests        int64         `json:"requests"`
	Failed          int64         `json:"failed"`
	AverageSize     float64       `json:"average_size"`
	AverageDuration time.Duration `json:"average_duration"`
	totalDuration   time.Duration
}

// Sample is one entry of the rolling history.
type Sample struct {
	Kind     string        `json:"kind"`
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
	At       time.Time     `json:"at"`
}

// Report is a point-in-time snapshot of the sink.
type Report struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Tools       []ToolStats  `json:"tools"`
	Caches      []CacheStats `json:"caches"`
	Batches     BatchSummary `json:"batches"`
	History     []Sample     `json:"history"`
}

// Options configures a Sink.
type Options struct {
	// HistoryLimit caps the rolling history; oldest samples are dropped first.
	HistoryLimit int
	// Instruments mirrors recordings into OpenTelemetry when set.
	Instruments *Instruments
	// Logger receives swallowed recording failures at debug level.
	Logger *slog.Logger
	// Now overrides the clock.
	Now func() time.Time
}

// Sink collects performance statistics. All methods are safe for concurrent
// use and a nil *Sink discards everything.
type Sink struct {
	mu      sync.Mutex
	tools   map[string]*ToolStats
	caches  map[string]CacheStats
	batches BatchSummary
	history *ring

	instruments *Instruments
	logger      *slog.Logger
	now         func() time.Time
}

// NewSink creates a sink.
func NewSink(opts Options) *Sink {
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Sink{
		tools:       make(map[string]*ToolStats),
		caches:      make(map[string]CacheStats),
		history:     newRing(limit),
		instruments: opts.Instruments,
		logger:      logger,
		now:         now,
	}
}

// RecordToolExecution adds one tool execution.
func (s *Sink) RecordToolExecution(tool string, duration time.Duration, success bool) {
	if s == nil {
		return
	}
	defer s.swallow("tool")

	s.updateTool(tool, duration, success)
	s.instruments.recordTool(context.Background(), tool, duration, success)
}

// RecordCacheMetrics replaces the last known state of a cache instance.
func (s *Sink) RecordCacheMetrics(name string, hits, misses, evictions int64, size int) {
	if s == nil {
		return
	}
	defer s.swallow("cache")

	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.caches[name] = CacheStats{
		Name:      name,
		Hits:      hits,
		Misses:    misses,
		Evictions: evictions,
		Size:      size,
		HitRate:   rate,
		UpdatedAt: now,
	}
	s.history.push(Sample{Kind: KindCache, Name: name, Success: true, At: now})
}

// RecordBatch adds one executed batch.
func (s *Sink) RecordBatch(sample BatchSample) {
	if s == nil {
		return
	}
	defer s.swallow("batch")

	s.updateBatches(sample)
	s.instruments.recordBatch(context.Background(), sample)
}

func (s *Sink) updateTool(tool string, duration time.Duration, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.tools[tool]
	if !ok {
		stats = &ToolStats{Tool: tool, Min: duration}
		s.tools[tool] = stats
	}
	stats.Count++
	if !success {
		stats.Failures++
	}
	stats.Total += duration
	stats.Average = stats.Total / time.Duration(stats.Count)
	if duration < stats.Min {
		stats.Min = duration
	}
	if duration > stats.Max {
		stats.Max = duration
	}
	s.history.push(Sample{Kind: KindTool, Name: tool, Duration: duration, Success: success, At: s.now()})
}

func (s *Sink) updateBatches(sample BatchSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &s.batches
	b.Count++
	b.Requests += int64(sample.Requests)
	b.Failed += int64(sample.Failed)
	b.totalDuration += sample.Duration
	b.AverageSize = float64(b.Requests) / float64(b.Count)
	b.AverageDuration = b.totalDuration / time.Duration(b.Count)
	s.history.push(Sample{
		Kind:     KindBatch,
		Name:     sample.ID,
		Duration: sample.Duration,
		Success:  sample.Failed == 0,
		At:       s.now(),
	})
}

// RecordTimer adds a named sub-measurement taken inside an invocation.
func (s *Sink) RecordTimer(name string, duration time.Duration) {
	if s == nil {
		return
	}
	defer s.swallow("timer")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.push(Sample{Kind: KindTimer, Name: name, Duration: duration, Success: true, At: s.now()})
}

// ToolSnapshot returns the aggregate for one tool.
func (s *Sink) ToolSnapshot(tool string) (ToolStats, bool) {
	if s == nil {
		return ToolStats{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.tools[tool]
	if !ok {
		return ToolStats{}, false
	}
	return *stats, true
}

// Report returns a snapshot of every aggregate and the rolling history.
func (s *Sink) Report() Report {
	if s == nil {
		return Report{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	report := Report{
		GeneratedAt: s.now(),
		Tools:       make([]ToolStats, 0, len(s.tools)),
		Caches:      make([]CacheStats, 0, len(s.caches)),
		Batches:     s.batches,
		History:     s.history.snapshot(),
	}
	for _, stats := range s.tools {
		report.Tools = append(report.Tools, *stats)
	}
	for _, stats := range s.caches {
		report.Caches = append(report.Caches, stats)
	}
	sort.Slice(report.Tools, func(i, j int) bool { return report.Tools[i].Tool < report.Tools[j].Tool })
	sort.Slice(report.Caches, func(i, j int) bool { return report.Caches[i].Name < report.Caches[j].Name })
	return report
}

// Reset drops all aggregates and history.
func (s *Sink) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = make(map[string]*ToolStats)
	s.caches = make(map[string]CacheStats)
	s.batches = BatchSummary{}
	s.history = newRing(s.history.size)
}

func (s *Sink) swallow(op string) {
	if r := recover(); r != nil {
		s.logger.Debug("telemetry recording failed", "op", op, "panic", r)
	}
}

// ring keeps the most recent samples in insertion order.
type ring struct {
	samples []Sample
	pos     int
	count   int
	size    int
}

func newRing(size int) *ring {
	return &ring{samples: make([]Sample, size), size: size}
}

func (r *ring) push(sample Sample) {
	r.samples[r.pos] = sample
	r.pos = (r.pos + 1) % r.size
	r.count++
}

func (r *ring) snapshot() []Sample {
	n := min(r.count, r.size)
	out := make([]Sample, n)
	if r.count >= r.size {
		for i := 0; i < r.size; i++ {
			out[i] = r.samples[(r.pos+i)%r.size]
		}
		return out
	}
	copy(out, r.samples[:n])
	return out
}
