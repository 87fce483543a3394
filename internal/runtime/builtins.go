package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/codex-k8s/desktop-mcp-server/internal/audit"
	"github.com/codex-k8s/desktop-mcp-server/internal/cache"
	"github.com/codex-k8s/desktop-mcp-server/internal/classifier"
	"github.com/codex-k8s/desktop-mcp-server/internal/execution"
	"github.com/codex-k8s/desktop-mcp-server/internal/registry"
	"github.com/codex-k8s/desktop-mcp-server/internal/scheduler"
	"github.com/codex-k8s/desktop-mcp-server/internal/telemetry"
)

const maxWait = time.Minute

// SchedulerView is the part of the scheduler exposed to builtin tools.
type SchedulerView interface {
	Stats() scheduler.Stats
	History() []scheduler.BatchMetrics
	ClearQueue() int
}

// Builtins are utility tools served by the process itself.
type Builtins struct {
	Caches     *cache.Manager
	Scheduler  SchedulerView
	Telemetry  *telemetry.Sink
	Classifier *classifier.Classifier
	Audit      audit.Logger
}

// WaitArgs are the arguments of the wait tool.
type WaitArgs struct {
	DurationMS int `json:"duration_ms" jsonschema:"required,minimum=0,maximum=60000,description=Milliseconds to sleep"`
}

// CacheArgs select one cache; empty means all.
type CacheArgs struct {
	Name string `json:"name,omitempty" jsonschema:"description=Cache name; empty selects every cache"`
}

// SchedulerStatsArgs are the arguments of the scheduler_stats tool.
type SchedulerStatsArgs struct {
	History bool `json:"history,omitempty" jsonschema:"description=Include recent batch metrics"`
	Limit   int  `json:"limit,omitempty" jsonschema:"minimum=0,description=Maximum number of batches returned"`
}

// TelemetryArgs are the arguments of the telemetry_report tool.
type TelemetryArgs struct {
	Tool string `json:"tool,omitempty" jsonschema:"description=Restrict the report to one tool"`
}

// NoArgs is the argument type of tools without parameters.
type NoArgs struct{}

type builtin struct {
	name        string
	title       string
	description string
	args        any
	handler     registry.HandlerFunc
}

// Register adds the builtin tools to reg. Tools already declared in the
// configuration keep their configured handler.
func (b Builtins) Register(reg *registry.Registry) error {
	readOnly := &registry.Annotations{ReadOnly: true, Idempotent: true}
	for _, item := range b.tools() {
		if _, exists := reg.Lookup(item.name); exists {
			continue
		}
		schema, err := registry.SchemaFor(item.args)
		if err != nil {
			return fmt.Errorf("tool %s: %w", item.name, err)
		}
		annotations := readOnly
		if item.name == "cache_clear" || item.name == "queue_clear" {
			annotations = &registry.Annotations{Idempotent: true}
		}
		if b.Classifier != nil {
			b.Classifier.Set(item.name, classifier.GroupUtility)
		}
		err = reg.Register(registry.Tool{
			Name:        item.name,
			Title:       item.title,
			Description: item.description,
			Group:       classifier.GroupUtility,
			InputSchema: schema,
			Annotations: annotations,
			Handler:     item.handler,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (b Builtins) tools() []builtin {
	return []builtin{
		{name: "wait", title: "Wait", description: "Pause for a number of milliseconds.", args: &WaitArgs{}, handler: b.wait},
		{name: "cache_stats", title: "Cache statistics", description: "Report hit, miss and eviction counters of the caches.", args: &CacheArgs{}, handler: b.cacheStats},
		{name: "cache_clear", title: "Clear caches", description: "Drop every entry of one cache or of all caches.", args: &CacheArgs{}, handler: b.cacheClear},
		{name: "scheduler_stats", title: "Scheduler statistics", description: "Report queue depth, batches in flight and recent batch metrics.", args: &SchedulerStatsArgs{}, handler: b.schedulerStats},
		{name: "queue_clear", title: "Clear queue", description: "Reject every request still waiting in the queue.", args: &NoArgs{}, handler: b.queueClear},
		{name: "telemetry_report", title: "Telemetry report", description: "Report per-tool execution times and cache hit rates.", args: &TelemetryArgs{}, handler: b.telemetryReport},
	}
}

func (b Builtins) wait(ctx context.Context, req registry.Request, ec *execution.Context) (any, error) {
	var args WaitArgs
	if err := registry.DecodeArguments(req.Arguments, &args); err != nil {
		return nil, err
	}
	d := time.Duration(args.DurationMS) * time.Millisecond
	if d > maxWait {
		d = maxWait
	}
	ec.StartTimer("sleep")
	defer ec.EndTimer("sleep")

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return map[string]any{"waited_ms": d.Milliseconds()}, nil
	}
}

func (b Builtins) cacheStats(_ context.Context, req registry.Request, _ *execution.Context) (any, error) {
	var args CacheArgs
	if err := registry.DecodeArguments(req.Arguments, &args); err != nil {
		return nil, err
	}
	stats := b.Caches.Stats()
	if args.Name == "" {
		return stats, nil
	}
	s, ok := stats[args.Name]
	if !ok {
		return nil, fmt.Errorf("unknown cache %q", args.Name)
	}
	return map[string]cache.Stats{args.Name: s}, nil
}

func (b Builtins) cacheClear(_ context.Context, req registry.Request, _ *execution.Context) (any, error) {
	var args CacheArgs
	if err := registry.DecodeArguments(req.Arguments, &args); err != nil {
		return nil, err
	}
	cleared := []string{args.Name}
	if args.Name == "" {
		cleared = b.Caches.Names()
		b.Caches.ClearAll()
	} else if err := b.Caches.Clear(args.Name); err != nil {
		return nil, err
	}
	return map[string]any{"cleared": cleared}, nil
}

func (b Builtins) schedulerStats(_ context.Context, req registry.Request, _ *execution.Context) (any, error) {
	var args SchedulerStatsArgs
	if err := registry.DecodeArguments(req.Arguments, &args); err != nil {
		return nil, err
	}
	if b.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is not available")
	}
	out := map[string]any{"stats": b.Scheduler.Stats()}
	if args.History {
		history := b.Scheduler.History()
		if args.Limit > 0 && len(history) > args.Limit {
			history = history[len(history)-args.Limit:]
		}
		out["history"] = history
	}
	return out, nil
}

func (b Builtins) queueClear(ctx context.Context, req registry.Request, _ *execution.Context) (any, error) {
	if b.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is not available")
	}
	n := b.Scheduler.ClearQueue()
	if b.Audit != nil {
		b.Audit.Record(ctx, audit.Event{Type: audit.TypeQueueCleared, Tool: req.Tool, RequestID: req.ID, Reason: fmt.Sprintf("%d requests rejected", n)})
	}
	return map[string]any{"cleared": n}, nil
}

func (b Builtins) telemetryReport(_ context.Context, req registry.Request, _ *execution.Context) (any, error) {
	var args TelemetryArgs
	if err := registry.DecodeArguments(req.Arguments, &args); err != nil {
		return nil, err
	}
	if args.Tool == "" {
		return b.Telemetry.Report(), nil
	}
	stats, ok := b.Telemetry.ToolSnapshot(args.Tool)
	if !ok {
		return nil, fmt.Errorf("no measurements for tool %q", args.Tool)
	}
	return stats, nil
}
