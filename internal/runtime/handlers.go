package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/codex-k8s/desktop-mcp-server/internal/audit"
	"github.com/codex-k8s/desktop-mcp-server/internal/cache"
	"github.com/codex-k8s/desktop-mcp-server/internal/classifier"
	"github.com/codex-k8s/desktop-mcp-server/internal/constants"
	"github.com/codex-k8s/desktop-mcp-server/internal/dsl"
	"github.com/codex-k8s/desktop-mcp-server/internal/execution"
	"github.com/codex-k8s/desktop-mcp-server/internal/permission"
	"github.com/codex-k8s/desktop-mcp-server/internal/registry"
	"github.com/codex-k8s/desktop-mcp-server/internal/runtime/executor"
	"github.com/codex-k8s/desktop-mcp-server/internal/scheduler"
	"github.com/codex-k8s/desktop-mcp-server/internal/timeutil"
)

// Output is the payload produced by configured tool handlers.
type Output struct {
	// Value is the tool result.
	Value any
	// Cached is set when Value came from a result cache.
	Cached bool
}

// unwrapOutput returns the plain result and whether it was cached.
func unwrapOutput(v any) (any, bool) {
	if out, ok := v.(Output); ok {
		return out.Value, out.Cached
	}
	return v, false
}

// Tools holds the dependencies used to turn DSL tools into handlers.
type Tools struct {
	// Registry receives the tools.
	Registry *registry.Registry
	// Classifier learns each tool's compatibility group.
	Classifier *classifier.Classifier
	// Caches resolves result and permission caches.
	Caches *cache.Manager
	// Logger is used for structured logging.
	Logger *slog.Logger
	// Audit records cache events.
	Audit audit.Logger
}

// Register builds a handler for every configured tool and adds it to the
// registry.
func (t Tools) Register(tools []dsl.ToolConfig) error {
	for _, tool := range tools {
		if err := t.register(tool); err != nil {
			return fmt.Errorf("tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func (t Tools) register(cfg dsl.ToolConfig) error {
	checker, err := t.buildPermissions(cfg.Permissions)
	if err != nil {
		return err
	}
	timeout, err := timeutil.ParseOptional(cfg.Timeout)
	if err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	if timeout == 0 {
		timeout = timeutil.ParseDurationOrDefault(cfg.Executor.Timeout, 0)
	}

	h := &toolHandler{
		name:           cfg.Name,
		checker:        checker,
		timeout:        timeout,
		timeoutMessage: cfg.TimeoutMessage,
		logger:         t.Logger,
		audit:          t.Audit,
	}
	if cfg.Cache != nil {
		store, ok := cache.Lookup[any](t.Caches, cfg.Cache.Name)
		if !ok {
			return fmt.Errorf("cache %q is not a result cache", cfg.Cache.Name)
		}
		ttl, err := timeutil.ParseOptional(cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("cache ttl: %w", err)
		}
		h.results = store
		h.resultTTL = ttl
		h.keyStrategy = cfg.Cache.KeyStrategy
	}

	switch cfg.Executor.Type {
	case constants.ExecutorShell:
		h.exec = executor.Shell{
			Command: cfg.Executor.Command,
			Args:    cfg.Executor.Args,
			Env:     cfg.Executor.Env,
			Output:  cfg.Executor.Output,
		}
	case constants.ExecutorHTTP:
		h.exec = executor.HTTP{
			URL:     cfg.Executor.URL,
			Method:  cfg.Executor.Method,
			Headers: cfg.Executor.Headers,
			Timeout: timeutil.ParseDurationOrDefault(cfg.Executor.Timeout, 10*time.Second),
		}
	case constants.ExecutorPipeline:
		h.pipeline = &pipeline{registry: t.Registry, steps: cfg.Executor.Steps}
	default:
		return fmt.Errorf("unknown executor type: %s", cfg.Executor.Type)
	}

	group := classifier.DefaultGroup
	if t.Classifier != nil {
		group = t.Classifier.Group(cfg.Name)
	}
	if cfg.Group != "" {
		group, err = classifier.ParseGroup(cfg.Group)
		if err != nil {
			return err
		}
		if t.Classifier != nil {
			t.Classifier.Set(cfg.Name, group)
		}
	}

	return t.Registry.Register(registry.Tool{
		Name:        cfg.Name,
		Title:       cfg.Title,
		Description: cfg.Description,
		Group:       group,
		InputSchema: cfg.InputSchema,
		Annotations: buildAnnotations(cfg.Annotations),
		Handler:     h,
	})
}

func (t Tools) buildPermissions(configs []dsl.PermissionConfig) (permission.Checker, error) {
	if len(configs) == 0 {
		return nil, nil
	}
	decisions, _ := cache.Lookup[permission.Decision](t.Caches, constants.CachePermissions)

	items := make([]permission.Checker, 0, len(configs))
	for _, cfg := range configs {
		timeout := timeutil.ParseDurationOrDefault(cfg.Timeout, 0)
		var item permission.Checker
		switch cfg.Type {
		case constants.PermissionShell:
			item = permission.Shell{
				Label:          cfg.Name,
				Command:        cfg.Command,
				Args:           cfg.Args,
				Env:            cfg.Env,
				AllowExitCodes: cfg.AllowExitCodes,
			}
		case constants.PermissionHTTP:
			item = permission.HTTP{
				Label:   cfg.Name,
				URL:     cfg.URL,
				Method:  cfg.Method,
				Headers: cfg.Headers,
				Timeout: timeout,
			}
		case constants.PermissionLimits:
			limits, err := permission.NewLimits(cfg.Name, cfg.MaxTotal, cfg.RatePerMinute, toFieldPolicies(cfg.FieldPolicies))
			if err != nil {
				return nil, err
			}
			item = limits
		default:
			return nil, fmt.Errorf("unknown permission type: %s", cfg.Type)
		}
		item = permission.WrapTimeout(item, timeout)
		if cfg.Cache {
			if decisions == nil {
				return nil, fmt.Errorf("permission %s: %s cache is not configured", item.Name(), constants.CachePermissions)
			}
			item = permission.Cached{Inner: item, Store: decisions}
		}
		items = append(items, item)
	}
	return permission.Chain{Checkers: items}, nil
}

func toFieldPolicies(policies map[string]dsl.FieldPolicy) map[string]permission.FieldPolicy {
	if policies == nil {
		return nil
	}
	out := make(map[string]permission.FieldPolicy, len(policies))
	for key, value := range policies {
		out[key] = permission.FieldPolicy{
			Regex:     value.Regex,
			Min:       value.Min,
			Max:       value.Max,
			MinLength: value.MinLength,
			MaxLength: value.MaxLength,
		}
	}
	return out
}

func buildAnnotations(cfg *dsl.ToolAnnotationsConfig) *registry.Annotations {
	if cfg == nil {
		return nil
	}
	return &registry.Annotations{
		ReadOnly:    cfg.ReadOnlyHint,
		Destructive: cfg.DestructiveHint,
		Idempotent:  cfg.IdempotentHint,
		OpenWorld:   cfg.OpenWorldHint,
		Title:       cfg.Title,
	}
}

// toolHandler runs one configured tool.
type toolHandler struct {
	name           string
	exec           executor.Executor
	pipeline       *pipeline
	checker        permission.Checker
	timeout        time.Duration
	timeoutMessage string

	results     *cache.Cache[any]
	resultTTL   time.Duration
	keyStrategy string

	logger *slog.Logger
	audit  audit.Logger
}

// ValidatePermissions runs the tool's permission chain.
func (h *toolHandler) ValidatePermissions(ctx context.Context, req registry.Request) error {
	if h.checker == nil {
		return nil
	}
	return permission.Enforce(ctx, h.checker, permission.Request{
		ToolName:      req.Tool,
		Arguments:     req.Arguments,
		CorrelationID: req.CorrelationID,
	})
}

// Execute serves the result from cache or runs the executor.
func (h *toolHandler) Execute(ctx context.Context, req registry.Request, ec *execution.Context) (any, error) {
	key := h.cacheKey(req)
	if key != "" {
		if cached, ok := h.results.Get(key); ok {
			h.record(ctx, audit.Event{Type: audit.TypeCacheHit, Tool: h.name, RequestID: req.ID, CorrelationID: req.CorrelationID})
			return Output{Value: cached, Cached: true}, nil
		}
	}

	runCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	ec.StartTimer("execute")
	value, err := h.run(runCtx, req, ec)
	ec.EndTimer("execute")
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%s: %w", timeoutMessage(h.timeoutMessage), context.DeadlineExceeded)
		}
		return nil, err
	}

	if key != "" {
		h.results.SetWithTTL(key, value, h.resultTTL)
		h.record(ctx, audit.Event{Type: audit.TypeCacheStore, Tool: h.name, RequestID: req.ID, CorrelationID: req.CorrelationID})
	}
	return Output{Value: value}, nil
}

func (h *toolHandler) run(ctx context.Context, req registry.Request, ec *execution.Context) (any, error) {
	if h.pipeline != nil {
		return h.pipeline.run(ctx, req, ec)
	}
	return h.exec.Execute(ctx, executor.Request{
		ToolName:      req.Tool,
		RequestID:     req.ID,
		Arguments:     req.Arguments,
		CorrelationID: req.CorrelationID,
		SessionID:     ec.SessionID(),
		Shared:        ec.Resources(),
	})
}

// StepTools lists the tools a pipeline handler depends on.
func (h *toolHandler) StepTools() []string {
	if h.pipeline == nil {
		return nil
	}
	out := make([]string, 0, len(h.pipeline.steps))
	for _, step := range h.pipeline.steps {
		out = append(out, step.Tool)
	}
	return out
}

func (h *toolHandler) cacheKey(req registry.Request) string {
	if h.results == nil {
		return ""
	}
	key, err := buildCacheKey(h.name, req.CorrelationID, req.CorrelationID != "", req.Arguments, h.keyStrategy)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("cache key build failed", "tool", h.name, "error", err)
		}
		return ""
	}
	return key
}

func (h *toolHandler) record(ctx context.Context, event audit.Event) {
	if h.audit != nil {
		h.audit.Record(ctx, event)
	}
}

func timeoutMessage(value string) string {
	if value == "" {
		return "timeout"
	}
	return value
}

var _ registry.PermissionValidator = (*toolHandler)(nil)

// stepsDependency is implemented by handlers that invoke other tools.
type stepsDependency interface {
	StepTools() []string
}

// CheckDependencies verifies that every pipeline step names a registered
// tool and that pipelines do not invoke each other in a cycle.
func CheckDependencies(reg *registry.Registry) error {
	deps := map[string][]string{}
	var errs []error
	for _, tool := range reg.Tools() {
		dep, ok := tool.Handler.(stepsDependency)
		if !ok {
			continue
		}
		deps[tool.Name] = dep.StepTools()
		for _, name := range deps[tool.Name] {
			if _, ok := reg.Lookup(name); !ok {
				errs = append(errs, fmt.Errorf("tool %s: step tool %s: %w", tool.Name, name, scheduler.ErrToolNotFound))
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := map[string]int{}
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("pipeline cycle: %s", strings.Join(append(path, name), " -> "))
		case visited:
			return nil
		}
		state[name] = visiting
		for _, next := range deps[name] {
			if err := visit(next, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = visited
		return nil
	}
	for _, name := range slices.Sorted(maps.Keys(deps)) {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	return nil
}

// ResolvePipelineGroups moves a parallel-safe pipeline into the group of its
// first serialized step, nested pipelines included. Run it after
// CheckDependencies.
func ResolvePipelineGroups(reg *registry.Registry, cls *classifier.Classifier) {
	resolved := map[string]classifier.Group{}
	var resolve func(name string) classifier.Group
	resolve = func(name string) classifier.Group {
		if g, ok := resolved[name]; ok {
			return g
		}
		tool, ok := reg.Lookup(name)
		if !ok {
			return classifier.DefaultGroup
		}
		group := tool.Group
		if cls != nil {
			group = cls.Group(name)
		}
		// Placeholder for a cycle in progress; CheckDependencies rejects cycles.
		resolved[name] = group
		dep, ok := tool.Handler.(stepsDependency)
		if !ok || !group.ParallelSafe() {
			return group
		}
		for _, step := range dep.StepTools() {
			if sg := resolve(step); !sg.ParallelSafe() {
				group = sg
				break
			}
		}
		resolved[name] = group
		if group != tool.Group {
			reg.SetGroup(name, group)
		}
		if cls != nil {
			cls.Set(name, group)
		}
		return group
	}
	for _, tool := range reg.Tools() {
		resolve(tool.Name)
	}
}
