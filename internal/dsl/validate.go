package dsl

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/codex-k8s/desktop-mcp-server/internal/classifier"
	"github.com/codex-k8s/desktop-mcp-server/internal/constants"
	"github.com/codex-k8s/desktop-mcp-server/internal/scheduler"
	"github.com/codex-k8s/desktop-mcp-server/internal/timeutil"
)

// Validate applies defaults and verifies required fields.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Server.Name == "" {
		return fmt.Errorf("server.name is required")
	}
	if cfg.Server.Version == "" {
		return fmt.Errorf("server.version is required")
	}
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}
	if err := validateScheduler(&cfg.Scheduler); err != nil {
		return err
	}
	if err := validateCaches(cfg); err != nil {
		return err
	}
	if err := validateTelemetry(&cfg.Telemetry); err != nil {
		return err
	}
	if err := validateTools(cfg); err != nil {
		return err
	}

	resourceURIs := map[string]struct{}{}
	for i, res := range cfg.Resources {
		if res.URI == "" {
			return fmt.Errorf("resources[%d].uri is required", i)
		}
		if _, exists := resourceURIs[res.URI]; exists {
			return fmt.Errorf("duplicate resource uri: %s", res.URI)
		}
		resourceURIs[res.URI] = struct{}{}
	}
	return nil
}

func validateServer(srv *ServerConfig) error {
	if srv.Transport == "" {
		srv.Transport = constants.TransportHTTP
	}
	switch srv.Transport {
	case constants.TransportHTTP, constants.TransportStdio:
	default:
		return fmt.Errorf("server.transport must be http or stdio")
	}
	if srv.HTTP.Listen == "" {
		srv.HTTP.Listen = ":8080"
	}
	if srv.HTTP.Path == "" {
		srv.HTTP.Path = "/mcp"
	}
	if !strings.HasPrefix(srv.HTTP.Path, "/") {
		return fmt.Errorf("server.http.path must start with /")
	}
	if srv.HTTP.MetricsPath != "" && !strings.HasPrefix(srv.HTTP.MetricsPath, "/") {
		return fmt.Errorf("server.http.metrics_path must start with /")
	}
	durations := map[string]string{
		"server.shutdown_timeout":   srv.ShutdownTimeout,
		"server.http.read_timeout":  srv.HTTP.ReadTimeout,
		"server.http.write_timeout": srv.HTTP.WriteTimeout,
		"server.http.idle_timeout":  srv.HTTP.IdleTimeout,
	}
	for field, value := range durations {
		if _, err := timeutil.ParseOptional(value); err != nil {
			return fmt.Errorf("%s is invalid: %w", field, err)
		}
	}
	for i, hook := range srv.StartupHooks {
		if strings.TrimSpace(hook.Command) == "" {
			return fmt.Errorf("server.startup_hooks[%d].command is required", i)
		}
		if _, err := timeutil.ParseOptional(hook.Timeout); err != nil {
			return fmt.Errorf("server.startup_hooks[%d].timeout is invalid: %w", i, err)
		}
	}
	return nil
}

func validateScheduler(s *SchedulerConfig) error {
	def := scheduler.DefaultConfig()
	if s.MaxBatchSize == 0 {
		s.MaxBatchSize = def.MaxBatchSize
	}
	if s.MaxConcurrentBatches == 0 {
		s.MaxConcurrentBatches = def.MaxConcurrentBatches
	}
	if s.BatchWindow == "" {
		s.BatchWindow = def.BatchWindow.String()
	}
	if s.HistoryLimit == 0 {
		s.HistoryLimit = scheduler.DefaultLedgerLimit
	}
	if s.HistoryLimit < 0 {
		return fmt.Errorf("scheduler.history_limit must be >= 0")
	}
	if _, err := timeutil.ParseOptional(s.BatchWindow); err != nil {
		return fmt.Errorf("scheduler.batch_window is invalid: %w", err)
	}
	cfg, err := s.Runtime()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

// Runtime converts the declaration into a scheduler configuration.
func (s SchedulerConfig) Runtime() (scheduler.Config, error) {
	window, err := timeutil.ParseOptional(s.BatchWindow)
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("scheduler.batch_window is invalid: %w", err)
	}
	def := scheduler.DefaultConfig()
	cfg := scheduler.Config{
		MaxBatchSize:         s.MaxBatchSize,
		BatchWindow:          window,
		MaxConcurrentBatches: s.MaxConcurrentBatches,
		ParallelExecution:    def.ParallelExecution,
		PriorityWeighting:    def.PriorityWeighting,
	}
	if s.ParallelExecution != nil {
		cfg.ParallelExecution = *s.ParallelExecution
	}
	if s.PriorityWeighting != nil {
		cfg.PriorityWeighting = *s.PriorityWeighting
	}
	return cfg, nil
}

// DefaultCaches are registered when the configuration declares none.
func DefaultCaches() []CacheConfig {
	return []CacheConfig{
		{Name: constants.CacheScreen, TTL: "2s", MaxEntries: 64, SweepInterval: "10s"},
		{Name: constants.CacheResults, TTL: "30s", MaxEntries: 1000, SweepInterval: "1m"},
		{Name: constants.CachePermissions, TTL: "10m", MaxEntries: 1000, SweepInterval: "5m"},
	}
}

func validateCaches(cfg *Config) error {
	if len(cfg.Caches) == 0 {
		cfg.Caches = DefaultCaches()
	}
	names := map[string]struct{}{}
	for i, c := range cfg.Caches {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("caches[%d].name is required", i)
		}
		if _, exists := names[c.Name]; exists {
			return fmt.Errorf("duplicate cache name: %s", c.Name)
		}
		names[c.Name] = struct{}{}
		if c.MaxEntries < 0 {
			return fmt.Errorf("caches[%d].max_entries must be >= 0", i)
		}
		if _, err := timeutil.ParseOptional(c.TTL); err != nil {
			return fmt.Errorf("caches[%d].ttl is invalid: %w", i, err)
		}
		if _, err := timeutil.ParseOptional(c.SweepInterval); err != nil {
			return fmt.Errorf("caches[%d].sweep_interval is invalid: %w", i, err)
		}
	}
	return nil
}

func validateTelemetry(t *TelemetryConfig) error {
	if t.HistoryLimit < 0 {
		return fmt.Errorf("telemetry.history_limit must be >= 0")
	}
	if t.ReportSchedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(t.ReportSchedule); err != nil {
		return fmt.Errorf("telemetry.report_schedule is invalid: %w", err)
	}
	return nil
}

func validateTools(cfg *Config) error {
	caches := map[string]struct{}{}
	for _, c := range cfg.Caches {
		caches[c.Name] = struct{}{}
	}
	seen := map[string]struct{}{}
	for i := range cfg.Tools {
		tool := &cfg.Tools[i]
		if tool.Name == "" {
			return fmt.Errorf("tools[%d].name is required", i)
		}
		if _, exists := seen[tool.Name]; exists {
			return fmt.Errorf("duplicate tool name: %s", tool.Name)
		}
		seen[tool.Name] = struct{}{}

		if tool.Group != "" {
			if _, err := classifier.ParseGroup(tool.Group); err != nil {
				return fmt.Errorf("tools[%d].group: %w", i, err)
			}
		}
		if _, err := scheduler.ParsePriority(tool.Priority); err != nil {
			return fmt.Errorf("tools[%d].priority: %w", i, err)
		}
		for field, value := range map[string]string{"queue_timeout": tool.QueueTimeout, "timeout": tool.Timeout, "executor.timeout": tool.Executor.Timeout} {
			if _, err := timeutil.ParseOptional(value); err != nil {
				return fmt.Errorf("tools[%d].%s is invalid: %w", i, field, err)
			}
		}
		if tool.Cache != nil {
			if err := validateToolCache(tool.Cache, caches); err != nil {
				return fmt.Errorf("tools[%d].cache: %w", i, err)
			}
		}
		if err := validateExecutor(tool.Name, &tool.Executor); err != nil {
			return fmt.Errorf("tools[%d].executor: %w", i, err)
		}
		for j, p := range tool.Permissions {
			if err := validatePermission(p); err != nil {
				return fmt.Errorf("tools[%d].permissions[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

func validateToolCache(c *ToolCacheConfig, caches map[string]struct{}) error {
	if c.Name == "" {
		c.Name = constants.CacheResults
	}
	if _, ok := caches[c.Name]; !ok {
		return fmt.Errorf("unknown cache %q", c.Name)
	}
	if c.KeyStrategy == "" {
		c.KeyStrategy = constants.CacheKeyStrategyAuto
	}
	switch strings.ToLower(strings.TrimSpace(c.KeyStrategy)) {
	case constants.CacheKeyStrategyAuto, constants.CacheKeyStrategyCorrelationID, constants.CacheKeyStrategyArgumentsHash:
	default:
		return fmt.Errorf("key_strategy must be auto, correlation_id, or arguments_hash")
	}
	if _, err := timeutil.ParseOptional(c.TTL); err != nil {
		return fmt.Errorf("ttl is invalid: %w", err)
	}
	return nil
}

func validateExecutor(toolName string, e *ExecutorConfig) error {
	switch strings.TrimSpace(e.Type) {
	case "":
		return errors.New("type is required")
	case constants.ExecutorShell:
		if strings.TrimSpace(e.Command) == "" {
			return errors.New("command is required for shell executor")
		}
	case constants.ExecutorHTTP:
		if _, err := parseEndpoint(e.URL); err != nil {
			return fmt.Errorf("url is invalid: %w", err)
		}
		if e.Method == "" {
			e.Method = "POST"
		}
	case constants.ExecutorPipeline:
		if len(e.Steps) == 0 {
			return errors.New("pipeline requires at least one step")
		}
		stepNames := map[string]struct{}{}
		for k := range e.Steps {
			step := &e.Steps[k]
			if step.Tool == "" {
				return fmt.Errorf("steps[%d].tool is required", k)
			}
			if step.Tool == toolName {
				return fmt.Errorf("steps[%d] cannot invoke its own pipeline", k)
			}
			if step.Name == "" {
				step.Name = step.Tool
			}
			if _, exists := stepNames[step.Name]; exists {
				return fmt.Errorf("duplicate step name %q", step.Name)
			}
			stepNames[step.Name] = struct{}{}
		}
	default:
		return fmt.Errorf("unknown executor type: %s", e.Type)
	}
	switch e.Output {
	case "", "text", "json":
	default:
		return fmt.Errorf("output must be text or json")
	}
	return nil
}

func validatePermission(p PermissionConfig) error {
	if _, err := timeutil.ParseOptional(p.Timeout); err != nil {
		return fmt.Errorf("timeout is invalid: %w", err)
	}
	switch strings.TrimSpace(p.Type) {
	case "":
		return errors.New("type is required")
	case constants.PermissionShell:
		if strings.TrimSpace(p.Command) == "" {
			return errors.New("command is required for shell permission")
		}
	case constants.PermissionHTTP:
		if _, err := parseEndpoint(p.URL); err != nil {
			return fmt.Errorf("url is invalid: %w", err)
		}
	case constants.PermissionLimits:
		if p.MaxTotal < 0 || p.RatePerMinute < 0 {
			return errors.New("max_total and rate_per_minute must be >= 0")
		}
		if p.Cache {
			return errors.New("limits decisions cannot be cached")
		}
	default:
		return fmt.Errorf("unknown permission type: %s", p.Type)
	}
	return nil
}

func parseEndpoint(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("url must use http or https")
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("url must be absolute")
	}
	return parsed, nil
}

// ShutdownTimeoutOr returns the configured shutdown timeout or def.
func (s ServerConfig) ShutdownTimeoutOr(def time.Duration) time.Duration {
	return timeutil.ParseDurationOrDefault(s.ShutdownTimeout, def)
}
