package dsl

// Config is the top-level YAML configuration.
type Config struct {
	// Server describes the MCP server settings.
	Server ServerConfig `yaml:"server"`
	// Scheduler configures batching and dispatch.
	Scheduler SchedulerConfig `yaml:"scheduler"`
	// Caches declares named cache instances.
	Caches []CacheConfig `yaml:"caches"`
	// Telemetry configures performance reporting.
	Telemetry TelemetryConfig `yaml:"telemetry"`
	// Tools lists all tool declarations.
	Tools []ToolConfig `yaml:"tools"`
	// Resources lists static resources.
	Resources []ResourceConfig `yaml:"resources"`
}

// ServerConfig defines MCP server settings.
type ServerConfig struct {
	// Name is the MCP server name.
	Name string `yaml:"name"`
	// Version is the MCP server version.
	Version string `yaml:"version"`
	// Transport selects the server transport ("http" or "stdio").
	Transport string `yaml:"transport"`
	// ShutdownTimeout overrides graceful shutdown duration.
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	// HTTP configures HTTP transport.
	HTTP HTTPConfig `yaml:"http"`
	// StartupHooks run before the server accepts calls.
	StartupHooks []HookConfig `yaml:"startup_hooks"`
}

// HookConfig declares a command run once at startup, e.g. to launch an
// input daemon.
type HookConfig struct {
	// Command is the executable or shell command.
	Command string `yaml:"command"`
	// Args contains command arguments.
	Args []string `yaml:"args"`
	// Env adds environment variables.
	Env map[string]string `yaml:"env"`
	// Timeout bounds the hook run time.
	Timeout string `yaml:"timeout"`
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// Path is the MCP HTTP endpoint path.
	Path string `yaml:"path"`
	// MetricsPath serves Prometheus metrics; empty disables the endpoint.
	MetricsPath string `yaml:"metrics_path"`
	// ReadTimeout limits request read time.
	ReadTimeout string `yaml:"read_timeout"`
	// WriteTimeout limits response write time.
	WriteTimeout string `yaml:"write_timeout"`
	// IdleTimeout controls idle connections.
	IdleTimeout string `yaml:"idle_timeout"`
	// Stateless disables session tracking.
	Stateless bool `yaml:"stateless"`
}

// SchedulerConfig configures the admission queue.
type SchedulerConfig struct {
	// MaxBatchSize bounds requests per batch.
	MaxBatchSize int `yaml:"max_batch_size"`
	// BatchWindow is the debounce delay before extraction.
	BatchWindow string `yaml:"batch_window"`
	// MaxConcurrentBatches bounds batches in flight.
	MaxConcurrentBatches int `yaml:"max_concurrent_batches"`
	// ParallelExecution enables concurrent groups inside a batch.
	ParallelExecution *bool `yaml:"parallel_execution"`
	// PriorityWeighting orders the queue by priority.
	PriorityWeighting *bool `yaml:"priority_weighting"`
	// HistoryLimit bounds the batch metrics ledger.
	HistoryLimit int `yaml:"history_limit"`
}

// CacheConfig declares one named cache.
type CacheConfig struct {
	// Name identifies the cache.
	Name string `yaml:"name"`
	// TTL is the default entry lifetime.
	TTL string `yaml:"ttl"`
	// MaxEntries bounds the cache size; 0 means unbounded.
	MaxEntries int `yaml:"max_entries"`
	// SweepInterval controls the background expiry sweep.
	SweepInterval string `yaml:"sweep_interval"`
}

// TelemetryConfig configures performance reporting.
type TelemetryConfig struct {
	// HistoryLimit bounds the rolling sample history.
	HistoryLimit int `yaml:"history_limit"`
	// ReportSchedule is the cron expression for periodic reports.
	ReportSchedule string `yaml:"report_schedule"`
}

// ToolConfig declares a tool exposed by the MCP server.
type ToolConfig struct {
	// Name is the tool name.
	Name string `yaml:"name"`
	// Title is the human-friendly tool title.
	Title string `yaml:"title"`
	// Description explains the tool for the agent.
	Description string `yaml:"description"`
	// Group is the compatibility group used for parallel dispatch.
	Group string `yaml:"group"`
	// Priority is the default queue priority.
	Priority string `yaml:"priority"`
	// QueueTimeout bounds the time spent queued before dispatch.
	QueueTimeout string `yaml:"queue_timeout"`
	// Timeout is the tool execution timeout.
	Timeout string `yaml:"timeout"`
	// TimeoutMessage is returned on timeout.
	TimeoutMessage string `yaml:"timeout_message"`
	// Cache memoises successful results in a named cache.
	Cache *ToolCacheConfig `yaml:"cache,omitempty"`
	// Annotations provides optional tool hints.
	Annotations *ToolAnnotationsConfig `yaml:"annotations,omitempty"`
	// InputSchema defines JSON Schema for tool input.
	InputSchema map[string]any `yaml:"input_schema"`
	// Executor describes how the tool is executed.
	Executor ExecutorConfig `yaml:"executor"`
	// Permissions lists permission checks to run before execution.
	Permissions []PermissionConfig `yaml:"permissions"`
	// Tags is an optional list of tags.
	Tags []string `yaml:"tags"`
}

// ToolCacheConfig binds a tool to a named cache.
type ToolCacheConfig struct {
	// Name is the cache name.
	Name string `yaml:"name"`
	// TTL overrides the cache default TTL for this tool.
	TTL string `yaml:"ttl"`
	// KeyStrategy selects cache key strategy (correlation_id, arguments_hash, auto).
	KeyStrategy string `yaml:"key_strategy"`
}

// ExecutorConfig defines how to execute a tool.
type ExecutorConfig struct {
	// Type selects executor implementation (shell, http, pipeline).
	Type string `yaml:"type"`
	// Command is the executable or shell command.
	Command string `yaml:"command"`
	// Args contains command arguments.
	Args []string `yaml:"args"`
	// Env adds environment variables for execution.
	Env map[string]string `yaml:"env"`
	// URL is the automation backend endpoint.
	URL string `yaml:"url"`
	// Method overrides the HTTP method.
	Method string `yaml:"method"`
	// Headers adds HTTP headers.
	Headers map[string]string `yaml:"headers"`
	// Output selects how command output is parsed (text or json).
	Output string `yaml:"output"`
	// Steps lists pipeline steps.
	Steps []StepConfig `yaml:"steps"`
	// Timeout is the executor timeout.
	Timeout string `yaml:"timeout"`
}

// StepConfig is one pipeline step invoking another registered tool.
type StepConfig struct {
	// Name labels the step output; defaults to the tool name.
	Name string `yaml:"name"`
	// Tool is the registered tool to invoke.
	Tool string `yaml:"tool"`
	// Arguments are templated step arguments.
	Arguments map[string]any `yaml:"arguments"`
}

// PermissionConfig defines a single permission check.
type PermissionConfig struct {
	// Type selects the checker implementation (shell, limits, http).
	Type string `yaml:"type"`
	// Name is a human-friendly checker name.
	Name string `yaml:"name"`
	// Timeout limits checker execution time.
	Timeout string `yaml:"timeout"`
	// Cache memoises decisions in the permissions cache.
	Cache bool `yaml:"cache"`
	// Command is a shell checker command.
	Command string `yaml:"command"`
	// Args are shell checker arguments.
	Args []string `yaml:"args"`
	// Env adds environment variables for the checker.
	Env map[string]string `yaml:"env"`
	// URL is the HTTP permission service endpoint.
	URL string `yaml:"url"`
	// Method overrides the HTTP method.
	Method string `yaml:"method"`
	// Headers adds HTTP headers.
	Headers map[string]string `yaml:"headers"`
	// AllowExitCodes defines allowed shell exit codes.
	AllowExitCodes []int `yaml:"allow_exit_codes"`
	// MaxTotal limits total tool calls.
	MaxTotal int `yaml:"max_total"`
	// RatePerMinute limits requests per minute.
	RatePerMinute int `yaml:"rate_per_minute"`
	// FieldPolicies validates input fields.
	FieldPolicies map[string]FieldPolicy `yaml:"fields"`
}

// FieldPolicy defines validation rules for tool input fields.
type FieldPolicy struct {
	// Regex validates string value format.
	Regex string `yaml:"regex"`
	// Min sets numeric minimum.
	Min *float64 `yaml:"min"`
	// Max sets numeric maximum.
	Max *float64 `yaml:"max"`
	// MinLength sets string minimum length.
	MinLength *int `yaml:"min_length"`
	// MaxLength sets string maximum length.
	MaxLength *int `yaml:"max_length"`
}

// ResourceConfig declares a static MCP resource.
type ResourceConfig struct {
	// Name is a human-friendly resource name.
	Name string `yaml:"name"`
	// URI is the resource identifier.
	URI string `yaml:"uri"`
	// Description explains the resource.
	Description string `yaml:"description"`
	// MIMEType sets the content type.
	MIMEType string `yaml:"mime_type"`
	// Text is the static resource content.
	Text string `yaml:"text"`
}

// ToolAnnotationsConfig defines tool behavior hints.
type ToolAnnotationsConfig struct {
	// ReadOnlyHint indicates a read-only tool.
	ReadOnlyHint bool `yaml:"read_only_hint,omitempty"`
	// DestructiveHint indicates the tool may be destructive.
	DestructiveHint *bool `yaml:"destructive_hint,omitempty"`
	// IdempotentHint indicates repeated calls have no additional effect.
	IdempotentHint bool `yaml:"idempotent_hint,omitempty"`
	// OpenWorldHint indicates interaction with external entities.
	OpenWorldHint *bool `yaml:"open_world_hint,omitempty"`
	// Title is an optional tool display title.
	Title string `yaml:"title,omitempty"`
}
