package constants

// Executor type aliases.
const (
	ExecutorShell    = "shell"
	ExecutorHTTP     = "http"
	ExecutorPipeline = "pipeline"
)

// Permission checker type aliases.
const (
	PermissionShell  = "shell"
	PermissionLimits = "limits"
	PermissionHTTP   = "http"
)

// Result cache key strategies.
const (
	CacheKeyStrategyAuto          = "auto"
	CacheKeyStrategyCorrelationID = "correlation_id"
	CacheKeyStrategyArgumentsHash = "arguments_hash"
)

// Default cache names.
const (
	CacheScreen      = "screen"
	CacheResults     = "results"
	CachePermissions = "permissions"
)

// Transports.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// Reserved argument keys consumed by the server before validation.
const (
	ArgPriority       = "priority"
	ArgQueueTimeoutMS = "queue_timeout_ms"
	ArgCorrelationID  = "correlation_id"
	ArgRequestID      = "request_id"
	ArgSessionID      = "session_id"
)
