package protocol

// Tool execution statuses.
const (
	StatusSuccess = "success"
	StatusDenied  = "denied"
	StatusError   = "error"
)

// ToolResponse is the fixed JSON response returned to MCP clients.
type ToolResponse struct {
	// Status indicates the execution status.
	Status string `json:"status"`
	// Tool is the invoked tool.
	Tool string `json:"tool"`
	// RequestID identifies the scheduled invocation.
	RequestID string `json:"request_id,omitempty"`
	// CorrelationID links related requests.
	CorrelationID string `json:"correlation_id"`
	// BatchID identifies the batch the invocation ran in.
	BatchID string `json:"batch_id,omitempty"`
	// DurationMS is the measured execution time.
	DurationMS int64 `json:"duration_ms"`
	// Cached is set when the result was served from a cache.
	Cached bool `json:"cached,omitempty"`
	// Result is the tool output.
	Result any `json:"result,omitempty"`
	// Code is a stable error code.
	Code string `json:"code,omitempty"`
	// Reason is a human-readable message.
	Reason string `json:"reason,omitempty"`
}

// BackendResponse is the JSON response expected from HTTP automation
// backends.
type BackendResponse struct {
	// Status is "success" or "error".
	Status string `json:"status"`
	// Result is the backend output.
	Result any `json:"result,omitempty"`
	// Error describes a backend failure.
	Error string `json:"error,omitempty"`
}

// Permission decisions returned by HTTP permission services.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// PermissionResponse is the JSON response expected from HTTP permission
// services.
type PermissionResponse struct {
	// Decision is "allow" or "deny".
	Decision string `json:"decision"`
	// Reason explains the decision.
	Reason string `json:"reason,omitempty"`
}
