package executor

import "context"

// Request contains tool execution inputs.
type Request struct {
	// ToolName is the tool being executed.
	ToolName string
	// RequestID identifies the scheduled invocation.
	RequestID string
	// Arguments are tool arguments.
	Arguments map[string]any
	// CorrelationID links related executions.
	CorrelationID string
	// SessionID is the execution context session.
	SessionID string
	// Shared holds resources produced by earlier pipeline steps.
	Shared map[string]any
}

// Executor calls the external capability backing a tool.
type Executor interface {
	// Execute runs the tool and returns its output.
	Execute(ctx context.Context, req Request) (any, error)
}
