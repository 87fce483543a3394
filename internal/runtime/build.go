package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codex-k8s/desktop-mcp-server/internal/audit"
	"github.com/codex-k8s/desktop-mcp-server/internal/classifier"
	"github.com/codex-k8s/desktop-mcp-server/internal/constants"
	"github.com/codex-k8s/desktop-mcp-server/internal/dsl"
	"github.com/codex-k8s/desktop-mcp-server/internal/protocol"
	"github.com/codex-k8s/desktop-mcp-server/internal/registry"
	"github.com/codex-k8s/desktop-mcp-server/internal/scheduler"
	"github.com/codex-k8s/desktop-mcp-server/internal/security"
	"github.com/codex-k8s/desktop-mcp-server/internal/timeutil"
)

// Response codes produced before a request reaches the scheduler.
const (
	CodeInvalidArguments = "invalid_arguments"
	CodeClientCancelled  = "client_cancelled"
)

// Submitter accepts invocations for scheduled execution.
type Submitter interface {
	Submit(inv scheduler.Invocation) (*scheduler.Handle, error)
}

// Builder constructs an MCP server over the registry and the scheduler.
type Builder struct {
	// Logger is used for structured logging.
	Logger *slog.Logger
	// Audit records invocation events.
	Audit audit.Logger
	// Registry lists the exposed tools.
	Registry *registry.Registry
	// Scheduler runs the invocations.
	Scheduler Submitter
}

type toolDefaults struct {
	priority     scheduler.Priority
	queueTimeout time.Duration
}

// Build creates an MCP server with every registered tool and the configured
// resources.
func (b Builder) Build(cfg *dsl.Config) (*mcp.Server, error) {
	if b.Registry == nil || b.Scheduler == nil {
		return nil, errors.New("registry and scheduler are required")
	}
	server := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
	}, nil)

	for _, res := range cfg.Resources {
		resource := res
		server.AddResource(&mcp.Resource{
			Name:        resource.Name,
			URI:         resource.URI,
			Description: resource.Description,
			MIMEType:    resource.MIMEType,
		}, func(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{
					{URI: resource.URI, MIMEType: resource.MIMEType, Text: resource.Text},
				},
			}, nil
		})
	}

	defaults := make(map[string]toolDefaults, len(cfg.Tools))
	for _, tool := range cfg.Tools {
		priority, err := scheduler.ParsePriority(tool.Priority)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", tool.Name, err)
		}
		queueTimeout, err := timeutil.ParseOptional(tool.QueueTimeout)
		if err != nil {
			return nil, fmt.Errorf("tool %s: queue_timeout: %w", tool.Name, err)
		}
		defaults[tool.Name] = toolDefaults{priority: priority, queueTimeout: queueTimeout}
	}

	for _, tool := range b.Registry.Tools() {
		def, ok := defaults[tool.Name]
		if !ok {
			def = toolDefaults{priority: scheduler.PriorityNormal}
		}
		b.addTool(server, tool, def)
	}
	return server, nil
}

func (b Builder) addTool(server *mcp.Server, tool registry.Tool, def toolDefaults) {
	mcpTool := &mcp.Tool{
		Name:        tool.Name,
		Title:       tool.Title,
		Description: tool.Description,
		InputSchema: exposedSchema(tool.InputSchema),
		Annotations: toMCPAnnotations(tool.Annotations),
	}

	mcp.AddTool(server, mcpTool, func(ctx context.Context, req *mcp.CallToolRequest, input map[string]any) (*mcp.CallToolResult, protocol.ToolResponse, error) {
		sessionID := ""
		if req != nil && req.Session != nil {
			sessionID = req.Session.ID()
		}
		return nil, b.call(ctx, tool, def, sessionID, input), nil
	})
}

// call runs one MCP tool call through the scheduler.
func (b Builder) call(ctx context.Context, tool registry.Tool, def toolDefaults, sessionID string, input map[string]any) protocol.ToolResponse {
	correlationID := stringArg(input, constants.ArgCorrelationID)
	if correlationID == "" {
		correlationID = stringArg(input, constants.ArgRequestID)
	}
	if id := stringArg(input, constants.ArgSessionID); id != "" {
		sessionID = id
	}
	resp := protocol.ToolResponse{
		Status:        protocol.StatusError,
		Tool:          tool.Name,
		CorrelationID: correlationID,
	}

	inv, err := b.invocation(tool, def, input)
	if err != nil {
		resp.Code = CodeInvalidArguments
		resp.Reason = err.Error()
		b.record(ctx, audit.Event{Type: audit.TypeRejected, Tool: tool.Name, CorrelationID: correlationID, Code: resp.Code, Reason: resp.Reason})
		return resp
	}
	inv.CorrelationID = correlationID
	inv.SessionID = sessionID

	if b.Logger != nil {
		b.Logger.Info("tool call", "tool", tool.Name, "correlation_id", correlationID, "priority", inv.Priority.String(), "args", redact(tool.Group, inv.Arguments))
	}

	handle, err := b.Scheduler.Submit(inv)
	if err != nil {
		resp.Code = scheduler.ErrorCode(err)
		resp.Reason = err.Error()
		b.record(ctx, audit.Event{Type: audit.TypeRejected, Tool: tool.Name, CorrelationID: correlationID, Code: resp.Code, Reason: resp.Reason})
		return resp
	}
	resp.RequestID = handle.ID()
	if resp.CorrelationID == "" {
		resp.CorrelationID = handle.ID()
	}
	b.record(ctx, audit.Event{Type: audit.TypeSubmitted, Tool: tool.Name, RequestID: handle.ID(), CorrelationID: correlationID})

	res, err := handle.Wait(ctx)
	if err != nil && res.RequestID == "" {
		resp.Code = CodeClientCancelled
		resp.Reason = err.Error()
		return resp
	}
	resp.BatchID = res.BatchID
	resp.DurationMS = res.Duration.Milliseconds()

	if err != nil {
		resp.Code = scheduler.ErrorCode(err)
		resp.Reason = err.Error()
		if errors.Is(err, scheduler.ErrPermissionDenied) {
			resp.Status = protocol.StatusDenied
		}
		event := audit.TypeFailed
		if res.BatchID == "" {
			event = audit.TypeRejected
		}
		b.record(ctx, audit.Event{Type: event, Tool: tool.Name, RequestID: res.RequestID, CorrelationID: correlationID, Code: resp.Code, Reason: resp.Reason, Duration: res.Duration})
		return resp
	}

	resp.Status = protocol.StatusSuccess
	resp.Result, resp.Cached = unwrapOutput(res.Output)
	b.record(ctx, audit.Event{Type: audit.TypeSucceeded, Tool: tool.Name, RequestID: res.RequestID, CorrelationID: correlationID, Duration: res.Duration})
	return resp
}

// invocation strips server-level keys, validates the remaining arguments
// and resolves priority and queue timeout.
func (b Builder) invocation(tool registry.Tool, def toolDefaults, input map[string]any) (scheduler.Invocation, error) {
	inv := scheduler.Invocation{
		Tool:     tool.Name,
		Priority: def.priority,
		Timeout:  def.queueTimeout,
	}
	if raw, ok := input[constants.ArgPriority]; ok && raw != nil {
		label, _ := raw.(string)
		priority, err := scheduler.ParsePriority(label)
		if err != nil || label == "" {
			return inv, fmt.Errorf("%s must be one of low, normal, high, critical", constants.ArgPriority)
		}
		inv.Priority = priority
	}
	if raw, ok := input[constants.ArgQueueTimeoutMS]; ok && raw != nil {
		ms, ok := raw.(float64)
		if !ok || ms < 0 {
			return inv, fmt.Errorf("%s must be a non-negative number", constants.ArgQueueTimeoutMS)
		}
		inv.Timeout = timeutil.Milliseconds(ms)
	}

	args := stripReserved(input)
	if err := b.Registry.ValidateArguments(tool.Name, args); err != nil {
		return inv, err
	}
	inv.Arguments = args
	return inv, nil
}

func (b Builder) record(ctx context.Context, event audit.Event) {
	if b.Audit != nil {
		b.Audit.Record(ctx, event)
	}
}

// exposedSchema adds the server-level properties to a tool input schema.
func exposedSchema(schema map[string]any) map[string]any {
	out := maps.Clone(schema)
	if out == nil {
		out = map[string]any{"type": "object"}
	}
	props := map[string]any{}
	if existing, ok := out["properties"].(map[string]any); ok {
		props = maps.Clone(existing)
	}
	props[constants.ArgPriority] = map[string]any{
		"type":        "string",
		"enum":        []any{"low", "normal", "high", "critical"},
		"description": "Queue priority of this call.",
	}
	props[constants.ArgQueueTimeoutMS] = map[string]any{
		"type":        "number",
		"minimum":     0,
		"description": "Maximum time in milliseconds the call may wait in the queue.",
	}
	props[constants.ArgCorrelationID] = map[string]any{
		"type":        "string",
		"description": "Identifier linking related calls.",
	}
	props[constants.ArgRequestID] = map[string]any{
		"type":        "string",
		"description": "Alias of correlation_id.",
	}
	props[constants.ArgSessionID] = map[string]any{
		"type":        "string",
		"description": "Execution session identifier.",
	}
	out["properties"] = props
	return out
}

func toMCPAnnotations(a *registry.Annotations) *mcp.ToolAnnotations {
	if a == nil {
		return nil
	}
	return &mcp.ToolAnnotations{
		ReadOnlyHint:    a.ReadOnly,
		DestructiveHint: a.Destructive,
		IdempotentHint:  a.Idempotent,
		OpenWorldHint:   a.OpenWorld,
		Title:           a.Title,
	}
}

func redact(group classifier.Group, args map[string]any) map[string]any {
	if group == classifier.GroupInputAutomation {
		return security.RedactTyped(args)
	}
	return security.RedactArguments(args)
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	raw, ok := args[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(raw)
}
