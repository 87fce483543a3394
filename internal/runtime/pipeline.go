package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codex-k8s/desktop-mcp-server/internal/dsl"
	"github.com/codex-k8s/desktop-mcp-server/internal/executil"
	"github.com/codex-k8s/desktop-mcp-server/internal/execution"
	"github.com/codex-k8s/desktop-mcp-server/internal/registry"
	"github.com/codex-k8s/desktop-mcp-server/internal/scheduler"
)

// Shared resource keys written by pipeline steps.
const (
	sharedPrevious    = "previous"
	sharedStepsPrefix = "steps."
)

// pipeline runs registered tools in order inside one execution context.
type pipeline struct {
	registry *registry.Registry
	steps    []dsl.StepConfig
}

func (p *pipeline) run(ctx context.Context, req registry.Request, ec *execution.Context) (any, error) {
	outputs := make(map[string]any, len(p.steps))
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		value, err := p.runStep(ctx, step, req, ec)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", step.Name, err)
		}
		outputs[step.Name] = value
		ec.ShareResource(sharedStepsPrefix+step.Name, value)
		ec.ShareResource(sharedPrevious, value)
	}
	return outputs, nil
}

func (p *pipeline) runStep(ctx context.Context, step dsl.StepConfig, parent registry.Request, ec *execution.Context) (any, error) {
	handler, ok := p.registry.Handler(step.Tool)
	if !ok {
		return nil, fmt.Errorf("%w: %s", scheduler.ErrToolNotFound, step.Tool)
	}

	args, err := renderArguments(step.Arguments, executil.TemplateData{
		Args:          parent.Arguments,
		ToolName:      parent.Tool,
		RequestID:     parent.ID,
		CorrelationID: parent.CorrelationID,
		SessionID:     ec.SessionID(),
		Shared:        ec.Resources(),
	})
	if err != nil {
		return nil, err
	}
	if err := p.registry.ValidateArguments(step.Tool, args); err != nil {
		return nil, err
	}

	call := registry.Request{
		ID:            parent.ID,
		Tool:          step.Tool,
		Arguments:     args,
		CorrelationID: parent.CorrelationID,
	}
	if validator, ok := handler.(registry.PermissionValidator); ok {
		if err := validator.ValidatePermissions(ctx, call); err != nil {
			return nil, fmt.Errorf("%w: %w", scheduler.ErrPermissionDenied, err)
		}
	}

	ec.StartTimer("step." + step.Name)
	out, err := handler.Execute(ctx, call, ec)
	ec.EndTimer("step." + step.Name)
	if err != nil {
		return nil, err
	}
	value, _ := unwrapOutput(out)
	return value, nil
}

// renderArguments expands templates in string values. A rendered value that
// parses as JSON keeps its JSON type so numbers and objects survive.
func renderArguments(args map[string]any, data executil.TemplateData) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for key, value := range args {
		rendered, err := renderValue(value, data)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", key, err)
		}
		out[key] = rendered
	}
	return out, nil
}

func renderValue(value any, data executil.TemplateData) (any, error) {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "{{") {
			return v, nil
		}
		rendered, err := executil.RenderTemplate(v, data)
		if err != nil {
			return nil, err
		}
		var decoded any
		if err := json.Unmarshal([]byte(rendered), &decoded); err == nil {
			return decoded, nil
		}
		return rendered, nil
	case map[string]any:
		return renderArguments(v, data)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			rendered, err := renderValue(item, data)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}
