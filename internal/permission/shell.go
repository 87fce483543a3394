package permission

import (
	"context"
	"slices"
	"strings"

	"github.com/codex-k8s/desktop-mcp-server/internal/executil"
)

// Shell runs a command and decides based on its exit code.
type Shell struct {
	// Label is a human-friendly name.
	Label string
	// Command is the shell command to execute.
	Command string
	// Args are optional command arguments.
	Args []string
	// Env adds environment variables for the command.
	Env map[string]string
	// AllowExitCodes declares additional success exit codes.
	AllowExitCodes []int
}

// Name returns the checker name for audit and logging.
func (s Shell) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return "shell"
}

// Check executes the command and returns a decision.
func (s Shell) Check(ctx context.Context, req Request) (Decision, error) {
	output, exitCode, err := executil.RunCommand(ctx, s.Command, s.Args, s.Env, executil.TemplateData{
		Args:          req.Arguments,
		ToolName:      req.ToolName,
		CorrelationID: req.CorrelationID,
	})

	allowed := err == nil || slices.Contains(s.AllowExitCodes, exitCode)

	reason := strings.TrimSpace(output)
	if reason == "" {
		if allowed {
			reason = "allowed"
		} else {
			reason = "denied"
		}
	}

	return Decision{Allowed: allowed, Reason: reason, Source: s.Name()}, nil
}
