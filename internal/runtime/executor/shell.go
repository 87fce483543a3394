package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codex-k8s/desktop-mcp-server/internal/executil"
)

// Output formats.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// Shell executes a command as a tool.
type Shell struct {
	// Command is the shell command to execute.
	Command string
	// Args are command arguments.
	Args []string
	// Env adds environment variables.
	Env map[string]string
	// Output selects how stdout is parsed.
	Output string
}

// Execute runs the configured command. Stdout is the result; stderr is
// reported on failure.
func (s Shell) Execute(ctx context.Context, req Request) (any, error) {
	stdout, stderr, exitCode, err := executil.RunCommandSplit(ctx, s.Command, s.Args, s.Env, executil.TemplateData{
		Args:          req.Arguments,
		ToolName:      req.ToolName,
		RequestID:     req.RequestID,
		CorrelationID: req.CorrelationID,
		SessionID:     req.SessionID,
		Shared:        req.Shared,
	})
	stdout = strings.TrimSpace(stdout)
	if err != nil {
		detail := strings.TrimSpace(stderr)
		if detail == "" {
			detail = stdout
		}
		if detail == "" {
			return nil, fmt.Errorf("command exited with code %d: %w", exitCode, err)
		}
		return nil, fmt.Errorf("command exited with code %d: %s", exitCode, detail)
	}
	if s.Output != OutputJSON {
		return stdout, nil
	}
	var parsed any
	if err := json.Unmarshal([]byte(stdout), &parsed); err != nil {
		return nil, fmt.Errorf("decode command output: %w", err)
	}
	return parsed, nil
}
