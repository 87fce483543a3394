// Package executil renders command templates and runs external commands.
package executil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"text/template"
	"time"
)

// waitDelay bounds how long output pipes are drained after the command is
// killed.
const waitDelay = 2 * time.Second

// TemplateData defines the available fields in command templates.
type TemplateData struct {
	// Args are tool arguments.
	Args map[string]any
	// ToolName is the tool name.
	ToolName string
	// RequestID identifies the invocation.
	RequestID string
	// CorrelationID links related operations.
	CorrelationID string
	// SessionID is the execution context session.
	SessionID string
	// Shared holds resources shared by earlier steps of the same invocation.
	Shared map[string]any
}

// RenderTemplate renders a string template with TemplateData.
func RenderTemplate(value string, data TemplateData) (string, error) {
	tmpl, err := template.New("value").Funcs(template.FuncMap{
		"arg": func(name string) any {
			if data.Args == nil {
				return nil
			}
			return data.Args[name]
		},
		"shared": func(name string) any {
			if data.Shared == nil {
				return nil
			}
			return data.Shared[name]
		},
		"json": func(v any) (string, error) {
			out, err := json.Marshal(v)
			return string(out), err
		},
	}).Option("missingkey=zero").Parse(value)
	if err != nil {
		return "", fmt.Errorf("template parse: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template render: %w", err)
	}
	return buf.String(), nil
}

// BuildCommand builds an exec.Cmd with rendered command, args and env.
// Without args the command runs through bash -c.
func BuildCommand(ctx context.Context, command string, args []string, env map[string]string, data TemplateData) (*exec.Cmd, error) {
	renderedCommand, err := RenderTemplate(command, data)
	if err != nil {
		return nil, err
	}

	renderedArgs := make([]string, 0, len(args))
	for _, arg := range args {
		rendered, err := RenderTemplate(arg, data)
		if err != nil {
			return nil, err
		}
		renderedArgs = append(renderedArgs, rendered)
	}

	var cmd *exec.Cmd
	if len(renderedArgs) == 0 {
		cmd = exec.CommandContext(ctx, "bash", "-c", renderedCommand)
	} else {
		cmd = exec.CommandContext(ctx, renderedCommand, renderedArgs...)
	}

	cmd.WaitDelay = waitDelay
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env,
		"DESKTOP_MCP_TOOL="+data.ToolName,
		"DESKTOP_MCP_REQUEST_ID="+data.RequestID,
		"DESKTOP_MCP_CORRELATION_ID="+data.CorrelationID,
	)
	for key, value := range env {
		rendered, err := RenderTemplate(value, data)
		if err != nil {
			return nil, err
		}
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, rendered))
	}

	return cmd, nil
}

// RunCommand executes a command and returns combined output, exit code and
// error.
func RunCommand(ctx context.Context, command string, args []string, env map[string]string, data TemplateData) (string, int, error) {
	cmd, err := BuildCommand(ctx, command, args, env, data)
	if err != nil {
		return "", -1, err
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	err = cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	return output.String(), exitCode, err
}

// RunCommandSplit executes a command keeping stdout and stderr apart.
func RunCommandSplit(ctx context.Context, command string, args []string, env map[string]string, data TemplateData) (stdout, stderr string, exitCode int, err error) {
	cmd, err := BuildCommand(ctx, command, args, env, data)
	if err != nil {
		return "", "", -1, err
	}

	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	err = cmd.Run()
	exitCode = -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	return out.String(), errOut.String(), exitCode, err
}
