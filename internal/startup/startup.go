// Package startup runs the commands declared to prepare the desktop before
// the server accepts calls.
package startup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codex-k8s/desktop-mcp-server/internal/dsl"
	"github.com/codex-k8s/desktop-mcp-server/internal/executil"
	"github.com/codex-k8s/desktop-mcp-server/internal/timeutil"
)

// Run executes startup hooks sequentially and stops at the first failure.
func Run(ctx context.Context, hooks []dsl.HookConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	for idx, hook := range hooks {
		if err := runHook(ctx, idx, hook, logger); err != nil {
			return err
		}
	}
	return nil
}

func runHook(ctx context.Context, idx int, hook dsl.HookConfig, logger *slog.Logger) error {
	timeout, err := timeutil.ParseOptional(hook.Timeout)
	if err != nil {
		return fmt.Errorf("startup hook %d: invalid timeout: %w", idx, err)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger.Info("running startup hook", "index", idx)
	output, exitCode, err := executil.RunCommand(ctx, hook.Command, hook.Args, hook.Env, executil.TemplateData{})
	output = strings.TrimSpace(output)
	if err != nil {
		if output != "" {
			logger.Error("startup hook failed", "index", idx, "exit_code", exitCode, "output", output)
		}
		return fmt.Errorf("startup hook %d failed: %w", idx, err)
	}
	if output != "" {
		logger.Info("startup hook output", "index", idx, "output", output)
	}
	return nil
}
