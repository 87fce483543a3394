package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/codex-k8s/desktop-mcp-server/internal/execution"
	"github.com/codex-k8s/desktop-mcp-server/internal/registry"
)

func (s *Scheduler) runBatch(batch []*request, cfg Config) {
	defer s.finishBatch()

	batchID := uuid.NewString()
	started := s.now()
	ctx, span := s.tracer.Start(s.baseCtx, "scheduler.batch", trace.WithAttributes(
		attribute.String("batch.id", batchID),
		attribute.Int("batch.size", len(batch)),
		attribute.Bool("batch.parallel", cfg.ParallelExecution),
	))
	defer span.End()

	groups, err := s.plan(batch, cfg)
	if err != nil {
		s.logger.Error("batch scheduling failed", "batch_id", batchID, "size", len(batch), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "scheduling failed")
		results := make([]Result, len(batch))
		for i, req := range batch {
			results[i] = Result{
				RequestID:     req.id,
				Tool:          req.inv.Tool,
				CorrelationID: req.inv.CorrelationID,
				BatchID:       batchID,
				Err:           fmt.Errorf("%w: %w", ErrBatchScheduling, err),
			}
			req.handle.settle(results[i])
		}
		s.complete(batchID, started, 0, results)
		return
	}
	span.SetAttributes(attribute.Int("batch.groups", len(groups)))

	results := make([]Result, len(batch))
	for _, group := range groups {
		if len(group) == 1 {
			idx := group[0]
			results[idx] = s.dispatch(ctx, batch[idx], batchID)
			continue
		}
		var g errgroup.Group
		for _, idx := range group {
			g.Go(func() error {
				results[idx] = s.dispatch(ctx, batch[idx], batchID)
				return nil
			})
		}
		_ = g.Wait()
	}
	s.complete(batchID, started, len(groups), results)
}

// plan returns the execution groups for a batch as index lists. Without
// parallel execution every request is its own group.
func (s *Scheduler) plan(batch []*request, cfg Config) (groups [][]int, err error) {
	if !cfg.ParallelExecution || len(batch) < 2 {
		groups = make([][]int, len(batch))
		for i := range batch {
			groups[i] = []int{i}
		}
		return groups, nil
	}

	defer func() {
		if r := recover(); r != nil {
			groups = nil
			err = fmt.Errorf("partition panicked: %v", r)
		}
	}()
	tools := make([]string, len(batch))
	for i, req := range batch {
		tools[i] = req.inv.Tool
	}
	groups, err = s.partitioner.Partition(tools)
	if err != nil {
		return nil, err
	}
	if err := checkPartition(groups, len(batch)); err != nil {
		return nil, err
	}
	return groups, nil
}

// checkPartition verifies every request is assigned to exactly one group.
func checkPartition(groups [][]int, size int) error {
	seen := make([]bool, size)
	count := 0
	for _, group := range groups {
		if len(group) == 0 {
			return fmt.Errorf("partition produced an empty group")
		}
		for _, idx := range group {
			if idx < 0 || idx >= size {
				return fmt.Errorf("partition index %d out of range", idx)
			}
			if seen[idx] {
				return fmt.Errorf("partition assigned index %d twice", idx)
			}
			seen[idx] = true
			count++
		}
	}
	if count != size {
		return fmt.Errorf("partition covered %d of %d requests", count, size)
	}
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, req *request, batchID string) Result {
	ctx, span := s.tracer.Start(ctx, "tool.invoke", trace.WithAttributes(
		attribute.String("tool.name", req.inv.Tool),
		attribute.String("request.id", req.id),
		attribute.String("batch.id", batchID),
	))
	defer span.End()

	ec := s.contexts.NewWithSession(req.inv.Tool, req.inv.SessionID)
	defer ec.Cleanup()

	started := s.now()
	output, err := s.invoke(ctx, req, ec)
	elapsed := s.now().Sub(started)

	if s.telemetry != nil {
		s.telemetry.RecordToolExecution(req.inv.Tool, elapsed, err == nil)
	}

	res := Result{
		RequestID:     req.id,
		Tool:          req.inv.Tool,
		CorrelationID: req.inv.CorrelationID,
		BatchID:       batchID,
		Success:       err == nil,
		Output:        output,
		Err:           err,
		Duration:      elapsed,
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorCode(err))
		s.logger.Warn("tool invocation failed", "request_id", req.id, "tool", req.inv.Tool, "batch_id", batchID, "duration", elapsed, "error", err)
	} else {
		s.logger.Debug("tool invocation succeeded", "request_id", req.id, "tool", req.inv.Tool, "batch_id", batchID, "duration", elapsed)
	}
	req.handle.settle(res)
	return res
}

func (s *Scheduler) invoke(ctx context.Context, req *request, ec *execution.Context) (any, error) {
	handler, ok := s.handlers.Handler(req.inv.Tool)
	if !ok || handler == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, req.inv.Tool)
	}
	call := registry.Request{
		ID:            req.id,
		Tool:          req.inv.Tool,
		Arguments:     req.inv.Arguments,
		CorrelationID: req.inv.CorrelationID,
	}

	if validator, ok := handler.(registry.PermissionValidator); ok {
		err := guard(func() error { return validator.ValidatePermissions(ctx, call) })
		if err != nil {
			return nil, &HandlerError{Tool: req.inv.Tool, Stage: StagePermission, Err: err}
		}
	}

	var output any
	err := guard(func() error {
		var execErr error
		output, execErr = handler.Execute(ctx, call, ec)
		return execErr
	})
	if err != nil {
		return nil, &HandlerError{Tool: req.inv.Tool, Stage: StageExecute, Err: err}
	}
	return output, nil
}

// guard converts a handler panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}

func (s *Scheduler) complete(batchID string, started time.Time, groups int, results []Result) {
	m := BatchMetrics{
		ID:        batchID,
		Requests:  len(results),
		Groups:    groups,
		Elapsed:   s.now().Sub(started),
		Timestamp: s.now(),
	}
	for _, res := range results {
		if res.Success {
			m.Succeeded++
		} else {
			m.Failed++
		}
		m.TotalDuration += res.Duration
	}
	if m.Requests > 0 {
		m.AverageDuration = m.TotalDuration / time.Duration(m.Requests)
	}
	s.logger.Info("batch completed",
		"batch_id", batchID,
		"requests", m.Requests,
		"succeeded", m.Succeeded,
		"failed", m.Failed,
		"groups", m.Groups,
		"elapsed", m.Elapsed,
	)
	s.ledger.publish(m)
}
