package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrRequestTimeout rejects a request whose queue deadline passed before dispatch.
	ErrRequestTimeout = errors.New("request timed out in queue")
	// ErrToolNotFound rejects a request for a tool without a registered handler.
	ErrToolNotFound = errors.New("tool not found")
	// ErrPermissionDenied matches handler errors raised by a permission check.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrQueueCleared rejects requests drained by ClearQueue.
	ErrQueueCleared = errors.New("queue cleared")
	// ErrBatchScheduling rejects every request of a batch that could not be scheduled.
	ErrBatchScheduling = errors.New("batch scheduling failed")
	// ErrClosed is returned once the scheduler is shutting down.
	ErrClosed = errors.New("scheduler closed")
)

// Handler failure stages.
const (
	StagePermission = "permission"
	StageExecute    = "execute"
)

// HandlerError wraps a failure raised by a tool handler.
type HandlerError struct {
	Tool  string
	Stage string
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("tool %s %s failed: %v", e.Tool, e.Stage, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Is reports permission-stage failures as ErrPermissionDenied.
func (e *HandlerError) Is(target error) bool {
	return target == ErrPermissionDenied && e.Stage == StagePermission
}

// ErrorCode maps an invocation error to a stable code for callers.
func ErrorCode(err error) string {
	var handlerErr *HandlerError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRequestTimeout):
		return "request_timeout"
	case errors.Is(err, ErrToolNotFound):
		return "tool_not_found"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.As(err, &handlerErr):
		return "handler_failure"
	case errors.Is(err, ErrQueueCleared):
		return "queue_cleared"
	case errors.Is(err, ErrBatchScheduling):
		return "batch_scheduling_failure"
	case errors.Is(err, ErrClosed):
		return "scheduler_closed"
	default:
		return "internal_error"
	}
}
