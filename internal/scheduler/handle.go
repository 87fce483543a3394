package scheduler

import (
	"context"
	"sync"
	"time"
)

// Result is the terminal outcome of one accepted request.
type Result struct {
	RequestID     string        `json:"request_id"`
	Tool          string        `json:"tool"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	BatchID       string        `json:"batch_id,omitempty"`
	Success       bool          `json:"success"`
	Output        any           `json:"output,omitempty"`
	Err           error         `json:"-"`
	Duration      time.Duration `json:"duration"`
}

// Handle is returned by Submit and settles exactly once.
type Handle struct {
	id   string
	tool string

	once   sync.Once
	done   chan struct{}
	result Result
}

func newHandle(id, tool string) *Handle {
	return &Handle{id: id, tool: tool, done: make(chan struct{})}
}

// ID returns the request id.
func (h *Handle) ID() string { return h.id }

// Tool returns the requested tool name.
func (h *Handle) Tool() string { return h.tool }

// Done is closed once the request settles.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the request settles or ctx ends. The returned error is
// the request failure, or ctx's error when waiting was abandoned.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, h.result.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the outcome and whether the request has settled.
func (h *Handle) Result() (Result, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return Result{}, false
	}
}

func (h *Handle) settle(res Result) bool {
	settled := false
	h.once.Do(func() {
		h.result = res
		settled = true
		close(h.done)
	})
	return settled
}
