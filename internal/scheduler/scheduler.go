// Package scheduler admits tool invocations, windows them into batches and
// dispatches each batch through the registry with classifier-driven
// concurrency.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/codex-k8s/desktop-mcp-server/internal/execution"
	"github.com/codex-k8s/desktop-mcp-server/internal/registry"
)

const tracerName = "github.com/codex-k8s/desktop-mcp-server/internal/scheduler"

// State is the coarse scheduler state reported by Stats.
type State string

const (
	StateIdle        State = "idle"
	StateWindowArmed State = "window_armed"
	StateDispatching State = "dispatching"
	StateClosed      State = "closed"
)

// Handlers resolves tool handlers.
type Handlers interface {
	Handler(name string) (registry.Handler, bool)
}

// Partitioner splits a batch of tool names into ordered parallel-safe groups.
type Partitioner interface {
	Partition(tools []string) ([][]int, error)
}

// ToolRecorder receives per-invocation measurements.
type ToolRecorder interface {
	RecordToolExecution(tool string, duration time.Duration, success bool)
}

// Options configures a Scheduler.
type Options struct {
	// Config is the initial scheduling configuration.
	Config Config
	// Handlers resolves tool handlers. Required.
	Handlers Handlers
	// Partitioner groups batches for parallel execution. Required when
	// parallel execution is enabled.
	Partitioner Partitioner
	// Contexts creates per-invocation execution contexts.
	Contexts *execution.Factory
	// Telemetry receives per-invocation measurements.
	Telemetry ToolRecorder
	// Tracer creates dispatch spans. Defaults to the global provider.
	Tracer trace.Tracer
	// Logger receives scheduler events.
	Logger *slog.Logger
	// LedgerLimit bounds the batch metrics history.
	LedgerLimit int
	// Now overrides the clock used for measurements.
	Now func() time.Time
}

// Invocation is one request submitted for execution.
type Invocation struct {
	// Tool is the tool name.
	Tool string
	// Arguments are passed to the handler untouched.
	Arguments map[string]any
	// Priority orders the request when priority weighting is enabled.
	Priority Priority
	// Timeout bounds the time spent queued. Zero disables the deadline.
	Timeout time.Duration
	// CorrelationID links related invocations.
	CorrelationID string
	// SessionID threads a caller session into the execution context.
	SessionID string
}

type requestState int

const (
	stateQueued requestState = iota
	stateDispatched
	stateDone
)

type request struct {
	id          string
	inv         Invocation
	seq         uint64
	submittedAt time.Time
	deadline    *time.Timer
	state       requestState
	handle      *Handle
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	State     State  `json:"state"`
	Queued    int    `json:"queued"`
	InFlight  int    `json:"in_flight"`
	Submitted uint64 `json:"submitted"`
	Batches   uint64 `json:"batches"`
	Config    Config `json:"config"`
}

// Scheduler is the admission queue and batch dispatcher. All queue, timer
// and in-flight state is guarded by mu.
type Scheduler struct {
	handlers    Handlers
	partitioner Partitioner
	contexts    *execution.Factory
	telemetry   ToolRecorder
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
	ledger      *ledger

	baseCtx    context.Context
	cancelBase context.CancelFunc
	batches    sync.WaitGroup

	mu          sync.Mutex
	cfg         Config
	queue       []*request
	seq         uint64
	window      *time.Timer
	windowGen   uint64
	windowArmed bool
	inFlight    int
	batchSeq    uint64
	closed      bool
}

// New constructs a scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Handlers == nil {
		return nil, fmt.Errorf("scheduler: handlers are required")
	}
	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	if cfg.ParallelExecution && opts.Partitioner == nil {
		return nil, fmt.Errorf("scheduler: partitioner is required for parallel execution")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	contexts := opts.Contexts
	if contexts == nil {
		contexts = execution.NewFactory(nil, nil)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		handlers:    opts.Handlers,
		partitioner: opts.Partitioner,
		contexts:    contexts,
		telemetry:   opts.Telemetry,
		tracer:      tracer,
		logger:      logger.With("component", "scheduler"),
		now:         now,
		ledger:      newLedger(opts.LedgerLimit),
		baseCtx:     baseCtx,
		cancelBase:  cancel,
		cfg:         cfg,
	}, nil
}

// Submit enqueues an invocation and returns its result handle.
func (s *Scheduler) Submit(inv Invocation) (*Handle, error) {
	if inv.Tool == "" {
		return nil, fmt.Errorf("submit: tool name is required")
	}
	req := &request{
		id:          uuid.NewString(),
		inv:         inv,
		submittedAt: s.now(),
	}
	req.handle = newHandle(req.id, inv.Tool)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.seq++
	req.seq = s.seq
	s.insertLocked(req)
	if inv.Timeout > 0 {
		req.deadline = time.AfterFunc(inv.Timeout, func() { s.expire(req) })
	}
	s.armLocked()

	s.logger.Debug("request queued", "request_id", req.id, "tool", inv.Tool, "priority", inv.Priority.String(), "queued", len(s.queue))
	return req.handle, nil
}

// insertLocked places req after every queued request that must run before it.
func (s *Scheduler) insertLocked(req *request) {
	if !s.cfg.PriorityWeighting {
		s.queue = append(s.queue, req)
		return
	}
	idx, _ := slices.BinarySearchFunc(s.queue, req, func(queued, target *request) int {
		if before(queued, target) {
			return -1
		}
		return 1
	})
	s.queue = slices.Insert(s.queue, idx, req)
}

// before reports whether a is ordered ahead of b under priority weighting.
func before(a, b *request) bool {
	if a.inv.Priority != b.inv.Priority {
		return a.inv.Priority > b.inv.Priority
	}
	return a.seq < b.seq
}

func (s *Scheduler) expire(req *request) {
	s.mu.Lock()
	if req.state != stateQueued {
		s.mu.Unlock()
		return
	}
	s.removeLocked(req)
	req.state = stateDone
	s.mu.Unlock()

	s.logger.Info("request expired in queue", "request_id", req.id, "tool", req.inv.Tool, "timeout", req.inv.Timeout)
	s.reject(req, fmt.Errorf("%w after %s", ErrRequestTimeout, req.inv.Timeout))
}

func (s *Scheduler) removeLocked(req *request) {
	if i := slices.Index(s.queue, req); i >= 0 {
		s.queue = slices.Delete(s.queue, i, i+1)
	}
}

// armLocked starts the batch window unless it is already pending.
func (s *Scheduler) armLocked() {
	if s.windowArmed || s.closed || len(s.queue) == 0 {
		return
	}
	s.windowArmed = true
	s.windowGen++
	gen := s.windowGen
	s.window = time.AfterFunc(s.cfg.BatchWindow, func() { s.onWindow(gen) })
}

func (s *Scheduler) disarmLocked() {
	if s.window != nil {
		s.window.Stop()
		s.window = nil
	}
	s.windowArmed = false
	s.windowGen++
}

// onWindow extracts one batch. When every batch slot is taken the queue is
// left alone and the next completing batch re-arms the window, so deferred
// requests wait a full fresh BatchWindow after that batch finishes.
func (s *Scheduler) onWindow(gen uint64) {
	s.mu.Lock()
	if gen != s.windowGen || !s.windowArmed {
		s.mu.Unlock()
		return
	}
	s.windowArmed = false
	s.window = nil
	if s.closed || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	if s.inFlight >= s.cfg.MaxConcurrentBatches {
		s.logger.Debug("batch extraction deferred", "in_flight", s.inFlight, "queued", len(s.queue))
		s.mu.Unlock()
		return
	}

	cfg := s.cfg
	n := min(cfg.MaxBatchSize, len(s.queue))
	batch := slices.Clone(s.queue[:n])
	s.queue = slices.Delete(s.queue, 0, n)
	for _, req := range batch {
		req.state = stateDispatched
		if req.deadline != nil {
			req.deadline.Stop()
		}
	}
	s.inFlight++
	s.batchSeq++
	s.batches.Add(1)
	s.armLocked()
	s.mu.Unlock()

	go s.runBatch(batch, cfg)
}

func (s *Scheduler) finishBatch() {
	s.mu.Lock()
	s.inFlight--
	s.armLocked()
	s.mu.Unlock()
	s.batches.Done()
}

// ClearQueue rejects every queued request with ErrQueueCleared and disarms
// the batch window. In-flight batches are unaffected. It returns the number
// of drained requests.
func (s *Scheduler) ClearQueue() int {
	s.mu.Lock()
	drained := s.drainLocked()
	s.disarmLocked()
	s.mu.Unlock()

	for _, req := range drained {
		s.reject(req, ErrQueueCleared)
	}
	if len(drained) > 0 {
		s.logger.Info("queue cleared", "drained", len(drained))
	}
	return len(drained)
}

func (s *Scheduler) drainLocked() []*request {
	drained := s.queue
	s.queue = nil
	for _, req := range drained {
		req.state = stateDone
		if req.deadline != nil {
			req.deadline.Stop()
		}
	}
	return drained
}

// UpdateConfig validates and applies cfg. Batches already extracted keep the
// configuration they were extracted with.
func (s *Scheduler) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.ParallelExecution && s.partitioner == nil {
		return fmt.Errorf("partitioner is required for parallel execution")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if cfg.PriorityWeighting {
		slices.SortStableFunc(s.queue, func(a, b *request) int {
			switch {
			case before(a, b):
				return -1
			case before(b, a):
				return 1
			default:
				return 0
			}
		})
	}
	s.logger.Info("scheduler config updated",
		"max_batch_size", cfg.MaxBatchSize,
		"batch_window", cfg.BatchWindow,
		"max_concurrent_batches", cfg.MaxConcurrentBatches,
		"parallel_execution", cfg.ParallelExecution,
		"priority_weighting", cfg.PriorityWeighting,
	)
	return nil
}

// Config returns the current configuration.
func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Stats returns a snapshot of queue and dispatch state.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := StateIdle
	switch {
	case s.closed:
		state = StateClosed
	case s.inFlight > 0:
		state = StateDispatching
	case s.windowArmed:
		state = StateWindowArmed
	}
	return Stats{
		State:     state,
		Queued:    len(s.queue),
		InFlight:  s.inFlight,
		Submitted: s.seq,
		Batches:   s.batchSeq,
		Config:    s.cfg,
	}
}

// QueueDepth returns the number of queued requests.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Accepting reports whether Submit accepts new requests.
func (s *Scheduler) Accepting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Subscribe registers fn for every published BatchMetrics, in publication
// order. fn runs on the batch goroutine and may call History, Subscribe or
// the returned function, which removes the subscription.
func (s *Scheduler) Subscribe(fn func(BatchMetrics)) func() {
	return s.ledger.subscribe(func(m BatchMetrics) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Warn("batch subscriber panicked", "batch_id", m.ID, "panic", r)
			}
		}()
		fn(m)
	})
}

// History returns retained batch metrics, oldest first.
func (s *Scheduler) History() []BatchMetrics {
	return s.ledger.history()
}

// Shutdown stops admission, rejects queued requests with ErrClosed and waits
// for in-flight batches. If ctx ends first, running handlers are cancelled
// and ctx's error is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	drained := s.drainLocked()
	s.disarmLocked()
	s.mu.Unlock()

	for _, req := range drained {
		s.reject(req, ErrClosed)
	}

	done := make(chan struct{})
	go func() {
		s.batches.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancelBase()
		return nil
	case <-ctx.Done():
		s.cancelBase()
		return ctx.Err()
	}
}

func (s *Scheduler) reject(req *request, err error) {
	req.handle.settle(Result{
		RequestID:     req.id,
		Tool:          req.inv.Tool,
		CorrelationID: req.inv.CorrelationID,
		Err:           err,
	})
}
