package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Priority orders queued requests when priority weighting is enabled.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses a priority label. Empty means normal.
func ParsePriority(value string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", value)
	}
}

// Config is the live-updatable scheduling configuration.
type Config struct {
	// MaxBatchSize bounds the number of requests extracted per batch.
	MaxBatchSize int `json:"max_batch_size"`
	// BatchWindow is the debounce delay between enqueue and extraction.
	BatchWindow time.Duration `json:"batch_window"`
	// MaxConcurrentBatches bounds batches in flight.
	MaxConcurrentBatches int `json:"max_concurrent_batches"`
	// ParallelExecution enables classifier-driven concurrency inside a batch.
	ParallelExecution bool `json:"parallel_execution"`
	// PriorityWeighting orders the queue by priority, otherwise FIFO.
	PriorityWeighting bool `json:"priority_weighting"`
}

// DefaultConfig returns the configuration used when none is provided.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:         10,
		BatchWindow:          50 * time.Millisecond,
		MaxConcurrentBatches: 3,
		ParallelExecution:    true,
		PriorityWeighting:    true,
	}
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	var errs []error
	if c.MaxBatchSize < 1 {
		errs = append(errs, fmt.Errorf("max batch size must be >= 1, got %d", c.MaxBatchSize))
	}
	if c.BatchWindow < 0 {
		errs = append(errs, fmt.Errorf("batch window must be >= 0, got %s", c.BatchWindow))
	}
	if c.MaxConcurrentBatches < 1 {
		errs = append(errs, fmt.Errorf("max concurrent batches must be >= 1, got %d", c.MaxConcurrentBatches))
	}
	return errors.Join(errs...)
}
