// Package permission decides whether a tool invocation may execute.
package permission

import (
	"context"
	"errors"
	"time"
)

// Request is the input evaluated by a checker.
type Request struct {
	// ToolName is the tool being checked.
	ToolName string
	// Arguments are tool arguments.
	Arguments map[string]any
	// CorrelationID links related checks.
	CorrelationID string
}

// Decision is a checker verdict.
type Decision struct {
	// Allowed indicates the check result.
	Allowed bool
	// Reason explains the decision.
	Reason string
	// Source identifies the checker.
	Source string
}

// Checker decides whether an invocation is allowed.
type Checker interface {
	// Name returns the checker identifier.
	Name() string
	// Check returns a decision for the given request.
	Check(ctx context.Context, req Request) (Decision, error)
}

// Chain runs checkers sequentially until one denies.
type Chain struct {
	// Checkers is the ordered list to execute.
	Checkers []Checker
}

// Name identifies the chain.
func (c Chain) Name() string { return "chain" }

// Check executes all checkers in order.
func (c Chain) Check(ctx context.Context, req Request) (Decision, error) {
	for _, item := range c.Checkers {
		decision, err := item.Check(ctx, req)
		if err != nil {
			return Decision{Allowed: false, Reason: err.Error(), Source: item.Name()}, err
		}
		if !decision.Allowed {
			if decision.Source == "" {
				decision.Source = item.Name()
			}
			return decision, nil
		}
	}
	return Decision{Allowed: true, Reason: "allowed"}, nil
}

// Timeout wraps a checker with a context deadline.
type Timeout struct {
	// Inner is the wrapped checker.
	Inner Checker
	// Timeout is the maximum duration for the check.
	Timeout time.Duration
}

// Name returns the inner checker name.
func (t Timeout) Name() string {
	if t.Inner != nil {
		return t.Inner.Name()
	}
	return "timeout"
}

// Check executes the inner checker with timeout. A timed out check denies.
func (t Timeout) Check(ctx context.Context, req Request) (Decision, error) {
	if t.Inner == nil || t.Timeout <= 0 {
		return Decision{Allowed: false, Reason: "invalid timeout checker", Source: t.Name()}, nil
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()
	decision, err := t.Inner.Check(ctxTimeout, req)
	if errors.Is(ctxTimeout.Err(), context.DeadlineExceeded) {
		return Decision{Allowed: false, Reason: "permission check timeout", Source: t.Name()}, nil
	}
	return decision, err
}

// WrapTimeout wraps item unless timeout is zero.
func WrapTimeout(item Checker, timeout time.Duration) Checker {
	if timeout <= 0 {
		return item
	}
	return Timeout{Inner: item, Timeout: timeout}
}

// DeniedError reports a negative decision.
type DeniedError struct {
	Decision Decision
}

func (e *DeniedError) Error() string {
	if e.Decision.Source != "" {
		return e.Decision.Source + ": " + e.Decision.Reason
	}
	return e.Decision.Reason
}

// Enforce runs checker and converts a denial into a *DeniedError.
func Enforce(ctx context.Context, checker Checker, req Request) error {
	decision, err := checker.Check(ctx, req)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		if decision.Source == "" {
			decision.Source = checker.Name()
		}
		return &DeniedError{Decision: decision}
	}
	return nil
}
