package permission

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// FieldPolicy describes validation rules for a single argument.
type FieldPolicy struct {
	// Regex validates string value format.
	Regex string
	// Min sets numeric minimum.
	Min *float64
	// Max sets numeric maximum.
	Max *float64
	// MinLength sets string minimum length.
	MinLength *int
	// MaxLength sets string maximum length.
	MaxLength *int
}

type limiterState struct {
	count   int
	limiter *rate.Limiter
}

// Limits bounds tool usage by total count, per-minute rate and argument
// policies.
type Limits struct {
	label         string
	maxTotal      int
	ratePerMinute int
	policies      map[string]FieldPolicy
	compiled      map[string]*regexp.Regexp

	mu     sync.Mutex
	byTool map[string]*limiterState
}

// NewLimits creates a limits checker and compiles regex rules.
func NewLimits(name string, maxTotal, ratePerMinute int, policies map[string]FieldPolicy) (*Limits, error) {
	compiled := make(map[string]*regexp.Regexp, len(policies))
	for field, policy := range policies {
		if policy.Regex == "" {
			continue
		}
		re, err := regexp.Compile(policy.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid regex for field %s: %w", field, err)
		}
		compiled[field] = re
	}
	return &Limits{
		label:         name,
		maxTotal:      maxTotal,
		ratePerMinute: ratePerMinute,
		policies:      policies,
		compiled:      compiled,
		byTool:        make(map[string]*limiterState),
	}, nil
}

// Name returns the checker name for audit and logging.
func (l *Limits) Name() string {
	if l.label != "" {
		return l.label
	}
	return "limits"
}

// Check validates fields and rate limits the tool usage.
func (l *Limits) Check(_ context.Context, req Request) (Decision, error) {
	if reason := l.checkFields(req.Arguments); reason != "" {
		return Decision{Allowed: false, Reason: reason, Source: l.Name()}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.byTool[req.ToolName]
	if state == nil {
		state = &limiterState{}
		if l.ratePerMinute > 0 {
			state.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.ratePerMinute)), l.ratePerMinute)
		}
		l.byTool[req.ToolName] = state
	}

	if l.maxTotal > 0 && state.count >= l.maxTotal {
		return Decision{Allowed: false, Reason: "maximum number of calls exceeded", Source: l.Name()}, nil
	}
	if state.limiter != nil && !state.limiter.Allow() {
		return Decision{Allowed: false, Reason: "rate limit exceeded", Source: l.Name()}, nil
	}

	state.count++
	return Decision{Allowed: true, Reason: "allowed", Source: l.Name()}, nil
}

func (l *Limits) checkFields(args map[string]any) string {
	for field, policy := range l.policies {
		value, ok := args[field]
		if !ok {
			continue
		}

		switch v := value.(type) {
		case string:
			if policy.MinLength != nil && len(v) < *policy.MinLength {
				return "field " + field + " is too short"
			}
			if policy.MaxLength != nil && len(v) > *policy.MaxLength {
				return "field " + field + " is too long"
			}
			if re := l.compiled[field]; re != nil && !re.MatchString(v) {
				return "field " + field + " does not match required format"
			}
		case float64:
			if reason := checkRange(field, v, policy); reason != "" {
				return reason
			}
		case int:
			if reason := checkRange(field, float64(v), policy); reason != "" {
				return reason
			}
		case int64:
			if reason := checkRange(field, float64(v), policy); reason != "" {
				return reason
			}
		}
	}
	return ""
}

func checkRange(field string, v float64, policy FieldPolicy) string {
	if policy.Min != nil && v < *policy.Min {
		return "field " + field + " is below minimum value"
	}
	if policy.Max != nil && v > *policy.Max {
		return "field " + field + " is above maximum value"
	}
	return ""
}
