package permission

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codex-k8s/desktop-mcp-server/internal/cache"
)

type staticChecker struct {
	name     string
	decision Decision
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (s *staticChecker) Name() string { return s.name }

func (s *staticChecker) Check(ctx context.Context, _ Request) (Decision, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		}
	}
	return s.decision, s.err
}

func TestChainFirstDenialWins(t *testing.T) {
	allow := &staticChecker{name: "allow", decision: Decision{Allowed: true}}
	deny := &staticChecker{name: "deny", decision: Decision{Reason: "display locked"}}
	never := &staticChecker{name: "never", decision: Decision{Allowed: true}}

	decision, err := Chain{Checkers: []Checker{allow, deny, never}}.Check(context.Background(), Request{ToolName: "mouse_click"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if decision.Allowed || decision.Source != "deny" || decision.Reason != "display locked" {
		t.Fatalf("decision = %+v", decision)
	}
	if never.calls.Load() != 0 {
		t.Error("checker after denial was called")
	}
}

func TestChainPropagatesErrors(t *testing.T) {
	failing := &staticChecker{name: "broken", err: errors.New("backend down")}
	decision, err := Chain{Checkers: []Checker{failing}}.Check(context.Background(), Request{})
	if err == nil || decision.Allowed || decision.Source != "broken" {
		t.Fatalf("decision = %+v, err = %v", decision, err)
	}
}

func TestEmptyChainAllows(t *testing.T) {
	decision, err := Chain{}.Check(context.Background(), Request{})
	if err != nil || !decision.Allowed {
		t.Fatalf("decision = %+v, err = %v", decision, err)
	}
}

func TestTimeoutDenies(t *testing.T) {
	slow := &staticChecker{name: "slow", decision: Decision{Allowed: true}, delay: time.Second}
	decision, err := WrapTimeout(slow, 10*time.Millisecond).Check(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if decision.Allowed || decision.Reason != "permission check timeout" {
		t.Fatalf("decision = %+v", decision)
	}
	if _, ok := WrapTimeout(slow, 0).(*staticChecker); !ok {
		t.Error("zero timeout should not wrap")
	}
}

func ptr[T any](v T) *T { return &v }

func TestLimitsFieldPolicies(t *testing.T) {
	l, err := NewLimits("limits", 0, 0, map[string]FieldPolicy{
		"x":    {Min: ptr(0.0), Max: ptr(3840.0)},
		"text": {MaxLength: ptr(5)},
		"key":  {Regex: `^[a-z]+$`},
	})
	if err != nil {
		t.Fatalf("NewLimits: %v", err)
	}
	tests := []struct {
		name  string
		args  map[string]any
		allow bool
	}{
		{"valid", map[string]any{"x": 100.0, "text": "hi", "key": "enter"}, true},
		{"below min", map[string]any{"x": -1.0}, false},
		{"above max int", map[string]any{"x": 5000}, false},
		{"too long", map[string]any{"text": "hello world"}, false},
		{"regex", map[string]any{"key": "Enter!"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := l.Check(context.Background(), Request{ToolName: "keyboard_type", Arguments: tt.args})
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if decision.Allowed != tt.allow {
				t.Fatalf("decision = %+v, want allowed=%v", decision, tt.allow)
			}
		})
	}
}

func TestLimitsMaxTotalAndRate(t *testing.T) {
	l, err := NewLimits("", 2, 0, nil)
	if err != nil {
		t.Fatalf("NewLimits: %v", err)
	}
	for i := range 2 {
		if d, _ := l.Check(context.Background(), Request{ToolName: "mouse_click"}); !d.Allowed {
			t.Fatalf("call %d denied: %+v", i, d)
		}
	}
	if d, _ := l.Check(context.Background(), Request{ToolName: "mouse_click"}); d.Allowed {
		t.Fatal("third call allowed past max total")
	}
	if d, _ := l.Check(context.Background(), Request{ToolName: "mouse_move"}); !d.Allowed {
		t.Fatal("limits leaked across tools")
	}

	rated, err := NewLimits("rate", 0, 1, nil)
	if err != nil {
		t.Fatalf("NewLimits: %v", err)
	}
	if d, _ := rated.Check(context.Background(), Request{ToolName: "x"}); !d.Allowed {
		t.Fatal("first call denied")
	}
	if d, _ := rated.Check(context.Background(), Request{ToolName: "x"}); d.Allowed || d.Reason != "rate limit exceeded" {
		t.Fatalf("decision = %+v, want rate limited", d)
	}
}

func TestLimitsRejectsBadRegex(t *testing.T) {
	if _, err := NewLimits("x", 0, 0, map[string]FieldPolicy{"f": {Regex: "("}}); err == nil {
		t.Fatal("invalid regex accepted")
	}
}

func TestShellChecker(t *testing.T) {
	allow := Shell{Command: `echo ok`}
	d, err := allow.Check(context.Background(), Request{ToolName: "screenshot"})
	if err != nil || !d.Allowed || d.Reason != "ok" {
		t.Fatalf("decision = %+v, err = %v", d, err)
	}

	deny := Shell{Label: "display", Command: `exit 2`}
	d, _ = deny.Check(context.Background(), Request{})
	if d.Allowed || d.Source != "display" || d.Reason != "denied" {
		t.Fatalf("decision = %+v", d)
	}

	tolerated := Shell{Command: `exit 2`, AllowExitCodes: []int{2}}
	if d, _ := tolerated.Check(context.Background(), Request{}); !d.Allowed {
		t.Fatalf("allowed exit code denied: %+v", d)
	}
}

func TestCachedMemoisesDecisions(t *testing.T) {
	inner := &staticChecker{name: "display", decision: Decision{Allowed: true, Reason: "ok"}}
	store := cache.New[Decision](cache.Options{TTL: time.Minute})
	t.Cleanup(store.Close)
	c := Cached{Inner: inner, Store: store}

	req := Request{ToolName: "screenshot", Arguments: map[string]any{"display": 1}}
	for range 3 {
		if d, err := c.Check(context.Background(), req); err != nil || !d.Allowed {
			t.Fatalf("decision = %+v, err = %v", d, err)
		}
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("inner called %d times, want 1", inner.calls.Load())
	}
	if st := store.Stats(); st.Hits != 2 || st.Misses != 1 {
		t.Errorf("stats = %+v", st)
	}

	other := Request{ToolName: "screenshot", Arguments: map[string]any{"display": 2}}
	if _, err := c.Check(context.Background(), other); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if inner.calls.Load() != 2 {
		t.Errorf("different arguments reused a cached decision")
	}
}

func TestCachedSkipsErrors(t *testing.T) {
	inner := &staticChecker{name: "x", err: errors.New("boom")}
	store := cache.New[Decision](cache.Options{TTL: time.Minute})
	t.Cleanup(store.Close)
	c := Cached{Inner: inner, Store: store}

	for range 2 {
		if _, err := c.Check(context.Background(), Request{ToolName: "t"}); err == nil {
			t.Fatal("expected error")
		}
	}
	if inner.calls.Load() != 2 || store.Len() != 0 {
		t.Errorf("error decision cached: calls=%d len=%d", inner.calls.Load(), store.Len())
	}
}

func TestEnforce(t *testing.T) {
	deny := &staticChecker{name: "policy", decision: Decision{Reason: "blocked"}}
	err := Enforce(context.Background(), deny, Request{})
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.Error() != "policy: blocked" {
		t.Fatalf("err = %v", err)
	}
	allow := &staticChecker{name: "ok", decision: Decision{Allowed: true}}
	if err := Enforce(context.Background(), allow, Request{}); err != nil {
		t.Fatalf("Enforce: %v", err)
	}
}
