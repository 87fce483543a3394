package permission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/codex-k8s/desktop-mcp-server/internal/cache"
)

// Cached memoises decisions of an inner checker. Errors are never cached.
type Cached struct {
	// Inner is the wrapped checker.
	Inner Checker
	// Store holds decisions keyed by tool and arguments.
	Store *cache.Cache[Decision]
}

// Name returns the inner checker name.
func (c Cached) Name() string {
	if c.Inner != nil {
		return c.Inner.Name()
	}
	return "cached"
}

// Check returns a cached decision or evaluates the inner checker.
func (c Cached) Check(ctx context.Context, req Request) (Decision, error) {
	if c.Store == nil {
		return c.Inner.Check(ctx, req)
	}
	key, err := decisionKey(c.Inner.Name(), req)
	if err != nil {
		return c.Inner.Check(ctx, req)
	}
	if decision, ok := c.Store.Get(key); ok {
		return decision, nil
	}
	decision, err := c.Inner.Check(ctx, req)
	if err != nil {
		return decision, err
	}
	c.Store.Set(key, decision)
	return decision, nil
}

func decisionKey(checker string, req Request) (string, error) {
	data, err := json.Marshal(req.Arguments)
	if err != nil {
		return "", fmt.Errorf("encode arguments: %w", err)
	}
	sum := sha256.Sum256(data)
	return checker + ":" + req.ToolName + ":" + hex.EncodeToString(sum[:]), nil
}
