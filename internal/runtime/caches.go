package runtime

import (
	"fmt"

	"github.com/codex-k8s/desktop-mcp-server/internal/cache"
	"github.com/codex-k8s/desktop-mcp-server/internal/constants"
	"github.com/codex-k8s/desktop-mcp-server/internal/dsl"
	"github.com/codex-k8s/desktop-mcp-server/internal/permission"
	"github.com/codex-k8s/desktop-mcp-server/internal/timeutil"
)

// NewCaches creates the named cache instances declared in the config. The
// permissions cache stores checker decisions; every other cache stores tool
// results.
func NewCaches(configs []dsl.CacheConfig) (*cache.Manager, error) {
	manager := cache.NewManager()
	for _, cfg := range configs {
		ttl, err := timeutil.ParseOptional(cfg.TTL)
		if err != nil {
			manager.Close()
			return nil, fmt.Errorf("cache %s: ttl: %w", cfg.Name, err)
		}
		sweep, err := timeutil.ParseOptional(cfg.SweepInterval)
		if err != nil {
			manager.Close()
			return nil, fmt.Errorf("cache %s: sweep_interval: %w", cfg.Name, err)
		}
		opts := cache.Options{TTL: ttl, MaxEntries: cfg.MaxEntries, SweepInterval: sweep}

		var store cache.Store
		if cfg.Name == constants.CachePermissions {
			store = cache.New[permission.Decision](opts)
		} else {
			store = cache.New[any](opts)
		}
		if err := manager.Register(cfg.Name, store); err != nil {
			store.Close()
			manager.Close()
			return nil, err
		}
	}
	return manager, nil
}
