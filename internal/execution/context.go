// Package execution provides the per-invocation state handed to tool
// handlers.
package execution

import (
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codex-k8s/desktop-mcp-server/internal/cache"
)

// Tracker receives named sub-measurements taken during an invocation.
type Tracker interface {
	RecordTimer(name string, duration time.Duration)
}

// Context bundles the state of exactly one tool invocation. It is discarded
// after the handler returns.
type Context struct {
	sessionID string
	tool      string
	createdAt time.Time
	caches    *cache.Manager
	tracker   Tracker
	now       func() time.Time

	mu           sync.Mutex
	resources    map[string]any
	timers       map[string]time.Time
	measurements map[string]time.Duration
}

// SessionID identifies the invocation, or the caller's session when one was
// threaded through.
func (c *Context) SessionID() string { return c.sessionID }

// Tool is the name of the tool being invoked.
func (c *Context) Tool() string { return c.tool }

// CreatedAt is when the context was created.
func (c *Context) CreatedAt() time.Time { return c.createdAt }

// Caches returns the cache layer.
func (c *Context) Caches() *cache.Manager { return c.caches }

// ShareResource stores a value for later steps of the same invocation.
func (c *Context) ShareResource(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources[key] = value
}

// SharedResource returns a value stored with ShareResource.
func (c *Context) SharedResource(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.resources[key]
	return value, ok
}

// Resources returns a copy of all shared resources.
func (c *Context) Resources() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.resources)
}

// StartTimer starts (or restarts) a named measurement.
func (c *Context) StartTimer(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers[name] = c.now()
}

// EndTimer stops a named measurement and reports it to the tracker. It
// returns false when the timer was never started.
func (c *Context) EndTimer(name string) (time.Duration, bool) {
	c.mu.Lock()
	started, ok := c.timers[name]
	if !ok {
		c.mu.Unlock()
		return 0, false
	}
	elapsed := c.now().Sub(started)
	delete(c.timers, name)
	c.measurements[name] = elapsed
	c.mu.Unlock()

	if c.tracker != nil {
		c.tracker.RecordTimer(c.tool+"/"+name, elapsed)
	}
	return elapsed, true
}

// Measurements returns the completed measurements.
func (c *Context) Measurements() map[string]time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.measurements)
}

// Cleanup drops shared resources and timers. It is called after every
// invocation regardless of outcome.
func (c *Context) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.resources)
	clear(c.timers)
	clear(c.measurements)
}

// Factory creates execution contexts.
type Factory struct {
	caches  *cache.Manager
	tracker Tracker
	now     func() time.Time
	newID   func() string
}

// Option configures a Factory.
type Option func(*Factory)

// WithClock overrides the clock used for creation times and timers.
func WithClock(now func() time.Time) Option {
	return func(f *Factory) {
		if now != nil {
			f.now = now
		}
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(fn func() string) Option {
	return func(f *Factory) {
		if fn != nil {
			f.newID = fn
		}
	}
}

// NewFactory returns a factory sharing the given cache layer and tracker
// with every context it creates.
func NewFactory(caches *cache.Manager, tracker Tracker, opts ...Option) *Factory {
	f := &Factory{
		caches:  caches,
		tracker: tracker,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// New creates a context with a fresh session id.
func (f *Factory) New(tool string) *Context {
	return f.NewWithSession(tool, f.newID())
}

// NewWithSession creates a context bound to an existing session id.
func (f *Factory) NewWithSession(tool, sessionID string) *Context {
	if sessionID == "" {
		sessionID = f.newID()
	}
	return &Context{
		sessionID:    sessionID,
		tool:         tool,
		createdAt:    f.now(),
		caches:       f.caches,
		tracker:      f.tracker,
		now:          f.now,
		resources:    make(map[string]any),
		timers:       make(map[string]time.Time),
		measurements: make(map[string]time.Duration),
	}
}
