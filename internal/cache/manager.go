package cache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Store is the type-erased view of a Cache held by a Manager.
type Store interface {
	Stats() Stats
	Clear()
	Sweep() int
	Close()
}

// Manager owns the named cache instances of one server.
type Manager struct {
	mu     sync.RWMutex
	stores map[string]Store
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{stores: make(map[string]Store)}
}

// Register adds a named cache instance.
func (m *Manager) Register(name string, store Store) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("cache name is required")
	}
	if store == nil {
		return fmt.Errorf("cache %s: store is nil", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.stores[name]; exists {
		return fmt.Errorf("duplicate cache name: %s", name)
	}
	m.stores[name] = store
	return nil
}

// Store returns the named instance.
func (m *Manager) Store(name string) (Store, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	store, ok := m.stores[name]
	return store, ok
}

// Lookup returns the named instance when it stores values of type V.
func Lookup[V any](m *Manager, name string) (*Cache[V], bool) {
	store, ok := m.Store(name)
	if !ok {
		return nil, false
	}
	typed, ok := store.(*Cache[V])
	return typed, ok
}

// Names returns the registered cache names in sorted order.
func (m *Manager) Names() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear empties one named instance.
func (m *Manager) Clear(name string) error {
	store, ok := m.Store(name)
	if !ok {
		return fmt.Errorf("unknown cache: %s", name)
	}
	store.Clear()
	return nil
}

// ClearAll empties every registered instance.
func (m *Manager) ClearAll() {
	if m == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, store := range m.stores {
		store.Clear()
	}
}

// Stats returns per-instance statistics keyed by cache name.
func (m *Manager) Stats() map[string]Stats {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.stores))
	for name, store := range m.stores {
		out[name] = store.Stats()
	}
	return out
}

// Close stops background sweeps of all instances.
func (m *Manager) Close() {
	if m == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, store := range m.stores {
		store.Close()
	}
}
