// Package health serves liveness and readiness probes.
package health

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// Probe reports whether a dependency can serve traffic.
type Probe func() error

// Handler answers /healthz and /readyz.
type Handler struct {
	ready atomic.Bool

	mu     sync.RWMutex
	probes map[string]Probe
}

// New returns a health handler instance.
func New() *Handler {
	return &Handler{probes: make(map[string]Probe)}
}

// AddProbe registers a readiness probe under name.
func (h *Handler) AddProbe(name string, probe Probe) {
	if probe == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
}

// SetReady marks the handler as ready.
func (h *Handler) SetReady() {
	h.ready.Store(true)
}

// SetNotReady marks the handler as not ready.
func (h *Handler) SetNotReady() {
	h.ready.Store(false)
}

// Healthz handles liveness probes.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readyz handles readiness probes. Every registered probe must pass.
func (h *Handler) Readyz(w http.ResponseWriter, _ *http.Request) {
	if !h.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	if failures := h.failures(); len(failures) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready: " + strings.Join(failures, "; ")))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (h *Handler) failures() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for name, probe := range h.probes {
		if err := probe(); err != nil {
			out = append(out, fmt.Sprintf("%s: %v", name, err))
		}
	}
	slices.Sort(out)
	return out
}
