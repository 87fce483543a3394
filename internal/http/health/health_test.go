package health

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestReadyz(t *testing.T) {
	h := New()
	accepting := true
	h.AddProbe("scheduler", func() error {
		if !accepting {
			return errors.New("closed")
		}
		return nil
	})

	tests := []struct {
		name      string
		ready     bool
		accepting bool
		status    int
		body      string
	}{
		{"not started", false, true, http.StatusServiceUnavailable, "not ready"},
		{"ready", true, true, http.StatusOK, "ready"},
		{"probe failing", true, false, http.StatusServiceUnavailable, "scheduler: closed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.ready {
				h.SetReady()
			} else {
				h.SetNotReady()
			}
			accepting = tt.accepting
			rec := httptest.NewRecorder()
			h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tt.status || !strings.Contains(rec.Body.String(), tt.body) {
				t.Fatalf("got %d %q", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	New().Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}
