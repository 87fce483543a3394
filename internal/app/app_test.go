package app

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/codex-k8s/desktop-mcp-server/internal/dsl"
	"github.com/codex-k8s/desktop-mcp-server/internal/http/health"
)

func TestAppServesAndShutsDown(t *testing.T) {
	var accepting = true
	shutdownCalled := make(chan struct{})
	a, err := New(context.Background(), Options{
		Server: dsl.ServerConfig{HTTP: dsl.HTTPConfig{Path: "/mcp"}},
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("mcp"))
		}),
		Routes: map[string]http.Handler{"/metrics": http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("metrics"))
		})},
		Probes: map[string]health.Probe{"scheduler": func() error {
			if !accepting {
				return errors.New("closed")
			}
			return nil
		}},
		OnShutdown: func(context.Context) error {
			close(shutdownCalled)
			return nil
		},
		ShutdownTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	for _, tc := range []struct{ path, want string }{
		{"/mcp", "mcp"},
		{"/metrics", "metrics"},
		{"/healthz", "ok"},
		{"/readyz", "ready"},
	} {
		body := get(t, base+tc.path)
		if body != tc.want {
			t.Errorf("%s = %q, want %q", tc.path, body, tc.want)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	select {
	case <-shutdownCalled:
	default:
		t.Fatal("OnShutdown not called")
	}
}

func TestNewRequiresHandler(t *testing.T) {
	if _, err := New(context.Background(), Options{}); err == nil {
		t.Fatal("nil handler accepted")
	}
}

func get(t *testing.T, url string) string {
	t.Helper()
	var lastErr error
	for range 50 {
		resp, err := http.Get(url)
		if err != nil {
			lastErr = err
			time.Sleep(20 * time.Millisecond)
			continue
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return string(data)
	}
	t.Fatalf("GET %s: %v", url, lastErr)
	return ""
}
