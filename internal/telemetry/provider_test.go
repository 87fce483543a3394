package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestProviderServesMetrics(t *testing.T) {
	p, err := InitProvider(context.Background(), ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	ins, err := NewInstruments(p.MeterProvider)
	if err != nil {
		t.Fatalf("NewInstruments: %v", err)
	}
	sink := NewSink(Options{Instruments: ins})
	sink.RecordToolExecution("screenshot", 30*time.Millisecond, true)

	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "desktop_mcp_tool_calls") {
		t.Fatalf("metrics output missing tool counter:\n%s", body)
	}
}
