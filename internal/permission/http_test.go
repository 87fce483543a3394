package permission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPDecisions(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		allowed bool
		reason  string
		wantErr bool
	}{
		{name: "allow", status: http.StatusOK, body: `{"decision":"allow"}`, allowed: true, reason: "allowed"},
		{name: "deny", status: http.StatusOK, body: `{"decision":"deny","reason":"screen locked"}`, reason: "screen locked"},
		{name: "bad status", status: http.StatusForbidden, body: "nope", reason: "permission service status 403: nope"},
		{name: "unknown decision", status: http.StatusOK, body: `{"decision":"maybe"}`, wantErr: true},
		{name: "invalid json", status: http.StatusOK, body: `{`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			decision, err := HTTP{Label: "policy", URL: srv.URL}.Check(context.Background(), Request{ToolName: "mouse_click"})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", decision)
				}
				return
			}
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if decision.Allowed != tt.allowed || decision.Reason != tt.reason || decision.Source != "policy" {
				t.Fatalf("decision = %+v", decision)
			}
		})
	}
}

func TestHTTPRedactsArguments(t *testing.T) {
	var got httpRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"decision":"allow"}`))
	}))
	t.Cleanup(srv.Close)

	_, err := HTTP{URL: srv.URL}.Check(context.Background(), Request{
		ToolName:      "keyboard_type",
		CorrelationID: "c-1",
		Arguments:     map[string]any{"password": "hunter2", "x": 1},
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got.Tool != "keyboard_type" || got.CorrelationID != "c-1" {
		t.Errorf("request = %+v", got)
	}
	if v, _ := got.Arguments["password"].(string); strings.Contains(v, "hunter2") {
		t.Errorf("password leaked: %v", got.Arguments)
	}
}

func TestHTTPEmptyURLDenies(t *testing.T) {
	decision, err := HTTP{}.Check(context.Background(), Request{})
	if err != nil || decision.Allowed {
		t.Fatalf("decision = %+v, err = %v", decision, err)
	}
}
