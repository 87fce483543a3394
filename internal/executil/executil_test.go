package executil

import (
	"context"
	"strings"
	"testing"
)

func TestRenderTemplate(t *testing.T) {
	data := TemplateData{
		Args:          map[string]any{"x": 10, "window": "Terminal"},
		ToolName:      "mouse_click",
		CorrelationID: "corr-1",
		Shared:        map[string]any{"previous": map[string]any{"path": "/tmp/a.png"}},
	}
	tests := []struct {
		tmpl string
		want string
	}{
		{`{{ arg "x" }}`, "10"},
		{`{{ .ToolName }}/{{ .CorrelationID }}`, "mouse_click/corr-1"},
		{`{{ (shared "previous").path }}`, "/tmp/a.png"},
		{`{{ json .Args }}`, `{"window":"Terminal","x":10}`},
		{`{{ arg "missing" }}`, "<no value>"},
	}
	for _, tt := range tests {
		got, err := RenderTemplate(tt.tmpl, data)
		if err != nil {
			t.Fatalf("RenderTemplate(%q): %v", tt.tmpl, err)
		}
		if got != tt.want {
			t.Errorf("RenderTemplate(%q) = %q, want %q", tt.tmpl, got, tt.want)
		}
	}
}

func TestRenderTemplateParseError(t *testing.T) {
	if _, err := RenderTemplate(`{{ arg "x" `, TemplateData{}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRunCommand(t *testing.T) {
	out, code, err := RunCommand(context.Background(), `echo "$DESKTOP_MCP_TOOL {{ arg "name" }}"`, nil, nil, TemplateData{
		ToolName: "screenshot",
		Args:     map[string]any{"name": "display-1"},
	})
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if code != 0 || strings.TrimSpace(out) != "screenshot display-1" {
		t.Fatalf("output = %q, code = %d", out, code)
	}
}

func TestRunCommandSplitExitCode(t *testing.T) {
	stdout, stderr, code, err := RunCommandSplit(context.Background(), `echo out; echo err >&2; exit 3`, nil, nil, TemplateData{})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if code != 3 || strings.TrimSpace(stdout) != "out" || strings.TrimSpace(stderr) != "err" {
		t.Fatalf("stdout=%q stderr=%q code=%d", stdout, stderr, code)
	}
}
