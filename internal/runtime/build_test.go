package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codex-k8s/desktop-mcp-server/internal/dsl"
)

func TestBuildServesToolsOverMCP(t *testing.T) {
	tool := shellTool("screen_info", `echo '{"width":{{ arg "scale" }}}'`)
	tool.Executor.Output = "json"
	tool.Priority = "high"
	tool.InputSchema = map[string]any{
		"type":       "object",
		"properties": map[string]any{"scale": map[string]any{"type": "integer"}},
	}
	e := newEnv(t, []dsl.ToolConfig{tool})

	cfg := &dsl.Config{
		Server: dsl.ServerConfig{Name: "desktop", Version: "test"},
		Tools:  []dsl.ToolConfig{tool},
		Resources: []dsl.ResourceConfig{
			{Name: "guide", URI: "doc://guide", MIMEType: "text/plain", Text: "read me"},
		},
	}
	server, err := Builder{Registry: e.reg, Scheduler: e.sched}.Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })

	tools, err := cs.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := map[string]bool{}
	for _, item := range tools.Tools {
		names[item.Name] = true
	}
	for _, want := range []string{"screen_info", "wait", "scheduler_stats"} {
		if !names[want] {
			t.Errorf("tool %s not listed", want)
		}
	}

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "screen_info",
		Arguments: map[string]any{"scale": 2, "correlation_id": "corr-9"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	out, ok := res.StructuredContent.(map[string]any)
	if !ok {
		t.Fatalf("structured content = %#v", res.StructuredContent)
	}
	if out["status"] != "success" || out["correlation_id"] != "corr-9" {
		t.Fatalf("response = %v", out)
	}
	result, _ := out["result"].(map[string]any)
	if result["width"] != float64(2) {
		t.Errorf("result = %v", out["result"])
	}

	read, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: "doc://guide"})
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if len(read.Contents) != 1 || read.Contents[0].Text != "read me" {
		t.Errorf("resource = %+v", read.Contents)
	}
}
