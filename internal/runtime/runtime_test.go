package runtime

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/codex-k8s/desktop-mcp-server/internal/cache"
	"github.com/codex-k8s/desktop-mcp-server/internal/classifier"
	"github.com/codex-k8s/desktop-mcp-server/internal/dsl"
	"github.com/codex-k8s/desktop-mcp-server/internal/execution"
	"github.com/codex-k8s/desktop-mcp-server/internal/protocol"
	"github.com/codex-k8s/desktop-mcp-server/internal/registry"
	"github.com/codex-k8s/desktop-mcp-server/internal/scheduler"
	"github.com/codex-k8s/desktop-mcp-server/internal/telemetry"
)

type env struct {
	reg    *registry.Registry
	cls    *classifier.Classifier
	caches *cache.Manager
	sched  *scheduler.Scheduler
	sink   *telemetry.Sink
}

func newEnv(t *testing.T, tools []dsl.ToolConfig) *env {
	t.Helper()
	caches, err := NewCaches(dsl.DefaultCaches())
	if err != nil {
		t.Fatalf("NewCaches: %v", err)
	}
	t.Cleanup(caches.Close)

	e := &env{
		reg:    registry.New(),
		cls:    classifier.New(nil),
		caches: caches,
		sink:   telemetry.NewSink(telemetry.Options{}),
	}
	if err := (Tools{Registry: e.reg, Classifier: e.cls, Caches: caches}).Register(tools); err != nil {
		t.Fatalf("Register: %v", err)
	}
	sched, err := scheduler.New(scheduler.Options{
		Config: scheduler.Config{
			MaxBatchSize:         10,
			BatchWindow:          time.Millisecond,
			MaxConcurrentBatches: 2,
			ParallelExecution:    true,
			PriorityWeighting:    true,
		},
		Handlers:    e.reg,
		Partitioner: e.cls,
		Contexts:    execution.NewFactory(caches, e.sink),
		Telemetry:   e.sink,
	})
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
	})
	e.sched = sched
	if err := (Builtins{Caches: caches, Scheduler: sched, Telemetry: e.sink, Classifier: e.cls}).Register(e.reg); err != nil {
		t.Fatalf("Builtins.Register: %v", err)
	}
	if err := CheckDependencies(e.reg); err != nil {
		t.Fatalf("CheckDependencies: %v", err)
	}
	ResolvePipelineGroups(e.reg, e.cls)
	return e
}

func (e *env) run(t *testing.T, tool string, args map[string]any) scheduler.Result {
	t.Helper()
	h, err := e.sched.Submit(scheduler.Invocation{Tool: tool, Arguments: args})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, _ := h.Wait(ctx)
	return res
}

func shellTool(name, command string) dsl.ToolConfig {
	return dsl.ToolConfig{
		Name:     name,
		Executor: dsl.ExecutorConfig{Type: "shell", Command: command},
	}
}

func TestShellToolResult(t *testing.T) {
	e := newEnv(t, []dsl.ToolConfig{shellTool("echo_tool", `echo "hi {{ arg "name" }}"`)})

	res := e.run(t, "echo_tool", map[string]any{"name": "bob"})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if out, cached := unwrapOutput(res.Output); out != "hi bob" || cached {
		t.Fatalf("output = %v cached = %v", out, cached)
	}
}

func TestGroupFromConfig(t *testing.T) {
	tool := shellTool("grab_frame", "echo ok")
	tool.Group = "capture"
	e := newEnv(t, []dsl.ToolConfig{tool, shellTool("unknown_thing", "echo ok")})

	if got := e.cls.Group("grab_frame"); got != classifier.GroupCapture {
		t.Errorf("grab_frame group = %s", got)
	}
	if got := e.cls.Group("unknown_thing"); got != classifier.DefaultGroup {
		t.Errorf("unknown_thing group = %s", got)
	}
	registered, _ := e.reg.Lookup("grab_frame")
	if registered.Group != classifier.GroupCapture {
		t.Errorf("registry group = %s", registered.Group)
	}
}

func TestResultCache(t *testing.T) {
	dir := t.TempDir()
	tool := shellTool("screen_info", `echo x >> `+dir+`/calls; wc -l < `+dir+`/calls`)
	tool.Cache = &dsl.ToolCacheConfig{Name: "results", KeyStrategy: "arguments_hash"}
	e := newEnv(t, []dsl.ToolConfig{tool})

	first := e.run(t, "screen_info", map[string]any{"display": 1})
	second := e.run(t, "screen_info", map[string]any{"display": 1})
	third := e.run(t, "screen_info", map[string]any{"display": 2})

	v1, c1 := unwrapOutput(first.Output)
	v2, c2 := unwrapOutput(second.Output)
	v3, c3 := unwrapOutput(third.Output)
	if c1 || !c2 || c3 {
		t.Fatalf("cached flags = %v %v %v", c1, c2, c3)
	}
	if v1 != v2 || strings.TrimSpace(v3.(string)) != "2" {
		t.Fatalf("values = %v %v %v", v1, v2, v3)
	}
	if stats := e.caches.Stats()["results"]; stats.Hits != 1 || stats.Size != 2 {
		t.Errorf("results stats = %+v", stats)
	}
}

func TestFailedResultsAreNotCached(t *testing.T) {
	tool := shellTool("flaky", "exit 1")
	tool.Cache = &dsl.ToolCacheConfig{Name: "results", KeyStrategy: "arguments_hash"}
	e := newEnv(t, []dsl.ToolConfig{tool})

	e.run(t, "flaky", nil)
	if stats := e.caches.Stats()["results"]; stats.Size != 0 {
		t.Fatalf("failure cached: %+v", stats)
	}
}

func TestPermissionDenied(t *testing.T) {
	tool := shellTool("keyboard_type", "echo typed")
	tool.Permissions = []dsl.PermissionConfig{{Type: "limits", Name: "budget", MaxTotal: 1}}
	e := newEnv(t, []dsl.ToolConfig{tool})

	if res := e.run(t, "keyboard_type", nil); !res.Success {
		t.Fatalf("first call failed: %v", res.Err)
	}
	res := e.run(t, "keyboard_type", nil)
	if res.Success || !errors.Is(res.Err, scheduler.ErrPermissionDenied) {
		t.Fatalf("second call = %+v", res)
	}
	if !strings.Contains(res.Err.Error(), "maximum number of calls exceeded") {
		t.Errorf("err = %v", res.Err)
	}
}

func TestCachedPermission(t *testing.T) {
	dir := t.TempDir()
	tool := shellTool("screenshot", "echo shot")
	tool.Permissions = []dsl.PermissionConfig{{
		Type:    "shell",
		Name:    "capture-allowed",
		Cache:   true,
		Command: `echo x >> ` + dir + `/checks`,
	}}
	e := newEnv(t, []dsl.ToolConfig{tool})

	e.run(t, "screenshot", nil)
	e.run(t, "screenshot", nil)
	if stats := e.caches.Stats()["permissions"]; stats.Hits != 1 || stats.Size != 1 {
		t.Fatalf("permissions stats = %+v", stats)
	}
}

func TestToolTimeoutMessage(t *testing.T) {
	tool := shellTool("slow", "sleep 5")
	tool.Timeout = "50ms"
	tool.TimeoutMessage = "desktop did not respond"
	e := newEnv(t, []dsl.ToolConfig{tool})

	res := e.run(t, "slow", nil)
	if res.Success || !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Err.Error(), "desktop did not respond") {
		t.Errorf("err = %v", res.Err)
	}
}

func TestPipelineSharesStepOutputs(t *testing.T) {
	capture := shellTool("capture", `echo '{"path":"/tmp/{{ arg "label" }}.png"}'`)
	capture.Executor.Output = "json"
	ocr := shellTool("ocr", `echo "text of {{ arg "image" }}"`)
	flow := dsl.ToolConfig{
		Name: "capture_and_read",
		Executor: dsl.ExecutorConfig{Type: "pipeline", Steps: []dsl.StepConfig{
			{Name: "shot", Tool: "capture", Arguments: map[string]any{"label": `{{ arg "label" }}`}},
			{Name: "text", Tool: "ocr", Arguments: map[string]any{"image": `{{ index (shared "steps.shot") "path" }}`}},
		}},
	}
	e := newEnv(t, []dsl.ToolConfig{capture, ocr, flow})

	res := e.run(t, "capture_and_read", map[string]any{"label": "front"})
	if !res.Success {
		t.Fatalf("pipeline failed: %v", res.Err)
	}
	out, _ := unwrapOutput(res.Output)
	steps, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("output = %#v", out)
	}
	if steps["text"] != "text of /tmp/front.png" {
		t.Errorf("text step = %v", steps["text"])
	}
}

func TestPipelineGroupFollowsSerializedSteps(t *testing.T) {
	click := shellTool("mouse_click", "echo click")
	click.Group = "input-automation"
	shot := shellTool("screenshot", "echo shot")
	shot.Group = "capture"
	pipelineTool := func(name string, steps ...string) dsl.ToolConfig {
		cfg := dsl.ToolConfig{Name: name, Group: "capture", Executor: dsl.ExecutorConfig{Type: "pipeline"}}
		for _, step := range steps {
			cfg.Executor.Steps = append(cfg.Executor.Steps, dsl.StepConfig{Name: step, Tool: step})
		}
		return cfg
	}
	e := newEnv(t, []dsl.ToolConfig{
		click, shot,
		pipelineTool("click_flow", "mouse_click"),
		pipelineTool("outer_flow", "screenshot", "click_flow"),
		pipelineTool("shot_flow", "screenshot"),
	})

	tests := []struct {
		tool string
		want classifier.Group
	}{
		{"click_flow", classifier.GroupInputAutomation},
		{"outer_flow", classifier.GroupInputAutomation},
		{"shot_flow", classifier.GroupCapture},
	}
	for _, tt := range tests {
		if got := e.cls.Group(tt.tool); got != tt.want {
			t.Errorf("%s classifier group = %s, want %s", tt.tool, got, tt.want)
		}
		if registered, _ := e.reg.Lookup(tt.tool); registered.Group != tt.want {
			t.Errorf("%s registry group = %s, want %s", tt.tool, registered.Group, tt.want)
		}
	}

	groups, err := e.cls.Partition([]string{"click_flow", "click_flow", "screenshot"})
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	for _, g := range groups {
		if slices.Contains(g, 0) && slices.Contains(g, 1) {
			t.Fatalf("input pipelines share a concurrent group: %v", groups)
		}
	}
}

func TestPipelineStepFailure(t *testing.T) {
	flow := dsl.ToolConfig{
		Name: "broken_flow",
		Executor: dsl.ExecutorConfig{Type: "pipeline", Steps: []dsl.StepConfig{
			{Name: "ok", Tool: "first"},
			{Name: "bad", Tool: "second"},
		}},
	}
	e := newEnv(t, []dsl.ToolConfig{shellTool("first", "echo 1"), shellTool("second", "echo nope >&2; exit 3"), flow})

	res := e.run(t, "broken_flow", nil)
	if res.Success || !strings.Contains(res.Err.Error(), "step bad") {
		t.Fatalf("result = %+v", res)
	}
}

func TestCheckDependencies(t *testing.T) {
	reg := registry.New()
	err := (Tools{Registry: reg}).Register([]dsl.ToolConfig{
		{Name: "a", Executor: dsl.ExecutorConfig{Type: "pipeline", Steps: []dsl.StepConfig{{Name: "b", Tool: "b"}}}},
		{Name: "b", Executor: dsl.ExecutorConfig{Type: "pipeline", Steps: []dsl.StepConfig{{Name: "a", Tool: "a"}}}},
		{Name: "c", Executor: dsl.ExecutorConfig{Type: "pipeline", Steps: []dsl.StepConfig{{Name: "x", Tool: "missing"}}}},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	err = CheckDependencies(reg)
	if !errors.Is(err, scheduler.ErrToolNotFound) {
		t.Fatalf("missing step not reported: %v", err)
	}

	reg = registry.New()
	_ = (Tools{Registry: reg}).Register([]dsl.ToolConfig{
		{Name: "a", Executor: dsl.ExecutorConfig{Type: "pipeline", Steps: []dsl.StepConfig{{Name: "b", Tool: "b"}}}},
		{Name: "b", Executor: dsl.ExecutorConfig{Type: "pipeline", Steps: []dsl.StepConfig{{Name: "a", Tool: "a"}}}},
	})
	err = CheckDependencies(reg)
	if err == nil || !strings.Contains(err.Error(), "pipeline cycle: a -> b -> a") {
		t.Fatalf("cycle not reported: %v", err)
	}
}

func TestBuiltins(t *testing.T) {
	e := newEnv(t, nil)

	if res := e.run(t, "wait", map[string]any{"duration_ms": 5}); !res.Success {
		t.Fatalf("wait failed: %v", res.Err)
	}

	res := e.run(t, "cache_stats", map[string]any{"name": "screen"})
	stats, ok := res.Output.(map[string]cache.Stats)
	if !res.Success || !ok || len(stats) != 1 {
		t.Fatalf("cache_stats = %+v", res)
	}
	if res := e.run(t, "cache_stats", map[string]any{"name": "nope"}); res.Success {
		t.Fatal("unknown cache accepted")
	}

	res = e.run(t, "cache_clear", nil)
	cleared := res.Output.(map[string]any)["cleared"].([]string)
	if len(cleared) != 3 {
		t.Errorf("cleared = %v", cleared)
	}

	res = e.run(t, "scheduler_stats", map[string]any{"history": true, "limit": 2})
	out := res.Output.(map[string]any)
	if _, ok := out["stats"].(scheduler.Stats); !ok {
		t.Errorf("stats = %#v", out["stats"])
	}
	if history := out["history"].([]scheduler.BatchMetrics); len(history) > 2 {
		t.Errorf("history len = %d", len(history))
	}

	res = e.run(t, "telemetry_report", map[string]any{"tool": "wait"})
	if snap, ok := res.Output.(telemetry.ToolStats); !ok || snap.Count != 1 {
		t.Errorf("telemetry_report = %+v", res)
	}

	if res := e.run(t, "queue_clear", nil); !res.Success {
		t.Errorf("queue_clear failed: %v", res.Err)
	}
	for _, name := range []string{"wait", "cache_stats", "cache_clear", "scheduler_stats", "queue_clear", "telemetry_report"} {
		if g := e.cls.Group(name); g != classifier.GroupUtility {
			t.Errorf("%s group = %s", name, g)
		}
	}
}

func TestBuiltinsKeepConfiguredTools(t *testing.T) {
	e := newEnv(t, []dsl.ToolConfig{shellTool("wait", "echo custom")})
	res := e.run(t, "wait", nil)
	if out, _ := unwrapOutput(res.Output); out != "custom" {
		t.Fatalf("wait output = %v", out)
	}
}

func TestWaitHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ec := execution.NewFactory(nil, nil).New("wait")
	_, err := Builtins{}.wait(ctx, registry.Request{Tool: "wait", Arguments: map[string]any{"duration_ms": 10000}}, ec)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestBuilderCall(t *testing.T) {
	e := newEnv(t, []dsl.ToolConfig{shellTool("echo_tool", `echo "{{ arg "text" }}"`)})
	tool, _ := e.reg.Lookup("echo_tool")
	b := Builder{Registry: e.reg, Scheduler: e.sched}

	resp := b.call(context.Background(), tool, toolDefaults{priority: scheduler.PriorityNormal}, "", map[string]any{
		"text":           "hello",
		"priority":       "high",
		"correlation_id": "corr-1",
	})
	if resp.Status != protocol.StatusSuccess || resp.Result != "hello" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.CorrelationID != "corr-1" || resp.RequestID == "" || resp.BatchID == "" {
		t.Errorf("ids = %+v", resp)
	}

	resp = b.call(context.Background(), tool, toolDefaults{}, "", map[string]any{"text": "x"})
	if resp.CorrelationID != resp.RequestID {
		t.Errorf("correlation id = %q, request id = %q", resp.CorrelationID, resp.RequestID)
	}
}

func TestBuilderRejectsInvalidInput(t *testing.T) {
	tool := shellTool("mouse_move", "echo moved")
	tool.InputSchema = map[string]any{
		"type":                 "object",
		"properties":           map[string]any{"x": map[string]any{"type": "integer"}},
		"required":             []any{"x"},
		"additionalProperties": false,
	}
	e := newEnv(t, []dsl.ToolConfig{tool})
	registered, _ := e.reg.Lookup("mouse_move")
	b := Builder{Registry: e.reg, Scheduler: e.sched}

	tests := []struct {
		name  string
		input map[string]any
	}{
		{"missing field", map[string]any{}},
		{"bad priority", map[string]any{"x": 1, "priority": "urgent"}},
		{"negative queue timeout", map[string]any{"x": 1, "queue_timeout_ms": -5.0}},
		{"unknown field", map[string]any{"x": 1, "y": 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := b.call(context.Background(), registered, toolDefaults{}, "", tt.input)
			if resp.Status != protocol.StatusError || resp.Code != CodeInvalidArguments {
				t.Fatalf("resp = %+v", resp)
			}
		})
	}

	resp := b.call(context.Background(), registered, toolDefaults{}, "", map[string]any{"x": 1, "queue_timeout_ms": 100.0, "session_id": "s-1"})
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("reserved keys leaked into validation: %+v", resp)
	}
}

func TestBuilderReportsDenial(t *testing.T) {
	tool := shellTool("keyboard_press", "echo ok")
	tool.Permissions = []dsl.PermissionConfig{{
		Type:          "limits",
		FieldPolicies: map[string]dsl.FieldPolicy{"key": {Regex: "^[a-z]$"}},
	}}
	e := newEnv(t, []dsl.ToolConfig{tool})
	registered, _ := e.reg.Lookup("keyboard_press")
	b := Builder{Registry: e.reg, Scheduler: e.sched}

	resp := b.call(context.Background(), registered, toolDefaults{}, "", map[string]any{"key": "Enter"})
	if resp.Status != protocol.StatusDenied || resp.Code != "permission_denied" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestBuilderQueueTimeout(t *testing.T) {
	e := newEnv(t, []dsl.ToolConfig{shellTool("slow", "sleep 1"), shellTool("mouse_click", "echo clicked")})
	cfg := e.sched.Config()
	cfg.MaxConcurrentBatches = 1
	cfg.MaxBatchSize = 1
	if err := e.sched.UpdateConfig(cfg); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	slow, _ := e.reg.Lookup("slow")
	click, _ := e.reg.Lookup("mouse_click")
	b := Builder{Registry: e.reg, Scheduler: e.sched}

	go b.call(context.Background(), slow, toolDefaults{}, "", nil)
	time.Sleep(50 * time.Millisecond)
	resp := b.call(context.Background(), click, toolDefaults{}, "", map[string]any{"queue_timeout_ms": 20.0})
	if resp.Code != "request_timeout" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestExposedSchema(t *testing.T) {
	in := map[string]any{
		"type":       "object",
		"properties": map[string]any{"x": map[string]any{"type": "integer"}},
	}
	out := exposedSchema(in)
	props := out["properties"].(map[string]any)
	for _, key := range append([]string{"x"}, reservedKeys...) {
		if _, ok := props[key]; !ok {
			t.Errorf("property %s missing", key)
		}
	}
	if len(in["properties"].(map[string]any)) != 1 {
		t.Error("input schema mutated")
	}
}
