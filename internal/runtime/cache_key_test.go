package runtime

import (
	"strings"
	"testing"
)

func TestBuildCacheKey(t *testing.T) {
	args := map[string]any{"x": 1.0, "y": 2.0, "correlation_id": "c-1", "priority": "high"}
	reordered := map[string]any{"y": 2.0, "x": 1.0}

	hashed, err := buildCacheKey("mouse_move", "c-1", true, args, "arguments_hash")
	if err != nil {
		t.Fatalf("arguments_hash: %v", err)
	}
	same, _ := buildCacheKey("mouse_move", "", false, reordered, "arguments_hash")
	if hashed != same || !strings.HasPrefix(hashed, "mouse_move:") {
		t.Fatalf("hash keys differ: %q vs %q", hashed, same)
	}

	tests := []struct {
		name       string
		id         string
		provided   bool
		strategy   string
		want       string
		wantHashed bool
	}{
		{name: "correlation id", id: "c-1", provided: true, strategy: "correlation_id", want: "mouse_move:c-1"},
		{name: "correlation id missing", strategy: "correlation_id", want: ""},
		{name: "auto with id", id: "c-1", provided: true, strategy: "auto", want: "mouse_move:c-1"},
		{name: "auto without id", strategy: "", wantHashed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildCacheKey("mouse_move", tt.id, tt.provided, reordered, tt.strategy)
			if err != nil {
				t.Fatalf("buildCacheKey: %v", err)
			}
			if tt.wantHashed {
				if got != same {
					t.Fatalf("got %q, want %q", got, same)
				}
				return
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := buildCacheKey("t", "", false, nil, "random"); err == nil {
		t.Fatal("unknown strategy accepted")
	}
}

func TestCanonicalJSON(t *testing.T) {
	got, err := canonicalJSON(map[string]any{"b": []any{1, "x"}, "a": map[any]any{2: true}})
	if err != nil {
		t.Fatalf("canonicalJSON: %v", err)
	}
	if string(got) != `{"a":{"2":true},"b":[1,"x"]}` {
		t.Fatalf("got %s", got)
	}
}
