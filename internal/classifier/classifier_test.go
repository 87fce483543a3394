package classifier

import (
	"reflect"
	"testing"
)

func TestGroupDefaults(t *testing.T) {
	c := New(nil)
	if got := c.Group("screenshot"); got != GroupCapture {
		t.Errorf("screenshot group = %q", got)
	}
	if got := c.Group("not_a_tool"); got != GroupInputAutomation {
		t.Errorf("unknown tool group = %q, want %q", got, GroupInputAutomation)
	}
}

func TestParallelSafe(t *testing.T) {
	tests := []struct {
		group Group
		safe  bool
	}{
		{GroupCapture, true},
		{GroupWindowQuery, true},
		{GroupTextRecognition, true},
		{GroupUtility, true},
		{GroupWindowControl, false},
		{GroupInputAutomation, false},
		{Group("bogus"), false},
	}
	for _, tt := range tests {
		if got := tt.group.ParallelSafe(); got != tt.safe {
			t.Errorf("%q.ParallelSafe() = %v, want %v", tt.group, got, tt.safe)
		}
	}
}

func TestCompatible(t *testing.T) {
	c := New(nil)
	tests := []struct {
		a, b string
		want bool
	}{
		{"screenshot", "screenshot_region", true},
		{"screenshot", "list_windows", true},
		{"extract_text", "wait", true},
		{"screenshot", "mouse_click", false},
		{"mouse_click", "mouse_move", false},
		{"focus_window", "focus_window", false},
		{"screenshot", "unknown", false},
	}
	for _, tt := range tests {
		if got := c.Compatible(tt.a, tt.b); got != tt.want {
			t.Errorf("Compatible(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestPartitionMixedBatch(t *testing.T) {
	c := New(nil)
	tools := []string{"screenshot", "mouse_click", "screenshot_region", "focus_window", "screenshot_window"}

	got, err := c.Partition(tools)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	want := [][]int{{0, 2, 4}, {1}, {3}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Partition = %v, want %v", got, want)
	}
}

func TestPartitionNeverMixesSafeAndSerialized(t *testing.T) {
	c := New(nil)
	tools := []string{"mouse_click", "screenshot", "keyboard_type", "list_windows", "unknown", "extract_text"}

	groups, err := c.Partition(tools)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	seen := make(map[int]bool)
	for _, g := range groups {
		if len(g) > 1 {
			for _, idx := range g {
				if !c.Group(tools[idx]).ParallelSafe() {
					t.Errorf("serialized tool %q shares group %v", tools[idx], g)
				}
			}
		}
		for k := 1; k < len(g); k++ {
			if g[k] <= g[k-1] {
				t.Errorf("group %v not in submission order", g)
			}
		}
		for _, idx := range g {
			if seen[idx] {
				t.Errorf("index %d assigned twice", idx)
			}
			seen[idx] = true
		}
	}
	if len(seen) != len(tools) {
		t.Errorf("assigned %d of %d tools", len(seen), len(tools))
	}
}

func TestPartitionAllSerialized(t *testing.T) {
	c := New(nil)
	got, err := c.Partition([]string{"mouse_move", "mouse_click"})
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if want := [][]int{{0}, {1}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Partition = %v, want %v", got, want)
	}
}

func TestPartitionRejectsEmptyName(t *testing.T) {
	if _, err := New(nil).Partition([]string{"screenshot", ""}); err == nil {
		t.Fatal("expected error for empty tool name")
	}
}

func TestSetOverridesGroup(t *testing.T) {
	c := New(map[string]Group{})
	c.Set("ocr_backend", GroupTextRecognition)
	if got := c.Group("ocr_backend"); got != GroupTextRecognition {
		t.Errorf("group = %q", got)
	}
	if got := c.Tools(); !reflect.DeepEqual(got, []string{"ocr_backend"}) {
		t.Errorf("Tools = %v", got)
	}
}

func TestParseGroup(t *testing.T) {
	if _, err := ParseGroup("capture"); err != nil {
		t.Errorf("ParseGroup(capture): %v", err)
	}
	if _, err := ParseGroup("gpu"); err == nil {
		t.Error("ParseGroup(gpu) accepted unknown group")
	}
}
