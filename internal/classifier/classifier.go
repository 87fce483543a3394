// Package classifier decides which tool invocations may run concurrently.
package classifier

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Group is a coarse capability class of a tool.
type Group string

const (
	GroupCapture         Group = "capture"
	GroupWindowQuery     Group = "window-query"
	GroupWindowControl   Group = "window-control"
	GroupInputAutomation Group = "input-automation"
	GroupTextRecognition Group = "text-recognition"
	GroupUtility         Group = "utility"
)

// DefaultGroup is assigned to tools missing from the table.
const DefaultGroup = GroupInputAutomation

var knownGroups = map[Group]bool{
	GroupCapture:         true,
	GroupWindowQuery:     true,
	GroupWindowControl:   false,
	GroupInputAutomation: false,
	GroupTextRecognition: true,
	GroupUtility:         true,
}

// ParseGroup validates a group label.
func ParseGroup(value string) (Group, error) {
	g := Group(value)
	if _, ok := knownGroups[g]; !ok {
		return "", fmt.Errorf("unknown compatibility group %q", value)
	}
	return g, nil
}

// ParallelSafe reports whether members of the group may run concurrently
// with each other and with other parallel-safe groups.
func (g Group) ParallelSafe() bool {
	return knownGroups[g]
}

// DefaultTable maps common automation tool names to their groups.
func DefaultTable() map[string]Group {
	return map[string]Group{
		"screenshot":        GroupCapture,
		"screenshot_region": GroupCapture,
		"screenshot_window": GroupCapture,
		"screen_info":       GroupCapture,
		"get_pixel_color":   GroupCapture,
		"list_windows":      GroupWindowQuery,
		"get_window_info":   GroupWindowQuery,
		"get_active_window": GroupWindowQuery,
		"find_window":       GroupWindowQuery,
		"focus_window":      GroupWindowControl,
		"move_window":       GroupWindowControl,
		"resize_window":     GroupWindowControl,
		"minimize_window":   GroupWindowControl,
		"maximize_window":   GroupWindowControl,
		"close_window":      GroupWindowControl,
		"mouse_move":        GroupInputAutomation,
		"mouse_click":       GroupInputAutomation,
		"mouse_drag":        GroupInputAutomation,
		"mouse_scroll":      GroupInputAutomation,
		"keyboard_type":     GroupInputAutomation,
		"keyboard_press":    GroupInputAutomation,
		"keyboard_shortcut": GroupInputAutomation,
		"clipboard_write":   GroupInputAutomation,
		"extract_text":      GroupTextRecognition,
		"find_text":         GroupTextRecognition,
		"read_screen_text":  GroupTextRecognition,
		"clipboard_read":    GroupUtility,
		"wait":              GroupUtility,
		"cache_stats":       GroupUtility,
		"cache_clear":       GroupUtility,
		"scheduler_stats":   GroupUtility,
		"queue_clear":       GroupUtility,
		"telemetry_report":  GroupUtility,
	}
}

// Classifier holds the tool name to group table. It is safe for concurrent
// use; Set is expected at startup or on configuration reload.
type Classifier struct {
	mu    sync.RWMutex
	table map[string]Group
}

// New returns a classifier seeded with table. A nil table means DefaultTable.
func New(table map[string]Group) *Classifier {
	if table == nil {
		table = DefaultTable()
	}
	return &Classifier{table: maps.Clone(table)}
}

// Set assigns a tool to a group, replacing any previous assignment.
func (c *Classifier) Set(tool string, group Group) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table[tool] = group
}

// Group returns the group of a tool, DefaultGroup when unknown.
func (c *Classifier) Group(tool string) Group {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if g, ok := c.table[tool]; ok {
		return g
	}
	return DefaultGroup
}

// Compatible reports whether invocations of a and b may share a group.
// Only parallel-safe groups ever share.
func (c *Classifier) Compatible(a, b string) bool {
	return c.Group(a).ParallelSafe() && c.Group(b).ParallelSafe()
}

// Partition splits tools, given in submission order, into ordered groups of
// indices whose members may run concurrently. Each new group starts at the
// first unassigned tool and absorbs every later unassigned tool compatible
// with all members already in it.
func (c *Classifier) Partition(tools []string) ([][]int, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	c.mu.RLock()
	groups := make([]Group, len(tools))
	for i, tool := range tools {
		if tool == "" {
			c.mu.RUnlock()
			return nil, fmt.Errorf("partition: empty tool name at index %d", i)
		}
		g, ok := c.table[tool]
		if !ok {
			g = DefaultGroup
		}
		groups[i] = g
	}
	c.mu.RUnlock()

	assigned := make([]bool, len(tools))
	var out [][]int
	for i := range tools {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		current := []int{i}
		if groups[i].ParallelSafe() {
			for j := i + 1; j < len(tools); j++ {
				if assigned[j] || !compatibleWithAll(groups, current, j) {
					continue
				}
				assigned[j] = true
				current = append(current, j)
			}
		}
		out = append(out, current)
	}
	return out, nil
}

// Tools returns the known tool names, sorted.
func (c *Classifier) Tools() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.table))
}

func compatibleWithAll(groups []Group, members []int, candidate int) bool {
	for _, m := range members {
		if !groups[m].ParallelSafe() || !groups[candidate].ParallelSafe() {
			return false
		}
	}
	return true
}
