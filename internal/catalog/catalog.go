// Package catalog implements the Task Catalog (spec.md §4.1): parsing
// declarative task files, deriving the message/trigger dependency
// graph, and serving memoized lookups that are invalidated as a whole
// whenever the catalog reloads.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vinhquevu/angora/internal/task"
)

// Catalog owns an immutable snapshot of the parsed tasks and their
// derived graph. Reload() builds a brand new snapshot and atomically
// swaps it in, so concurrent readers never observe a partially built
// graph (spec.md §5).
type Catalog struct {
	pattern string
	current atomic.Pointer[snapshot]
}

// snapshot is one immutable view of the catalog plus its lazily
// memoized lookup caches. A snapshot is never mutated after Reload
// publishes it; its private memo map is discarded with it, which is
// what "reload invalidates all memo entries" means in practice here
// (spec.md §4.1, DESIGN.md).
type snapshot struct {
	tasks   []task.Task
	byName  map[string]task.Task
	byOrder []string // task names in catalog order, for iteration

	childAdj map[string][]string // immediate children by task name
	parentAdj map[string][]string // immediate parents by task name (== task.Parents)

	memoMu        sync.Mutex
	byTriggerMemo map[string][]task.Task
	childTreeMemo map[string]map[string][]string
	parentTreeMemo map[string]map[string][]string
}

// New creates a Catalog that will read task files matching pattern
// (a doublestar glob, e.g. "tasks/**/*.yml") on each Reload.
func New(pattern string) *Catalog {
	return &Catalog{pattern: pattern}
}

// Reload re-reads all files matching the catalog's pattern, validates
// and expands every task, derives parents + the dependency graph, and
// atomically publishes the new snapshot. On any parse or duplicate-name
// error the previous snapshot is left in place (spec.md §4.1 Failure).
func (c *Catalog) Reload() error {
	defs, err := loadDefinitions(c.pattern)
	if err != nil {
		return fmt.Errorf("catalog: reload: %w", err)
	}

	tasks := make([]task.Task, 0, len(defs))
	seen := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		t, err := task.FromDefinition(d.Definition, d.ConfigSource)
		if err != nil {
			return fmt.Errorf("catalog: reload: %w", err)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("catalog: reload: duplicate task name %q (config_source=%s)", t.Name, d.ConfigSource)
		}
		seen[t.Name] = struct{}{}
		tasks = append(tasks, t)
	}

	snap := buildSnapshot(tasks)
	c.current.Store(snap)
	return nil
}

func buildSnapshot(tasks []task.Task) *snapshot {
	byName := make(map[string]task.Task, len(tasks))
	order := make([]string, 0, len(tasks))
	for _, t := range tasks {
		byName[t.Name] = t
		order = append(order, t.Name)
	}

	childAdj := make(map[string][]string, len(tasks))
	parentAdj := make(map[string][]string, len(tasks))

	// Graph derivation, spec.md §4.1: edge (label, u, v) iff
	// label in u.Messages and label in v.Triggers, for every ordered
	// pair including u == v (self-edges permitted).
	for _, u := range tasks {
		for _, v := range tasks {
			if edgeExists(u, v) {
				childAdj[u.Name] = appendUnique(childAdj[u.Name], v.Name)
				parentAdj[v.Name] = appendUnique(parentAdj[v.Name], u.Name)
			}
		}
	}

	// Recompute each task's Parents field from parentAdj (spec.md §3:
	// "parents is always the closure over one hop of the
	// message->trigger relation; recomputed whenever the catalog
	// reloads").
	for name, t := range byName {
		parents := append([]string(nil), parentAdj[name]...)
		sort.Strings(parents)
		t.Parents = parents
		byName[name] = t
	}

	return &snapshot{
		tasks:          tasks,
		byName:         byName,
		byOrder:        order,
		childAdj:       childAdj,
		parentAdj:      parentAdj,
		byTriggerMemo:  make(map[string][]task.Task),
		childTreeMemo:  make(map[string]map[string][]string),
		parentTreeMemo: make(map[string]map[string][]string),
	}
}

func edgeExists(u, v task.Task) bool {
	for _, label := range u.Messages {
		if v.HasTrigger(label) {
			return true
		}
	}
	return false
}

func appendUnique(list []string, name string) []string {
	for _, n := range list {
		if n == name {
			return list
		}
	}
	list = append(list, name)
	sort.Strings(list)
	return list
}

func (c *Catalog) snap() *snapshot {
	s := c.current.Load()
	if s == nil {
		return &snapshot{byName: map[string]task.Task{}}
	}
	return s
}

// GetTaskByName returns the task with the given name, if any.
func (c *Catalog) GetTaskByName(name string) (task.Task, bool) {
	t, ok := c.snap().byName[name]
	return t, ok
}

// GetTasksByTrigger returns every task whose Triggers contain label,
// memoized per snapshot.
func (c *Catalog) GetTasksByTrigger(label string) []task.Task {
	s := c.snap()
	s.memoMu.Lock()
	defer s.memoMu.Unlock()

	if cached, ok := s.byTriggerMemo[label]; ok {
		return cached
	}
	var matches []task.Task
	for _, name := range s.byOrder {
		t := s.byName[name]
		if t.HasTrigger(label) {
			matches = append(matches, t)
		}
	}
	s.byTriggerMemo[label] = matches
	return matches
}

// Iterate returns every task in catalog order.
func (c *Catalog) Iterate() []task.Task {
	s := c.snap()
	out := make([]task.Task, 0, len(s.byOrder))
	for _, name := range s.byOrder {
		out = append(out, s.byName[name])
	}
	return out
}

// Categories returns the distinct config_source-derived category
// names (spec.md §6: basename minus extension, '_'->' ', uppercased).
func (c *Catalog) Categories() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, t := range c.Iterate() {
		cat := CategoryFromSource(t.ConfigSource)
		if _, ok := seen[cat]; !ok {
			seen[cat] = struct{}{}
			out = append(out, cat)
		}
	}
	sort.Strings(out)
	return out
}

// CategoryFromSource derives the display category for a config file
// basename, per spec.md §6.
func CategoryFromSource(source string) string {
	name := source
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[:i]
	}
	name = strings.ReplaceAll(name, "_", " ")
	return strings.ToUpper(name)
}
