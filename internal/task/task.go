// Package task implements the Task Specification (spec.md §3): parsing,
// variable expansion, safe command execution, and the replay/parent-
// success fields the runner inspects.
package task

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Task is the engine's in-memory representation of one catalog entry.
// Field set mirrors the Python source's Task(dict) (task.py) exactly;
// Parents is derived, never authored (spec.md §3 invariants).
type Task struct {
	Name          string   `json:"name"`
	Command       string   `json:"command"`
	Triggers      []string `json:"triggers"`
	Messages      []string `json:"messages"`
	Parameters    []string `json:"parameters"`
	Log           string   `json:"log"`
	ParentSuccess bool     `json:"parent_success"`
	Replay        *int     `json:"replay"` // nil == infinite retries
	ConfigSource  string   `json:"config_source"`
	Parents       []string `json:"parents"`
}

// Definition is the YAML decode target for one catalog entry, before
// expansion and before Parents has been derived.
type Definition struct {
	Name          string   `yaml:"name"`
	Command       string   `yaml:"command"`
	Triggers      []string `yaml:"triggers"`
	Messages      []string `yaml:"messages"`
	Parameters    []string `yaml:"parameters"`
	Log           string   `yaml:"log"`
	ParentSuccess bool     `yaml:"parent_success"`
	Replay        *int     `yaml:"replay"`
}

// FromDefinition validates and expands a raw Definition into a Task.
// Expansion is applied exactly once, at load time, matching the Python
// source's Task.__setitem__ override.
func FromDefinition(d Definition, configSource string) (Task, error) {
	if strings.TrimSpace(d.Name) == "" {
		return Task{}, fmt.Errorf("task: name is required (config_source=%s)", configSource)
	}
	if strings.TrimSpace(d.Command) == "" {
		return Task{}, fmt.Errorf("task: %q: command is required", d.Name)
	}

	expandedCmd, err := expandVars(d.Command)
	if err != nil {
		return Task{}, fmt.Errorf("task: %q: expand command: %w", d.Name, err)
	}

	log := d.Log
	if log != "" {
		log, err = expandVars(log)
		if err != nil {
			return Task{}, fmt.Errorf("task: %q: expand log: %w", d.Name, err)
		}
		log = resolveLogPath(log, d.Name)
	}

	t := Task{
		Name:          d.Name,
		Command:       expandedCmd,
		Triggers:      dedupSorted(d.Triggers),
		Messages:      dedupSorted(d.Messages),
		Parameters:    append([]string(nil), d.Parameters...),
		Log:           log,
		ParentSuccess: d.ParentSuccess,
		Replay:        d.Replay,
		ConfigSource:  configSource,
	}
	return t, nil
}

// resolveLogPath implements spec.md §3's log-path directory rule: if
// the path resolves to an existing directory, append
// "{lower(name with spaces -> underscores)}.log".
func resolveLogPath(path, name string) string {
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		fname := strings.ToLower(strings.ReplaceAll(name, " ", "_")) + ".log"
		return filepath.Join(path, fname)
	}
	return path
}

var dateSubPattern = regexp.MustCompile(`\$\((date[^)]*)\)`)

// expandVars applies the two-stage expansion from spec.md §4.3a: first
// every $(date ...) sub-invocation, then plain $VAR / ${VAR} against the
// process environment.
func expandVars(value string) (string, error) {
	var runErr error
	value = dateSubPattern.ReplaceAllStringFunc(value, func(match string) string {
		if runErr != nil {
			return match
		}
		out, err := runDate(dateSubPattern.FindStringSubmatch(match)[1])
		if err != nil {
			runErr = err
			return match
		}
		return out
	})
	if runErr != nil {
		return "", runErr
	}
	return os.ExpandEnv(value), nil
}

func dedupSorted(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}

// HasTrigger reports whether label is among t.Triggers.
func (t Task) HasTrigger(label string) bool {
	for _, tr := range t.Triggers {
		if tr == label {
			return true
		}
	}
	return false
}

// HasMessage reports whether label is among t.Messages.
func (t Task) HasMessage(label string) bool {
	for _, m := range t.Messages {
		if m == label {
			return true
		}
	}
	return false
}

// WithParameters returns a copy of t whose Parameters have been
// overwritten by the incoming message payload (spec.md §4.2).
func (t Task) WithParameters(params []string) Task {
	t.Parameters = params
	return t
}

// WithReplay returns a copy of t with Replay set to n.
func (t Task) WithReplay(n *int) Task {
	t.Replay = n
	return t
}
