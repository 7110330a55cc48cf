package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTasksFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestReloadDerivesGraphAndParents(t *testing.T) {
	dir := t.TempDir()
	writeTasksFile(t, dir, "pipeline.yml", `
- name: A
  command: "true"
  triggers: ["t1"]
  messages: ["m1"]
- name: B
  command: "true"
  triggers: ["m1"]
`)

	cat := New(filepath.Join(dir, "*.yml"))
	require.NoError(t, cat.Reload())

	matches := cat.GetTasksByTrigger("t1")
	require.Len(t, matches, 1)
	assert.Equal(t, "A", matches[0].Name)

	b, ok := cat.GetTaskByName("B")
	require.True(t, ok)
	assert.Equal(t, []string{"A"}, b.Parents)

	a, ok := cat.GetTaskByName("A")
	require.True(t, ok)
	assert.Empty(t, a.Parents)
}

func TestReloadRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeTasksFile(t, dir, "dup.yml", `
- name: A
  command: "true"
- name: A
  command: "false"
`)
	cat := New(filepath.Join(dir, "*.yml"))
	err := cat.Reload()
	assert.Error(t, err)
}

func TestReloadKeepsPreviousSnapshotOnFailure(t *testing.T) {
	dir := t.TempDir()
	writeTasksFile(t, dir, "ok.yml", `
- name: A
  command: "true"
`)
	cat := New(filepath.Join(dir, "*.yml"))
	require.NoError(t, cat.Reload())

	writeTasksFile(t, dir, "bad.yml", `
- name: ""
  command: "true"
`)
	err := cat.Reload()
	assert.Error(t, err)

	_, ok := cat.GetTaskByName("A")
	assert.True(t, ok, "previous snapshot should still be served after a failed reload")
}

func TestChildTreeTerminatesOnCycle(t *testing.T) {
	dir := t.TempDir()
	// A -> m1 -> B -> m2 -> C -> m3 -> A (cycle), per spec.md scenario S6.
	writeTasksFile(t, dir, "cycle.yml", `
- name: A
  command: "true"
  triggers: ["m3"]
  messages: ["m1"]
- name: B
  command: "true"
  triggers: ["m1"]
  messages: ["m2"]
- name: C
  command: "true"
  triggers: ["m2"]
  messages: ["m3"]
`)
	cat := New(filepath.Join(dir, "*.yml"))
	require.NoError(t, cat.Reload())

	tree := cat.GetChildTree("A")
	keys := make(map[string]struct{})
	for k := range tree {
		keys[k] = struct{}{}
	}
	assert.Equal(t, map[string]struct{}{"A": {}, "B": {}, "C": {}}, keys)
}

func TestCategoryFromSource(t *testing.T) {
	assert.Equal(t, "DAILY REPORTS", CategoryFromSource("daily_reports.yml"))
}
