package router

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinhquevu/angora/internal/catalog"
	"github.com/vinhquevu/angora/internal/message"
	"github.com/vinhquevu/angora/internal/store"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []string
}

func (f *fakePublisher) Publish(_ context.Context, subject string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, subject)
	return nil
}

func newTestCatalog(t *testing.T, yamlBody string) *catalog.Catalog {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))
	cat := catalog.New(filepath.Join(dir, "*.yml"))
	require.NoError(t, cat.Reload())
	return cat
}

func TestDispatchPublishesOnePerMatchingTask(t *testing.T) {
	cat := newTestCatalog(t, `
- name: A
  command: "true"
  triggers: ["t1"]
- name: B
  command: "true"
  triggers: ["t1"]
- name: C
  command: "true"
  triggers: ["other"]
`)
	st, err := store.Open(filepath.Join(t.TempDir(), "log.db"), nil)
	require.NoError(t, err)
	defer st.Close()

	pub := &fakePublisher{}
	r := &Router{
		Catalog:     cat,
		Store:       st,
		Publish:     pub,
		WorkerQueue: "worker-1",
		Exchange:    "angora",
		Concurrency: 4,
	}

	env, err := message.New("angora", "angora", "t1", []string{"param1"})
	require.NoError(t, err)

	require.NoError(t, r.dispatch(context.Background(), env))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Len(t, pub.published, 2, "only A and B trigger on t1")
	for _, subj := range pub.published {
		assert.Equal(t, "worker-1", subj)
	}
}

func TestDispatchNoMatchIsNoop(t *testing.T) {
	cat := newTestCatalog(t, `
- name: A
  command: "true"
  triggers: ["t1"]
`)
	st, err := store.Open(filepath.Join(t.TempDir(), "log.db"), nil)
	require.NoError(t, err)
	defer st.Close()

	pub := &fakePublisher{}
	r := &Router{Catalog: cat, Store: st, Publish: pub, WorkerQueue: "worker-1", Exchange: "angora"}

	env, err := message.New("angora", "angora", "unmatched", nil)
	require.NoError(t, err)
	require.NoError(t, r.dispatch(context.Background(), env))

	assert.Empty(t, pub.published)
}

func TestArchiveWritesMessageRow(t *testing.T) {
	cat := newTestCatalog(t, `
- name: A
  command: "true"
`)
	st, err := store.Open(filepath.Join(t.TempDir(), "log.db"), nil)
	require.NoError(t, err)
	defer st.Close()

	r := &Router{Catalog: cat, Store: st}
	env, err := message.New("angora", "angora", "t1", nil)
	require.NoError(t, err)
	r.archive(env)

	rows, err := st.GetMessagesToday()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "t1", rows[0].Message)
}
