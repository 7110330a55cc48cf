package runner

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinhquevu/angora/internal/message"
	"github.com/vinhquevu/angora/internal/store"
	"github.com/vinhquevu/angora/internal/task"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []message.Envelope
}

func (f *fakePublisher) Publish(_ context.Context, _ string, data []byte) error {
	env, err := message.Unmarshal(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, env)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "log.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func envelopeFor(t *testing.T, tk task.Task, queue string) message.Envelope {
	t.Helper()
	env, err := message.New("angora", queue, "t1", tk)
	require.NoError(t, err)
	return env
}

func TestHandleSuccessFansOutMessages(t *testing.T) {
	st := newTestStore(t)
	pub := &fakePublisher{}
	r := &Runner{Store: st, Publish: pub, IngressName: "angora", Exchange: "angora"}

	tk := task.Task{Name: "A", Command: "true", Messages: []string{"m1", "m2"}}
	env := envelopeFor(t, tk, "worker-1")

	require.NoError(t, r.handle(context.Background(), env))

	rows, err := st.GetTasksToday("")
	require.NoError(t, err)
	require.Len(t, rows, 2) // start + success
	assert.Equal(t, store.StatusStart, rows[0].Status)
	assert.Equal(t, store.StatusSuccess, rows[1].Status)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.published, 2)
	assert.Equal(t, "m1", pub.published[0].Message)
	assert.Equal(t, "m2", pub.published[1].Message)
}

func TestHandleFailureEnqueuesReplayWithDecrementedCounter(t *testing.T) {
	st := newTestStore(t)
	pub := &fakePublisher{}
	r := &Runner{Store: st, Publish: pub, IngressName: "angora", Exchange: "angora"}

	n := 2
	tk := task.Task{Name: "A", Command: "false", Replay: &n}
	env := envelopeFor(t, tk, "worker-1")

	require.NoError(t, r.handle(context.Background(), env))

	rows, err := st.GetTasksToday("")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, store.StatusFail, rows[1].Status)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.published, 1)
	var republished task.Task
	require.NoError(t, pub.published[0].DataAs(&republished))
	require.NotNil(t, republished.Replay)
	assert.Equal(t, 1, *republished.Replay)
}

func TestHandleFailureWithZeroReplayDoesNotRetry(t *testing.T) {
	st := newTestStore(t)
	pub := &fakePublisher{}
	r := &Runner{Store: st, Publish: pub, IngressName: "angora", Exchange: "angora"}

	n := 0
	tk := task.Task{Name: "A", Command: "false", Replay: &n}
	env := envelopeFor(t, tk, "worker-1")

	require.NoError(t, r.handle(context.Background(), env))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Empty(t, pub.published)
}

func TestHandleParentSuccessGateBlocksWhenParentMissing(t *testing.T) {
	st := newTestStore(t)
	pub := &fakePublisher{}
	r := &Runner{Store: st, Publish: pub, IngressName: "angora", Exchange: "angora"}

	tk := task.Task{Name: "B", Command: "true", ParentSuccess: true, Parents: []string{"A"}}
	env := envelopeFor(t, tk, "worker-1")

	require.NoError(t, r.handle(context.Background(), env))

	rows, err := st.GetTasksToday("")
	require.NoError(t, err)
	require.Len(t, rows, 2) // start + fail, task never executed
	assert.Equal(t, store.StatusFail, rows[1].Status)
	assert.Equal(t, "PARENT SUCCESS CHECK FAILED", rows[1].Note)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Empty(t, pub.published, "no success fan-out, no replay enqueued")
}

func TestHandleParentSuccessGatePassesWhenParentSucceeded(t *testing.T) {
	st := newTestStore(t)
	_, err := st.InsertTask(store.TaskRow{Name: "A", Status: store.StatusSuccess})
	require.NoError(t, err)

	pub := &fakePublisher{}
	r := &Runner{Store: st, Publish: pub, IngressName: "angora", Exchange: "angora"}

	tk := task.Task{Name: "B", Command: "true", ParentSuccess: true, Parents: []string{"A"}}
	env := envelopeFor(t, tk, "worker-1")

	require.NoError(t, r.handle(context.Background(), env))

	rows, err := st.GetTasksToday("")
	require.NoError(t, err)
	require.Len(t, rows, 3) // A's success row + B's start + B's success
	assert.Equal(t, store.StatusSuccess, rows[len(rows)-1].Status)
}

func TestHandleSetsReplayStatusWhenRedelivered(t *testing.T) {
	st := newTestStore(t)
	pub := &fakePublisher{}
	r := &Runner{Store: st, Publish: pub, IngressName: "angora", Exchange: "angora"}

	tk := task.Task{Name: "A", Command: "true"}
	env := envelopeFor(t, tk, "replay")

	require.NoError(t, r.handle(context.Background(), env))

	rows, err := st.GetTasksToday("")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, store.StatusReplay, rows[0].Status)
}
