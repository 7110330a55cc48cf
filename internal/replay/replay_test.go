package replay

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/vinhquevu/angora/internal/message"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []struct {
		subject string
		data    []byte
	}
	fail bool
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.published = append(f.published, struct {
		subject string
		data    []byte
	}{subject, data})
	return nil
}

func openTestDB(t *testing.T) *bbolt.DB {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "replay.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSweepRedeliversExpiredEntries(t *testing.T) {
	db := openTestDB(t)
	pub := &fakePublisher{}
	q, err := New(db, pub, "worker-1", -1*time.Millisecond) // already-expired TTL
	require.NoError(t, err)

	env, err := message.New("angora", "worker-1", "trig", map[string]any{"name": "A"})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(env))

	require.NoError(t, q.Sweep(context.Background()))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.published, 1)
	assert.Equal(t, "worker-1", pub.published[0].subject)
}

func TestSweepLeavesUnexpiredEntriesPending(t *testing.T) {
	db := openTestDB(t)
	pub := &fakePublisher{}
	q, err := New(db, pub, "worker-1", time.Hour)
	require.NoError(t, err)

	env, err := message.New("angora", "worker-1", "trig", nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(env))

	require.NoError(t, q.Sweep(context.Background()))
	pub.mu.Lock()
	assert.Empty(t, pub.published)
	pub.mu.Unlock()
}

func TestClearDrainsWithoutRedelivering(t *testing.T) {
	db := openTestDB(t)
	pub := &fakePublisher{}
	q, err := New(db, pub, "worker-1", time.Hour)
	require.NoError(t, err)

	env, err := message.New("angora", "worker-1", "trig", nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(env))

	require.NoError(t, q.Clear())
	require.NoError(t, q.Sweep(context.Background()))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Empty(t, pub.published)
}

func TestClearOnEmptyQueueIsNotAnError(t *testing.T) {
	db := openTestDB(t)
	q, err := New(db, &fakePublisher{}, "worker-1", time.Hour)
	require.NoError(t, err)
	assert.NoError(t, q.Clear())
}
