// Package replay implements the Replay Queue (spec.md §4.4): a
// holding area for failed-task envelopes that redelivers each one to a
// worker queue after a fixed TTL. Core NATS has no dead-letter-exchange
// primitive, so the delay is emulated with a bbolt bucket keyed by
// expiry time and a periodic sweep, rather than broker-level
// `x-message-ttl`/`x-dead-letter-exchange` queue arguments.
package replay

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/vinhquevu/angora/internal/message"
)

var bucketPending = []byte("replay_pending")

// Publisher is the subset of *bus.Conn the replay sweep needs —
// accepting an interface here keeps the TTL/sweep logic testable
// without a live NATS connection.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Queue holds envelopes until their TTL expires, then republishes them
// to RoutingKey (the target worker queue, default: local hostname).
type Queue struct {
	db         *bbolt.DB
	conn       Publisher
	routingKey string
	ttl        time.Duration
}

// New ensures the pending bucket exists in db and returns a Queue that
// will redeliver to routingKey after ttl.
func New(db *bbolt.DB, conn Publisher, routingKey string, ttl time.Duration) (*Queue, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPending)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("replay: init bucket: %w", err)
	}
	return &Queue{db: db, conn: conn, routingKey: routingKey, ttl: ttl}, nil
}

// pendingKey orders entries by expiry, then by enqueue sequence. Sweep
// checks every entry's expiry; it does not stop at the first future key.
func pendingKey(expiresAt time.Time, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(expiresAt.UnixNano()))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}

// Enqueue withholds env for the queue's TTL before it is redelivered to
// routingKey (spec.md §4.4).
func (q *Queue) Enqueue(env message.Envelope) error {
	return q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPending)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := env.Marshal()
		if err != nil {
			return fmt.Errorf("replay: marshal envelope: %w", err)
		}
		expiresAt := time.Now().Add(q.ttl)
		return b.Put(pendingKey(expiresAt, seq), data)
	})
}

// Clear idempotently drains every currently pending entry without
// redelivering it — clearing an empty or missing queue is not an error
// (spec.md §4.4, §4.6 Queue.clear semantics).
func (q *Queue) Clear() error {
	return q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPending)
		if b == nil {
			return nil
		}
		var keys [][]byte
		if err := b.ForEach(func(k, _ []byte) error {
			keys = append(keys, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Sweep redelivers every entry whose expiry has passed, deleting each
// one from the pending bucket after a successful publish.
func (q *Queue) Sweep(ctx context.Context) error {
	now := time.Now()
	var due [][]byte
	var payloads [][]byte

	err := q.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPending)
		return b.ForEach(func(k, v []byte) error {
			expiresAt := time.Unix(0, int64(binary.BigEndian.Uint64(k[:8])))
			if !expiresAt.After(now) {
				due = append(due, append([]byte(nil), k...))
				payloads = append(payloads, append([]byte(nil), v...))
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("replay: scan: %w", err)
	}

	for i, data := range payloads {
		if err := q.conn.Publish(ctx, q.routingKey, data); err != nil {
			slog.Error("replay: redeliver failed, leaving entry pending", "error", err)
			continue
		}
		if err := q.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketPending).Delete(due[i])
		}); err != nil {
			return fmt.Errorf("replay: delete delivered entry: %w", err)
		}
	}
	return nil
}

// Run sweeps on interval until ctx is cancelled, grounded on the
// teacher's ResultCache cleanup-ticker shape.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.Sweep(ctx); err != nil {
				slog.Error("replay: sweep failed", "error", err)
			}
		}
	}
}
