// Package store implements the Persistence Log (spec.md §4.5): a
// durable, append-only record of every message seen and every task
// status transition, backed by an embedded bbolt database rather than
// the Python source's SQLite/SQLAlchemy engine.
package store

import (
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketMessages = []byte("messages")
	bucketTasks    = []byte("tasks")
)

// Status is a task lifecycle status, one of the four values a task row
// can carry (spec.md §3, Task Lifecycle Row).
type Status string

const (
	StatusStart   Status = "start"
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
	StatusReplay  Status = "replay"
)

// MessageRow mirrors the Python source's Messages table: one row per
// envelope observed on the bus, regardless of outcome.
type MessageRow struct {
	ID        uint64    `json:"id"`
	Exchange  string    `json:"exchange"`
	Queue     string    `json:"queue"`
	Message   string    `json:"message"`
	Data      string    `json:"data,omitempty"`
	TimeStamp time.Time `json:"time_stamp"`
}

// TaskRow mirrors the Python source's Tasks table: one row per status
// transition of one task execution. Note carries the fixed diagnostic
// string the Python source's Task.log writes alongside a few
// particular transitions — e.g. "PARENT SUCCESS CHECK FAILED"
// (spec.md §4.3 step 5, §7) — so a gated failure is distinguishable
// from a failed execution in the log.
type TaskRow struct {
	ID         uint64    `json:"id"`
	Name       string    `json:"name"`
	Trigger    string    `json:"trigger"`
	Command    string    `json:"command"`
	Parameters string    `json:"parameters,omitempty"`
	Log        string    `json:"log,omitempty"`
	Status     Status    `json:"status"`
	Note       string    `json:"note,omitempty"`
	TimeStamp  time.Time `json:"time_stamp"`
}

// Store wraps a bbolt database holding the messages and tasks buckets.
type Store struct {
	db  *bbolt.DB
	loc *time.Location
}

// Open creates or opens the bbolt file at path and ensures both
// buckets exist. loc is the location used to compute "today" boundaries
// (spec.md §4.5); pass nil to default to time.Local, overridable at the
// caller via ANGORA_TIMEZONE (internal/config resolves that env var to loc).
func Open(path string, loc *time.Location) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketMessages, bucketTasks} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}

	if loc == nil {
		loc = time.Local
	}
	return &Store{db: db, loc: loc}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying bbolt database so collaborating packages
// (internal/replay) can maintain their own buckets in the same file
// instead of opening a second database.
func (s *Store) DB() *bbolt.DB {
	return s.db
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// startOfToday returns local-civil-midnight in the store's configured
// location, per spec.md §4.5.
func (s *Store) startOfToday() time.Time {
	now := time.Now().In(s.loc)
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}
