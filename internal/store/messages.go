package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// InsertMessage appends a row to the messages bucket. An empty
// TimeStamp defaults to time.Now() in the store's configured location,
// matching the Python source's insert_message default.
func (s *Store) InsertMessage(row MessageRow) (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = seq
		row.ID = id
		if row.TimeStamp.IsZero() {
			row.TimeStamp = time.Now().In(s.loc)
		}
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal message row: %w", err)
		}
		return b.Put(itob(id), data)
	})
	return id, err
}

// GetMessagesToday returns every message row with time_stamp since
// local-civil-midnight, in insertion order.
func (s *Store) GetMessagesToday() ([]MessageRow, error) {
	cutoff := s.startOfToday()
	var rows []MessageRow
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		return b.ForEach(func(_, v []byte) error {
			var row MessageRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if !row.TimeStamp.Before(cutoff) {
				rows = append(rows, row)
			}
			return nil
		})
	})
	return rows, err
}
