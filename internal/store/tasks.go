package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// InsertTask appends a lifecycle row to the tasks bucket. An empty
// TimeStamp defaults to time.Now() in the store's configured location.
func (s *Store) InsertTask(row TaskRow) (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTasks)
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
			return fmt.Errorf("marshal task row: %w", err)
		}
		return b.Put(itob(id), data)
	})
	return id, err
}

func (s *Store) scanTasks(match func(TaskRow) bool) ([]TaskRow, error) {
	var rows []TaskRow
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(_, v []byte) error {
			var row TaskRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if match == nil || match(row) {
				rows = append(rows, row)
			}
			return nil
		})
	})
	return rows, err
}

// GetTasksToday returns task rows since local-civil-midnight, optionally
// filtered by status (pass "" for no filter), in insertion order.
func (s *Store) GetTasksToday(status Status) ([]TaskRow, error) {
	cutoff := s.startOfToday()
	return s.scanTasks(func(row TaskRow) bool {
		if row.TimeStamp.Before(cutoff) {
			return false
		}
		if status != "" && row.Status != status {
			return false
		}
		return true
	})
}

// GetTasksLatest returns, for each task name with activity since
// local-civil-midnight, the single row with the greatest time_stamp
// for that name — a manual group-by-max-timestamp scan standing in for
// the Python source's correlated-subquery/CTE join (DESIGN.md). If name
// is non-empty the result is narrowed to that one task.
func (s *Store) GetTasksLatest(name string) ([]TaskRow, error) {
	cutoff := s.startOfToday()
	latest := make(map[string]TaskRow)
	rows, err := s.scanTasks(func(row TaskRow) bool {
		if row.TimeStamp.Before(cutoff) {
			return false
		}
		if name != "" && row.Name != name {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		cur, ok := latest[row.Name]
		if !ok || row.TimeStamp.After(cur.TimeStamp) {
			latest[row.Name] = row
		}
	}

	out := make([]TaskRow, 0, len(latest))
	for _, row := range latest {
		out = append(out, row)
	}
	return out, nil
}

// TaskFilter narrows GetTasks to the union of fields spec.md §9
// designates as authoritative: run_date, name, trigger, command,
// parameters, log, status, start_datetime, end_datetime.
type TaskFilter struct {
	RunDate       string // "YYYY-MM-DD" prefix match against time_stamp
	Name          string
	Trigger       string
	Command       string
	Parameters    string
	Log           string
	Status        Status
	StartDatetime time.Time // inclusive lower bound, zero value = unset
	EndDatetime   time.Time // inclusive upper bound, zero value = unset
}

// GetTasks returns task rows matching every non-zero field of f,
// ordered by time_stamp ascending (insertion order, since ids are
// sequential with time_stamp).
func (s *Store) GetTasks(f TaskFilter) ([]TaskRow, error) {
	return s.scanTasks(func(row TaskRow) bool {
		if f.RunDate != "" && !strings.HasPrefix(row.TimeStamp.Format("2006-01-02"), f.RunDate) {
			return false
		}
		if f.Name != "" && row.Name != f.Name {
			return false
		}
		if f.Trigger != "" && row.Trigger != f.Trigger {
			return false
		}
		if f.Command != "" && row.Command != f.Command {
			return false
		}
		if f.Parameters != "" && row.Parameters != f.Parameters {
			return false
		}
		if f.Log != "" && row.Log != f.Log {
			return false
		}
		if f.Status != "" && row.Status != f.Status {
			return false
		}
		if !f.StartDatetime.IsZero() && row.TimeStamp.Before(f.StartDatetime) {
			return false
		}
		if !f.EndDatetime.IsZero() && row.TimeStamp.After(f.EndDatetime) {
			return false
		}
		return true
	})
}
