package httpapi

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/vinhquevu/angora/internal/catalog"
	"github.com/vinhquevu/angora/internal/schedule"
	"github.com/vinhquevu/angora/internal/store"
	"github.com/vinhquevu/angora/internal/task"
)

// handleTasks dumps the catalog, optionally filtered to one name.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("name"); name != "" {
		t, ok := s.Catalog.GetTaskByName(name)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("task %q not found", name))
			return
		}
		writeOK(w, t)
		return
	}
	writeOK(w, s.Catalog.Iterate())
}

// handleReload triggers a catalog reload.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.Catalog.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w, "reloaded")
}

// handleTasksTodayByStatus returns today's task rows for one status.
func (s *Server) handleTasksTodayByStatus(w http.ResponseWriter, r *http.Request) {
	status := store.Status(r.PathValue("status"))
	rows, err := s.Store.GetTasksToday(status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w, rows)
}

// handleTasksTodayNotRun returns every catalog task with no row at all
// in today's log — the complement of everything GetTasksLatest knows
// about.
func (s *Server) handleTasksTodayNotRun(w http.ResponseWriter, r *http.Request) {
	latest, err := s.Store.GetTasksLatest("")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	ran := make(map[string]struct{}, len(latest))
	for _, row := range latest {
		ran[row.Name] = struct{}{}
	}

	var notRun []task.Task
	for _, t := range s.Catalog.Iterate() {
		if _, ok := ran[t.Name]; !ok {
			notRun = append(notRun, t)
		}
	}
	writeOK(w, notRun)
}

type lastRunTime struct {
	Task task.Task      `json:"task"`
	Last *store.TaskRow `json:"last_run,omitempty"`
}

// handleLastRunTime joins the catalog with each task's latest row for
// today, optionally narrowed to one name.
func (s *Server) handleLastRunTime(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	out, err := s.lastRunTimes(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w, out)
}

func (s *Server) lastRunTimes(name string) ([]lastRunTime, error) {
	latest, err := s.Store.GetTasksLatest(name)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]store.TaskRow, len(latest))
	for _, row := range latest {
		byName[row.Name] = row
	}

	var tasks []task.Task
	if name != "" {
		if t, ok := s.Catalog.GetTaskByName(name); ok {
			tasks = []task.Task{t}
		}
	} else {
		tasks = s.Catalog.Iterate()
	}

	out := make([]lastRunTime, 0, len(tasks))
	for _, t := range tasks {
		entry := lastRunTime{Task: t}
		if row, ok := byName[t.Name]; ok {
			row := row
			entry.Last = &row
		}
		out = append(out, entry)
	}
	return out, nil
}

// handleCategories lists the distinct catalog categories.
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.Catalog.Categories())
}

// handleLastRunTimeByCategory groups the lastRunTime view by category.
func (s *Server) handleLastRunTimeByCategory(w http.ResponseWriter, r *http.Request) {
	all, err := s.lastRunTimes("")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	grouped := make(map[string][]lastRunTime)
	for _, entry := range all {
		cat := catalogCategory(entry.Task)
		grouped[cat] = append(grouped[cat], entry)
	}
	writeOK(w, grouped)
}

func catalogCategory(t task.Task) string {
	return catalog.CategoryFromSource(t.ConfigSource)
}

// handleScheduled lists tasks with a time.HHMM trigger, grouped by the
// trigger label itself (e.g. "time.0930").
func (s *Server) handleScheduled(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.groupByScheduleKind(schedule.KindDaily))
}

// handleRepeating lists tasks with a time.interval.N trigger.
func (s *Server) handleRepeating(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.groupByScheduleKind(schedule.KindInterval))
}

func (s *Server) groupByScheduleKind(kind schedule.Kind) map[string][]string {
	out := make(map[string][]string)
	for _, t := range s.Catalog.Iterate() {
		for _, trigger := range t.Triggers {
			sched, ok, err := schedule.Parse(trigger)
			if err != nil || !ok || sched.Kind != kind {
				continue
			}
			key := sched.Label
			out[key] = append(out[key], t.Name)
		}
	}
	for k := range out {
		sort.Strings(out[k])
	}
	return out
}
