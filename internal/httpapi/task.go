package httpapi

import (
	"bufio"
	"fmt"
	"net/http"
	"os"

	"github.com/vinhquevu/angora/internal/store"
)

// handleTaskHistory returns persisted task rows matching the given
// run_date and/or name.
func (s *Server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := s.Store.GetTasks(store.TaskFilter{
		RunDate: q.Get("run_date"),
		Name:    q.Get("name"),
		Trigger: q.Get("trigger"),
		Command: q.Get("command"),
		Status:  store.Status(q.Get("status")),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w, rows)
}

const taskLogTailLines = 100

// handleTaskLog returns the last 100 lines of the named task's log
// file, as recorded in its catalog definition.
func (s *Server) handleTaskLog(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	t, ok := s.Catalog.GetTaskByName(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("task %q not found", name))
		return
	}
	if t.Log == "" {
		writeOK(w, []string{})
		return
	}

	lines, err := tailLines(t.Log, taskLogTailLines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w, lines)
}

func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("httpapi: open log %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		buf = append(buf, scanner.Text())
		if len(buf) > n {
			buf = buf[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("httpapi: read log %s: %w", path, err)
	}
	return buf, nil
}

// handleTaskChildren returns the transitive descendant tree rooted at
// the named task.
func (s *Server) handleTaskChildren(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if _, ok := s.Catalog.GetTaskByName(name); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("task %q not found", name))
		return
	}
	writeOK(w, s.Catalog.GetChildTree(name))
}

// handleTaskParents returns the transitive ancestor tree rooted at the
// named task.
func (s *Server) handleTaskParents(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if _, ok := s.Catalog.GetTaskByName(name); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("task %q not found", name))
		return
	}
	writeOK(w, s.Catalog.GetParentTree(name))
}
