package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinhquevu/angora/internal/catalog"
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

func newTestServer(t *testing.T, yamlBody string) (*Server, *fakePublisher) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks.yml"), []byte(yamlBody), 0o644))
	cat := catalog.New(filepath.Join(dir, "*.yml"))
	require.NoError(t, cat.Reload())

	st, err := store.Open(filepath.Join(dir, "log.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pub := &fakePublisher{}
	return NewServer(cat, st, pub, "angora", "angora", 100), pub
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var e envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestHandleTasksListsCatalog(t *testing.T) {
	s, _ := newTestServer(t, `
- name: A
  command: "true"
  triggers: ["t1"]
`)
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	e := decode(t, rec)
	assert.Equal(t, "ok", e.Status)
}

func TestHandleTasksByNameNotFoundReturnsError(t *testing.T) {
	s, _ := newTestServer(t, `
- name: A
  command: "true"
`)
	req := httptest.NewRequest(http.MethodGet, "/tasks?name=missing", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	e := decode(t, rec)
	assert.Equal(t, "error", e.Status)
}

func TestHandleReloadRereadsCatalog(t *testing.T) {
	s, _ := newTestServer(t, `
- name: A
  command: "true"
`)
	req := httptest.NewRequest(http.MethodGet, "/tasks/reload", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSendPublishesOnce(t *testing.T) {
	s, pub := newTestServer(t, `
- name: A
  command: "true"
`)
	req := httptest.NewRequest(http.MethodGet, "/send?message=t1&params=a&params=b", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	pub.mu.Lock()
	assert.Len(t, pub.published, 1)
	pub.mu.Unlock()
}

func TestHandleSendRequiresMessage(t *testing.T) {
	s, _ := newTestServer(t, `
- name: A
  command: "true"
`)
	req := httptest.NewRequest(http.MethodGet, "/send", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTasksTodayNotRunExcludesRanTasks(t *testing.T) {
	s, _ := newTestServer(t, `
- name: A
  command: "true"
- name: B
  command: "true"
`)
	_, err := s.Store.InsertTask(store.TaskRow{Name: "A", Status: store.StatusSuccess})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/tasks/today/notrun", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	e := decode(t, rec)
	raw, err := json.Marshal(e.Data)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"B"`)
	assert.NotContains(t, string(raw), `"A"`)
}

func TestHandleCategoriesReturnsDistinctCategories(t *testing.T) {
	s, _ := newTestServer(t, `
- name: A
  command: "true"
`)
	req := httptest.NewRequest(http.MethodGet, "/tasks/categories", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	e := decode(t, rec)
	assert.Equal(t, "ok", e.Status)
}

func TestHandleScheduledGroupsByTimeLabel(t *testing.T) {
	s, _ := newTestServer(t, `
- name: A
  command: "true"
  triggers: ["time.0930"]
- name: B
  command: "true"
  triggers: ["time.interval.15"]
`)
	req := httptest.NewRequest(http.MethodGet, "/tasks/scheduled", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	raw, err := json.Marshal(decode(t, rec).Data)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"A"`)
	assert.NotContains(t, string(raw), `"B"`)
}

func TestHandleTaskChildrenUnknownTaskIsNotFound(t *testing.T) {
	s, _ := newTestServer(t, `
- name: A
  command: "true"
`)
	req := httptest.NewRequest(http.MethodGet, "/task/children?name=missing", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleTaskChildrenReturnsTree(t *testing.T) {
	s, _ := newTestServer(t, `
- name: A
  command: "true"
  messages: ["m1"]
- name: B
  command: "true"
  triggers: ["m1"]
`)
	req := httptest.NewRequest(http.MethodGet, "/task/children?name=A", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	raw, err := json.Marshal(decode(t, rec).Data)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"B"`)
}

func TestHandleTaskHistoryFiltersByName(t *testing.T) {
	s, _ := newTestServer(t, `
- name: A
  command: "true"
`)
	_, err := s.Store.InsertTask(store.TaskRow{Name: "A", Status: store.StatusSuccess})
	require.NoError(t, err)
	_, err = s.Store.InsertTask(store.TaskRow{Name: "B", Status: store.StatusSuccess})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/task/history?name=A", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	raw, err := json.Marshal(decode(t, rec).Data)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"A"`)
	assert.NotContains(t, string(raw), `"B"`)
}

func TestHandleTaskLogMissingFileReturnsError(t *testing.T) {
	s, _ := newTestServer(t, `
- name: A
  command: "true"
  log: "/no/such/file.log"
`)
	req := httptest.NewRequest(http.MethodGet, "/task/log?name=A", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
