// Package httpapi implements the HTTP Read API (spec.md §6): read-only
// views over the catalog and the Persistence Log, plus a single write
// endpoint that injects a trigger message onto the bus.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/vinhquevu/angora/internal/catalog"
	"github.com/vinhquevu/angora/internal/store"
)

// Publisher is the subset of *bus.Conn /send needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Server holds every read/write dependency the API handlers need.
type Server struct {
	Catalog     *catalog.Catalog
	Store       *store.Store
	Publish     Publisher
	Exchange    string
	IngressName string

	// MetricsHandler, if set, is mounted at GET /metrics so the
	// Prometheus exporter returned by otelinit.InitMetrics is actually
	// reachable rather than only feeding the OTLP push path.
	MetricsHandler http.Handler

	limiter *rate.Limiter
}

// NewServer wires a Server with a /send rate limiter of rps requests
// per second (burst equal to rps, minimum 1).
func NewServer(cat *catalog.Catalog, st *store.Store, pub Publisher, exchange, ingress string, rps float64) *Server {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Server{
		Catalog:     cat,
		Store:       st,
		Publish:     pub,
		Exchange:    exchange,
		IngressName: ingress,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Mux builds the routed handler for every endpoint in spec.md §6.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /send", s.handleSend)
	mux.HandleFunc("GET /tasks", s.handleTasks)
	mux.HandleFunc("GET /tasks/reload", s.handleReload)
	mux.HandleFunc("GET /tasks/today/notrun", s.handleTasksTodayNotRun)
	mux.HandleFunc("GET /tasks/today/{status}", s.handleTasksTodayByStatus)
	mux.HandleFunc("GET /tasks/lastruntime", s.handleLastRunTime)
	mux.HandleFunc("GET /tasks/categories", s.handleCategories)
	mux.HandleFunc("GET /tasks/lastruntime/sorted/category", s.handleLastRunTimeByCategory)
	mux.HandleFunc("GET /tasks/scheduled", s.handleScheduled)
	mux.HandleFunc("GET /tasks/repeating", s.handleRepeating)
	mux.HandleFunc("GET /task/history", s.handleTaskHistory)
	mux.HandleFunc("GET /task/log", s.handleTaskLog)
	mux.HandleFunc("GET /task/children", s.handleTaskChildren)
	mux.HandleFunc("GET /task/parents", s.handleTaskParents)

	if s.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.MetricsHandler)
	}

	return mux
}

// ListenAndServe runs the API until ctx is cancelled, shutting down
// gracefully with a 5s drain window.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Mux()}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("httpapi: shutdown error", "error", err)
		return err
	}
	return nil
}

type envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

func writeOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope{Status: "ok", Data: data})
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Status: "error", Error: err.Error()})
}
