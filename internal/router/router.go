// Package router implements the Trigger Router ("server", spec.md
// §4.2): it consumes the ingress queue and, for every matching task in
// the catalog, republishes one envelope to the worker queue for the
// current host.
package router

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/vinhquevu/angora/internal/bus"
	"github.com/vinhquevu/angora/internal/catalog"
	"github.com/vinhquevu/angora/internal/message"
	"github.com/vinhquevu/angora/internal/store"
)

// Publisher is the subset of *bus.Conn dispatch needs — accepting an
// interface keeps fan-out logic testable without a live NATS connection.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Router wires the ingress queue to a catalog and dispatches matched
// tasks to WorkerQueue on the shared bus connection.
type Router struct {
	Catalog     *catalog.Catalog
	Store       *store.Store
	Conn        *bus.Conn // used to listen on the ingress queue
	Publish     Publisher // used to dispatch; defaults to Conn if nil
	IngressName string
	WorkerQueue string
	Exchange    string
	// Concurrency bounds the number of simultaneous dispatch fan-outs
	// in-flight for one incoming envelope (spec.md §5: parallelism
	// comes from worker pools, not catalog-internal concurrency).
	Concurrency int
}

// Run consumes the ingress queue until ctx is cancelled, running the
// archive and dispatch callbacks in order for every envelope (spec.md
// §4.2). The router never executes tasks and never writes Task rows.
func (r *Router) Run(ctx context.Context) error {
	if r.Publish == nil {
		r.Publish = r.Conn
	}
	q := bus.NewQueue(r.Conn, r.IngressName)
	return q.Listen(ctx, func(cctx context.Context, env message.Envelope) {
		r.archive(env)
		if err := r.dispatch(cctx, env); err != nil {
			slog.Error("router: dispatch failed", "message", env.Message, "error", err)
		}
	})
}

func (r *Router) archive(env message.Envelope) {
	if _, err := r.Store.InsertMessage(store.MessageRow{
		Exchange: env.Exchange,
		Queue:    env.Queue,
		Message:  env.Message,
		Data:     string(env.Data),
	}); err != nil {
		slog.Error("router: archive failed", "message", env.Message, "error", err)
	}
}

// dispatch resolves every task whose triggers include env.Message and
// republishes one envelope per match, with that task's parameters
// overlaid from the incoming payload.
func (r *Router) dispatch(ctx context.Context, env message.Envelope) error {
	label := env.Message
	tasks := r.Catalog.GetTasksByTrigger(label)
	if len(tasks) == 0 {
		return nil
	}

	var params []string
	_ = env.DataAs(&params) // absent/non-array payloads leave params nil

	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, t := range tasks {
		t := t.WithParameters(params)
		g.Go(func() error {
			out, err := message.New(r.Exchange, r.WorkerQueue, label, t)
			if err != nil {
				return err
			}
			out = out.WithRoutingKey(r.WorkerQueue)
			data, err := out.Marshal()
			if err != nil {
				return err
			}
			return r.Publish.Publish(gctx, r.WorkerQueue, data)
		})
	}
	return g.Wait()
}
