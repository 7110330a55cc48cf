// Package runner implements the Task Runner ("client"/"worker",
// spec.md §4.3): consumes a worker queue, executes the parent-success
// gate, runs the shell command, records every lifecycle transition,
// fans success out to the ingress queue, and enqueues failures for
// replay.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/vinhquevu/angora/internal/bus"
	"github.com/vinhquevu/angora/internal/message"
	"github.com/vinhquevu/angora/internal/replay"
	"github.com/vinhquevu/angora/internal/store"
	"github.com/vinhquevu/angora/internal/task"
)

// Publisher is the subset of *bus.Conn the runner needs to fan success
// messages back to the ingress queue — kept as an interface for tests.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Runner consumes one worker queue and drives every task execution
// dispatched to it.
type Runner struct {
	Conn        *bus.Conn // used to listen on the worker queue
	Publish     Publisher // used to fan success out; defaults to Conn
	Store       *store.Store
	Replay      *replay.Queue
	QueueName   string // the worker queue this runner consumes
	IngressName string // default "angora"
	Exchange    string // default "angora"
	Concurrency int    // bounded subprocess worker pool
}

// Run consumes QueueName until ctx is cancelled. Each envelope is
// archived synchronously (preserving delivery order in the log) and
// then handed to a bounded worker pool for execution (spec.md §5:
// "each task invocation may be dispatched to a worker pool so that
// multiple subprocesses run in parallel").
func (r *Runner) Run(ctx context.Context) error {
	if r.Publish == nil {
		r.Publish = r.Conn
	}
	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	q := bus.NewQueue(r.Conn, r.QueueName)
	err := q.Listen(ctx, func(_ context.Context, env message.Envelope) {
		r.archive(env)
		g.Go(func() error {
			if err := r.handle(gctx, env); err != nil {
				slog.Error("runner: task handling failed", "error", err)
			}
			return nil
		})
	})
	if werr := g.Wait(); err == nil {
		err = werr
	}
	return err
}

func (r *Runner) archive(env message.Envelope) {
	if _, err := r.Store.InsertMessage(store.MessageRow{
		Exchange: env.Exchange,
		Queue:    env.Queue,
		Message:  env.Message,
		Data:     string(env.Data),
	}); err != nil {
		slog.Error("runner: archive failed", "error", err)
	}
}

// handle implements the per-envelope contract of spec.md §4.3 steps
// 2-8.
func (r *Runner) handle(ctx context.Context, env message.Envelope) error {
	var t task.Task
	if err := env.DataAs(&t); err != nil {
		return fmt.Errorf("runner: decode task payload: %w", err)
	}
	trigger := env.Message

	status := store.StatusStart
	if env.Queue == "replay" {
		status = store.StatusReplay
	}

	row := func(s store.Status, note string) store.TaskRow {
		return store.TaskRow{
			Name:       t.Name,
			Trigger:    trigger,
			Command:    t.Command,
			Parameters: strings.Join(t.Parameters, " "),
			Log:        t.Log,
			Status:     s,
			Note:       note,
		}
	}

	if _, err := r.Store.InsertTask(row(status, "")); err != nil {
		return fmt.Errorf("runner: insert initial row: %w", err)
	}

	if t.ParentSuccess {
		ok, err := r.parentsSucceededToday(t.Parents)
		if err != nil {
			return fmt.Errorf("runner: parent success check: %w", err)
		}
		if !ok {
			slog.Warn("runner: parent success check failed", "task", t.Name)
			if _, err := r.Store.InsertTask(row(store.StatusFail, parentSuccessCheckFailedNote)); err != nil {
				return fmt.Errorf("runner: insert parent-check fail row: %w", err)
			}
			return nil
		}
	}

	exitCode, runErr := t.Run(ctx)
	if runErr != nil {
		slog.Error("runner: task execution error", "task", t.Name, "error", runErr)
	}

	if exitCode == 0 {
		if _, err := r.Store.InsertTask(row(store.StatusSuccess, "")); err != nil {
			return fmt.Errorf("runner: insert success row: %w", err)
		}
		return r.fanOutSuccess(ctx, t)
	}

	if _, err := r.Store.InsertTask(row(store.StatusFail, "")); err != nil {
		return fmt.Errorf("runner: insert fail row: %w", err)
	}
	return r.recordFailureAndMaybeReplay(ctx, t, trigger)
}

// parentSuccessCheckFailedNote is the fixed diagnostic string spec.md
// §4.3 step 5 and §7 mandate on a parent-success-gate failure, matching
// the Python source's literal "PARENT SUCCESS CHECK FAILED" task.log
// note.
const parentSuccessCheckFailedNote = "PARENT SUCCESS CHECK FAILED"

// parentsSucceededToday implements spec.md §4.3 step 5: every parent
// must have a "success" status as its most recent row for today.
func (r *Runner) parentsSucceededToday(parents []string) (bool, error) {
	for _, p := range parents {
		latest, err := r.Store.GetTasksLatest(p)
		if err != nil {
			return false, err
		}
		if len(latest) == 0 || latest[0].Status != store.StatusSuccess {
			return false, nil
		}
	}
	return true, nil
}

// fanOutSuccess publishes one envelope per label in t.Messages back to
// the ingress queue, carrying the task's own parameters forward
// (spec.md §4.3 step 7).
func (r *Runner) fanOutSuccess(ctx context.Context, t task.Task) error {
	for _, label := range t.Messages {
		out, err := message.New(r.exchange(), r.ingress(), label, t.Parameters)
		if err != nil {
			return err
		}
		out = out.WithRoutingKey(r.ingress())
		data, err := out.Marshal()
		if err != nil {
			return err
		}
		if err := r.Publish.Publish(ctx, r.ingress(), data); err != nil {
			return fmt.Errorf("runner: publish success message %q: %w", label, err)
		}
	}
	return nil
}

// recordFailureAndMaybeReplay implements the retry policy of spec.md
// §4.3 step 8 / §9: nil replay means infinite retries (republish
// unchanged); N > 0 republishes with the counter decremented to N-1 in
// the payload itself — the published value is authoritative for the
// next delivery; N == 0 means no further retry.
func (r *Runner) recordFailureAndMaybeReplay(ctx context.Context, t task.Task, trigger string) error {
	if t.Replay != nil && *t.Replay == 0 {
		return nil
	}

	next := t
	if t.Replay != nil {
		n := *t.Replay - 1
		next = t.WithReplay(&n)
	}

	env, err := message.New(r.exchange(), "replay", trigger, next)
	if err != nil {
		return err
	}
	env = env.WithRoutingKey("replay")

	if r.Replay == nil {
		data, merr := env.Marshal()
		if merr != nil {
			return merr
		}
		return r.Publish.Publish(ctx, "replay", data)
	}
	return r.Replay.Enqueue(env)
}

func (r *Runner) exchange() string {
	if r.Exchange == "" {
		return "angora"
	}
	return r.Exchange
}

func (r *Runner) ingress() string {
	if r.IngressName == "" {
		return "angora"
	}
	return r.IngressName
}
