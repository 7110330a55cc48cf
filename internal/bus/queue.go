package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/vinhquevu/angora/internal/message"
)

// Queue is the consumer-side half of the Message Bus Adapter: listen
// for envelopes, or drain whatever is currently pending.
type Queue struct {
	conn *Conn
	name string
}

// NewQueue binds name as both the NATS subject and (per spec.md §6)
// its own routing key — core NATS subjects already provide the
// direct-exchange-by-name topology the spec describes.
func NewQueue(conn *Conn, name string) *Queue {
	return &Queue{conn: conn, name: name}
}

// Listen blocks, delivering every envelope received on this queue to
// callback in order, until ctx is cancelled. Delivery is no-ack
// (at-least-once, no individual message acknowledgement) — matching
// the Python source's kombu consumer mode. A SIGINT-driven ctx
// cancellation unsubscribes and then waits for the current in-flight
// callback to return before Listen returns (spec.md §4.6, §5
// Cancellation).
func (q *Queue) Listen(ctx context.Context, callback func(context.Context, message.Envelope)) error {
	var inflight sync.Mutex
	sub, err := q.conn.Subscribe(q.name, func(cctx context.Context, m *nats.Msg) {
		inflight.Lock()
		defer inflight.Unlock()
		env, err := message.Unmarshal(m.Data)
		if err != nil {
			slog.Error("bus: dropping malformed envelope", "queue", q.name, "error", err)
			return
		}
		callback(cctx, env)
	})
	if err != nil {
		return err
	}
	defer func() {
		if uerr := sub.Unsubscribe(); uerr != nil {
			slog.Warn("bus: unsubscribe failed", "queue", q.name, "error", uerr)
		}
		inflight.Lock()
		inflight.Unlock()
	}()

	<-ctx.Done()
	return nil
}

// Clear drains the queue: it waits for messages and discards them,
// returning once no new message has arrived within the given quiet
// period (spec.md §4.6 default: 2s).
func (q *Queue) Clear(ctx context.Context, quiet time.Duration) error {
	drained := make(chan struct{}, 64)
	sub, err := q.conn.Subscribe(q.name, func(_ context.Context, m *nats.Msg) {
		select {
		case drained <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	timer := time.NewTimer(quiet)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-drained:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(quiet)
		case <-timer.C:
			return nil
		}
	}
}
