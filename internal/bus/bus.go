// Package bus implements the Message Bus Adapter (spec.md §4.6) on top
// of NATS core. Each "queue" in the spec's vocabulary — and the single
// direct exchange all queues notionally hang off — collapses onto one
// NATS subject, since core NATS has no exchange/routing-key concept of
// its own; a queue name and its routing key are the same string.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinhquevu/angora/internal/resilience"
)

var propagator = propagation.TraceContext{}

// Conn is a long-lived NATS connection guarded by a circuit breaker, as
// used by the Trigger Router and Task Runner (processes that stay
// connected for the life of the consumer loop).
type Conn struct {
	nc *nats.Conn
	cb *resilience.CircuitBreaker
}

// Connect dials url (e.g. "nats://127.0.0.1:4222") and wraps the
// connection with an adaptive circuit breaker for publish calls.
func Connect(url string) (*Conn, error) {
	nc, err := nats.Connect(url, nats.Name("angora"))
	if err != nil {
		return nil, fmt.Errorf("bus: connect %s: %w", url, err)
	}
	return &Conn{
		nc: nc,
		cb: resilience.NewCircuitBreakerAdaptive(30*time.Second, 6, 5, 0.5, 10*time.Second, 2),
	}, nil
}

// Close drains and closes the underlying connection.
func (c *Conn) Close() {
	_ = c.nc.Drain()
}

// Publish injects the current trace context into NATS headers and
// publishes data to subject, retried with full jitter and gated by the
// connection's circuit breaker (spec.md §7: "bus transport error ...
// retried by the adapter at the transport layer").
func (c *Conn) Publish(ctx context.Context, subject string, data []byte) error {
	if !c.cb.Allow() {
		return fmt.Errorf("bus: circuit open for subject %q", subject)
	}
	_, err := resilience.Retry(ctx, 3, 100*time.Millisecond, func() (struct{}, error) {
		hdr := nats.Header{}
		hdr.Set("Nats-Msg-Id", uuid.New().String())
		propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
		msg := &nats.Msg{Subject: subject, Data: data, Header: hdr}
		return struct{}{}, c.nc.PublishMsg(msg)
	})
	c.cb.RecordResult(err == nil)
	return err
}

// Subscribe wraps nc.Subscribe, extracting trace context from each
// message's headers and starting a consumer span before invoking
// handler.
func (c *Conn) Subscribe(subject string, handler func(context.Context, *nats.Msg)) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, func(m *nats.Msg) {
		carrier := propagation.HeaderCarrier(m.Header)
		ctx := propagator.Extract(context.Background(), carrier)
		tr := otel.Tracer("angora-bus")
		ctx, span := tr.Start(ctx, "nats.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		handler(ctx, m)
	})
}
