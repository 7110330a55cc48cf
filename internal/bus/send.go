package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/propagation"

	"github.com/vinhquevu/angora/internal/message"
)

// SendOptions addresses a one-shot publish: a fresh connection per
// call, matching the Python source's Message(...).send(user, password,
// host, port, routing_key), which never reuses a long-lived channel.
type SendOptions struct {
	Host       string
	Port       int
	User       string
	Password   string
	RoutingKey string
}

// Send opens a short-lived connection, publishes env to opts.RoutingKey
// (the subject), and drains before returning, for callers that hold no
// long-lived connection (spec.md §4.6). The Trigger Router and Task
// Runner do not use it: they publish through their long-lived Conn.
func Send(ctx context.Context, opts SendOptions, env message.Envelope) error {
	url := fmt.Sprintf("nats://%s:%d", opts.Host, opts.Port)
	connOpts := []nats.Option{nats.Name("angora-send"), nats.Timeout(5 * time.Second)}
	if opts.User != "" {
		connOpts = append(connOpts, nats.UserInfo(opts.User, opts.Password))
	}

	nc, err := nats.Connect(url, connOpts...)
	if err != nil {
		return fmt.Errorf("bus: send connect: %w", err)
	}
	defer nc.Drain()

	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("bus: send marshal: %w", err)
	}

	hdr := nats.Header{}
	hdr.Set("Nats-Msg-Id", uuid.New().String())
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	msg := &nats.Msg{Subject: opts.RoutingKey, Data: data, Header: hdr}
	return nc.PublishMsg(msg)
}
