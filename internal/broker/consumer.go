package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"tripupdate-processor/internal/events"
	"tripupdate-processor/internal/router"
)

type ConsumerConfig struct {
	Stream        string
	Durable       string
	FilterSubject string
	AckWait       time.Duration
	MaxAckPending int
}

// Consumer is a durable pull consumer with explicit acks. Nothing is acked
// here; every delivery is handed on as a router.Message.
type Consumer struct {
	cons jetstream.Consumer
	log  *slog.Logger
}

func NewConsumer(ctx context.Context, js jetstream.JetStream, cfg ConsumerConfig, log *slog.Logger) (*Consumer, error) {
	if log == nil {
		log = slog.Default()
	}
	stream, err := js.Stream(ctx, cfg.Stream)
	if err != nil {
		return nil, fmt.Errorf("lookup stream %s: %w", cfg.Stream, err)
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       cfg.Durable,
		FilterSubject: cfg.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxAckPending: cfg.MaxAckPending,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", cfg.Durable, err)
	}
	log.Info("consumer ready",
		slog.String("stream", cfg.Stream),
		slog.String("durable", cfg.Durable),
		slog.String("filter", cfg.FilterSubject),
	)
	return &Consumer{cons: cons, log: log}, nil
}

// Run delivers messages to submit until ctx is done. A message submit
// refuses is nacked so it is redelivered to another instance.
func (c *Consumer) Run(ctx context.Context, submit func(router.Message) bool) error {
	cc, err := c.cons.Consume(func(msg jetstream.Msg) {
		d := newDelivery(msg)
		if !submit(d) {
			_ = d.Nak()
		}
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		if errors.Is(err, jetstream.ErrNoHeartbeat) {
			c.log.Warn("consumer heartbeat missed", slog.Any("error", err))
			return
		}
		c.log.Debug("consume error", slog.Any("error", err))
	}))
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	<-ctx.Done()
	// Drain lets the messages already pulled reach submit.
	cc.Drain()
	<-cc.Closed()
	c.log.Info("consumer stopped")
	return nil
}

// delivery adapts a JetStream message to router.Message.
type delivery struct {
	msg jetstream.Msg
	env events.Envelope
}

func newDelivery(msg jetstream.Msg) *delivery {
	var stored time.Time
	if md, err := msg.Metadata(); err == nil {
		stored = md.Timestamp
	}
	return &delivery{msg: msg, env: EnvelopeFrom(msg.Headers(), msg.Data(), stored)}
}

func (d *delivery) Envelope() events.Envelope { return d.env }
func (d *delivery) Ack() error                { return d.msg.Ack() }
func (d *delivery) Nak() error                { return d.msg.Nak() }
