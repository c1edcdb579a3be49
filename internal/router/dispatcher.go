package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"tripupdate-processor/internal/events"
	"tripupdate-processor/internal/feed"
	"tripupdate-processor/internal/route"
	"tripupdate-processor/internal/tripstate"
)

var (
	// ErrPublish wraps a failed or unconfirmed outbound publish.
	ErrPublish = errors.New("publish failed")
	// ErrInternal wraps a recovered panic or an encoding failure for one message.
	ErrInternal = errors.New("internal fault")
)

// Message is one inbound delivery owed exactly one Ack or Nak.
type Message interface {
	Envelope() events.Envelope
	Ack() error
	Nak() error
}

// Outbound is a rendered TripUpdate ready to publish.
type Outbound struct {
	Key         string // decimal trip id
	RouteID     string // normalized
	EventTimeMs int64
	Payload     []byte
}

// Publisher must return only once the message is durable downstream.
type Publisher interface {
	Publish(ctx context.Context, out Outbound) error
}

type Metrics interface {
	ReceivedInc()
	AckedInc()
	NackedInc(reason string)
	DiscardedInc(reason string)
	ProcessObserve(d time.Duration)
}

type Action int

const (
	// Discard: unrecognized or ineligible input.
	Discard Action = iota
	// Skip: state updated, nothing to emit.
	Skip
	Publish
)

func (a Action) String() string {
	switch a {
	case Skip:
		return "skip"
	case Publish:
		return "publish"
	default:
		return "discard"
	}
}

// Decision is the outcome of processing one envelope, before any side
// effect on the broker.
type Decision struct {
	Action   Action
	Reason   string // set for Discard and Skip
	Event    events.Event
	Snapshot tripstate.Snapshot
	Out      Outbound // set for Publish
}

const (
	ReasonUnrecognized = "unrecognized"
	ReasonSuppressed   = "suppressed"
)

type Dispatcher struct {
	classifier *events.Classifier
	filter     *route.Filter
	store      *tripstate.Store
	pub        Publisher
	metrics    Metrics
	log        *slog.Logger
}

func NewDispatcher(classifier *events.Classifier, filter *route.Filter, store *tripstate.Store, pub Publisher, m Metrics, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		classifier: classifier,
		filter:     filter,
		store:      store,
		pub:        pub,
		metrics:    m,
		log:        log,
	}
}

// Handle runs decide, act and acknowledge for one message. An error means
// the message was nacked for redelivery; every other outcome is acked.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) error {
	start := time.Now()
	if d.metrics != nil {
		d.metrics.ReceivedInc()
		defer func() { d.metrics.ProcessObserve(time.Since(start)) }()
	}

	dec, err := d.Decide(msg.Envelope())
	if err == nil {
		err = d.Act(ctx, dec)
	}
	if err != nil {
		d.nak(msg, err)
		return err
	}

	if err := msg.Ack(); err != nil {
		// The broker will redeliver; reapplying the event is harmless.
		d.log.Warn("ack failed", slog.String("action", dec.Action.String()), slog.Any("error", err))
		return nil
	}
	if d.metrics != nil {
		d.metrics.AckedInc()
		if dec.Action != Publish {
			d.metrics.DiscardedInc(dec.Reason)
		}
	}
	return nil
}

// Decide classifies, filters and applies env to trip state, rendering the
// outbound message when one is due. It never touches the broker.
func (d *Dispatcher) Decide(env events.Envelope) (dec Decision, err error) {
	defer d.recoverFault("decide", env.Key, &err)

	ev, ok := d.classifier.Classify(env)
	if !ok {
		return Decision{Action: Discard, Reason: ReasonUnrecognized}, nil
	}
	if reason, rejected := d.filter.Reject(ev); rejected {
		return Decision{Action: Discard, Reason: reason, Event: ev}, nil
	}

	emit, snap := d.store.Apply(ev)
	if !emit {
		d.log.Debug("trip cancelled, estimate cached",
			slog.String("trip", ev.Trip().String()),
		)
		return Decision{Action: Skip, Reason: ReasonSuppressed, Event: ev, Snapshot: snap}, nil
	}

	trip := feed.TripFromEvent(ev)
	payload, err := feed.Marshal(feed.Render(ev.Trip(), snap, ev.EventTime(), trip))
	if err != nil {
		return Decision{}, fmt.Errorf("%w: encode trip update: %v", ErrInternal, err)
	}
	return Decision{
		Action:   Publish,
		Event:    ev,
		Snapshot: snap,
		Out: Outbound{
			Key:         ev.Trip().String(),
			RouteID:     route.Normalize(trip.RouteID),
			EventTimeMs: ev.EventTime(),
			Payload:     payload,
		},
	}, nil
}

// Act performs the broker side effect of dec, if any.
func (d *Dispatcher) Act(ctx context.Context, dec Decision) (err error) {
	if dec.Action != Publish {
		return nil
	}
	defer d.recoverFault("act", dec.Out.Key, &err)

	if err := d.pub.Publish(ctx, dec.Out); err != nil {
		return fmt.Errorf("%w: trip %s: %v", ErrPublish, dec.Out.Key, err)
	}
	d.log.Debug("published trip update",
		slog.String("trip", dec.Out.Key),
		slog.String("route", dec.Out.RouteID),
		slog.String("status", dec.Snapshot.Status.String()),
		slog.Int("predictions", len(dec.Snapshot.Predictions)),
	)
	return nil
}

// recoverFault turns a panic in one message's handling into ErrInternal so
// the consumer loop survives and the message is redelivered.
func (d *Dispatcher) recoverFault(stage, key string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	d.log.Error("panic while processing message",
		slog.String("stage", stage),
		slog.String("key", key),
		slog.Any("panic", r),
		slog.String("stack", string(debug.Stack())),
	)
	*err = fmt.Errorf("%w: %s: %v", ErrInternal, stage, r)
}

func (d *Dispatcher) nak(msg Message, cause error) {
	reason := "publish"
	if errors.Is(cause, ErrInternal) {
		reason = "internal"
	}
	d.log.Error("message not acknowledged, awaiting redelivery",
		slog.String("reason", reason),
		slog.Any("error", cause),
	)
	if err := msg.Nak(); err != nil {
		d.log.Warn("nak failed", slog.Any("error", err))
	}
	if d.metrics != nil {
		d.metrics.NackedInc(reason)
	}
}
