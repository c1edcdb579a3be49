package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"tripupdate-processor/internal/events"
	"tripupdate-processor/internal/router"
)

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
}

// Publisher writes TripUpdates to JetStream and returns once the stream has
// acknowledged them.
type Publisher struct {
	js          jetstream.JetStream
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
	log         *slog.Logger
}

func NewPublisher(js jetstream.JetStream, prefix string, logSubjects bool, m PublisherMetrics, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{js: js, prefix: strings.TrimSuffix(prefix, "."), logSubjects: logSubjects, metrics: m, log: log}
}

// Subject is <prefix>.<route>.<trip>.
func (p *Publisher) Subject(out router.Outbound) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(out.RouteID), subjectToken(out.Key))
}

func (p *Publisher) Publish(ctx context.Context, out router.Outbound) error {
	subject := p.Subject(out)
	msg := NewMsg(subject, events.Envelope{
		Payload:     out.Payload,
		EventTimeMs: out.EventTimeMs,
		Key:         out.Key,
		Schema:      events.SchemaTripUpdate,
	})
	msg.Header.Set(HeaderProducer, InstanceID())
	if p.logSubjects {
		p.log.Info("nats publish", slog.String("subject", subject))
	}
	start := time.Now()
	ack, err := p.js.PublishMsg(ctx, msg)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return err
	}
	if ack.Duplicate {
		p.log.Debug("publish deduplicated by stream", slog.String("subject", subject))
	}
	return nil
}

// EnsureStream creates or updates the stream that stores published
// TripUpdates so every publish gets a PubAck.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name, prefix string, maxAge time.Duration) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: []string{strings.TrimSuffix(prefix, ".") + ".>"},
		Storage:  jetstream.FileStorage,
		MaxAge:   maxAge,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", name, err)
	}
	return nil
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
