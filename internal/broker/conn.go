package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

type ConnMetrics interface {
	NATSSetConnected(connected bool)
}

type ConnOptions struct {
	// MaxElapsed bounds the initial connect retries; zero retries until ctx is done.
	MaxElapsed time.Duration
	Metrics    ConnMetrics
	Log        *slog.Logger
}

var instanceID = uuid.NewString()

// InstanceID is generated once per process. It names the NATS connection
// and tags every published message.
func InstanceID() string { return instanceID }

func instanceName() string {
	return "tripupdate-processor-" + instanceID[:8]
}

// Connect dials url, retrying with exponential backoff until the server
// answers, MaxElapsed passes or ctx is cancelled.
func Connect(ctx context.Context, url string, opts ConnOptions) (*nats.Conn, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	m := opts.Metrics
	name := instanceName()

	dial := func() (*nats.Conn, error) {
		return nats.Connect(url,
			nats.Name(name),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if m != nil {
					m.NATSSetConnected(false)
				}
				log.Warn("nats disconnected", slog.Any("error", err))
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				if m != nil {
					m.NATSSetConnected(true)
				}
				log.Info("nats reconnected", slog.String("url", nc.ConnectedUrlRedacted()))
			}),
			nats.ClosedHandler(func(_ *nats.Conn) {
				if m != nil {
					m.NATSSetConnected(false)
				}
				log.Info("nats closed")
			}),
		)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = opts.MaxElapsed

	var nc *nats.Conn
	err := backoff.RetryNotify(func() error {
		var err error
		nc, err = dial()
		return err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		log.Warn("nats connect failed, retrying", slog.Any("error", err), slog.Duration("in", next))
	})
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	log.Info("nats connected", slog.String("name", name), slog.String("url", nc.ConnectedUrlRedacted()))
	return nc, nil
}

// Close drains nc so in-flight acks and publishes complete first.
func Close(nc *nats.Conn) {
	if nc == nil {
		return
	}
	_ = nc.Drain()
	nc.Close()
}
