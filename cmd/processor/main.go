package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go/jetstream"

	"tripupdate-processor/internal/broker"
	"tripupdate-processor/internal/config"
	"tripupdate-processor/internal/db"
	"tripupdate-processor/internal/events"
	"tripupdate-processor/internal/logger"
	"tripupdate-processor/internal/metrics"
	"tripupdate-processor/internal/route"
	"tripupdate-processor/internal/router"
	"tripupdate-processor/internal/server"
	"tripupdate-processor/internal/tripstate"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	lg := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(lg)

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mcol := metrics.NewCollector(cfg.Workers, cfg.AckWait)

	rules, err := route.LoadRules(cfg.FilterRulesFile)
	if err != nil {
		fatal(lg, "filter rules", err)
	}

	// Optional route catalog for route_type exclusions
	var (
		routeTypes route.RouteTypes
		source     *db.Source
		catalog    *db.Catalog
	)
	if cfg.DatabaseURL != "" {
		source, err = connectSource(ctx, cfg, lg)
		if err != nil {
			fatal(lg, "route database", err)
		}
		defer source.Close()
		catalog = db.NewCatalog(source, mcol, lg)
		if err := catalog.Refresh(ctx); err != nil {
			fatal(lg, "initial route catalog load", err)
		}
		catalog.StartRefresher(ctx, cfg.CatalogRefresh)
		routeTypes = catalog
	} else {
		lg.Info("no route database configured, filtering by route patterns only")
	}

	filter, err := route.NewFilter(rules, routeTypes, lg)
	if err != nil {
		fatal(lg, "filter", err)
	}

	store := tripstate.New(tripstate.Options{
		MaxTrips: cfg.TripStateMax,
		TTL:      cfg.TripStateTTL,
		OnEvict: func(k events.TripKey) {
			mcol.TripEvictedInc()
			lg.Debug("trip state evicted", slog.String("trip", k.String()))
		},
	})
	mcol.TrackTrips(store.Len)

	nc, err := broker.Connect(ctx, cfg.NATSURL, broker.ConnOptions{
		MaxElapsed: cfg.ConnectMaxElapsed,
		Metrics:    mcol,
		Log:        lg,
	})
	if err != nil {
		fatal(lg, "nats connect", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		fatal(lg, "jetstream", err)
	}
	if cfg.NATSOutputStream != "" {
		if err := broker.EnsureStream(ctx, js, cfg.NATSOutputStream, cfg.NATSOutputPrefix, cfg.OutputMaxAge); err != nil {
			fatal(lg, "output stream", err)
		}
	}

	pub := broker.NewPublisher(js, cfg.NATSOutputPrefix, cfg.LogNATSSubjects, mcol, lg)
	disp := router.NewDispatcher(events.NewClassifier(lg), filter, store, pub, mcol, lg)

	// Lanes outlive the signal so queued messages finish publishing during shutdown.
	depth := cfg.MaxAckPending / cfg.Workers
	lanes := router.NewLanes(context.Background(), disp, cfg.Workers, depth, lg)

	// Ops server
	var srv *http.Server
	if cfg.MetricsAddr != "" {
		checks := map[string]server.HealthCheck{
			"nats": func(context.Context) error {
				if !nc.IsConnected() {
					return errors.New(nc.Status().String())
				}
				return nil
			},
		}
		if source != nil {
			checks["database"] = source.Ping
		}
		srv = server.Serve(cfg.MetricsAddr, server.NewRouter(server.Options{
			Metrics: mcol.Handler(),
			Trips:   store,
			Checks:  checks,
			Log:     lg,
		}), lg)
	}

	consumer, err := broker.NewConsumer(ctx, js, broker.ConsumerConfig{
		Stream:        cfg.NATSStreamName,
		Durable:       cfg.NATSConsumerName,
		FilterSubject: cfg.NATSSourceSubject,
		AckWait:       cfg.AckWait,
		MaxAckPending: cfg.MaxAckPending,
	}, lg)
	if err != nil {
		fatal(lg, "consumer", err)
	}

	lg.Info("processor started",
		slog.String("stream", cfg.NATSStreamName),
		slog.String("output_prefix", cfg.NATSOutputPrefix),
		slog.Int("workers", cfg.Workers),
		slog.Duration("trip_ttl", cfg.TripStateTTL),
	)

	// Blocks until the signal, then drains pulled messages into the lanes.
	if err := consumer.Run(ctx, lanes.Submit); err != nil {
		lg.Error("consumer error", slog.Any("error", err))
	}

	lanes.Close()
	broker.Close(nc)
	if catalog != nil {
		catalog.Wait()
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	lg.Info("shutdown complete", slog.Int("tracked_trips", store.Len()))
}

// connectSource retries the route database like the broker connection.
func connectSource(ctx context.Context, cfg *config.Config, lg *slog.Logger) (*db.Source, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = cfg.ConnectMaxElapsed

	var source *db.Source
	err := backoff.RetryNotify(func() error {
		var err error
		source, err = db.NewSource(ctx, cfg.DatabaseURL, cfg.City, lg)
		return err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		lg.Warn("route database unavailable, retrying", slog.Any("error", err), slog.Duration("in", next))
	})
	return source, err
}

func fatal(lg *slog.Logger, what string, err error) {
	lg.Error(what+" failed", slog.Any("error", err))
	os.Exit(1)
}
