package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	MessagesReceived prometheus.Counter
	MessagesAcked    prometheus.Counter
	MessagesNacked   *prometheus.CounterVec // reason label: publish|internal
	Discarded        *prometheus.CounterVec // reason label: unrecognized|excluded_route|invalid_direction|suppressed
	ProcessDuration  prometheus.Histogram

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	TripEvictions    prometheus.Counter
	CatalogRefreshes *prometheus.CounterVec // result label: ok|error
	CatalogRoutes    prometheus.Gauge

	Workers prometheus.Gauge
	AckWait prometheus.Gauge // seconds
}

func NewCollector(workers int, ackWait time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripupdate_messages_received_total",
			Help: "Inbound messages handed to the dispatcher.",
		}),
		MessagesAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripupdate_messages_acked_total",
			Help: "Inbound messages acknowledged.",
		}),
		MessagesNacked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripupdate_messages_nacked_total",
			Help: "Inbound messages negatively acknowledged for redelivery.",
		}, []string{"reason"}),
		Discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripupdate_messages_discarded_total",
			Help: "Inbound messages acknowledged without publishing.",
		}, []string{"reason"}),
		ProcessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tripupdate_process_duration_seconds",
			Help:    "Time from receipt to acknowledgement of one message.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripupdate_nats_published_total",
			Help: "Total TripUpdate messages published and confirmed.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripupdate_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripupdate_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tripupdate_publish_duration_seconds",
			Help:    "Duration to publish a message and receive its ack.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		TripEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripupdate_trip_evictions_total",
			Help: "Trips dropped from state by idle TTL or capacity.",
		}),
		CatalogRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripupdate_route_catalog_refreshes_total",
			Help: "Route catalog reloads from the GTFS database.",
		}, []string{"result"}),
		CatalogRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripupdate_route_catalog_routes",
			Help: "Routes known to the route catalog.",
		}),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripupdate_workers",
			Help: "Configured dispatcher lanes.",
		}),
		AckWait: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripupdate_ack_wait_seconds",
			Help: "Broker ack wait in seconds.",
		}),
	}

	reg.MustRegister(
		c.MessagesReceived, c.MessagesAcked, c.MessagesNacked, c.Discarded, c.ProcessDuration,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.TripEvictions, c.CatalogRefreshes, c.CatalogRoutes,
		c.Workers, c.AckWait,
	)

	c.Workers.Set(float64(workers))
	c.AckWait.Set(ackWait.Seconds())

	return c
}

// TrackTrips exposes a live trip count read at scrape time.
func (c *Collector) TrackTrips(count func() int) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tripupdate_tracked_trips",
		Help: "Trips currently held in state.",
	}, func() float64 { return float64(count()) }))
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) ReceivedInc()               { c.MessagesReceived.Inc() }
func (c *Collector) AckedInc()                  { c.MessagesAcked.Inc() }
func (c *Collector) NackedInc(reason string)    { c.MessagesNacked.WithLabelValues(reason).Inc() }
func (c *Collector) DiscardedInc(reason string) { c.Discarded.WithLabelValues(reason).Inc() }
func (c *Collector) ProcessObserve(d time.Duration) {
	c.ProcessDuration.Observe(d.Seconds())
}

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }
func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) TripEvictedInc() { c.TripEvictions.Inc() }

func (c *Collector) CatalogRefreshed(routes int, err error) {
	if err != nil {
		c.CatalogRefreshes.WithLabelValues("error").Inc()
		return
	}
	c.CatalogRefreshes.WithLabelValues("ok").Inc()
	c.CatalogRoutes.Set(float64(routes))
}
