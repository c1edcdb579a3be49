package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"tripupdate-processor/internal/events"
	"tripupdate-processor/internal/logger"
	"tripupdate-processor/internal/tripstate"
)

// TripLookup reads current trip state.
type TripLookup interface {
	Lookup(key events.TripKey) (tripstate.Snapshot, bool)
	Len() int
}

// HealthCheck returns nil when the named dependency is usable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	Metrics http.Handler
	Trips   TripLookup
	Checks  map[string]HealthCheck
	Log     *slog.Logger
}

// NewRouter serves /metrics, /healthz and /trips/{tripKey}.
func NewRouter(opts Options) chi.Router {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	h := &handler{trips: opts.Trips, checks: opts.Checks, log: log}

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}))
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	r.Get("/healthz", h.health)
	if opts.Trips != nil {
		r.Get("/trips/{tripKey}", h.trip)
	}
	return r
}

// Serve starts an HTTP server on addr in the background.
func Serve(addr string, handler http.Handler, log *slog.Logger) *http.Server {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ops server error", slog.Any("error", err))
		}
	}()
	log.Info("ops server listening", slog.String("addr", addr))
	return srv
}

type handler struct {
	trips  TripLookup
	checks map[string]HealthCheck
	log    *slog.Logger
}

type healthResponse struct {
	Status       string            `json:"status"`
	Checks       map[string]string `json:"checks,omitempty"`
	TrackedTrips *int              `json:"trackedTrips,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Timestamp: time.Now().UTC()}
	code := http.StatusOK
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "error"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	if h.trips != nil {
		n := h.trips.Len()
		resp.TrackedTrips = &n
	}
	writeJSON(w, code, resp)
}

type predictionResponse struct {
	StopID      string `json:"stopId"`
	ArrivalMs   *int64 `json:"arrivalMs,omitempty"`
	DepartureMs *int64 `json:"departureMs,omitempty"`
}

type tripResponse struct {
	TripKey         string               `json:"tripKey"`
	Status          string               `json:"status"`
	LastEventTimeMs int64                `json:"lastEventTimeMs"`
	Predictions     []predictionResponse `json:"predictions"`
}

func (h *handler) trip(w http.ResponseWriter, r *http.Request) {
	key, err := events.ParseTripKey(chi.URLParam(r, "tripKey"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "trip key must be a decimal trip id"})
		return
	}
	snap, ok := h.trips.Lookup(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "trip not tracked"})
		return
	}

	resp := tripResponse{
		TripKey:         snap.TripKey.String(),
		Status:          snap.Status.String(),
		LastEventTimeMs: snap.LastEventTimeMs,
		Predictions:     make([]predictionResponse, 0, len(snap.Predictions)),
	}
	for _, p := range snap.Predictions {
		pr := predictionResponse{StopID: p.StopID}
		if p.HasArrival {
			pr.ArrivalMs = &p.ArrivalMs
		}
		if p.HasDeparture {
			pr.DepartureMs = &p.DepartureMs
		}
		resp.Predictions = append(resp.Predictions, pr)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
