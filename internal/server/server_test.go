package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripupdate-processor/internal/events"
	"tripupdate-processor/internal/logger"
	"tripupdate-processor/internal/tripstate"
)

func newStore(t *testing.T) *tripstate.Store {
	t.Helper()
	s := tripstate.New(tripstate.Options{})
	s.Apply(events.StopEstimate{
		TripKey: 1234567890, Kind: events.Arrival, StopID: "1140447",
		EstimatedTimeMs: 1608825600000, RouteID: "1010", Direction: 1, EventTimeMs: 1608825000000,
	})
	s.Apply(events.TripCancellation{TripKey: 1234567890, Status: events.Canceled, RouteID: "1010", Direction: 1, EventTimeMs: 1608825001000})
	return s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestTrip(t *testing.T) {
	r := NewRouter(Options{Trips: newStore(t), Log: logger.Discard()})

	rec := get(t, r, "/trips/1234567890")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body tripResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "1234567890", body.TripKey)
	assert.Equal(t, "CANCELED", body.Status)
	assert.Equal(t, int64(1608825001000), body.LastEventTimeMs)
	require.Len(t, body.Predictions, 1)
	require.NotNil(t, body.Predictions[0].ArrivalMs)
	assert.Equal(t, int64(1608825600000), *body.Predictions[0].ArrivalMs)
	assert.Nil(t, body.Predictions[0].DepartureMs)
}

func TestTrip_Errors(t *testing.T) {
	r := NewRouter(Options{Trips: newStore(t), Log: logger.Discard()})

	assert.Equal(t, http.StatusNotFound, get(t, r, "/trips/42").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, r, "/trips/not-a-trip").Code)
}

func TestHealth(t *testing.T) {
	r := NewRouter(Options{
		Trips:  newStore(t),
		Checks: map[string]HealthCheck{"nats": func(context.Context) error { return nil }},
		Log:    logger.Discard(),
	})

	rec := get(t, r, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.Checks["nats"])
	require.NotNil(t, body.TrackedTrips)
	assert.Equal(t, 1, *body.TrackedTrips)
}

func TestHealth_FailingCheck(t *testing.T) {
	r := NewRouter(Options{
		Checks: map[string]HealthCheck{
			"nats":     func(context.Context) error { return errors.New("disconnected") },
			"database": func(context.Context) error { return nil },
		},
		Log: logger.Discard(),
	})

	rec := get(t, r, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, "disconnected", body.Checks["nats"])
	assert.Equal(t, "ok", body.Checks["database"])
	assert.Nil(t, body.TrackedTrips)
}

func TestMetricsAndCORS(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("tripupdate_tracked_trips 1\n"))
	})
	r := NewRouter(Options{Metrics: metrics, Log: logger.Discard()})

	rec := get(t, r, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tripupdate_tracked_trips")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusNotFound, get(t, r, "/trips/1").Code, "trip route needs a store")
}
