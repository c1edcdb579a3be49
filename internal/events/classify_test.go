package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2020, 12, 24, 18, 0, 0, 0, time.UTC)

func TestClassify_StopEstimate(t *testing.T) {
	c := NewClassifier(nil)
	in := StopEstimate{
		TripKey:         1234567890,
		Kind:            Departure,
		StopID:          "1140447",
		StopSequence:    3,
		EstimatedTimeMs: 1608825600000,
		RouteID:         "7575",
		Direction:       2,
	}
	env, err := NewEnvelope(in, 1608825000123)
	require.NoError(t, err)

	ev, ok := c.Classify(env)
	require.True(t, ok)
	got, isEstimate := ev.(StopEstimate)
	require.True(t, isEstimate)

	in.EventTimeMs = 1608825000123
	assert.Equal(t, in, got)
}

func TestClassify_TripCancellation(t *testing.T) {
	c := NewClassifier(nil)
	in := TripCancellation{
		TripKey:       1234567890,
		Status:        Running,
		RouteID:       "4250D8",
		Direction:     1,
		StartDateTime: testStart,
	}
	env, err := NewEnvelope(in, 42)
	require.NoError(t, err)

	ev, ok := c.Classify(env)
	require.True(t, ok)
	got, isCancellation := ev.(TripCancellation)
	require.True(t, isCancellation)
	assert.Equal(t, Running, got.Status)
	assert.Equal(t, "4250D8", got.RouteID)
	assert.True(t, testStart.Equal(got.StartDateTime))
	assert.Equal(t, int64(42), got.EventTime())
}

func TestClassify_DirectionIsNotValidatedHere(t *testing.T) {
	c := NewClassifier(nil)
	env, err := NewEnvelope(TripCancellation{
		TripKey: 1, Status: Canceled, RouteID: "7575", Direction: 0, StartDateTime: testStart,
	}, 1)
	require.NoError(t, err)

	ev, ok := c.Classify(env)
	require.True(t, ok)
	assert.Equal(t, 0, ev.JoreDirection())
}

func TestClassify_Rejects(t *testing.T) {
	c := NewClassifier(nil)
	valid, err := NewEnvelope(StopEstimate{
		TripKey: 99, Kind: Arrival, StopID: "1", EstimatedTimeMs: 1000, RouteID: "1010", Direction: 1,
	}, 1)
	require.NoError(t, err)

	tests := []struct {
		name string
		env  Envelope
	}{
		{"empty payload", Envelope{Schema: SchemaStopEstimate}},
		{"no schema", Envelope{Payload: []byte("dummy-content"), Key: "invalid-key"}},
		{"unknown schema", Envelope{Payload: valid.Payload, Schema: "VehiclePosition"}},
		{"garbage payload", Envelope{Payload: []byte("dummy-content"), Schema: SchemaStopEstimate}},
		{"wrong schema for payload", Envelope{Payload: valid.Payload, Schema: SchemaTripCancellation}},
		{"mismatched key", Envelope{Payload: valid.Payload, Schema: SchemaStopEstimate, Key: "100"}},
		{"unknown field", Envelope{Payload: []byte(`{"tripId":1,"type":"ARRIVAL","stopId":"1","estimatedTimeMs":5,"routeId":"1010","extra":true}`), Schema: SchemaStopEstimate}},
		{"missing stop", Envelope{Payload: []byte(`{"tripId":1,"type":"ARRIVAL","estimatedTimeMs":5,"routeId":"1010"}`), Schema: SchemaStopEstimate}},
		{"bad type", Envelope{Payload: []byte(`{"tripId":1,"type":"PASS","stopId":"1","estimatedTimeMs":5,"routeId":"1010"}`), Schema: SchemaStopEstimate}},
		{"bad status", Envelope{Payload: []byte(`{"tripId":1,"status":"DELAYED","routeId":"1010","startDateTime":"2020-12-24T18:00:00"}`), Schema: SchemaTripCancellation}},
		{"bad start", Envelope{Payload: []byte(`{"tripId":1,"status":"CANCELED","routeId":"1010","startDateTime":"24.12.2020"}`), Schema: SchemaTripCancellation}},
		{"trailing data", Envelope{Payload: append(append([]byte{}, valid.Payload...), []byte(`{}`)...), Schema: SchemaStopEstimate}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok := c.Classify(tc.env)
			assert.False(t, ok)
			assert.Nil(t, ev)

			_, err := c.Decode(tc.env)
			assert.True(t, errors.Is(err, ErrUnrecognized), "got %v", err)
		})
	}
}

func TestClassify_KeyIsOptional(t *testing.T) {
	c := NewClassifier(nil)
	env, err := NewEnvelope(StopEstimate{
		TripKey: 7, Kind: Arrival, StopID: "1", EstimatedTimeMs: 1000, RouteID: "1010", Direction: 1,
	}, 1)
	require.NoError(t, err)
	env.Key = ""

	_, ok := c.Classify(env)
	assert.True(t, ok)
}

func TestTripKey_RoundTrip(t *testing.T) {
	k, err := ParseTripKey("1234567890")
	require.NoError(t, err)
	assert.Equal(t, TripKey(1234567890), k)
	assert.Equal(t, "1234567890", k.String())

	_, err = ParseTripKey("invalid-key")
	assert.Error(t, err)
}

func TestRoutingKey(t *testing.T) {
	env, err := NewEnvelope(StopEstimate{
		TripKey: 42, Kind: Arrival, StopID: "1", EstimatedTimeMs: 1000, RouteID: "1010", Direction: 1,
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, "42", RoutingKey(env))

	env.Key = ""
	assert.Equal(t, "42", RoutingKey(env))

	assert.Equal(t, "", RoutingKey(Envelope{Payload: []byte("not json")}))
	assert.Equal(t, "abc", RoutingKey(Envelope{Key: "abc", Payload: []byte("x")}))
}
