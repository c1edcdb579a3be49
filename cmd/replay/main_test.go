package main

import (
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripupdate-processor/internal/broker"
	"tripupdate-processor/internal/events"
	"tripupdate-processor/internal/feed"
	"tripupdate-processor/internal/tripstate"
)

func TestParseLine(t *testing.T) {
	env, ok, err := parseLine(`{"schema":"StopEstimate","key":"1234567890","eventTimeMs":1608825000000,"payload":{"tripId":1234567890}}`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, events.SchemaStopEstimate, env.Schema)
	assert.Equal(t, "1234567890", env.Key)
	assert.Equal(t, int64(1608825000000), env.EventTimeMs)
	assert.JSONEq(t, `{"tripId":1234567890}`, string(env.Payload))

	env, ok, err = parseLine(`{"schema":"StopEstimate","payload":null}`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, env.Payload, "null payload replays as empty")

	_, ok, err = parseLine("  # comment")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, err = parseLine("{")
	assert.Error(t, err)
}

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "pubtrans.stopestimate.7", subjectFor("pubtrans.", events.Envelope{Schema: events.SchemaStopEstimate, Key: "7"}))
	assert.Equal(t, "pubtrans.unknown._", subjectFor("pubtrans", events.Envelope{}))
}

func TestRender(t *testing.T) {
	snap := tripstate.Snapshot{TripKey: 7, Status: tripstate.Canceled}
	payload, err := feed.Marshal(feed.Render(7, snap, 1542096708000, feed.Trip{RouteID: "1010", FeedDirection: 1}))
	require.NoError(t, err)

	msg := broker.NewMsg("gtfsrt.tripupdate.1010.7", events.Envelope{Payload: payload, EventTimeMs: 1542096708000, Key: "7"})
	line, err := render(msg)
	require.NoError(t, err)

	var got struct {
		Subject string         `json:"subject"`
		Key     string         `json:"key"`
		Feed    map[string]any `json:"feed"`
	}
	require.NoError(t, json.Unmarshal([]byte(line), &got))
	assert.Equal(t, "7", got.Key)
	assert.Contains(t, got.Feed, "entity")

	_, err = render(&nats.Msg{Data: []byte{0xff}})
	assert.Error(t, err)
}
