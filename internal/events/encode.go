package events

import (
	"encoding/json"
	"fmt"
)

// Marshal encodes an event into the JSON payload and schema tag understood
// by Classifier.
func Marshal(ev Event) ([]byte, Schema, error) {
	switch e := ev.(type) {
	case StopEstimate:
		b, err := json.Marshal(stopEstimatePayload{
			TripID:          uint64(e.TripKey),
			Type:            e.Kind.String(),
			StopID:          e.StopID,
			StopSequence:    e.StopSequence,
			EstimatedTimeMs: e.EstimatedTimeMs,
			RouteID:         e.RouteID,
			Direction:       e.Direction,
		})
		return b, SchemaStopEstimate, err
	case TripCancellation:
		b, err := json.Marshal(tripCancellationPayload{
			TripID:        uint64(e.TripKey),
			Status:        e.Status.String(),
			RouteID:       e.RouteID,
			Direction:     e.Direction,
			StartDateTime: e.StartDateTime.Format(startDateTimeLayout),
		})
		return b, SchemaTripCancellation, err
	default:
		return nil, "", fmt.Errorf("marshal: unsupported event %T", ev)
	}
}

// NewEnvelope wraps an event the way an upstream producer would publish it.
func NewEnvelope(ev Event, eventTimeMs int64) (Envelope, error) {
	b, schema, err := Marshal(ev)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Payload:     b,
		EventTimeMs: eventTimeMs,
		Key:         ev.Trip().String(),
		Schema:      schema,
	}, nil
}
