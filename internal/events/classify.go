package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrUnrecognized marks input that is not one of the two known events.
// It is an expected outcome and never a processing failure.
var ErrUnrecognized = errors.New("unrecognized message")

const startDateTimeLayout = "2006-01-02T15:04:05"

type stopEstimatePayload struct {
	TripID          uint64 `json:"tripId" validate:"required"`
	Type            string `json:"type" validate:"required,oneof=ARRIVAL DEPARTURE"`
	StopID          string `json:"stopId" validate:"required"`
	StopSequence    int    `json:"stopSequence" validate:"gte=0"`
	EstimatedTimeMs int64  `json:"estimatedTimeMs" validate:"required,gt=0"`
	RouteID         string `json:"routeId" validate:"required"`
	Direction       int    `json:"direction"`
}

type tripCancellationPayload struct {
	TripID        uint64 `json:"tripId" validate:"required"`
	Status        string `json:"status" validate:"required,oneof=CANCELED RUNNING"`
	RouteID       string `json:"routeId" validate:"required"`
	Direction     int    `json:"direction"`
	StartDateTime string `json:"startDateTime" validate:"required,datetime=2006-01-02T15:04:05"`
}

// Classifier decodes envelopes into typed events.
type Classifier struct {
	validate *validator.Validate
	log      *slog.Logger
}

func NewClassifier(log *slog.Logger) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{validate: validator.New(), log: log}
}

// Classify returns the decoded event, or ok=false for anything that is not a
// well-formed stop estimate or trip cancellation. Rejections are logged at
// debug level only.
func (c *Classifier) Classify(env Envelope) (Event, bool) {
	ev, err := c.Decode(env)
	if err != nil {
		c.log.Debug("discarding message",
			slog.String("schema", string(env.Schema)),
			slog.String("key", env.Key),
			slog.Int("size", len(env.Payload)),
			slog.String("reason", err.Error()),
		)
		return nil, false
	}
	return ev, true
}

// Decode is Classify with the rejection reason. Every returned error wraps
// ErrUnrecognized.
func (c *Classifier) Decode(env Envelope) (Event, error) {
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnrecognized)
	}
	var (
		ev  Event
		err error
	)
	switch env.Schema {
	case SchemaStopEstimate:
		ev, err = c.decodeStopEstimate(env)
	case SchemaTripCancellation:
		ev, err = c.decodeTripCancellation(env)
	default:
		return nil, fmt.Errorf("%w: schema %q", ErrUnrecognized, env.Schema)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnrecognized, env.Schema, err)
	}
	if env.Key != "" && env.Key != ev.Trip().String() {
		return nil, fmt.Errorf("%w: key %q does not match trip %s", ErrUnrecognized, env.Key, ev.Trip())
	}
	return ev, nil
}

func (c *Classifier) decodeStopEstimate(env Envelope) (Event, error) {
	var p stopEstimatePayload
	if err := c.unmarshal(env.Payload, &p); err != nil {
		return nil, err
	}
	kind := Arrival
	if p.Type == "DEPARTURE" {
		kind = Departure
	}
	return StopEstimate{
		TripKey:         TripKey(p.TripID),
		Kind:            kind,
		StopID:          p.StopID,
		StopSequence:    p.StopSequence,
		EstimatedTimeMs: p.EstimatedTimeMs,
		RouteID:         p.RouteID,
		Direction:       p.Direction,
		EventTimeMs:     env.EventTimeMs,
	}, nil
}

func (c *Classifier) decodeTripCancellation(env Envelope) (Event, error) {
	var p tripCancellationPayload
	if err := c.unmarshal(env.Payload, &p); err != nil {
		return nil, err
	}
	start, err := time.Parse(startDateTimeLayout, p.StartDateTime)
	if err != nil {
		return nil, err
	}
	status := Canceled
	if p.Status == "RUNNING" {
		status = Running
	}
	return TripCancellation{
		TripKey:       TripKey(p.TripID),
		Status:        status,
		RouteID:       p.RouteID,
		Direction:     p.Direction,
		StartDateTime: start,
		EventTimeMs:   env.EventTimeMs,
	}, nil
}

func (c *Classifier) unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after payload")
	}
	return c.validate.Struct(v)
}
