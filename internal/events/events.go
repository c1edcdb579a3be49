package events

import (
	"encoding/json"
	"strconv"
	"time"
)

// Schema identifies the payload type carried in an envelope.
type Schema string

const (
	SchemaStopEstimate     Schema = "StopEstimate"
	SchemaTripCancellation Schema = "TripCancellation"
	SchemaTripUpdate       Schema = "GTFS_TripUpdate"
)

// Envelope is one inbound broker message before decoding.
type Envelope struct {
	Payload     []byte
	EventTimeMs int64
	Key         string // trip identifier, empty when absent
	Schema      Schema // empty when absent
}

// TripKey identifies one scheduled trip instance (the DVJ id).
type TripKey uint64

func (k TripKey) String() string { return strconv.FormatUint(uint64(k), 10) }

// ParseTripKey parses the decimal form produced by TripKey.String.
func ParseTripKey(s string) (TripKey, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return TripKey(v), nil
}

// Event is either a StopEstimate or a TripCancellation.
type Event interface {
	Trip() TripKey
	Route() string
	JoreDirection() int
	EventTime() int64
	isEvent()
}

type EstimateKind int

const (
	Arrival EstimateKind = iota + 1
	Departure
)

func (k EstimateKind) String() string {
	switch k {
	case Arrival:
		return "ARRIVAL"
	case Departure:
		return "DEPARTURE"
	default:
		return "UNKNOWN"
	}
}

// StopEstimate is a predicted arrival or departure at one stop.
// StopSequence is the internal via-point sequence and is never published.
type StopEstimate struct {
	TripKey         TripKey
	Kind            EstimateKind
	StopID          string
	StopSequence    int
	EstimatedTimeMs int64
	RouteID         string
	Direction       int
	EventTimeMs     int64
}

func (e StopEstimate) Trip() TripKey      { return e.TripKey }
func (e StopEstimate) Route() string      { return e.RouteID }
func (e StopEstimate) JoreDirection() int { return e.Direction }
func (e StopEstimate) EventTime() int64   { return e.EventTimeMs }
func (StopEstimate) isEvent()             {}

type CancellationStatus int

const (
	Canceled CancellationStatus = iota + 1
	Running
)

func (s CancellationStatus) String() string {
	switch s {
	case Canceled:
		return "CANCELED"
	case Running:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}

// TripCancellation sets or clears the cancelled status of a trip.
// StartDateTime is the trip's scheduled local start, zone-less.
type TripCancellation struct {
	TripKey       TripKey
	Status        CancellationStatus
	RouteID       string
	Direction     int
	StartDateTime time.Time
	EventTimeMs   int64
}

func (e TripCancellation) Trip() TripKey      { return e.TripKey }
func (e TripCancellation) Route() string      { return e.RouteID }
func (e TripCancellation) JoreDirection() int { return e.Direction }
func (e TripCancellation) EventTime() int64   { return e.EventTimeMs }
func (TripCancellation) isEvent()             {}

// RoutingKey returns the trip a message belongs to without validating it:
// the envelope key when present, else the payload's tripId, else "".
func RoutingKey(env Envelope) string {
	if env.Key != "" {
		return env.Key
	}
	var p struct {
		TripID uint64 `json:"tripId"`
	}
	if json.Unmarshal(env.Payload, &p) != nil || p.TripID == 0 {
		return ""
	}
	return TripKey(p.TripID).String()
}
