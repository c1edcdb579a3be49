package feed

import (
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"tripupdate-processor/internal/events"
	"tripupdate-processor/internal/route"
	"tripupdate-processor/internal/tripstate"
)

const (
	gtfsRealtimeVersion = "2.0"
	startDateLayout     = "20060102"
	startTimeLayout     = "15:04:05"
)

// Trip describes the trip descriptor fields that come from the triggering
// event rather than from stored state.
type Trip struct {
	RouteID       string // internal code, normalized on render
	FeedDirection int
	// Start is set only for cancellation-originated entities.
	Start time.Time
}

// TripFromEvent fills a Trip from an eligible event.
func TripFromEvent(ev events.Event) Trip {
	dir, _ := route.ToFeedDirection(ev.JoreDirection())
	t := Trip{RouteID: ev.Route(), FeedDirection: dir}
	if c, ok := ev.(events.TripCancellation); ok {
		t.Start = c.StartDateTime
	}
	return t
}

// Render builds a differential FeedMessage with exactly one TripUpdate entity.
func Render(key events.TripKey, snap tripstate.Snapshot, eventTimeMs int64, trip Trip) *gtfs.FeedMessage {
	ts := uint64(eventTimeMs / 1000)

	relationship := gtfs.TripDescriptor_SCHEDULED
	if snap.Status == tripstate.Canceled {
		relationship = gtfs.TripDescriptor_CANCELED
	}
	descriptor := &gtfs.TripDescriptor{
		RouteId:              proto.String(route.Normalize(trip.RouteID)),
		DirectionId:          proto.Uint32(uint32(trip.FeedDirection)),
		ScheduleRelationship: &relationship,
	}
	if !trip.Start.IsZero() {
		descriptor.StartDate = proto.String(trip.Start.Format(startDateLayout))
		descriptor.StartTime = proto.String(trip.Start.Format(startTimeLayout))
	}

	update := &gtfs.TripUpdate{
		Trip:      descriptor,
		Timestamp: proto.Uint64(ts),
	}
	if snap.Status != tripstate.Canceled {
		update.StopTimeUpdate = stopTimeUpdates(snap.Predictions)
	}

	incrementality := gtfs.FeedHeader_DIFFERENTIAL
	return &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      &incrementality,
			Timestamp:           proto.Uint64(ts),
		},
		Entity: []*gtfs.FeedEntity{{
			Id:         proto.String(key.String()),
			TripUpdate: update,
		}},
	}
}

// stopTimeUpdates never sets stop_sequence: internal sequences include
// via-points that do not exist in the public schedule.
func stopTimeUpdates(preds []tripstate.Prediction) []*gtfs.TripUpdate_StopTimeUpdate {
	out := make([]*gtfs.TripUpdate_StopTimeUpdate, 0, len(preds))
	for _, p := range preds {
		arrival, departure := p.ArrivalMs, p.DepartureMs
		switch {
		case p.HasArrival && !p.HasDeparture:
			departure = arrival
		case p.HasDeparture && !p.HasArrival:
			arrival = departure
		case !p.HasArrival && !p.HasDeparture:
			continue
		}
		out = append(out, &gtfs.TripUpdate_StopTimeUpdate{
			StopId:    proto.String(p.StopID),
			Arrival:   &gtfs.TripUpdate_StopTimeEvent{Time: proto.Int64(arrival / 1000)},
			Departure: &gtfs.TripUpdate_StopTimeEvent{Time: proto.Int64(departure / 1000)},
		})
	}
	return out
}

// Marshal encodes a feed message to its protobuf wire form.
func Marshal(msg *gtfs.FeedMessage) ([]byte, error) {
	return proto.Marshal(msg)
}
