// Package realtime decodes GTFS-Realtime protobuf feed messages into the
// domain-level VehiclePosition/TripUpdate events the filter consumes,
// and polls a feed URL on an interval with retry/backoff.
package realtime

import (
	"fmt"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/transitnet/flowmodel/internal/geo"
)

// VehiclePosition is the decoded subset of a GTFS-Realtime
// FeedEntity.Vehicle message that the particle filter needs: vehicle
// id, trip id, position, and observation timestamp.
type VehiclePosition struct {
	VehicleID string
	TripID    string
	Position  geo.Coord
	Timestamp time.Time
}

// StopTimeUpdate is one stop-time constraint within a TripUpdate.
type StopTimeUpdate struct {
	StopSequence  int
	ArrivalTime   time.Time
	DepartureTime time.Time
	Delay         time.Duration
}

// TripUpdate is the decoded subset of a GTFS-Realtime
// FeedEntity.TripUpdate message.
type TripUpdate struct {
	TripID          string
	StopTimeUpdates []StopTimeUpdate
}

// DecodeVehiclePositions unmarshals a GTFS-Realtime FeedMessage and
// returns every vehicle position entity it contains. Entities missing a
// vehicle identifier are skipped (and would otherwise have no key to
// route to a Vehicle actor).
func DecodeVehiclePositions(data []byte) ([]VehiclePosition, error) {
	msg := &gtfsrt.FeedMessage{}
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("realtime: unmarshaling FeedMessage: %w", err)
	}

	var out []VehiclePosition
	for _, entity := range msg.GetEntity() {
		v := entity.GetVehicle()
		if v == nil {
			continue
		}
		descriptor := v.GetVehicle()
		if descriptor == nil || descriptor.GetId() == "" {
			continue
		}
		pos := v.GetPosition()
		if pos == nil {
			continue
		}

		ts := time.Now()
		if v.Timestamp != nil {
			ts = time.Unix(int64(v.GetTimestamp()), 0).UTC()
		}

		out = append(out, VehiclePosition{
			VehicleID: descriptor.GetId(),
			TripID:    v.GetTrip().GetTripId(),
			Position:  geo.Coord{Lat: float64(pos.GetLatitude()), Lng: float64(pos.GetLongitude())},
			Timestamp: ts,
		})
	}
	return out, nil
}

// DecodeTripUpdates unmarshals a GTFS-Realtime FeedMessage and returns
// every TripUpdate entity it contains.
func DecodeTripUpdates(data []byte) ([]TripUpdate, error) {
	msg := &gtfsrt.FeedMessage{}
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("realtime: unmarshaling FeedMessage: %w", err)
	}

	var out []TripUpdate
	for _, entity := range msg.GetEntity() {
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}
		tripID := tu.GetTrip().GetTripId()
		if tripID == "" {
			continue
		}

		update := TripUpdate{TripID: tripID}
		for _, stu := range tu.GetStopTimeUpdate() {
			entry := StopTimeUpdate{StopSequence: int(stu.GetStopSequence())}
			if arr := stu.GetArrival(); arr != nil {
				if arr.Time != nil {
					entry.ArrivalTime = time.Unix(arr.GetTime(), 0).UTC()
				}
				entry.Delay = time.Duration(arr.GetDelay()) * time.Second
			}
			if dep := stu.GetDeparture(); dep != nil {
				if dep.Time != nil {
					entry.DepartureTime = time.Unix(dep.GetTime(), 0).UTC()
				}
			}
			update.StopTimeUpdates = append(update.StopTimeUpdates, entry)
		}
		out = append(out, update)
	}
	return out, nil
}
