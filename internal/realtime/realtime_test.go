package realtime

import (
	"testing"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

func strPtr(s string) *string { return &s }
func f32Ptr(f float32) *float32 { return &f }
func u64Ptr(u uint64) *uint64 { return &u }
func i64Ptr(i int64) *int64 { return &i }
func u32Ptr(u uint32) *uint32 { return &u }

func buildVehicleFeed(t *testing.T) []byte {
	t.Helper()
	msg := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: strPtr("2.0"),
		},
		Entity: []*gtfsrt.FeedEntity{
			{
				Id: strPtr("entity-1"),
				Vehicle: &gtfsrt.VehiclePosition{
					Vehicle: &gtfsrt.VehicleDescriptor{Id: strPtr("bus-1")},
					Trip:    &gtfsrt.TripDescriptor{TripId: strPtr("trip-1")},
					Position: &gtfsrt.Position{
						Latitude:  f32Ptr(-36.866580),
						Longitude: f32Ptr(174.757195),
					},
					Timestamp: u64Ptr(1700000000),
				},
			},
			{
				// no vehicle descriptor id: should be skipped
				Id: strPtr("entity-2"),
				Vehicle: &gtfsrt.VehiclePosition{
					Position: &gtfsrt.Position{Latitude: f32Ptr(0), Longitude: f32Ptr(0)},
				},
			},
		},
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		t.Fatalf("proto.Marshal: %v", err)
	}
	return data
}

func TestDecodeVehiclePositions(t *testing.T) {
	data := buildVehicleFeed(t)
	positions, err := DecodeVehiclePositions(data)
	if err != nil {
		t.Fatalf("DecodeVehiclePositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("len(positions) = %d, want 1 (second entity lacks a vehicle id)", len(positions))
	}
	p := positions[0]
	if p.VehicleID != "bus-1" {
		t.Fatalf("VehicleID = %q, want bus-1", p.VehicleID)
	}
	if p.TripID != "trip-1" {
		t.Fatalf("TripID = %q, want trip-1", p.TripID)
	}
	if p.Timestamp.Unix() != 1700000000 {
		t.Fatalf("Timestamp = %v, want unix 1700000000", p.Timestamp)
	}
}

func buildTripUpdateFeed(t *testing.T) []byte {
	t.Helper()
	msg := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{GtfsRealtimeVersion: strPtr("2.0")},
		Entity: []*gtfsrt.FeedEntity{
			{
				Id: strPtr("entity-1"),
				TripUpdate: &gtfsrt.TripUpdate{
					Trip: &gtfsrt.TripDescriptor{TripId: strPtr("trip-1")},
					StopTimeUpdate: []*gtfsrt.TripUpdate_StopTimeUpdate{
						{
							StopSequence: u32Ptr(5),
							Arrival: &gtfsrt.TripUpdate_StopTimeEvent{
								Time:  i64Ptr(1700000100),
								Delay: nil,
							},
						},
					},
				},
			},
		},
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		t.Fatalf("proto.Marshal: %v", err)
	}
	return data
}

func TestDecodeTripUpdates(t *testing.T) {
	data := buildTripUpdateFeed(t)
	updates, err := DecodeTripUpdates(data)
	if err != nil {
		t.Fatalf("DecodeTripUpdates: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("len(updates) = %d, want 1", len(updates))
	}
	u := updates[0]
	if u.TripID != "trip-1" {
		t.Fatalf("TripID = %q, want trip-1", u.TripID)
	}
	if len(u.StopTimeUpdates) != 1 {
		t.Fatalf("len(StopTimeUpdates) = %d, want 1", len(u.StopTimeUpdates))
	}
	if u.StopTimeUpdates[0].StopSequence != 5 {
		t.Fatalf("StopSequence = %d, want 5", u.StopTimeUpdates[0].StopSequence)
	}
	if u.StopTimeUpdates[0].ArrivalTime.Unix() != 1700000100 {
		t.Fatalf("ArrivalTime = %v, want unix 1700000100", u.StopTimeUpdates[0].ArrivalTime)
	}
}

func TestDecodeVehiclePositionsRejectsGarbage(t *testing.T) {
	if _, err := DecodeVehiclePositions([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatal("expected an error decoding garbage bytes")
	}
}
