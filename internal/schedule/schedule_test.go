package schedule

import (
	"testing"

	"github.com/transitnet/flowmodel/internal/geo"
)

func sampleShape() Shape {
	return Shape{
		ID: "shape-1",
		Path: []ShapePt{
			{Coord: geo.Coord{Lat: 0, Lng: 0}, DistTraveled: 0},
			{Coord: geo.Coord{Lat: 0, Lng: 0.01}, DistTraveled: 1000},
			{Coord: geo.Coord{Lat: 0, Lng: 0.02}, DistTraveled: 2000},
		},
		Segments: []ShapeSegment{
			{SegmentID: "seg-a", ShapeDistTraveled: 0},
			{SegmentID: "seg-b", ShapeDistTraveled: 1000},
		},
	}
}

func TestShapeLength(t *testing.T) {
	s := sampleShape()
	if got := s.Length(); got != 2000 {
		t.Fatalf("Length() = %v, want 2000", got)
	}
	if (Shape{}).Length() != 0 {
		t.Fatal("empty shape length should be 0")
	}
}

func TestShapeValidateEmptyPath(t *testing.T) {
	s := Shape{ID: "empty"}
	if err := s.validate(); err == nil {
		t.Fatal("expected error for empty shape path")
	}
}

func TestShapeValidateNonDecreasingDist(t *testing.T) {
	s := sampleShape()
	s.Path[2].DistTraveled = 500
	if err := s.validate(); err == nil {
		t.Fatal("expected error for decreasing dist_traveled")
	}
}

func TestShapeValidateFirstSegmentMustStartAtZero(t *testing.T) {
	s := sampleShape()
	s.Segments[0].ShapeDistTraveled = 10
	if err := s.validate(); err == nil {
		t.Fatal("expected error for first segment not starting at 0")
	}
}

func TestSegmentType(t *testing.T) {
	cases := []struct {
		name string
		seg  Segment
		want SegmentType
	}{
		{"int-int", Segment{Start: Endpoint{Kind: EndpointIntersection}, End: Endpoint{Kind: EndpointIntersection}}, IntToInt},
		{"stop-int", Segment{Start: Endpoint{Kind: EndpointStop}, End: Endpoint{Kind: EndpointIntersection}}, StopToInt},
		{"int-stop", Segment{Start: Endpoint{Kind: EndpointIntersection}, End: Endpoint{Kind: EndpointStop}}, IntToStop},
		{"stop-stop", Segment{Start: Endpoint{Kind: EndpointStop}, End: Endpoint{Kind: EndpointStop}}, StopToStop},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.seg.Type(); got != c.want {
				t.Errorf("Type() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestSegmentAddSampleRingBuffer(t *testing.T) {
	s := Segment{ID: "s1"}
	for i := 0; i < recentSampleCapacity+5; i++ {
		s.AddSample(float64(i))
	}
	samples := s.RecentSamples()
	if len(samples) != recentSampleCapacity {
		t.Fatalf("len(samples) = %d, want %d", len(samples), recentSampleCapacity)
	}
	if samples[0] != 5 {
		t.Fatalf("oldest retained sample = %v, want 5 (first 5 evicted)", samples[0])
	}
	if samples[len(samples)-1] != float64(recentSampleCapacity+4) {
		t.Fatalf("newest sample = %v, want %v", samples[len(samples)-1], recentSampleCapacity+4)
	}
}

func TestSegmentValidate(t *testing.T) {
	bad := Segment{ID: "s1", LengthMeters: 0}
	if err := bad.validate(); err == nil {
		t.Fatal("expected error for zero length segment")
	}
	bad2 := Segment{ID: "s2", LengthMeters: 10, TravelTimeVar: -1}
	if err := bad2.validate(); err == nil {
		t.Fatal("expected error for negative travel time variance")
	}
}

func TestRouteValidate(t *testing.T) {
	r := Route{
		ID: "r1",
		Stops: []RouteStop{
			{StopID: "a", ShapeDistTraveled: 0},
			{StopID: "b", ShapeDistTraveled: 100},
			{StopID: "c", ShapeDistTraveled: 50},
		},
	}
	if err := r.validate(); err == nil {
		t.Fatal("expected error for non-increasing shape_dist_traveled")
	}
}

func TestTripValidate(t *testing.T) {
	trip := Trip{
		ID: "t1",
		StopTimes: []StopTime{
			{StopID: "a", ArrivalSeconds: 100, DepartureSeconds: 90},
		},
	}
	if err := trip.validate(); err == nil {
		t.Fatal("expected error for departure before arrival")
	}
}

func buildTestCatalogue(t *testing.T) *Catalogue {
	t.Helper()
	stops := map[string]Stop{
		"stop-a": {ID: "stop-a", Coord: geo.Coord{Lat: 0, Lng: 0}},
		"stop-b": {ID: "stop-b", Coord: geo.Coord{Lat: 0, Lng: 0.02}},
	}
	intersections := map[string]Intersection{
		"int-1": {ID: "int-1", Coord: geo.Coord{Lat: 0, Lng: 0.01}, Type: TrafficLight},
	}
	segments := map[string]Segment{
		"seg-a": {ID: "seg-a", Start: Endpoint{Kind: EndpointStop, ID: "stop-a"}, End: Endpoint{Kind: EndpointIntersection, ID: "int-1"}, LengthMeters: 1000},
		"seg-b": {ID: "seg-b", Start: Endpoint{Kind: EndpointIntersection, ID: "int-1"}, End: Endpoint{Kind: EndpointStop, ID: "stop-b"}, LengthMeters: 1000},
	}
	shapes := map[string]Shape{"shape-1": sampleShape()}
	routes := map[string]Route{
		"route-1": {
			ID:      "route-1",
			ShapeID: "shape-1",
			Stops: []RouteStop{
				{StopID: "stop-a", ShapeDistTraveled: 0},
				{StopID: "stop-b", ShapeDistTraveled: 2000},
			},
		},
	}
	trips := map[string]Trip{
		"trip-1": {
			ID:      "trip-1",
			RouteID: "route-1",
			StopTimes: []StopTime{
				{StopID: "stop-a", ArrivalSeconds: 0, DepartureSeconds: 0},
				{StopID: "stop-b", ArrivalSeconds: 300, DepartureSeconds: 300},
			},
		},
	}
	return NewCatalogue(stops, intersections, segments, shapes, routes, trips)
}

func TestCatalogueValidateHappyPath(t *testing.T) {
	cat := buildTestCatalogue(t)
	if err := cat.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestCatalogueValidateCatchesMissingReference(t *testing.T) {
	cat := buildTestCatalogue(t)
	trip := cat.trips["trip-1"]
	trip.StopTimes = append(trip.StopTimes, StopTime{StopID: "no-such-stop", ArrivalSeconds: 400, DepartureSeconds: 400})
	cat.trips["trip-1"] = trip
	if err := cat.Validate(); err == nil {
		t.Fatal("expected Validate() to catch the dangling stop reference")
	}
}

func TestCatalogueTripShape(t *testing.T) {
	cat := buildTestCatalogue(t)
	shape, ok := cat.TripShape("trip-1")
	if !ok {
		t.Fatal("expected to resolve trip-1's shape")
	}
	if shape.ID != "shape-1" {
		t.Fatalf("shape.ID = %q, want shape-1", shape.ID)
	}
	if _, ok := cat.TripShape("no-such-trip"); ok {
		t.Fatal("expected ok=false for unknown trip")
	}
}

func TestCatalogueUpdateSegmentStats(t *testing.T) {
	cat := buildTestCatalogue(t)
	cat.UpdateSegmentStats("seg-a", 62.0, 4.0, []float64{60, 64})
	seg, ok := cat.Segment("seg-a")
	if !ok {
		t.Fatal("seg-a missing after update")
	}
	if seg.TravelTimeMean != 62.0 || seg.TravelTimeVar != 4.0 {
		t.Fatalf("segment stats not updated: %+v", seg)
	}
	if len(seg.RecentSamples()) != 2 {
		t.Fatalf("RecentSamples() len = %d, want 2", len(seg.RecentSamples()))
	}
}
