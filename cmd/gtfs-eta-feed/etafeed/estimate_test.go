package etafeed

import (
	"testing"
	"time"

	"github.com/transitnet/flowmodel/internal/schedule"
	"github.com/transitnet/flowmodel/internal/store"
)

// buildStraightLineCatalogue builds a single trip running the length of
// one 1000m shape split into two 500m segments, the first with a
// learned travel-time prior and the second without one.
func buildStraightLineCatalogue(t *testing.T) *schedule.Catalogue {
	t.Helper()

	segments := map[string]schedule.Segment{
		"seg-a": {ID: "seg-a", Start: schedule.Endpoint{Kind: schedule.EndpointStop, ID: "stop-1"},
			End: schedule.Endpoint{Kind: schedule.EndpointStop, ID: "stop-2"}, LengthMeters: 500, TravelTimeMean: 50},
		"seg-b": {ID: "seg-b", Start: schedule.Endpoint{Kind: schedule.EndpointStop, ID: "stop-2"},
			End: schedule.Endpoint{Kind: schedule.EndpointStop, ID: "stop-3"}, LengthMeters: 500},
	}
	shapes := map[string]schedule.Shape{
		"shape-1": {
			ID: "shape-1",
			Path: []schedule.ShapePt{
				{DistTraveled: 0}, {DistTraveled: 1000},
			},
			Segments: []schedule.ShapeSegment{
				{SegmentID: "seg-a", ShapeDistTraveled: 0},
				{SegmentID: "seg-b", ShapeDistTraveled: 500},
			},
		},
	}
	trips := map[string]schedule.Trip{
		"trip-1": {
			ID:      "trip-1",
			RouteID: "route-1",
			StopTimes: []schedule.StopTime{
				{StopID: "stop-1", ShapeDistTraveled: 0},
				{StopID: "stop-2", ShapeDistTraveled: 500},
				{StopID: "stop-3", ShapeDistTraveled: 1000},
			},
		},
	}
	routes := map[string]schedule.Route{"route-1": {ID: "route-1", ShapeID: "shape-1"}}
	stops := map[string]schedule.Stop{
		"stop-1": {ID: "stop-1"}, "stop-2": {ID: "stop-2"}, "stop-3": {ID: "stop-3"},
	}

	return schedule.NewCatalogue(stops, map[string]schedule.Intersection{}, segments, shapes, routes, trips)
}

func TestTravelDurationUsesLearnedMeanThenFallsBackToVelocity(t *testing.T) {
	cat := buildStraightLineCatalogue(t)
	shape, ok := cat.Shape("shape-1")
	if !ok {
		t.Fatal("shape-1 not found")
	}

	d := travelDuration(cat, shape, 0, 500, 10)
	if d != 50*time.Second {
		t.Fatalf("seg-a duration = %v, want 50s (learned mean)", d)
	}

	d = travelDuration(cat, shape, 500, 1000, 10)
	if d != 50*time.Second {
		t.Fatalf("seg-b duration = %v, want 50s (500m / 10m/s fallback)", d)
	}
}

func TestTravelDurationPartialSpanScalesLearnedMean(t *testing.T) {
	cat := buildStraightLineCatalogue(t)
	shape, ok := cat.Shape("shape-1")
	if !ok {
		t.Fatal("shape-1 not found")
	}

	d := travelDuration(cat, shape, 250, 500, 10)
	if d != 25*time.Second {
		t.Fatalf("half of seg-a duration = %v, want 25s", d)
	}
}

func TestProjectArrivalsSkipsAlreadyPassedStops(t *testing.T) {
	cat := buildStraightLineCatalogue(t)
	shape, _ := cat.Shape("shape-1")
	trip, _ := cat.Trip("trip-1")
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	estimates := projectArrivals(cat, shape, trip, 500, 10, now)
	if len(estimates) != 1 {
		t.Fatalf("len(estimates) = %d, want 1 (only stop-3 remains)", len(estimates))
	}
	if estimates[0].StopID != "stop-3" {
		t.Fatalf("stop id = %s, want stop-3", estimates[0].StopID)
	}
	wantArrival := now.Add(50 * time.Second)
	if !estimates[0].ArrivalTime.Equal(wantArrival) {
		t.Fatalf("arrival = %v, want %v", estimates[0].ArrivalTime, wantArrival)
	}
}

func TestWeightedPosteriorMeanFavorsHigherLikelihoodParticles(t *testing.T) {
	rows := []store.ParticleSnapshotRow{
		{Distance: 100, Velocity: 5, LogLikelihood: -10},
		{Distance: 200, Velocity: 8, LogLikelihood: 0},
	}
	distance, velocity := weightedPosteriorMean(rows)
	if distance <= 150 {
		t.Fatalf("distance = %v, want closer to the higher-likelihood particle's 200", distance)
	}
	if velocity <= 6.5 {
		t.Fatalf("velocity = %v, want closer to the higher-likelihood particle's 8", velocity)
	}
}

func TestComputeEstimateRejectsEmptyRows(t *testing.T) {
	cat := buildStraightLineCatalogue(t)
	if _, err := ComputeEstimate(cat, nil, time.Now()); err == nil {
		t.Fatal("expected an error for an empty snapshot")
	}
}

func TestComputeEstimateProjectsRemainingStops(t *testing.T) {
	cat := buildStraightLineCatalogue(t)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	rows := []store.ParticleSnapshotRow{
		{VehicleID: "bus-1", TripID: "trip-1", Distance: 0, Velocity: 10, LogLikelihood: 0},
	}
	estimate, err := ComputeEstimate(cat, rows, now)
	if err != nil {
		t.Fatalf("ComputeEstimate: %v", err)
	}
	if estimate.VehicleID != "bus-1" || estimate.TripID != "trip-1" {
		t.Fatalf("estimate identity = %+v", estimate)
	}
	if len(estimate.Stops) != 2 {
		t.Fatalf("len(Stops) = %d, want 2 (stop-2, stop-3)", len(estimate.Stops))
	}
	if estimate.Stops[0].StopID != "stop-2" {
		t.Fatalf("first stop = %s, want stop-2", estimate.Stops[0].StopID)
	}
}
