package network

import (
	"math"
	"testing"
	"time"

	"github.com/transitnet/flowmodel/internal/filter"
)

func TestWelfordOrderIndependence(t *testing.T) {
	samples := []float64{4.0, 7.0, 13.0, 16.0, 22.0}

	var forward Welford
	for _, s := range samples {
		forward.Add(s)
	}

	reversed := append([]float64(nil), samples...)
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	var backward Welford
	for _, s := range reversed {
		backward.Add(s)
	}

	if math.Abs(forward.Mean()-backward.Mean()) > 1e-9 {
		t.Fatalf("means diverge: forward=%v backward=%v", forward.Mean(), backward.Mean())
	}
	if math.Abs(forward.Variance()-backward.Variance()) > 1e-9 {
		t.Fatalf("variances diverge: forward=%v backward=%v", forward.Variance(), backward.Variance())
	}
}

func TestWelfordSingleSampleHasZeroVariance(t *testing.T) {
	var w Welford
	w.Add(42)
	if w.Variance() != 0 {
		t.Fatalf("Variance() = %v, want 0 with a single sample", w.Variance())
	}
	if w.Mean() != 42 {
		t.Fatalf("Mean() = %v, want 42", w.Mean())
	}
}

func TestAggregatorFoldsSegmentCrossings(t *testing.T) {
	agg := NewAggregator(nil, nil)
	at := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)

	agg.fold(Update{
		VehicleID: "bus-1",
		TripID:    "trip-1",
		At:        at,
		Segments: []filter.SegmentCrossing{
			{SegmentID: "seg-a", Travel: 60},
		},
	})
	agg.publish()

	snap := agg.Snapshot()
	if _, ok := snap.SegmentMean["seg-a"]; !ok {
		t.Fatal("expected seg-a to appear in the published snapshot")
	}
	if snap.SegmentMean["seg-a"] != 60 {
		t.Fatalf("SegmentMean[seg-a] = %v, want 60", snap.SegmentMean["seg-a"])
	}
}

func TestAggregatorDeduplicatesRepeatSubmission(t *testing.T) {
	agg := NewAggregator(nil, nil)
	at := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	u := Update{
		VehicleID: "bus-1",
		TripID:    "trip-1",
		At:        at,
		Segments:  []filter.SegmentCrossing{{SegmentID: "seg-a", Travel: 60}},
	}
	agg.fold(u)
	agg.fold(u) // identical (vehicle, trip, segment, timestamp): must not double-count

	stat := agg.segments["seg-a"]
	if stat.welford.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 after folding an identical update twice", stat.welford.Count())
	}
}

func TestAggregatorPublishIsNonBlockingSnapshot(t *testing.T) {
	agg := NewAggregator(nil, nil)
	before := agg.Snapshot()
	if before == nil {
		t.Fatal("expected an initial empty snapshot before any fold")
	}
	if len(before.SegmentMean) != 0 {
		t.Fatal("expected empty initial snapshot")
	}

	agg.fold(Update{
		VehicleID: "bus-2",
		TripID:    "trip-2",
		At:        time.Now().Add(time.Second), // distinct timestamp from other tests' fixed time
		Segments:  []filter.SegmentCrossing{{SegmentID: "seg-b", Travel: 45}},
	})
	agg.publish()

	after := agg.Snapshot()
	if after == before {
		t.Fatal("expected publish to swap in a new snapshot instance")
	}
	if after.SegmentMean["seg-b"] != 45 {
		t.Fatalf("SegmentMean[seg-b] = %v, want 45", after.SegmentMean["seg-b"])
	}
}

func TestAggregatorSplitsDwellByHoliday(t *testing.T) {
	agg := NewAggregator(nil, nil)
	holiday := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)  // New Year's Day
	regular := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)  // an ordinary Friday
	regular2 := time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC) // an ordinary Tuesday

	agg.fold(Update{
		VehicleID: "bus-1", TripID: "trip-1", At: holiday,
		Stops: []filter.StopCrossing{{StopID: "stop-1", Dwell: 60}},
	})
	agg.fold(Update{
		VehicleID: "bus-2", TripID: "trip-2", At: regular,
		Stops: []filter.StopCrossing{{StopID: "stop-1", Dwell: 10}},
	})
	agg.fold(Update{
		VehicleID: "bus-3", TripID: "trip-3", At: regular2,
		Stops: []filter.StopCrossing{{StopID: "stop-1", Dwell: 20}},
	})
	agg.publish()

	snap := agg.Snapshot()
	if snap.StopMeanHoliday["stop-1"] != 60 {
		t.Fatalf("StopMeanHoliday[stop-1] = %v, want 60 (only the holiday sample)", snap.StopMeanHoliday["stop-1"])
	}
	if snap.StopMeanRegular["stop-1"] != 15 {
		t.Fatalf("StopMeanRegular[stop-1] = %v, want 15 (mean of the two regular-day samples)", snap.StopMeanRegular["stop-1"])
	}
	wantCombined := (60.0 + 10.0 + 20.0) / 3
	if snap.StopMean["stop-1"] != wantCombined {
		t.Fatalf("StopMean[stop-1] = %v, want %v (combined across both buckets)", snap.StopMean["stop-1"], wantCombined)
	}
}

func TestHolidayCalendarRecognisesNewYear(t *testing.T) {
	cal := NewHolidayCalendar()
	newYear := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if !cal.IsHoliday(newYear) {
		t.Fatal("expected January 1st to be recognised as a holiday")
	}
	mundaneTuesday := time.Date(2026, 7, 28, 12, 0, 0, 0, time.UTC)
	if cal.IsHoliday(mundaneTuesday) {
		t.Fatal("expected an ordinary Tuesday not to be a holiday")
	}
}
