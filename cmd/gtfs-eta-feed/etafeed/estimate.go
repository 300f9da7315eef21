// Package etafeed computes per-stop arrival estimates from each active
// vehicle's latest posterior snapshot and serves them as a GTFS-Realtime
// TripUpdate feed.
package etafeed

import (
	"fmt"
	"math"
	"time"

	"github.com/transitnet/flowmodel/internal/schedule"
	"github.com/transitnet/flowmodel/internal/store"
)

// fallbackVelocity is used to extrapolate across a segment with no
// learned travel-time prior yet and a degenerate (zero or negative)
// posterior velocity estimate.
const fallbackVelocity = 6.0 // m/s, roughly a 13mph running average

// StopEstimate is one upcoming stop's projected arrival/departure time.
type StopEstimate struct {
	StopID        string
	StopSequence  int
	ArrivalTime   time.Time
	DepartureTime time.Time
}

// Estimate is one vehicle's full set of upcoming stop estimates along
// its currently assigned trip.
type Estimate struct {
	VehicleID   string
	TripID      string
	GeneratedAt time.Time
	Stops       []StopEstimate
}

// ComputeEstimate derives an Estimate for vehicleID from its most
// recently recorded particle snapshot rows. rows must all share the same
// vehicle id and trip id (as returned by store.GetLatestSnapshot).
func ComputeEstimate(cat *schedule.Catalogue, rows []store.ParticleSnapshotRow, now time.Time) (*Estimate, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("etafeed: no particle snapshot rows")
	}
	tripID := rows[0].TripID
	if tripID == "" {
		return nil, fmt.Errorf("etafeed: vehicle %s has no trip id on its snapshot", rows[0].VehicleID)
	}
	trip, ok := cat.Trip(tripID)
	if !ok {
		return nil, fmt.Errorf("etafeed: unknown trip %s", tripID)
	}
	shape, ok := cat.TripShape(tripID)
	if !ok {
		return nil, fmt.Errorf("etafeed: no shape for trip %s", tripID)
	}

	distance, velocity := weightedPosteriorMean(rows)
	stops := projectArrivals(cat, shape, trip, distance, velocity, now)

	return &Estimate{
		VehicleID:   rows[0].VehicleID,
		TripID:      tripID,
		GeneratedAt: now,
		Stops:       stops,
	}, nil
}

// weightedPosteriorMean folds a particle population's log-likelihoods
// into softmax weights and returns the resulting weighted-mean distance
// and velocity, the same log-sum-exp normalisation internal/filter's
// update cycle uses to turn likelihoods into weights.
func weightedPosteriorMean(rows []store.ParticleSnapshotRow) (distance, velocity float64) {
	maxLL := math.Inf(-1)
	for _, r := range rows {
		if r.LogLikelihood > maxLL {
			maxLL = r.LogLikelihood
		}
	}
	if math.IsInf(maxLL, -1) {
		return 0, 0
	}

	var distSum, velSum, weightSum float64
	for _, r := range rows {
		w := math.Exp(r.LogLikelihood - maxLL)
		distSum += r.Distance * w
		velSum += r.Velocity * w
		weightSum += w
	}
	if weightSum == 0 {
		return 0, 0
	}
	return distSum / weightSum, velSum / weightSum
}

// projectArrivals walks trip's remaining stop times and estimates an
// arrival time for each, accumulating segment travel time from the
// learned schedule.Segment priors where available and falling back to
// the posterior velocity (or fallbackVelocity) otherwise.
func projectArrivals(cat *schedule.Catalogue, shape schedule.Shape, trip schedule.Trip, distance, velocity float64, now time.Time) []StopEstimate {
	if velocity <= 0 {
		velocity = fallbackVelocity
	}

	var out []StopEstimate
	cursor := distance
	elapsed := time.Duration(0)
	for _, st := range trip.StopTimes {
		if st.ShapeDistTraveled <= distance {
			continue
		}
		elapsed += travelDuration(cat, shape, cursor, st.ShapeDistTraveled, velocity)
		cursor = st.ShapeDistTraveled

		arrival := now.Add(elapsed)
		departure := arrival
		if st.Layover {
			departure = arrival.Add(time.Duration(st.DepartureSeconds-st.ArrivalSeconds) * time.Second)
			elapsed += departure.Sub(arrival)
		}
		out = append(out, StopEstimate{
			StopID:        st.StopID,
			StopSequence:  len(out),
			ArrivalTime:   arrival,
			DepartureTime: departure,
		})
	}
	return out
}

// travelDuration estimates how long it takes to cover [from, to) meters
// along shape, using each spanned segment's learned mean travel time
// when the catalogue has one and the posterior velocity otherwise.
func travelDuration(cat *schedule.Catalogue, shape schedule.Shape, from, to, velocity float64) time.Duration {
	if to <= from {
		return 0
	}

	var seconds float64
	for i, shapeSeg := range shape.Segments {
		segStart := shapeSeg.ShapeDistTraveled
		segEnd := shape.Length()
		if i+1 < len(shape.Segments) {
			segEnd = shape.Segments[i+1].ShapeDistTraveled
		}
		if segEnd <= from || segStart >= to {
			continue
		}

		spanStart := math.Max(segStart, from)
		spanEnd := math.Min(segEnd, to)
		spanLength := spanEnd - spanStart
		if spanLength <= 0 {
			continue
		}

		segLength := segEnd - segStart
		seg, ok := cat.Segment(shapeSeg.SegmentID)
		if ok && seg.TravelTimeMean > 0 && segLength > 0 {
			seconds += seg.TravelTimeMean * (spanLength / segLength)
			continue
		}
		seconds += spanLength / velocity
	}
	return time.Duration(seconds * float64(time.Second))
}
