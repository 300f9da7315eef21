package filter

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/transitnet/flowmodel/internal/geo"
	"github.com/transitnet/flowmodel/internal/sampling"
	"github.com/transitnet/flowmodel/internal/schedule"
)

// Status is a Vehicle's place in the initialisation/tracking state
// machine.
type Status int

const (
	Uninitialised Status = iota
	InitStage1
	InitStage2
	InitStage3
	Tracking
)

func (s Status) String() string {
	switch s {
	case Uninitialised:
		return "uninitialised"
	case InitStage1:
		return "init-stage-1"
	case InitStage2:
		return "init-stage-2"
	case InitStage3:
		return "init-stage-3"
	case Tracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// directionConfirmDelay is how long after the first fix a second,
// independent fix must arrive before direction-of-travel is checked.
const directionConfirmDelay = 10 * time.Second

// weightFloor is the minimum acceptable max-weight before a cycle is
// treated as a degenerate population.
const weightFloor = 1e-12

// TripUpdateHint carries the hard constraints a GTFS-Realtime TripUpdate
// message places on the nearest future stop crossing.
type TripUpdateHint struct {
	StopSequence  int
	ArrivalTime   time.Time
	DepartureTime time.Time
	Delay         time.Duration
}

// Vehicle is one bus/train's per-vehicle particle filter: a population
// of N particles tracking a hypothesised position along the vehicle's
// currently assigned trip, advanced by a stream of GPS observations.
type Vehicle struct {
	ID     string
	N      int
	Status Status

	TripID string

	particles []Particle
	nextID    uint64

	lastCoord     geo.Coord
	lastTimestamp time.Time
	firstObsTime  time.Time
	approxDist    float64 // running distance estimate used for direction check during init

	tripUpdate *TripUpdateHint

	rng *sampling.RNG

	lastSegmentCrossings []SegmentCrossing
	lastStopCrossings    []StopCrossing
}

// Crossings returns the per-entity mean segment/stop crossings across
// every surviving particle from the most recent successful update
// cycle, captured just before resample discards them, for the network
// aggregator to fold into its running statistics.
func (v *Vehicle) Crossings() ([]SegmentCrossing, []StopCrossing) {
	return v.lastSegmentCrossings, v.lastStopCrossings
}

// NewVehicle constructs a vehicle with n particles (pre-allocated but
// not yet initialised) and a dedicated PRNG seeded from seed, so each
// actor owns an independent generator.
func NewVehicle(id string, n int, seed int64) *Vehicle {
	particles := make([]Particle, n)
	nextID := uint64(1)
	for i := range particles {
		particles[i] = newParticle(nextID)
		nextID++
	}
	return &Vehicle{
		ID:        id,
		N:         n,
		Status:    Uninitialised,
		particles: particles,
		nextID:    nextID,
		rng:       sampling.NewRNG(seed),
	}
}

// Particles returns the vehicle's current particle population.
func (v *Vehicle) Particles() []Particle {
	return v.particles
}

// AssignTrip associates the vehicle with a newly matched trip,
// discarding any prior filter state.
func (v *Vehicle) AssignTrip(tripID string) {
	v.TripID = tripID
	v.Status = Uninitialised
	v.tripUpdate = nil
}

// RecordTripUpdate stores a GTFS-Realtime TripUpdate's stop-time
// constraint, consumed as a hard constraint on the next mutate cycle.
func (v *Vehicle) RecordTripUpdate(hint TripUpdateHint) {
	v.tripUpdate = &hint
}

// ObservePosition advances the vehicle's state machine and, once
// tracking, runs one full mutate/weight/resample cycle against a newly
// arrived VehiclePosition. cat and shape resolve the vehicle's current
// trip; shape must be the shape for v.TripID.
func (v *Vehicle) ObservePosition(obs geo.Coord, t time.Time, cat *schedule.Catalogue, shape schedule.Shape) error {
	if v.TripID == "" {
		return fmt.Errorf("filter: vehicle %s has no trip assigned", v.ID)
	}

	switch v.Status {
	case Uninitialised:
		v.lastCoord = obs
		v.lastTimestamp = t
		v.firstObsTime = t
		v.approxDist = approxShapeDistance(obs, shape)
		v.Status = InitStage1
		return nil

	case InitStage1:
		if t.Sub(v.firstObsTime) < directionConfirmDelay {
			return nil
		}
		newDist := approxShapeDistance(obs, shape)
		if newDist <= v.approxDist {
			v.Status = Uninitialised
			return nil
		}
		v.approxDist = newDist
		v.lastCoord = obs
		v.lastTimestamp = t
		v.Status = InitStage2 // direction confirmed; spawnParticles advances to init-stage-3
		return v.spawnParticles(obs, shape)

	case InitStage2:
		// spawnParticles already advanced to InitStage3; an observation
		// here would only arrive if the caller skipped a step.
		v.lastCoord = obs
		v.lastTimestamp = t
		return nil

	case InitStage3, Tracking:
		return v.updateCycle(obs, t, cat, shape)
	}
	return nil
}

// spawnParticles initialises the vehicle's N particles from the
// distance/velocity priors and advances the vehicle to init-stage-3.
func (v *Vehicle) spawnParticles(obs geo.Coord, shape schedule.Shape) error {
	bounds := InitDistanceBounds(obs, shape)
	for i := range v.particles {
		v.particles[i] = newParticle(v.particles[i].ID)
		v.particles[i].Initialize(bounds, v.rng)
		v.particles[i].Likelihood(obs, shape)
	}
	v.Status = InitStage3
	return nil
}

// updateCycle runs one five-step update cycle: compute Δt, mutate,
// weight (log-sum-exp softmax), resample, and advance the trip-boundary
// check.
func (v *Vehicle) updateCycle(obs geo.Coord, t time.Time, cat *schedule.Catalogue, shape schedule.Shape) error {
	dt := t.Sub(v.lastTimestamp).Seconds()
	if dt <= 0 {
		return nil // duplicate or out-of-order observation: drop
	}

	for i := range v.particles {
		v.particles[i].Transition(dt, shape, cat, v.rng)
		v.particles[i].Likelihood(obs, shape)
		v.applyTripUpdateConstraint(&v.particles[i], shape)
	}

	maxLL := math.Inf(-1)
	for _, p := range v.particles {
		if p.LogLikelihood > maxLL {
			maxLL = p.LogLikelihood
		}
	}
	if math.IsInf(maxLL, -1) {
		v.reset()
		return nil
	}

	weights := make([]float64, len(v.particles))
	sum := 0.0
	for i, p := range v.particles {
		w := math.Exp(p.LogLikelihood - maxLL)
		weights[i] = w
		sum += w
	}
	if sum <= 0 {
		v.reset()
		return nil
	}
	for i := range weights {
		weights[i] /= sum
		v.particles[i].Weight = weights[i]
	}

	maxWeight := 0.0
	for _, w := range weights {
		if w > maxWeight {
			maxWeight = w
		}
	}
	if maxWeight < weightFloor {
		v.reset()
		return nil
	}

	v.resample(weights)
	v.lastCoord = obs
	v.lastTimestamp = t
	if v.Status == InitStage3 {
		v.Status = Tracking
	}

	if v.allFinished() {
		v.Status = Uninitialised
		v.TripID = ""
	}
	return nil
}

// applyTripUpdateConstraint penalises a particle whose predicted arrival
// at the nearest upcoming stop in v.tripUpdate deviates from the
// reported arrival time by more than toleranceSeconds. It runs after
// Likelihood, so the penalty is subtracted from the fresh score.
func (v *Vehicle) applyTripUpdateConstraint(p *Particle, shape schedule.Shape) {
	if v.tripUpdate == nil || len(p.StopCrossings) == 0 {
		return
	}
	const toleranceSeconds = 120.0
	reported := v.tripUpdate.ArrivalTime
	if reported.IsZero() {
		return
	}
	actual := v.lastTimestamp.Add(time.Duration(p.Distance/maxVelocity) * time.Second)
	deviation := math.Abs(actual.Sub(reported).Seconds())
	if deviation > toleranceSeconds {
		p.LogLikelihood -= deviation / toleranceSeconds * 10
	}
}

// resample performs weighted resampling with replacement: draws N new
// indices from weights, then copy-constructs the selected particles so
// each copy's id is freshly allocated and parent_id records its source.
// Every surviving particle contributes equally to the crossing evidence
// handed to the network aggregator: lastSegmentCrossings/
// lastStopCrossings are the per-entity mean across the whole surviving
// population, not one arbitrarily chosen particle's observation.
func (v *Vehicle) resample(weights []float64) {
	resampler := sampling.NewResampler(v.rng)
	indices := resampler.SampleWeighted(weights, v.N)

	next := make([]Particle, v.N)
	for i, idx := range indices {
		next[i] = v.particles[idx].Copy(v.nextID, v.N)
		v.nextID++
	}

	v.lastSegmentCrossings = averageSegmentCrossings(next)
	v.lastStopCrossings = averageStopCrossings(next)
	for i := range next {
		next[i].ResetCrossings()
	}
	v.particles = next
}

// averageSegmentCrossings folds every particle's recorded segment
// crossings into one mean-queue/mean-travel crossing per segment id, so
// a cycle with N surviving particles yields one evidence tuple per
// segment rather than N (or an arbitrary particle's own single tuple).
func averageSegmentCrossings(particles []Particle) []SegmentCrossing {
	type accum struct {
		queueSum, travelSum float64
		n                   int
	}
	sums := make(map[string]*accum)
	var order []string
	for _, p := range particles {
		for _, sc := range p.SegmentCrossings {
			a, ok := sums[sc.SegmentID]
			if !ok {
				a = &accum{}
				sums[sc.SegmentID] = a
				order = append(order, sc.SegmentID)
			}
			a.queueSum += sc.Queue
			a.travelSum += sc.Travel
			a.n++
		}
	}
	out := make([]SegmentCrossing, 0, len(order))
	for _, id := range order {
		a := sums[id]
		out = append(out, SegmentCrossing{
			SegmentID: id,
			Queue:     a.queueSum / float64(a.n),
			Travel:    a.travelSum / float64(a.n),
		})
	}
	return out
}

// averageStopCrossings folds every particle's recorded stop crossings
// into one mean-dwell crossing per stop id, the stop-dwell counterpart
// of averageSegmentCrossings.
func averageStopCrossings(particles []Particle) []StopCrossing {
	type accum struct {
		dwellSum float64
		n        int
	}
	sums := make(map[string]*accum)
	var order []string
	for _, p := range particles {
		for _, sc := range p.StopCrossings {
			a, ok := sums[sc.StopID]
			if !ok {
				a = &accum{}
				sums[sc.StopID] = a
				order = append(order, sc.StopID)
			}
			a.dwellSum += sc.Dwell
			a.n++
		}
	}
	out := make([]StopCrossing, 0, len(order))
	for _, id := range order {
		a := sums[id]
		out = append(out, StopCrossing{StopID: id, Dwell: a.dwellSum / float64(a.n)})
	}
	return out
}

// reset drops the current filter state and returns the vehicle to
// uninitialised, preserving its trip assignment.
func (v *Vehicle) reset() {
	tripID := v.TripID
	particles := make([]Particle, v.N)
	nextID := uint64(1)
	for i := range particles {
		particles[i] = newParticle(nextID)
		nextID++
	}
	v.particles = particles
	v.nextID = nextID
	v.Status = Uninitialised
	v.TripID = tripID
}

func (v *Vehicle) allFinished() bool {
	for _, p := range v.particles {
		if !p.Finished {
			return false
		}
	}
	return true
}

// approxShapeDistance projects obs onto shape and returns its along-path
// distance, used only for the init-stage-1 direction-of-travel check.
func approxShapeDistance(obs geo.Coord, shape schedule.Shape) float64 {
	path := make([]geo.Coord, len(shape.Path))
	for i, pt := range shape.Path {
		path[i] = pt.Coord
	}
	n := geo.Nearest(obs, path)
	return shapeDistanceAtIndex(shape, n)
}

// WeightedMeanDistance returns the particle population's weighted-mean
// distance along the shape, used by callers surfacing a point estimate
// (and by filter-recovery tests).
func (v *Vehicle) WeightedMeanDistance() float64 {
	sum := 0.0
	weightSum := 0.0
	for _, p := range v.particles {
		sum += p.Distance * p.Weight
		weightSum += p.Weight
	}
	if weightSum == 0 {
		n := float64(len(v.particles))
		for _, p := range v.particles {
			sum += p.Distance / n
		}
		return sum
	}
	return sum / weightSum
}

// MedianDistance returns the particle population's median distance.
func (v *Vehicle) MedianDistance() float64 {
	dists := make([]float64, len(v.particles))
	for i, p := range v.particles {
		dists[i] = p.Distance
	}
	sort.Float64s(dists)
	n := len(dists)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return dists[n/2]
	}
	return (dists[n/2-1] + dists[n/2]) / 2
}
