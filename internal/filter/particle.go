// Package filter implements the per-vehicle particle filter: the
// population of trajectory hypotheses (Particle) and the state machine
// that drives them from a raw GPS stream to a posterior over position,
// velocity, and segment/stop timings (Vehicle).
package filter

import (
	"math"

	"github.com/transitnet/flowmodel/internal/geo"
	"github.com/transitnet/flowmodel/internal/sampling"
	"github.com/transitnet/flowmodel/internal/schedule"
)

const (
	maxVelocity       = 30.0 // m/s
	velocitySigma     = 2.0  // m/s, transition noise
	observationSigma  = 5.0  // m, likelihood standard deviation
	stopProbability   = 0.5
	minDwellSeconds   = 6.0
	maxDwellSeconds   = 120.0
	initDistanceSlack = 200.0 // m, prior uncertainty around first fix
)

// StopCrossing is a (stop id, dwell seconds) tuple recorded when a
// particle's trajectory passes a stop during a transition.
type StopCrossing struct {
	StopID string
	Dwell  float64
}

// SegmentCrossing is a (segment id, queue seconds, travel seconds) tuple
// recorded when a particle's trajectory passes wholly or partly through
// a segment during a transition. These are the network aggregator's
// raw input.
type SegmentCrossing struct {
	SegmentID string
	Queue     float64
	Travel    float64
}

// Particle is one hypothesised trajectory for a vehicle's latent state:
// distance travelled along the trip's shape, current velocity, and the
// stop/segment timing evidence accumulated en route.
type Particle struct {
	ID       uint64
	ParentID uint64 // 0 if this particle was never copied from another

	Distance float64 // m along the shape
	Velocity float64 // m/s
	Finished bool

	LogLikelihood float64
	Weight        float64

	StopCrossings    []StopCrossing
	SegmentCrossings []SegmentCrossing
}

// newParticle returns a freshly allocated, not-yet-initialised particle:
// distance and velocity at zero, unfinished, log-likelihood at -Inf
// until Initialize or Transition runs.
func newParticle(id uint64) Particle {
	return Particle{
		ID:            id,
		Distance:      0,
		Velocity:      0,
		Finished:      false,
		LogLikelihood: math.Inf(-1),
		Weight:        0,
	}
}

// Initialize draws the particle's starting distance and velocity from
// their priors: distance ~ Uniform(d_lo, d_hi) around the
// shape-projection of the first fix, velocity ~ Uniform(0, v_max).
func (p *Particle) Initialize(distBounds [2]float64, rng *sampling.RNG) {
	distPrior := sampling.NewUniform(distBounds[0], distBounds[1], rng)
	velPrior := sampling.NewUniform(0, maxVelocity, rng)
	p.Distance = distPrior.Sample()
	p.Velocity = velPrior.Sample()
}

// InitDistanceBounds projects obs onto shape and expands the projection
// by the configured prior uncertainty, clipped to [0, shape length].
func InitDistanceBounds(obs geo.Coord, shape schedule.Shape) [2]float64 {
	path := make([]geo.Coord, len(shape.Path))
	for i, pt := range shape.Path {
		path[i] = pt.Coord
	}
	nearest := geo.Nearest(obs, path)
	approxDist := shapeDistanceAtIndex(shape, nearest)

	length := shape.Length()
	lo := approxDist - initDistanceSlack
	hi := approxDist + initDistanceSlack
	if lo < 0 {
		lo = 0
	}
	if hi > length {
		hi = length
	}
	if lo >= hi {
		// degenerate shape or fix pinned at an endpoint; fall back to a
		// minimal non-empty interval so Uniform doesn't reject.
		lo = math.Max(0, hi-1)
	}
	return [2]float64{lo, hi}
}

// shapeDistanceAtIndex interpolates the shape's cumulative distance at
// the nearest-point result's segment, using the fraction of the segment
// length already covered by the along-track offset implied by Distance.
func shapeDistanceAtIndex(shape schedule.Shape, n geo.NearestPoint) float64 {
	if n.SegmentIndex < 0 || n.SegmentIndex+1 >= len(shape.Path) {
		if len(shape.Path) == 0 {
			return 0
		}
		return shape.Path[len(shape.Path)-1].DistTraveled
	}
	a := shape.Path[n.SegmentIndex]
	b := shape.Path[n.SegmentIndex+1]
	along := geo.AlongTrackDistance(n.Point, a.Coord, b.Coord)
	segLen := b.DistTraveled - a.DistTraveled
	if segLen <= 0 {
		return a.DistTraveled
	}
	frac := along / geo.Distance(a.Coord, b.Coord)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return a.DistTraveled + frac*segLen
}

// Transition mutates the particle forward by dt seconds: draws a new
// velocity (rejecting samples outside (0, 30) m/s), advances distance,
// clamps at the shape length, and records any stop/intersection/segment
// crossings traversed along the way.
func (p *Particle) Transition(dt float64, shape schedule.Shape, cat *schedule.Catalogue, rng *sampling.RNG) {
	if dt <= 0 || p.Finished {
		return
	}

	newVelocity := 0.0
	for newVelocity <= 0 || newVelocity >= maxVelocity {
		newVelocity = rng.StandardNormal()*velocitySigma + p.Velocity
	}

	start := p.Distance
	p.Velocity = newVelocity
	end := start + newVelocity*dt

	length := shape.Length()
	if end >= length {
		end = length
		p.Finished = true
	}

	p.recordCrossings(start, end, newVelocity, shape, cat, rng)
	p.Distance = end
}

// recordCrossings walks every shape-segment whose span overlaps
// [start, end) and appends the stop/segment evidence tuples the
// network aggregator folds into its running statistics. Stops are
// approximated at the segment boundaries they sit
// on; a fuller model would carry explicit stop distances per segment,
// but shape-segments already partition the shape at every stop and
// intersection, so a crossing of a shape-segment boundary is a crossing
// of whichever entity anchors that boundary.
func (p *Particle) recordCrossings(start, end, velocity float64, shape schedule.Shape, cat *schedule.Catalogue, rng *sampling.RNG) {
	if cat == nil || len(shape.Segments) == 0 {
		return
	}
	for i, shapeSeg := range shape.Segments {
		segStart := shapeSeg.ShapeDistTraveled
		segEnd := shape.Length()
		if i+1 < len(shape.Segments) {
			segEnd = shape.Segments[i+1].ShapeDistTraveled
		}
		overlapStart := math.Max(start, segStart)
		overlapEnd := math.Min(end, segEnd)
		if overlapStart >= overlapEnd {
			continue
		}

		seg, ok := cat.Segment(shapeSeg.SegmentID)
		if !ok {
			continue
		}

		queue := p.maybeQueue(seg, cat, rng)
		travel := 0.0
		if velocity > 0 {
			travel = (overlapEnd - overlapStart) / velocity
		}
		p.SegmentCrossings = append(p.SegmentCrossings, SegmentCrossing{
			SegmentID: seg.ID,
			Queue:     queue,
			Travel:    travel,
		})

		if overlapEnd >= segEnd-1e-9 {
			p.maybeRecordStopDwell(seg, rng)
		}
	}
}

// maybeQueue draws a queue-time sample for an intersection endpoint
// with probability proportional to its current delay prior; returns 0
// when the segment's start isn't an intersection or the coin flip fails.
func (p *Particle) maybeQueue(seg schedule.Segment, cat *schedule.Catalogue, rng *sampling.RNG) float64 {
	if seg.Start.Kind != schedule.EndpointIntersection {
		return 0
	}
	isec, ok := cat.Intersection(seg.Start.ID)
	if !ok || isec.DelayMean <= 0 {
		return 0
	}
	pQueue := isec.DelayVar / (isec.DelayVar + isec.DelayMean*isec.DelayMean)
	if pQueue <= 0 {
		pQueue = 0.3
	}
	if pQueue > 1 {
		pQueue = 1
	}
	if rng.Uniform01() >= pQueue {
		return 0
	}
	dist := sampling.NewExponential(1/isec.DelayMean, rng)
	return dist.Sample()
}

// maybeRecordStopDwell draws a dwell sample with fixed probability
// p_stop when the segment ends at a stop, bounded to [6, 120] s.
func (p *Particle) maybeRecordStopDwell(seg schedule.Segment, rng *sampling.RNG) {
	if seg.End.Kind != schedule.EndpointStop {
		return
	}
	if rng.Uniform01() >= stopProbability {
		p.StopCrossings = append(p.StopCrossings, StopCrossing{StopID: seg.End.ID, Dwell: 0})
		return
	}
	mu := 30.0
	dist := sampling.NewExponential(1/mu, rng)
	dwell := dist.Sample()
	if dwell < minDwellSeconds {
		dwell = minDwellSeconds
	}
	if dwell > maxDwellSeconds {
		dwell = maxDwellSeconds
	}
	p.StopCrossings = append(p.StopCrossings, StopCrossing{StopID: seg.End.ID, Dwell: dwell})
}

// Likelihood scores the particle against the vehicle's last observed
// position: projects the particle's hypothesised coordinate (found by
// linear interpolation along the shape) into the local plane around
// obs and evaluates an isotropic 2-D Gaussian. When the shape has no
// path points, no coordinate can be interpolated and the particle
// scores -Inf.
func (p *Particle) Likelihood(obs geo.Coord, shape schedule.Shape) float64 {
	coord, ok := coordAtDistance(shape, p.Distance)
	if !ok {
		p.LogLikelihood = math.Inf(-1)
		return p.LogLikelihood
	}
	x, y := geo.ProjectFlat(coord, obs)
	sigY := observationSigma
	llhood := -math.Log(2*math.Pi*sigY*sigY) - (x*x+y*y)/(2*sigY*sigY)
	p.LogLikelihood = llhood
	return llhood
}

// coordAtDistance linearly interpolates the coordinate at dist along
// shape's path, using destination/bearing between the two bracketing
// ShapePts.
func coordAtDistance(shape schedule.Shape, dist float64) (geo.Coord, bool) {
	n := len(shape.Path)
	if n == 0 {
		return geo.Coord{}, false
	}
	if n == 1 {
		return shape.Path[0].Coord, true
	}
	if dist <= shape.Path[0].DistTraveled {
		return shape.Path[0].Coord, true
	}
	last := shape.Path[n-1]
	if dist >= last.DistTraveled {
		return last.Coord, true
	}
	for i := 0; i < n-1; i++ {
		a, b := shape.Path[i], shape.Path[i+1]
		if dist >= a.DistTraveled && dist <= b.DistTraveled {
			segLen := b.DistTraveled - a.DistTraveled
			if segLen <= 0 {
				return a.Coord, true
			}
			frac := (dist - a.DistTraveled) / segLen
			bearing := geo.Bearing(a.Coord, b.Coord)
			legDist := geo.Distance(a.Coord, b.Coord) * frac
			return geo.Destination(a.Coord, legDist, bearing), true
		}
	}
	return last.Coord, true
}

// Copy returns a fresh copy of p: a new id allocated by nextID, parent
// id set to p's own id, all other state duplicated verbatim, and a
// weight of 1/n pending the next weighting step.
func (p Particle) Copy(nextID uint64, n int) Particle {
	cp := p
	cp.ID = nextID
	cp.ParentID = p.ID
	cp.StopCrossings = append([]StopCrossing(nil), p.StopCrossings...)
	cp.SegmentCrossings = append([]SegmentCrossing(nil), p.SegmentCrossings...)
	if n > 0 {
		cp.Weight = 1.0 / float64(n)
	}
	return cp
}

// ResetCrossings clears accumulated stop/segment evidence, called by
// resample after the cycle's crossings are captured for Vehicle.Crossings.
func (p *Particle) ResetCrossings() {
	p.StopCrossings = nil
	p.SegmentCrossings = nil
}
