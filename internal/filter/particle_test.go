package filter

import (
	"math"
	"testing"

	"github.com/transitnet/flowmodel/internal/geo"
	"github.com/transitnet/flowmodel/internal/sampling"
	"github.com/transitnet/flowmodel/internal/schedule"
)

func linearShape(lengthMeters float64) schedule.Shape {
	// A straight shape running east along the equator, long enough that
	// 1 degree of longitude is safely more than lengthMeters.
	degreesNeeded := lengthMeters / 111000.0 * 1.5
	return schedule.Shape{
		ID: "shape-linear",
		Path: []schedule.ShapePt{
			{Coord: geo.Coord{Lat: 0, Lng: 0}, DistTraveled: 0},
			{Coord: geo.Coord{Lat: 0, Lng: degreesNeeded}, DistTraveled: lengthMeters},
		},
	}
}

func TestVelocityReflectionStaysInBounds(t *testing.T) {
	rng := sampling.NewRNG(42)
	p := newParticle(1)
	p.Velocity = 15

	shape := linearShape(1_000_000) // long enough that nothing clamps
	var samples []float64
	for i := 0; i < 1000; i++ {
		p.Transition(1.0, shape, nil, rng)
		samples = append(samples, p.Velocity)
	}

	sum := 0.0
	minV, maxV := math.Inf(1), math.Inf(-1)
	for _, v := range samples {
		sum += v
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	mean := sum / float64(len(samples))
	if mean < 14 || mean > 16 {
		t.Fatalf("mean velocity = %v, want in [14, 16]", mean)
	}
	if minV <= 0 || maxV >= 30 {
		t.Fatalf("velocity out of (0, 30): min=%v max=%v", minV, maxV)
	}
}

func TestShapeClampingMarksFinished(t *testing.T) {
	rng := sampling.NewRNG(7)
	shape := linearShape(1000)
	p := newParticle(1)
	p.Velocity = 30
	p.Distance = shape.Length() - 1

	p.Transition(1.0, shape, nil, rng)
	if !p.Finished {
		t.Fatal("expected particle to be marked finished after reaching shape length")
	}
	if p.Distance != shape.Length() {
		t.Fatalf("Distance = %v, want %v (clamped)", p.Distance, shape.Length())
	}

	before := p.Distance
	p.Transition(1.0, shape, nil, rng)
	if p.Distance != before {
		t.Fatal("transition after finishing should be a no-op")
	}
}

func TestCoordAtDistanceInterpolates(t *testing.T) {
	shape := linearShape(2000)
	mid, ok := coordAtDistance(shape, 1000)
	if !ok {
		t.Fatal("expected coordAtDistance to resolve")
	}
	start := shape.Path[0].Coord
	end := shape.Path[1].Coord
	wantLng := (start.Lng + end.Lng) / 2
	if math.Abs(mid.Lng-wantLng) > 1e-6 {
		t.Fatalf("mid.Lng = %v, want ~%v", mid.Lng, wantLng)
	}
}

func TestLikelihoodMinusInfWhenUnplaced(t *testing.T) {
	p := newParticle(1)
	emptyShape := schedule.Shape{ID: "empty"}
	ll := p.Likelihood(geo.Coord{Lat: 0, Lng: 0}, emptyShape)
	if !math.IsInf(ll, -1) {
		t.Fatalf("Likelihood() = %v, want -Inf for an unplaced particle", ll)
	}
}

func TestLikelihoodPeaksAtObservedPosition(t *testing.T) {
	shape := linearShape(2000)
	p := newParticle(1)
	p.Distance = 1000
	coord, _ := coordAtDistance(shape, 1000)

	atObs := p.Likelihood(coord, shape)
	offsetCoord := geo.Destination(coord, 50, 90)
	atOffset := p.Likelihood(offsetCoord, shape)

	if atObs <= atOffset {
		t.Fatalf("likelihood at exact position (%v) should exceed likelihood 50m away (%v)", atObs, atOffset)
	}
}

func TestCopyAllocatesFreshIDAndParent(t *testing.T) {
	p := newParticle(5)
	p.Distance = 42
	p.StopCrossings = []StopCrossing{{StopID: "s1", Dwell: 10}}

	cp := p.Copy(99, 10)
	if cp.ID != 99 {
		t.Fatalf("cp.ID = %v, want 99", cp.ID)
	}
	if cp.ParentID != 5 {
		t.Fatalf("cp.ParentID = %v, want 5", cp.ParentID)
	}
	if cp.Distance != 42 {
		t.Fatal("copy should duplicate distance verbatim")
	}
	if cp.Weight != 0.1 {
		t.Fatalf("cp.Weight = %v, want 0.1", cp.Weight)
	}
	cp.StopCrossings[0].Dwell = 999
	if p.StopCrossings[0].Dwell == 999 {
		t.Fatal("copy's StopCrossings must not alias the original's backing array")
	}
}
