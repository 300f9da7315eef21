package geo

import (
	"math"
	"testing"
)

func TestDistanceAuckland(t *testing.T) {
	a := Coord{Lat: -36.866580, Lng: 174.757195}
	b := Coord{Lat: -36.866183, Lng: 174.757773}

	got := Distance(a, b)
	want := 67.769
	if math.Abs(got-want) > 0.5e-3 {
		t.Errorf("Distance(a, b) = %v, want %v (tolerance 0.5mm)", got, want)
	}

	gotBearing := Bearing(a, b)
	wantBearing := 49.353
	if math.Abs(gotBearing-wantBearing) > 0.001 {
		t.Errorf("Bearing(a, b) = %v, want %v", gotBearing, wantBearing)
	}
}

func TestDistanceSymmetricAndZero(t *testing.T) {
	a := Coord{Lat: -36.866580, Lng: 174.757195}
	b := Coord{Lat: -36.866183, Lng: 174.757773}

	if d := Distance(a, a); d != 0 {
		t.Errorf("Distance(a, a) = %v, want exactly 0", d)
	}
	if math.Abs(Distance(a, b)-Distance(b, a)) > 1e-3 {
		t.Errorf("Distance not symmetric: %v != %v", Distance(a, b), Distance(b, a))
	}
}

func TestDestinationReproducesPoint(t *testing.T) {
	a := Coord{Lat: -36.866580, Lng: 174.757195}
	b := Coord{Lat: -36.866183, Lng: 174.757773}

	d := Distance(a, b)
	brg := Bearing(a, b)
	got := Destination(a, d, brg)

	if math.Abs(got.Lat-b.Lat) > 0.1/111000 || math.Abs(got.Lng-b.Lng) > 0.1/111000 {
		if Distance(got, b) > 0.1 {
			t.Errorf("Destination(a, distance(a,b), bearing(a,b)) = %v, want close to %v (got %v m away)",
				got, b, Distance(got, b))
		}
	}
}

func TestCrossTrackDistanceOnPath(t *testing.T) {
	a := Coord{Lat: 0, Lng: 0}
	b := Coord{Lat: 0, Lng: 1}
	// a point directly on the great circle a->b should have ~0 cross-track distance
	mid := Destination(a, Distance(a, b)/2, Bearing(a, b))
	if d := math.Abs(CrossTrackDistance(mid, a, b)); d > 1e-6 {
		t.Errorf("CrossTrackDistance(mid, a, b) = %v, want ~0", d)
	}
}

func TestAlongTrackDistanceMatchesHalfway(t *testing.T) {
	a := Coord{Lat: 0, Lng: 0}
	b := Coord{Lat: 0, Lng: 1}
	total := Distance(a, b)
	mid := Destination(a, total/2, Bearing(a, b))

	got := AlongTrackDistance(mid, a, b)
	if math.Abs(got-total/2) > 1e-3 {
		t.Errorf("AlongTrackDistance(mid, a, b) = %v, want %v", got, total/2)
	}
}

func TestNearestOnSegment(t *testing.T) {
	path := []Coord{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: 1},
		{Lat: 0, Lng: 2},
	}
	p := Destination(path[0], Distance(path[0], path[1])/2, Bearing(path[0], path[1]))
	// nudge slightly off the path to exercise perpendicular projection
	p = Destination(p, 10, 90)

	np := Nearest(p, path)
	if np.SegmentIndex != 0 {
		t.Errorf("NearestPoint.SegmentIndex = %d, want 0", np.SegmentIndex)
	}
	if np.Distance > 20 {
		t.Errorf("NearestPoint.Distance = %v, want close to 10m", np.Distance)
	}
}

func TestNearestPicksEndpointPastPolyline(t *testing.T) {
	path := []Coord{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: 1},
	}
	// a point far beyond b along the same bearing: nearest candidate is the endpoint b
	p := Destination(path[1], 1000, Bearing(path[0], path[1]))

	np := Nearest(p, path)
	if Distance(np.Point, path[1]) > 1e-6 {
		t.Errorf("Nearest point = %v, want endpoint %v", np.Point, path[1])
	}
}
