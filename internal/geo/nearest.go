package geo

// NearestPoint is the result of searching an ordered polyline for the
// point closest to some query point p.
type NearestPoint struct {
	Point    Coord
	Distance float64
	// SegmentIndex is the index of the path segment (s[i], s[i+1]) the
	// nearest point was found on.
	SegmentIndex int
}

// Nearest returns the closest point on the ordered polyline path to p,
// and its distance from p.
//
// For each consecutive pair (s[i], s[i+1]): if the along-track distance
// from s[i] to the foot of p's perpendicular lies within [0, |s[i]s[i+1]|]
// that foot is a candidate; otherwise the nearer of the two endpoints is
// the candidate. The minimum-distance candidate wins; ties are broken by
// the earliest segment index.
func Nearest(p Coord, path []Coord) NearestPoint {
	var best NearestPoint
	haveBest := false

	for i := 0; i+1 < len(path); i++ {
		a, b := path[i], path[i+1]
		segLen := Distance(a, b)

		var candidate Coord
		if segLen > 0 {
			along := AlongTrackDistance(p, a, b)
			if along >= 0 && along <= segLen {
				candidate = Destination(a, along, Bearing(a, b))
			} else if Distance(p, a) <= Distance(p, b) {
				candidate = a
			} else {
				candidate = b
			}
		} else {
			candidate = a
		}

		d := Distance(p, candidate)
		if !haveBest || d < best.Distance {
			best = NearestPoint{Point: candidate, Distance: d, SegmentIndex: i}
			haveBest = true
		}
	}

	if !haveBest && len(path) > 0 {
		best = NearestPoint{Point: path[0], Distance: Distance(p, path[0]), SegmentIndex: 0}
	}

	return best
}
