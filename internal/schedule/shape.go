package schedule

import (
	"fmt"

	"github.com/transitnet/flowmodel/internal/geo"
)

// ShapePt is one point along a Shape's polyline, annotated with its
// cumulative distance traveled from the start of the shape.
type ShapePt struct {
	Coord        geo.Coord
	DistTraveled float64 // meters, >= 0, non-decreasing along a shape
}

// ShapeSegment records that Segment begins at ShapeDistTraveled meters
// into the owning Shape. The slice index within Shape.Segments is the
// "leg" (0-based sequence).
type ShapeSegment struct {
	SegmentID         string
	ShapeDistTraveled float64
}

// Shape is the ordered polyline a trip follows, annotated with cumulative
// distance, split into an ordered sequence of Segments.
type Shape struct {
	ID       string
	Path     []ShapePt
	Segments []ShapeSegment
}

// Length returns the shape's total length in meters: the dist_traveled
// of its final point.
func (s Shape) Length() float64 {
	if len(s.Path) == 0 {
		return 0
	}
	return s.Path[len(s.Path)-1].DistTraveled
}

// validate checks the invariants a Shape must hold: non-empty path,
// strictly increasing segment shape_dist_traveled starting at zero.
func (s Shape) validate() error {
	if len(s.Path) == 0 {
		return fmt.Errorf("shape %s: path must not be empty", s.ID)
	}
	prevDist := -1.0
	for i, pt := range s.Path {
		if pt.DistTraveled < 0 {
			return fmt.Errorf("shape %s: point %d has negative dist_traveled", s.ID, i)
		}
		if pt.DistTraveled < prevDist {
			return fmt.Errorf("shape %s: dist_traveled is not non-decreasing at point %d", s.ID, i)
		}
		prevDist = pt.DistTraveled
	}
	if len(s.Segments) > 0 && s.Segments[0].ShapeDistTraveled != 0 {
		return fmt.Errorf("shape %s: first segment must start at shape_dist_traveled 0", s.ID)
	}
	prevSegDist := -1.0
	for i, seg := range s.Segments {
		if seg.ShapeDistTraveled <= prevSegDist && i > 0 {
			return fmt.Errorf("shape %s: segment %d shape_dist_traveled is not strictly increasing", s.ID, i)
		}
		prevSegDist = seg.ShapeDistTraveled
	}
	return nil
}
