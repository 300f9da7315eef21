package schedule

import (
	"fmt"
	"time"
)

// EndpointKind distinguishes whether a Segment endpoint is a Stop or an
// Intersection.
type EndpointKind int

const (
	EndpointStop EndpointKind = iota
	EndpointIntersection
)

// Endpoint identifies one end of a Segment.
type Endpoint struct {
	Kind EndpointKind
	ID   string
}

// SegmentType names the four shapes a Segment's endpoints can take.
type SegmentType int

const (
	IntToInt SegmentType = iota
	StopToInt
	IntToStop
	StopToStop
)

// recentSampleCapacity bounds the ring buffer of recent travel-time
// samples a Segment retains for diagnostics; the running mean/variance
// lives in internal/network, not here.
const recentSampleCapacity = 32

// Segment is a piece of a shape bounded by stops and/or intersections,
// the unit of travel-time aggregation.
type Segment struct {
	ID             string
	Start          Endpoint
	End            Endpoint
	LengthMeters   float64
	TravelTimeMean float64
	TravelTimeVar  float64
	Timestamp      time.Time

	recentSamples []float64
}

// Type derives the segment's endpoint-kind classification.
func (s Segment) Type() SegmentType {
	switch {
	case s.Start.Kind == EndpointIntersection && s.End.Kind == EndpointIntersection:
		return IntToInt
	case s.Start.Kind == EndpointStop && s.End.Kind == EndpointIntersection:
		return StopToInt
	case s.Start.Kind == EndpointIntersection && s.End.Kind == EndpointStop:
		return IntToStop
	default:
		return StopToStop
	}
}

// AddSample appends a travel-time sample to the segment's recent-sample
// ring buffer, evicting the oldest sample once full.
func (s *Segment) AddSample(seconds float64) {
	if len(s.recentSamples) >= recentSampleCapacity {
		s.recentSamples = s.recentSamples[1:]
	}
	s.recentSamples = append(s.recentSamples, seconds)
}

// RecentSamples returns the segment's buffered recent travel-time samples.
func (s Segment) RecentSamples() []float64 {
	return s.recentSamples
}

func (s Segment) validate() error {
	if s.LengthMeters <= 0 {
		return fmt.Errorf("segment %s: length must be > 0, got %v", s.ID, s.LengthMeters)
	}
	if s.TravelTimeVar < 0 {
		return fmt.Errorf("segment %s: travel time variance must be >= 0", s.ID)
	}
	return nil
}
