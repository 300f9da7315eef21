package schedule

import (
	"time"

	"github.com/transitnet/flowmodel/internal/geo"
)

// IntersectionType is the kind of physical intersection, used to prime
// the queue-time prior a particle applies when crossing it.
type IntersectionType string

const (
	TrafficLight IntersectionType = "traffic_light"
	Roundabout   IntersectionType = "roundabout"
)

// Intersection is a point along a shape, other than a stop, where a
// vehicle may queue (traffic light, roundabout). DelayMean/DelayVar
// summarize recent queue-time observations; mutable by the aggregator.
type Intersection struct {
	ID        string
	Coord     geo.Coord
	Type      IntersectionType
	DelayMean float64
	DelayVar  float64
	Timestamp time.Time
}
