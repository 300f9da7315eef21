// Package schedule holds the immutable static-schedule catalogue: stops,
// intersections, shape points, segments, shape-segments, routes, trips
// and stop-times, keyed by string id. Entities hold back-references to
// one another as ids, never pointers, resolved through the owning
// Catalogue; this avoids a reference-counted cyclic object graph.
package schedule

import "fmt"

// Catalogue is the value-typed, read-only, shared-owned container for a
// loaded static schedule. It is immutable after construction: external
// holders (vehicles, particles) may only borrow, never mutate, entities
// reached through it.
type Catalogue struct {
	stops         map[string]Stop
	intersections map[string]Intersection
	segments      map[string]Segment
	shapes        map[string]Shape
	routes        map[string]Route
	trips         map[string]Trip
}

// NewCatalogue builds a Catalogue from already-resolved entity maps.
// Callers (notably Load) are responsible for populating cross-references
// before calling this, and for propagating any Validate error as a
// load-time fatal error.
func NewCatalogue(
	stops map[string]Stop,
	intersections map[string]Intersection,
	segments map[string]Segment,
	shapes map[string]Shape,
	routes map[string]Route,
	trips map[string]Trip,
) *Catalogue {
	return &Catalogue{
		stops:         stops,
		intersections: intersections,
		segments:      segments,
		shapes:        shapes,
		routes:        routes,
		trips:         trips,
	}
}

// Stop returns the stop with id, if present.
func (c *Catalogue) Stop(id string) (Stop, bool) {
	s, ok := c.stops[id]
	return s, ok
}

// Intersection returns the intersection with id, if present.
func (c *Catalogue) Intersection(id string) (Intersection, bool) {
	i, ok := c.intersections[id]
	return i, ok
}

// Segment returns the segment with id, if present.
func (c *Catalogue) Segment(id string) (Segment, bool) {
	s, ok := c.segments[id]
	return s, ok
}

// Shape returns the shape with id, if present.
func (c *Catalogue) Shape(id string) (Shape, bool) {
	s, ok := c.shapes[id]
	return s, ok
}

// Route returns the route with id, if present.
func (c *Catalogue) Route(id string) (Route, bool) {
	r, ok := c.routes[id]
	return r, ok
}

// Trip returns the trip with id, if present.
func (c *Catalogue) Trip(id string) (Trip, bool) {
	t, ok := c.trips[id]
	return t, ok
}

// EachStop iterates over every stop in the catalogue.
func (c *Catalogue) EachStop(fn func(Stop)) {
	for _, s := range c.stops {
		fn(s)
	}
}

// EachIntersection iterates over every intersection in the catalogue.
func (c *Catalogue) EachIntersection(fn func(Intersection)) {
	for _, i := range c.intersections {
		fn(i)
	}
}

// EachSegment iterates over every segment in the catalogue.
func (c *Catalogue) EachSegment(fn func(Segment)) {
	for _, s := range c.segments {
		fn(s)
	}
}

// EachTrip iterates over every trip in the catalogue.
func (c *Catalogue) EachTrip(fn func(Trip)) {
	for _, t := range c.trips {
		fn(t)
	}
}

// UpdateSegmentStats replaces the stored statistics for segment id,
// called by internal/network after folding new samples. It and
// UpdateIntersectionStats/UpdateStopStats are the only sanctioned
// mutation paths into an otherwise immutable Catalogue.
func (c *Catalogue) UpdateSegmentStats(id string, mean, variance float64, samples []float64) {
	s, ok := c.segments[id]
	if !ok {
		return
	}
	s.TravelTimeMean = mean
	s.TravelTimeVar = variance
	s.recentSamples = samples
	c.segments[id] = s
}

// UpdateIntersectionStats replaces the stored delay statistics for
// intersection id, called by internal/network.
func (c *Catalogue) UpdateIntersectionStats(id string, mean, variance float64) {
	i, ok := c.intersections[id]
	if !ok {
		return
	}
	i.DelayMean = mean
	i.DelayVar = variance
	c.intersections[id] = i
}

// UpdateStopStats replaces the stored dwell statistics for stop id,
// called by internal/network.
func (c *Catalogue) UpdateStopStats(id string, mean, variance float64) {
	s, ok := c.stops[id]
	if !ok {
		return
	}
	s.DwellMean = mean
	s.DwellVar = variance
	c.stops[id] = s
}

// Validate checks every invariant the static-schedule data model
// requires: non-decreasing shape distances, non-empty shape paths,
// positive segment lengths, non-negative variances, departure >= arrival,
// and that every cross-reference resolves. A failure here means the
// engine refuses to start.
func (c *Catalogue) Validate() error {
	for id, shape := range c.shapes {
		if err := shape.validate(); err != nil {
			return err
		}
		for _, seg := range shape.Segments {
			if _, ok := c.segments[seg.SegmentID]; !ok {
				return fmt.Errorf("shape %s: references missing segment %s", id, seg.SegmentID)
			}
		}
	}
	for id, seg := range c.segments {
		if err := seg.validate(); err != nil {
			return err
		}
		if seg.Start.Kind == EndpointStop {
			if _, ok := c.stops[seg.Start.ID]; !ok {
				return fmt.Errorf("segment %s: references missing start stop %s", id, seg.Start.ID)
			}
		} else if _, ok := c.intersections[seg.Start.ID]; !ok {
			return fmt.Errorf("segment %s: references missing start intersection %s", id, seg.Start.ID)
		}
		if seg.End.Kind == EndpointStop {
			if _, ok := c.stops[seg.End.ID]; !ok {
				return fmt.Errorf("segment %s: references missing end stop %s", id, seg.End.ID)
			}
		} else if _, ok := c.intersections[seg.End.ID]; !ok {
			return fmt.Errorf("segment %s: references missing end intersection %s", id, seg.End.ID)
		}
	}
	for id, route := range c.routes {
		if err := route.validate(); err != nil {
			return err
		}
		if route.ShapeID != "" {
			if _, ok := c.shapes[route.ShapeID]; !ok {
				return fmt.Errorf("route %s: references missing shape %s", id, route.ShapeID)
			}
		}
		for _, rs := range route.Stops {
			if _, ok := c.stops[rs.StopID]; !ok {
				return fmt.Errorf("route %s: references missing stop %s", id, rs.StopID)
			}
		}
	}
	for id, trip := range c.trips {
		if err := trip.validate(); err != nil {
			return err
		}
		if _, ok := c.routes[trip.RouteID]; !ok {
			return fmt.Errorf("trip %s: references missing route %s", id, trip.RouteID)
		}
		for _, st := range trip.StopTimes {
			if _, ok := c.stops[st.StopID]; !ok {
				return fmt.Errorf("trip %s: references missing stop %s", id, st.StopID)
			}
		}
	}
	return nil
}

// TripShape resolves the Shape a trip's route follows, if any.
func (c *Catalogue) TripShape(tripID string) (Shape, bool) {
	trip, ok := c.trips[tripID]
	if !ok {
		return Shape{}, false
	}
	route, ok := c.routes[trip.RouteID]
	if !ok || route.ShapeID == "" {
		return Shape{}, false
	}
	return c.Shape(route.ShapeID)
}
