package gtfsimport

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/transitnet/flowmodel/internal/geo"
	"github.com/transitnet/flowmodel/internal/schedule"
)

// splitSnapMeters is how close an intersection must sit to a shape's
// path to be treated as lying on it, matching the 40m tolerance the
// original loader's find_intersections used.
const splitSnapMeters = 40.0

// Built holds every static-schedule entity gtfsimport.Build derives from
// a GTFS static feed directory, ready for internal/schedule's Import*
// functions.
type Built struct {
	Stops         []schedule.Stop
	Intersections []schedule.Intersection
	Segments      []schedule.Segment
	Shapes        []schedule.Shape
	Routes        []schedule.Route
	Trips         []schedule.Trip
}

type rawTrip struct {
	id      string
	routeID string
	shapeID string
}

type rawStopTime struct {
	stopID   string
	arrival  int
	depart   int
	sequence int
}

// Build reads stops.txt, routes.txt, trips.txt, stop_times.txt and
// shapes.txt from dir, and combines them with intersections (typically
// from LoadIntersections) into a complete static schedule, splitting
// each route's shape into Segments at its stops and any intersection
// lying on the path.
//
// Unlike the original loader, segments are not deduplicated across
// shapes that happen to share a street - each shape owns a private
// segment namespace. This keeps the derivation a single linear pass at
// the cost of the aggregator seeing separate statistics for physically
// identical road sections served by more than one route.
func Build(dir string, intersections []schedule.Intersection) (*Built, error) {
	stops, err := readStops(dir)
	if err != nil {
		return nil, err
	}
	routes, err := readRoutes(dir)
	if err != nil {
		return nil, err
	}
	trips, err := readTrips(dir)
	if err != nil {
		return nil, err
	}
	stopTimesByTrip, err := readStopTimes(dir)
	if err != nil {
		return nil, err
	}
	shapePaths, err := readShapes(dir)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	stopList := make([]schedule.Stop, 0, len(stops))
	for _, s := range stops {
		s.Timestamp = now
		stopList = append(stopList, s)
	}

	for i := range intersections {
		intersections[i].Timestamp = now
	}

	routeShapeID := make(map[string]string)
	tripsByRoute := make(map[string][]rawTrip)
	for _, t := range trips {
		tripsByRoute[t.routeID] = append(tripsByRoute[t.routeID], t)
		if _, ok := routeShapeID[t.routeID]; !ok {
			routeShapeID[t.routeID] = t.shapeID
		}
	}

	var (
		outRoutes   []schedule.Route
		outShapes   []schedule.Shape
		outSegments []schedule.Segment
		outTrips    []schedule.Trip
	)

	for routeID, route := range routes {
		shapeID := routeShapeID[routeID]
		path, ok := shapePaths[shapeID]
		if !ok || len(path) < 2 {
			continue
		}
		shape := buildShapeFromPath(shapeID, path)

		routeTrips := tripsByRoute[routeID]
		representative := firstTripOnShape(routeTrips, shapeID, stopTimesByTrip)
		if representative == nil {
			continue
		}

		routeStops, splits := deriveRouteStops(shape, stops, stopTimesByTrip[representative.id], intersections)
		route.ShapeID = shapeID
		route.Stops = routeStops

		segments, shapeSegments := buildSegments(shapeID, shape, splits)
		shape.Segments = shapeSegments
		for i := range segments {
			segments[i].Timestamp = now
		}

		for _, t := range routeTrips {
			if t.shapeID != shapeID {
				continue
			}
			sts := stopTimesByTrip[t.id]
			trip := schedule.Trip{ID: t.id, RouteID: routeID}
			for _, st := range sts {
				dist := 0.0
				if s, ok := stops[st.stopID]; ok {
					dist = shapeDistanceOf(shape, s.Coord)
				}
				trip.StopTimes = append(trip.StopTimes, schedule.StopTime{
					StopID:            st.stopID,
					ArrivalSeconds:    st.arrival,
					DepartureSeconds:  st.depart,
					ShapeDistTraveled: dist,
					Layover:           st.depart-st.arrival > 0 && st.arrival == sts[len(sts)-1].arrival,
				})
			}
			outTrips = append(outTrips, trip)
		}

		outRoutes = append(outRoutes, route)
		outShapes = append(outShapes, shape)
		outSegments = append(outSegments, segments...)
	}

	return &Built{
		Stops:         stopList,
		Intersections: intersections,
		Segments:      outSegments,
		Shapes:        outShapes,
		Routes:        outRoutes,
		Trips:         outTrips,
	}, nil
}

// shapeDistanceOf returns how far along shape's path (in meters) the
// nearest point to coord falls.
func shapeDistanceOf(shape schedule.Shape, coord geo.Coord) float64 {
	path := make([]geo.Coord, len(shape.Path))
	for i, pt := range shape.Path {
		path[i] = pt.Coord
	}
	nearest := geo.Nearest(coord, path)
	base := shape.Path[nearest.SegmentIndex].DistTraveled
	segStart := shape.Path[nearest.SegmentIndex].Coord
	return base + geo.Distance(segStart, nearest.Point)
}

func buildShapeFromPath(shapeID string, path []rawShapePt) schedule.Shape {
	sort.Slice(path, func(i, j int) bool { return path[i].sequence < path[j].sequence })
	shape := schedule.Shape{ID: shapeID}
	dist := 0.0
	for i, pt := range path {
		if i > 0 {
			dist += geo.Distance(path[i-1].coord, pt.coord)
		}
		shape.Path = append(shape.Path, schedule.ShapePt{Coord: pt.coord, DistTraveled: dist})
	}
	return shape
}

func firstTripOnShape(trips []rawTrip, shapeID string, stopTimesByTrip map[string][]rawStopTime) *rawTrip {
	for _, t := range trips {
		if t.shapeID != shapeID {
			continue
		}
		if len(stopTimesByTrip[t.id]) == 0 {
			continue
		}
		trip := t
		return &trip
	}
	return nil
}

type splitPoint struct {
	distance float64
	kind     schedule.EndpointKind
	id       string
}

// deriveRouteStops projects the representative trip's stops onto shape
// and returns both the route_stops list and the full ordered split-point
// list (stops plus any nearby intersections) used to cut the shape into
// segments.
func deriveRouteStops(shape schedule.Shape, stops map[string]schedule.Stop, stopTimes []rawStopTime,
	intersections []schedule.Intersection) ([]schedule.RouteStop, []splitPoint) {

	path := make([]geo.Coord, len(shape.Path))
	for i, pt := range shape.Path {
		path[i] = pt.Coord
	}

	var routeStops []schedule.RouteStop
	var splits []splitPoint
	seenStop := make(map[string]bool)
	for _, st := range stopTimes {
		if seenStop[st.stopID] {
			continue
		}
		seenStop[st.stopID] = true
		stop, ok := stops[st.stopID]
		if !ok {
			continue
		}
		dist := shapeDistanceOf(shape, stop.Coord)
		routeStops = append(routeStops, schedule.RouteStop{StopID: st.stopID, ShapeDistTraveled: dist})
		splits = append(splits, splitPoint{distance: dist, kind: schedule.EndpointStop, id: st.stopID})
	}

	for _, isec := range intersections {
		nearest := geo.Nearest(isec.Coord, path)
		if nearest.Distance >= splitSnapMeters {
			continue
		}
		dist := shapeDistanceOf(shape, isec.Coord)
		splits = append(splits, splitPoint{distance: dist, kind: schedule.EndpointIntersection, id: isec.ID})
	}

	sort.Slice(splits, func(i, j int) bool { return splits[i].distance < splits[j].distance })
	deduped := dedupeSplits(splits)
	// Shape.validate requires the first shape_segment to start exactly at
	// distance zero; the first split's projected distance is only ever
	// approximately zero, so pin it.
	if len(deduped) > 0 {
		deduped[0].distance = 0
	}
	return routeStops, deduped
}

// dedupeSplits removes near-duplicate split points (an intersection
// found within a meter of a stop's projected location, or repeated
// across adjacent path edges), preferring to keep stops.
func dedupeSplits(splits []splitPoint) []splitPoint {
	var out []splitPoint
	for _, s := range splits {
		if len(out) > 0 && s.distance-out[len(out)-1].distance < 1.0 {
			if out[len(out)-1].kind == schedule.EndpointIntersection && s.kind == schedule.EndpointStop {
				out[len(out)-1] = s
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// buildSegments cuts shape at each split point, returning the segments
// and the shape_segments join rows locating each within shapeID.
func buildSegments(shapeID string, shape schedule.Shape, splits []splitPoint) ([]schedule.Segment, []schedule.ShapeSegment) {
	if len(splits) < 2 {
		return nil, nil
	}
	var segments []schedule.Segment
	var shapeSegments []schedule.ShapeSegment
	for i := 0; i+1 < len(splits); i++ {
		start, end := splits[i], splits[i+1]
		length := end.distance - start.distance
		if length <= 0 {
			continue
		}
		id := fmt.Sprintf("seg-%s-%d", shapeID, i)
		segments = append(segments, schedule.Segment{
			ID:           id,
			Start:        schedule.Endpoint{Kind: start.kind, ID: start.id},
			End:          schedule.Endpoint{Kind: end.kind, ID: end.id},
			LengthMeters: length,
		})
		shapeSegments = append(shapeSegments, schedule.ShapeSegment{
			SegmentID:         id,
			ShapeDistTraveled: start.distance,
		})
	}
	return segments, shapeSegments
}

// drainCSV reads every remaining row of p into rows via fn, a shared
// tail used by each reader below.
func drainCSV(p *fileParser, closeFn func() error, fn func(*fileParser) error) error {
	defer func() { _ = closeFn() }()
	err := eachRow(p, fn)
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}
