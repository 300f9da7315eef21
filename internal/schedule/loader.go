package schedule

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/transitnet/flowmodel/internal/geo"
)

// versionSuffix appends a schedule-version qualifier to a base table name,
// matching the "<table>_v<version>" convention the preprocessing loader
// (cmd/gtfs-loader) uses when writing a new schedule snapshot alongside
// an older one still in service.
func versionSuffix(table, version string) string {
	if version == "" {
		return table
	}
	return fmt.Sprintf("%s_v%s", table, version)
}

type stopRow struct {
	ID        string    `db:"stop_id"`
	Lat       float64   `db:"lat"`
	Lng       float64   `db:"lng"`
	DwellMean float64   `db:"dwell_time_mean"`
	DwellVar  float64   `db:"dwell_time_var"`
	Timestamp time.Time `db:"ts"`
}

type intersectionRow struct {
	ID        string    `db:"intersection_id"`
	Lat       float64   `db:"lat"`
	Lng       float64   `db:"lng"`
	Type      string    `db:"type"`
	DelayMean float64   `db:"delay_mean"`
	DelayVar  float64   `db:"delay_var"`
	Timestamp time.Time `db:"ts"`
}

type segmentRow struct {
	ID             string    `db:"segment_id"`
	StartType      string    `db:"start_type"`
	StartID        string    `db:"start_id"`
	EndType        string    `db:"end_type"`
	EndID          string    `db:"end_id"`
	LengthMeters   float64   `db:"length_m"`
	TravelTimeMean float64   `db:"travel_time_mean"`
	TravelTimeVar  float64   `db:"travel_time_var"`
	Timestamp      time.Time `db:"ts"`
}

type shapePointRow struct {
	ShapeID      string  `db:"shape_id"`
	Lat          float64 `db:"lat"`
	Lng          float64 `db:"lng"`
	DistTraveled float64 `db:"dist_traveled"`
	Sequence     int     `db:"sequence"`
}

type shapeSegmentRow struct {
	ShapeID           string  `db:"shape_id"`
	SegmentID         string  `db:"segment_id"`
	ShapeDistTraveled float64 `db:"shape_dist_traveled"`
	Sequence          int     `db:"sequence"`
}

type routeRow struct {
	ID        string `db:"route_id"`
	ShortName string `db:"short_name"`
	LongName  string `db:"long_name"`
	ShapeID   string `db:"shape_id"`
}

type routeStopRow struct {
	RouteID           string  `db:"route_id"`
	StopID            string  `db:"stop_id"`
	ShapeDistTraveled float64 `db:"shape_dist_traveled"`
	Sequence          int     `db:"sequence"`
}

type tripRow struct {
	ID      string `db:"trip_id"`
	RouteID string `db:"route_id"`
}

type stopTimeRow struct {
	TripID            string  `db:"trip_id"`
	StopID            string  `db:"stop_id"`
	ArrivalSeconds    int     `db:"arrival_s"`
	DepartureSeconds  int     `db:"departure_s"`
	ShapeDistTraveled float64 `db:"shape_dist_traveled"`
	Layover           bool    `db:"layover"`
	Sequence          int     `db:"sequence"`
}

// Load reads a complete static schedule snapshot from db, optionally
// scoped to a schedule version suffix (pass "" for the unsuffixed base
// tables), and returns a validated, ready-to-serve Catalogue. It reads,
// in order: stops, intersections, segments, shapes (as shape points),
// shape_segments, routes (joined with route_stops), trips and
// stop_times, resolving every cross-reference before returning so a
// Catalogue is never observed half-built.
func Load(db *sqlx.DB, version string) (*Catalogue, error) {
	stops, err := loadStops(db, version)
	if err != nil {
		return nil, fmt.Errorf("schedule: loading stops: %w", err)
	}
	intersections, err := loadIntersections(db, version)
	if err != nil {
		return nil, fmt.Errorf("schedule: loading intersections: %w", err)
	}
	segments, err := loadSegments(db, version)
	if err != nil {
		return nil, fmt.Errorf("schedule: loading segments: %w", err)
	}
	shapes, err := loadShapes(db, version)
	if err != nil {
		return nil, fmt.Errorf("schedule: loading shapes: %w", err)
	}
	routes, err := loadRoutes(db, version)
	if err != nil {
		return nil, fmt.Errorf("schedule: loading routes: %w", err)
	}
	trips, err := loadTrips(db, version)
	if err != nil {
		return nil, fmt.Errorf("schedule: loading trips: %w", err)
	}

	cat := NewCatalogue(stops, intersections, segments, shapes, routes, trips)
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("schedule: catalogue failed validation: %w", err)
	}
	return cat, nil
}

func loadStops(db *sqlx.DB, version string) (map[string]Stop, error) {
	var rows []stopRow
	q := fmt.Sprintf("SELECT stop_id, lat, lng, dwell_time_mean, dwell_time_var, ts FROM %s", versionSuffix("stops", version))
	if err := db.Select(&rows, q); err != nil {
		return nil, err
	}
	out := make(map[string]Stop, len(rows))
	for _, r := range rows {
		out[r.ID] = Stop{
			ID:        r.ID,
			Coord:     geo.Coord{Lat: r.Lat, Lng: r.Lng},
			DwellMean: r.DwellMean,
			DwellVar:  r.DwellVar,
			Timestamp: r.Timestamp,
		}
	}
	return out, nil
}

func loadIntersections(db *sqlx.DB, version string) (map[string]Intersection, error) {
	var rows []intersectionRow
	q := fmt.Sprintf("SELECT intersection_id, lat, lng, type, delay_mean, delay_var, ts FROM %s", versionSuffix("intersections", version))
	if err := db.Select(&rows, q); err != nil {
		return nil, err
	}
	out := make(map[string]Intersection, len(rows))
	for _, r := range rows {
		out[r.ID] = Intersection{
			ID:        r.ID,
			Coord:     geo.Coord{Lat: r.Lat, Lng: r.Lng},
			Type:      IntersectionType(r.Type),
			DelayMean: r.DelayMean,
			DelayVar:  r.DelayVar,
			Timestamp: r.Timestamp,
		}
	}
	return out, nil
}

func endpointKind(kind string) EndpointKind {
	if kind == "stop" {
		return EndpointStop
	}
	return EndpointIntersection
}

func loadSegments(db *sqlx.DB, version string) (map[string]Segment, error) {
	var rows []segmentRow
	q := fmt.Sprintf("SELECT segment_id, start_type, start_id, end_type, end_id, length_m, travel_time_mean, travel_time_var, ts FROM %s", versionSuffix("segments", version))
	if err := db.Select(&rows, q); err != nil {
		return nil, err
	}
	out := make(map[string]Segment, len(rows))
	for _, r := range rows {
		out[r.ID] = Segment{
			ID:             r.ID,
			Start:          Endpoint{Kind: endpointKind(r.StartType), ID: r.StartID},
			End:            Endpoint{Kind: endpointKind(r.EndType), ID: r.EndID},
			LengthMeters:   r.LengthMeters,
			TravelTimeMean: r.TravelTimeMean,
			TravelTimeVar:  r.TravelTimeVar,
			Timestamp:      r.Timestamp,
		}
	}
	return out, nil
}

func loadShapes(db *sqlx.DB, version string) (map[string]Shape, error) {
	var ptRows []shapePointRow
	ptQ := fmt.Sprintf("SELECT shape_id, lat, lng, dist_traveled, sequence FROM %s ORDER BY shape_id, sequence", versionSuffix("shapes", version))
	if err := db.Select(&ptRows, ptQ); err != nil {
		return nil, err
	}

	var segRows []shapeSegmentRow
	segQ := fmt.Sprintf("SELECT shape_id, segment_id, shape_dist_traveled, sequence FROM %s ORDER BY shape_id, sequence", versionSuffix("shape_segments", version))
	if err := db.Select(&segRows, segQ); err != nil {
		return nil, err
	}

	out := make(map[string]Shape)
	for _, r := range ptRows {
		s := out[r.ShapeID]
		s.ID = r.ShapeID
		s.Path = append(s.Path, ShapePt{
			Coord:        geo.Coord{Lat: r.Lat, Lng: r.Lng},
			DistTraveled: r.DistTraveled,
		})
		out[r.ShapeID] = s
	}
	for _, r := range segRows {
		s, ok := out[r.ShapeID]
		if !ok {
			return nil, fmt.Errorf("shape_segments references unknown shape %s", r.ShapeID)
		}
		s.Segments = append(s.Segments, ShapeSegment{
			SegmentID:         r.SegmentID,
			ShapeDistTraveled: r.ShapeDistTraveled,
		})
		out[r.ShapeID] = s
	}
	return out, nil
}

func loadRoutes(db *sqlx.DB, version string) (map[string]Route, error) {
	var rows []routeRow
	q := fmt.Sprintf("SELECT route_id, short_name, long_name, shape_id FROM %s", versionSuffix("routes", version))
	if err := db.Select(&rows, q); err != nil {
		return nil, err
	}
	out := make(map[string]Route, len(rows))
	for _, r := range rows {
		out[r.ID] = Route{
			ID:        r.ID,
			ShortName: r.ShortName,
			LongName:  r.LongName,
			ShapeID:   r.ShapeID,
		}
	}

	var rsRows []routeStopRow
	rsQ := fmt.Sprintf("SELECT route_id, stop_id, shape_dist_traveled, sequence FROM %s ORDER BY route_id, sequence", versionSuffix("route_stops", version))
	if err := db.Select(&rsRows, rsQ); err != nil {
		return nil, err
	}
	for _, rs := range rsRows {
		route, ok := out[rs.RouteID]
		if !ok {
			return nil, fmt.Errorf("route_stops references unknown route %s", rs.RouteID)
		}
		route.Stops = append(route.Stops, RouteStop{StopID: rs.StopID, ShapeDistTraveled: rs.ShapeDistTraveled})
		out[rs.RouteID] = route
	}
	return out, nil
}

func loadTrips(db *sqlx.DB, version string) (map[string]Trip, error) {
	var rows []tripRow
	q := fmt.Sprintf("SELECT trip_id, route_id FROM %s", versionSuffix("trips", version))
	if err := db.Select(&rows, q); err != nil {
		return nil, err
	}
	out := make(map[string]Trip, len(rows))
	for _, r := range rows {
		out[r.ID] = Trip{ID: r.ID, RouteID: r.RouteID}
	}

	var stRows []stopTimeRow
	stQ := fmt.Sprintf("SELECT trip_id, stop_id, arrival_s, departure_s, shape_dist_traveled, layover, sequence FROM %s ORDER BY trip_id, sequence", versionSuffix("stop_times", version))
	if err := db.Select(&stRows, stQ); err != nil {
		return nil, err
	}
	for _, st := range stRows {
		trip, ok := out[st.TripID]
		if !ok {
			return nil, fmt.Errorf("stop_times references unknown trip %s", st.TripID)
		}
		trip.StopTimes = append(trip.StopTimes, StopTime{
			StopID:            st.StopID,
			ArrivalSeconds:    st.ArrivalSeconds,
			DepartureSeconds:  st.DepartureSeconds,
			ShapeDistTraveled: st.ShapeDistTraveled,
			Layover:           st.Layover,
		})
		out[st.TripID] = trip
	}
	return out, nil
}

// SegmentBetweenStops finds the segment id spanning two consecutive
// stops on a shape, if shape_segments records one directly. Go's
// database/sql and sqlx bind positional placeholders independently per
// query argument; callers must pass startStopID, endStopID in that
// order.
func SegmentBetweenStops(db *sqlx.DB, version, startStopID, endStopID string) (string, error) {
	q := fmt.Sprintf(
		`SELECT segment_id FROM %s
		 WHERE start_type = 'stop' AND start_id = ? AND end_type = 'stop' AND end_id = ?`,
		versionSuffix("segments", version),
	)
	var segmentID string
	err := db.Get(&segmentID, db.Rebind(q), startStopID, endStopID)
	if err != nil {
		return "", fmt.Errorf("schedule: no segment from stop %s to stop %s: %w", startStopID, endStopID, err)
	}
	return segmentID, nil
}
