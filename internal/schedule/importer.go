package schedule

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// CreateTables creates the nine versioned static-schedule tables
// cmd/gtfs-loader populates and Load later reads, if they do not already
// exist. Column names mirror the row structs in loader.go.
func CreateTables(db *sqlx.DB, version string) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			stop_id TEXT PRIMARY KEY, lat REAL, lng REAL,
			dwell_time_mean REAL, dwell_time_var REAL, ts DATETIME
		)`, versionSuffix("stops", version)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			intersection_id TEXT PRIMARY KEY, lat REAL, lng REAL, type TEXT,
			delay_mean REAL, delay_var REAL, ts DATETIME
		)`, versionSuffix("intersections", version)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			segment_id TEXT PRIMARY KEY, start_type TEXT, start_id TEXT,
			end_type TEXT, end_id TEXT, length_m REAL,
			travel_time_mean REAL, travel_time_var REAL, ts DATETIME
		)`, versionSuffix("segments", version)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			shape_id TEXT, lat REAL, lng REAL, dist_traveled REAL, sequence INTEGER
		)`, versionSuffix("shapes", version)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			shape_id TEXT, segment_id TEXT, shape_dist_traveled REAL, sequence INTEGER
		)`, versionSuffix("shape_segments", version)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			route_id TEXT PRIMARY KEY, short_name TEXT, long_name TEXT, shape_id TEXT
		)`, versionSuffix("routes", version)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			route_id TEXT, stop_id TEXT, shape_dist_traveled REAL, sequence INTEGER
		)`, versionSuffix("route_stops", version)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			trip_id TEXT PRIMARY KEY, route_id TEXT
		)`, versionSuffix("trips", version)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			trip_id TEXT, stop_id TEXT, arrival_s INTEGER, departure_s INTEGER,
			shape_dist_traveled REAL, layover BOOLEAN, sequence INTEGER
		)`, versionSuffix("stop_times", version)),
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schedule: creating table: %w", err)
		}
	}
	return nil
}

// ImportStops writes stops into the version-suffixed stops table.
func ImportStops(db *sqlx.DB, version string, stops []Stop) error {
	stmt := fmt.Sprintf(`INSERT INTO %s
		(stop_id, lat, lng, dwell_time_mean, dwell_time_var, ts)
		VALUES (:stop_id, :lat, :lng, :dwell_time_mean, :dwell_time_var, :ts)`,
		versionSuffix("stops", version))
	return batchNamedExec(db, stmt, len(stops), func(i int) interface{} {
		s := stops[i]
		return map[string]interface{}{
			"stop_id": s.ID, "lat": s.Coord.Lat, "lng": s.Coord.Lng,
			"dwell_time_mean": s.DwellMean, "dwell_time_var": s.DwellVar, "ts": s.Timestamp,
		}
	})
}

// ImportIntersections writes intersections into the version-suffixed
// intersections table.
func ImportIntersections(db *sqlx.DB, version string, intersections []Intersection) error {
	stmt := fmt.Sprintf(`INSERT INTO %s
		(intersection_id, lat, lng, type, delay_mean, delay_var, ts)
		VALUES (:intersection_id, :lat, :lng, :type, :delay_mean, :delay_var, :ts)`,
		versionSuffix("intersections", version))
	return batchNamedExec(db, stmt, len(intersections), func(i int) interface{} {
		v := intersections[i]
		return map[string]interface{}{
			"intersection_id": v.ID, "lat": v.Coord.Lat, "lng": v.Coord.Lng,
			"type": string(v.Type), "delay_mean": v.DelayMean, "delay_var": v.DelayVar, "ts": v.Timestamp,
		}
	})
}

func endpointKindString(k EndpointKind) string {
	if k == EndpointStop {
		return "stop"
	}
	return "intersection"
}

// ImportSegments writes segments into the version-suffixed segments table.
func ImportSegments(db *sqlx.DB, version string, segments []Segment) error {
	stmt := fmt.Sprintf(`INSERT INTO %s
		(segment_id, start_type, start_id, end_type, end_id, length_m, travel_time_mean, travel_time_var, ts)
		VALUES (:segment_id, :start_type, :start_id, :end_type, :end_id, :length_m, :travel_time_mean, :travel_time_var, :ts)`,
		versionSuffix("segments", version))
	return batchNamedExec(db, stmt, len(segments), func(i int) interface{} {
		s := segments[i]
		return map[string]interface{}{
			"segment_id": s.ID,
			"start_type": endpointKindString(s.Start.Kind), "start_id": s.Start.ID,
			"end_type": endpointKindString(s.End.Kind), "end_id": s.End.ID,
			"length_m": s.LengthMeters, "travel_time_mean": s.TravelTimeMean,
			"travel_time_var": s.TravelTimeVar, "ts": s.Timestamp,
		}
	})
}

// ImportShapes writes a shape's points and its segment legs into the
// version-suffixed shapes/shape_segments tables.
func ImportShapes(db *sqlx.DB, version string, shapes []Shape) error {
	ptStmt := fmt.Sprintf(`INSERT INTO %s (shape_id, lat, lng, dist_traveled, sequence)
		VALUES (:shape_id, :lat, :lng, :dist_traveled, :sequence)`, versionSuffix("shapes", version))
	segStmt := fmt.Sprintf(`INSERT INTO %s (shape_id, segment_id, shape_dist_traveled, sequence)
		VALUES (:shape_id, :segment_id, :shape_dist_traveled, :sequence)`, versionSuffix("shape_segments", version))

	for _, shape := range shapes {
		for seq, pt := range shape.Path {
			_, err := db.NamedExec(ptStmt, map[string]interface{}{
				"shape_id": shape.ID, "lat": pt.Coord.Lat, "lng": pt.Coord.Lng,
				"dist_traveled": pt.DistTraveled, "sequence": seq,
			})
			if err != nil {
				return fmt.Errorf("schedule: inserting shape point: %w", err)
			}
		}
		for seq, seg := range shape.Segments {
			_, err := db.NamedExec(segStmt, map[string]interface{}{
				"shape_id": shape.ID, "segment_id": seg.SegmentID,
				"shape_dist_traveled": seg.ShapeDistTraveled, "sequence": seq,
			})
			if err != nil {
				return fmt.Errorf("schedule: inserting shape_segment: %w", err)
			}
		}
	}
	return nil
}

// ImportRoutes writes routes and their route_stops into the
// version-suffixed routes/route_stops tables.
func ImportRoutes(db *sqlx.DB, version string, routes []Route) error {
	routeStmt := fmt.Sprintf(`INSERT INTO %s (route_id, short_name, long_name, shape_id)
		VALUES (:route_id, :short_name, :long_name, :shape_id)`, versionSuffix("routes", version))
	stopStmt := fmt.Sprintf(`INSERT INTO %s (route_id, stop_id, shape_dist_traveled, sequence)
		VALUES (:route_id, :stop_id, :shape_dist_traveled, :sequence)`, versionSuffix("route_stops", version))

	for _, route := range routes {
		_, err := db.NamedExec(routeStmt, map[string]interface{}{
			"route_id": route.ID, "short_name": route.ShortName,
			"long_name": route.LongName, "shape_id": route.ShapeID,
		})
		if err != nil {
			return fmt.Errorf("schedule: inserting route: %w", err)
		}
		for seq, rs := range route.Stops {
			_, err := db.NamedExec(stopStmt, map[string]interface{}{
				"route_id": route.ID, "stop_id": rs.StopID,
				"shape_dist_traveled": rs.ShapeDistTraveled, "sequence": seq,
			})
			if err != nil {
				return fmt.Errorf("schedule: inserting route_stop: %w", err)
			}
		}
	}
	return nil
}

// ImportTrips writes trips and their stop_times into the
// version-suffixed trips/stop_times tables.
func ImportTrips(db *sqlx.DB, version string, trips []Trip) error {
	tripStmt := fmt.Sprintf(`INSERT INTO %s (trip_id, route_id)
		VALUES (:trip_id, :route_id)`, versionSuffix("trips", version))
	stStmt := fmt.Sprintf(`INSERT INTO %s
		(trip_id, stop_id, arrival_s, departure_s, shape_dist_traveled, layover, sequence)
		VALUES (:trip_id, :stop_id, :arrival_s, :departure_s, :shape_dist_traveled, :layover, :sequence)`,
		versionSuffix("stop_times", version))

	for _, trip := range trips {
		_, err := db.NamedExec(tripStmt, map[string]interface{}{"trip_id": trip.ID, "route_id": trip.RouteID})
		if err != nil {
			return fmt.Errorf("schedule: inserting trip: %w", err)
		}
		for seq, st := range trip.StopTimes {
			_, err := db.NamedExec(stStmt, map[string]interface{}{
				"trip_id": trip.ID, "stop_id": st.StopID,
				"arrival_s": st.ArrivalSeconds, "departure_s": st.DepartureSeconds,
				"shape_dist_traveled": st.ShapeDistTraveled, "layover": st.Layover, "sequence": seq,
			})
			if err != nil {
				return fmt.Errorf("schedule: inserting stop_time: %w", err)
			}
		}
	}
	return nil
}

func batchNamedExec(db *sqlx.DB, stmt string, n int, rowAt func(i int) interface{}) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := tx.NamedExec(stmt, rowAt(i)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("schedule: inserting row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// StampNow returns the current time for ts columns on freshly imported
// rows that have not yet accumulated any aggregator observations.
var StampNow = time.Now
