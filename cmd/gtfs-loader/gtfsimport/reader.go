package gtfsimport

import (
	"sort"

	"github.com/transitnet/flowmodel/internal/geo"
	"github.com/transitnet/flowmodel/internal/schedule"
)

type rawShapePt struct {
	coord    geo.Coord
	sequence int
}

func readStops(dir string) (map[string]schedule.Stop, error) {
	p, closeFn, err := openFileParser(dir, "stops.txt")
	if err != nil {
		return nil, err
	}
	out := make(map[string]schedule.Stop)
	err = drainCSV(p, closeFn, func(p *fileParser) error {
		id, err := p.getString("stop_id")
		if err != nil {
			return err
		}
		lat, err := p.getFloat64("stop_lat")
		if err != nil {
			return err
		}
		lng, err := p.getFloat64("stop_lon")
		if err != nil {
			return err
		}
		out[id] = schedule.Stop{ID: id, Coord: geo.Coord{Lat: lat, Lng: lng}}
		return nil
	})
	return out, err
}

func readRoutes(dir string) (map[string]schedule.Route, error) {
	p, closeFn, err := openFileParser(dir, "routes.txt")
	if err != nil {
		return nil, err
	}
	out := make(map[string]schedule.Route)
	err = drainCSV(p, closeFn, func(p *fileParser) error {
		id, err := p.getString("route_id")
		if err != nil {
			return err
		}
		out[id] = schedule.Route{
			ID:        id,
			ShortName: p.getStringOptional("route_short_name"),
			LongName:  p.getStringOptional("route_long_name"),
		}
		return nil
	})
	return out, err
}

func readTrips(dir string) ([]rawTrip, error) {
	p, closeFn, err := openFileParser(dir, "trips.txt")
	if err != nil {
		return nil, err
	}
	var out []rawTrip
	err = drainCSV(p, closeFn, func(p *fileParser) error {
		id, err := p.getString("trip_id")
		if err != nil {
			return err
		}
		routeID, err := p.getString("route_id")
		if err != nil {
			return err
		}
		shapeID, err := p.getString("shape_id")
		if err != nil {
			return err
		}
		out = append(out, rawTrip{id: id, routeID: routeID, shapeID: shapeID})
		return nil
	})
	return out, err
}

func readStopTimes(dir string) (map[string][]rawStopTime, error) {
	p, closeFn, err := openFileParser(dir, "stop_times.txt")
	if err != nil {
		return nil, err
	}
	out := make(map[string][]rawStopTime)
	err = drainCSV(p, closeFn, func(p *fileParser) error {
		tripID, err := p.getString("trip_id")
		if err != nil {
			return err
		}
		stopID, err := p.getString("stop_id")
		if err != nil {
			return err
		}
		arrival, err := p.getGTFSTime("arrival_time")
		if err != nil {
			return err
		}
		departure, err := p.getGTFSTime("departure_time")
		if err != nil {
			return err
		}
		sequence, err := p.getInt("stop_sequence")
		if err != nil {
			return err
		}
		out[tripID] = append(out[tripID], rawStopTime{
			stopID: stopID, arrival: arrival, depart: departure, sequence: sequence,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	for tripID := range out {
		sts := out[tripID]
		sort.Slice(sts, func(i, j int) bool { return sts[i].sequence < sts[j].sequence })
		out[tripID] = sts
	}
	return out, nil
}

func readShapes(dir string) (map[string][]rawShapePt, error) {
	p, closeFn, err := openFileParser(dir, "shapes.txt")
	if err != nil {
		return nil, err
	}
	out := make(map[string][]rawShapePt)
	err = drainCSV(p, closeFn, func(p *fileParser) error {
		shapeID, err := p.getString("shape_id")
		if err != nil {
			return err
		}
		lat, err := p.getFloat64("shape_pt_lat")
		if err != nil {
			return err
		}
		lng, err := p.getFloat64("shape_pt_lon")
		if err != nil {
			return err
		}
		sequence, err := p.getInt("shape_pt_sequence")
		if err != nil {
			return err
		}
		out[shapeID] = append(out[shapeID], rawShapePt{coord: geo.Coord{Lat: lat, Lng: lng}, sequence: sequence})
		return nil
	})
	return out, err
}
