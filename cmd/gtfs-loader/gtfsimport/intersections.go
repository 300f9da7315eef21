package gtfsimport

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/transitnet/flowmodel/internal/geo"
	"github.com/transitnet/flowmodel/internal/schedule"
)

// clusterThresholdMeters is how close two raw intersection points must be
// to be considered the same physical intersection, matching the
// original loader's clustering distance.
const clusterThresholdMeters = 40.0

// overpassFile is the shape of an Overpass-API-style extract: a flat
// list of elements each carrying a lat/lon.
type overpassFile struct {
	Elements []struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"elements"`
}

type rawIntersectionPoint struct {
	coord geo.Coord
	kind  schedule.IntersectionType
}

// LoadIntersections reads one or more Overpass-style JSON extracts
// (traffic lights, roundabouts - the kind is inferred from the filename,
// "roundabout" vs anything else) and clusters nearby points into a
// single Intersection each, the way the original loader's
// import_intersections combines adjacent OSM nodes belonging to the same
// physical intersection.
func LoadIntersections(paths ...string) ([]schedule.Intersection, error) {
	var points []rawIntersectionPoint
	for _, path := range paths {
		kind := schedule.TrafficLight
		if strings.Contains(strings.ToLower(path), "roundabout") {
			kind = schedule.Roundabout
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("gtfsimport: reading intersections file %s: %w", path, err)
		}
		var file overpassFile
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("gtfsimport: parsing intersections file %s: %w", path, err)
		}
		for _, el := range file.Elements {
			points = append(points, rawIntersectionPoint{
				coord: geo.Coord{Lat: el.Lat, Lng: el.Lon},
				kind:  kind,
			})
		}
	}
	return clusterIntersections(points), nil
}

// clusterIntersections groups points within clusterThresholdMeters of one
// another (single-linkage) and replaces each group with one Intersection
// at the group's mean coordinate.
func clusterIntersections(points []rawIntersectionPoint) []schedule.Intersection {
	n := len(points)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if geo.Distance(points[i].coord, points[j].coord) < clusterThresholdMeters {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := find(i)
		groups[root] = append(groups[root], i)
	}

	out := make([]schedule.Intersection, 0, len(groups))
	id := 0
	for _, members := range groups {
		var sumLat, sumLng float64
		for _, m := range members {
			sumLat += points[m].coord.Lat
			sumLng += points[m].coord.Lng
		}
		n := float64(len(members))
		out = append(out, schedule.Intersection{
			ID:    fmt.Sprintf("intersection-%d", id),
			Coord: geo.Coord{Lat: sumLat / n, Lng: sumLng / n},
			Type:  points[members[0]].kind,
		})
		id++
	}
	return out
}
