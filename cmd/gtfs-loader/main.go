// Command gtfs-loader preprocesses a GTFS static feed into the
// versioned SQLite schedule tables internal/schedule.Load reads: it
// optionally downloads and unpacks the feed, derives the segment graph
// by splitting each route's shape at its stops and any intersection
// lying on the path, and writes everything to --database.
package main

import (
	"fmt"
	logger "log"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/transitnet/flowmodel/cmd/gtfs-loader/gtfsimport"
	"github.com/transitnet/flowmodel/foundation/database"
	"github.com/transitnet/flowmodel/internal/schedule"
)

func main() {
	log := logger.New(os.Stdout, "GTFS_LOADER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "gtfs-loader - load a GTFS static feed into a schedule SQLite database\n\nAllowed options:\n\n")
		flag.PrintDefaults()
	}

	databasePath := flag.String("database", "gtfs.db", "path to the SQLite database to write")
	dir := flag.String("dir", ".", "directory of extracted GTFS static files (stops.txt, routes.txt, ...)")
	version := flag.String("version", "", "schedule version suffix to stamp onto the written tables, e.g. '2' writes stops_v2")
	url := flag.String("url", "", "if set, download and unpack the GTFS zip at this url into --dir before loading")
	intersectionFiles := flag.String("intersections", "", "comma-separated Overpass-style JSON files of traffic-light/roundabout points")
	help := flag.BoolP("help", "h", false, "print this message and exit")

	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	if err := run(log, *databasePath, *dir, *version, *url, *intersectionFiles); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger, databasePath, dir, version, url, intersectionFiles string) error {
	if url != "" {
		log.Printf("downloading %s into %s", url, dir)
		if err := gtfsimport.DownloadAndExtract(dir, url); err != nil {
			return err
		}
	}

	var intersectionPaths []string
	if intersectionFiles != "" {
		intersectionPaths = strings.Split(intersectionFiles, ",")
	}
	intersections, err := gtfsimport.LoadIntersections(intersectionPaths...)
	if err != nil {
		return err
	}
	log.Printf("loaded %d intersections from %d file(s)", len(intersections), len(intersectionPaths))

	log.Printf("reading GTFS static feed from %s", dir)
	built, err := gtfsimport.Build(dir, intersections)
	if err != nil {
		return err
	}
	log.Printf("derived %d stops, %d intersections, %d segments, %d shapes, %d routes, %d trips",
		len(built.Stops), len(built.Intersections), len(built.Segments), len(built.Shapes), len(built.Routes), len(built.Trips))

	db, err := database.OpenSQLite(databasePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", databasePath, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("closing database: %v", err)
		}
	}()

	if err := schedule.CreateTables(db, version); err != nil {
		return err
	}
	if err := schedule.ImportStops(db, version, built.Stops); err != nil {
		return err
	}
	if err := schedule.ImportIntersections(db, version, built.Intersections); err != nil {
		return err
	}
	if err := schedule.ImportSegments(db, version, built.Segments); err != nil {
		return err
	}
	if err := schedule.ImportShapes(db, version, built.Shapes); err != nil {
		return err
	}
	if err := schedule.ImportRoutes(db, version, built.Routes); err != nil {
		return err
	}
	if err := schedule.ImportTrips(db, version, built.Trips); err != nil {
		return err
	}

	log.Printf("wrote schedule version %q to %s", version, databasePath)
	return nil
}
