// Command gtfs-filter hosts the per-vehicle particle filter: it
// consumes decoded VehiclePosition/TripUpdate events from NATS
// (published by gtfs-ingest), drives internal/filter.Pool, persists
// each vehicle's posterior snapshot via internal/store, and republishes
// the resulting segment/stop crossings to NATS for gtfs-aggregator to
// fold into the network-level travel-time statistics.
//
// Crossing aggregation doesn't happen in this process: internal/network.
// NewAggregator's own doc comment requires the Aggregator to share the
// same schedule.Catalogue instance as the Pool driving transitions, so
// later particle cycles see freshly folded statistics. Splitting
// aggregation into gtfs-aggregator instead means this process keeps the
// statistics it loaded from the schedule database; it does not pick up
// gtfs-aggregator's statistics, either live or on restart.
package main

import (
	"encoding/json"
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"

	"github.com/transitnet/flowmodel/foundation/database"
	"github.com/transitnet/flowmodel/internal/filter"
	"github.com/transitnet/flowmodel/internal/network"
	"github.com/transitnet/flowmodel/internal/realtime"
	"github.com/transitnet/flowmodel/internal/schedule"
	"github.com/transitnet/flowmodel/internal/store"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "GTFS_FILTER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args     conf.Args
		Schedule struct {
			DatabasePath string `conf:"default:gtfs.db"`
			Version      string `conf:""`
		}
		Store struct {
			DatabasePath string `conf:"default:posterior.db"`
		}
		NATS struct {
			URL              string `conf:"default:localhost"`
			VehiclePositions string `conf:"default:vehicle-positions"`
			TripUpdates      string `conf:"default:trip-updates"`
			Crossings        string `conf:"default:vehicle-crossings"`
		}
		Filter struct {
			Workers       int `conf:"default:0"`
			ParticleCount int `conf:"default:200"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Run the per-vehicle particle filter over NATS-delivered realtime events"
	const prefix = "FILTER"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	log.Println("main: loading static schedule")
	scheduleDB, err := database.OpenSQLite(cfg.Schedule.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening schedule database: %w", err)
	}
	defer func() {
		if err := scheduleDB.Close(); err != nil {
			log.Printf("main: closing schedule database: %v", err)
		}
	}()
	cat, err := schedule.Load(scheduleDB, cfg.Schedule.Version)
	if err != nil {
		return fmt.Errorf("loading schedule: %w", err)
	}

	storeDB, err := database.OpenSQLite(cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening posterior store database: %w", err)
	}
	defer func() {
		if err := storeDB.Close(); err != nil {
			log.Printf("main: closing posterior store database: %v", err)
		}
	}()

	log.Printf("main: Connecting to NATS\n")
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("unable to establish connection to nats server: %w", err)
	}
	defer func() {
		log.Printf("main: closing connection to NATS")
		natsConnection.Close()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	pool := filter.NewPool(log, cat, cfg.Filter.Workers, cfg.Filter.ParticleCount, nil)
	pool.SetObserver(makeObserver(log, storeDB, natsConnection, cfg.NATS.Crossings))

	positionsSub, err := natsConnection.Subscribe(cfg.NATS.VehiclePositions, makeVehiclePositionHandler(log, pool))
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", cfg.NATS.VehiclePositions, err)
	}
	defer unsubscribe(log, positionsSub)

	tripUpdatesSub, err := natsConnection.Subscribe(cfg.NATS.TripUpdates, makeTripUpdateHandler(log, pool))
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", cfg.NATS.TripUpdates, err)
	}
	defer unsubscribe(log, tripUpdatesSub)

	<-shutdown
	log.Println("main: shutdown signal received")
	pool.Shutdown()

	return nil
}

// makeVehiclePositionHandler decodes each NATS message as a batch of
// realtime.VehiclePosition and submits each to the pool.
func makeVehiclePositionHandler(log *logger.Logger, pool *filter.Pool) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var positions []realtime.VehiclePosition
		if err := json.Unmarshal(msg.Data, &positions); err != nil {
			log.Printf("FILTER : error parsing vehicle positions: %v", err)
			return
		}
		for _, p := range positions {
			if p.TripID != "" {
				pool.AssignTrip(p.VehicleID, p.TripID)
			}
			pool.Submit(filter.Observation{
				VehicleID: p.VehicleID,
				Coord:     p.Position,
				Timestamp: p.Timestamp,
			})
		}
	}
}

// makeTripUpdateHandler decodes each NATS message as a batch of
// realtime.TripUpdate and records the first stop-time constraint each
// carries against every vehicle currently assigned that trip. A
// TripUpdate is keyed by trip rather than vehicle, and carries one
// constraint per upcoming stop; using the first is a simplification
// until the hint is threaded through with the vehicle's current
// position to pick the nearest one.
func makeTripUpdateHandler(log *logger.Logger, pool *filter.Pool) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var updates []realtime.TripUpdate
		if err := json.Unmarshal(msg.Data, &updates); err != nil {
			log.Printf("FILTER : error parsing trip updates: %v", err)
			return
		}
		for _, u := range updates {
			if len(u.StopTimeUpdates) == 0 {
				continue
			}
			stu := u.StopTimeUpdates[0]
			hint := filter.TripUpdateHint{
				StopSequence:  stu.StopSequence,
				ArrivalTime:   stu.ArrivalTime,
				DepartureTime: stu.DepartureTime,
				Delay:         stu.Delay,
			}
			for _, v := range pool.VehiclesOnTrip(u.TripID) {
				v.RecordTripUpdate(hint)
			}
		}
	}
}

// makeObserver builds the Pool observer that persists a vehicle's
// posterior particle snapshot and republishes its post-cycle crossings
// for gtfs-aggregator.
func makeObserver(log *logger.Logger, storeDB *sqlx.DB, nc *nats.Conn, crossingsSubject string) func(v *filter.Vehicle) {
	return func(v *filter.Vehicle) {
		now := time.Now()
		particles := v.Particles()
		rows := make([]store.ParticleSnapshotRow, len(particles))
		for i, p := range particles {
			rows[i] = store.ParticleSnapshotRow{
				VehicleID:     v.ID,
				TripID:        v.TripID,
				Timestamp:     now,
				ParticleID:    p.ID,
				Distance:      p.Distance,
				Velocity:      p.Velocity,
				LogLikelihood: p.LogLikelihood,
			}
		}
		if err := store.RecordParticleSnapshot(storeDB, rows); err != nil {
			log.Printf("FILTER : vehicle %s: recording particle snapshot: %v", v.ID, err)
		}

		segments, stops := v.Crossings()
		if len(segments) == 0 && len(stops) == 0 {
			return
		}
		update := network.Update{
			VehicleID: v.ID,
			TripID:    v.TripID,
			At:        now,
			Segments:  segments,
			Stops:     stops,
		}
		data, err := json.Marshal(update)
		if err != nil {
			log.Printf("FILTER : vehicle %s: marshaling crossing update: %v", v.ID, err)
			return
		}
		if err := nc.Publish(crossingsSubject, data); err != nil {
			log.Printf("FILTER : vehicle %s: publishing crossing update: %v", v.ID, err)
		}
	}
}

func unsubscribe(log *logger.Logger, sub *nats.Subscription) {
	if !sub.IsValid() {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		log.Printf("FILTER : error unsubscribing from %s: %v", sub.Subject, err)
	}
}
