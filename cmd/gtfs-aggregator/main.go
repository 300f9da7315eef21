// Command gtfs-aggregator folds per-vehicle segment/stop crossing
// updates published by gtfs-filter into network-level travel-time and
// dwell statistics, periodically persisting them via internal/store and
// serving the current aggregate over HTTP for diagnostics.
//
// It owns its own schedule.Catalogue instance rather than sharing one
// with a gtfs-filter process: internal/network.Aggregator mutates the
// catalogue it is constructed with so a Pool driving the same catalogue
// sees freshly folded statistics on its next particle transition, but
// that coupling only works in-process. Run as a separate binary,
// gtfs-filter's catalogue keeps the statistics it loaded from the
// schedule database; the statistics this process persists to the
// posterior store are not read back by gtfs-filter or by this process,
// either live or on restart.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	logger "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"

	"github.com/transitnet/flowmodel/foundation/database"
	"github.com/transitnet/flowmodel/internal/network"
	"github.com/transitnet/flowmodel/internal/schedule"
	"github.com/transitnet/flowmodel/internal/store"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "GTFS_AGGREGATOR : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
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
			URL       string `conf:"default:localhost"`
			Crossings string `conf:"default:vehicle-crossings"`
		}
		Aggregator struct {
			PersistIntervalSeconds int `conf:"default:30"`
		}
		HTTPPort int `conf:"default:8081"`
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Fold vehicle crossing updates into network-level travel-time statistics"
	const prefix = "AGGREGATOR"
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
	done := make(chan struct{})

	aggregator := network.NewAggregator(log, cat)
	aggregator.Start(done)

	sub, err := natsConnection.Subscribe(cfg.NATS.Crossings, makeCrossingsHandler(log, aggregator))
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", cfg.NATS.Crossings, err)
	}
	defer unsubscribe(log, sub)

	srv := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", cfg.HTTPPort),
		Handler:      snapshotRouter(log, aggregator),
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("main: starting snapshot endpoint on port %d", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("main: snapshot endpoint stopped: %v", err)
		}
	}()

	persistInterval := time.Duration(cfg.Aggregator.PersistIntervalSeconds) * time.Second
	go persistCatalogueStatsLoop(log, storeDB, cat, persistInterval, done)

	<-shutdown
	log.Println("main: shutdown signal received")
	close(done)
	aggregator.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("main: error shutting down snapshot endpoint: %v", err)
	}

	persistCatalogueStats(log, storeDB, cat)

	return nil
}

// makeCrossingsHandler decodes each NATS message as a network.Update
// published by gtfs-filter and folds it into the aggregator.
func makeCrossingsHandler(log *logger.Logger, aggregator *network.Aggregator) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var update network.Update
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			log.Printf("AGGREGATOR : error parsing crossing update: %v", err)
			return
		}
		aggregator.Submit(update)
	}
}

// snapshotRouter serves the aggregator's current Snapshot as JSON, for
// dashboards and debugging rather than for gtfs-eta-feed, which reads
// posterior state from the store directly.
func snapshotRouter(log *logger.Logger, aggregator *network.Aggregator) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Application-Status", "OK")
		w.WriteHeader(http.StatusOK)
	})
	r.HandleFunc("/snapshot", func(w http.ResponseWriter, _ *http.Request) {
		snap := aggregator.Snapshot()
		data, err := json.Marshal(snap)
		if err != nil {
			log.Printf("AGGREGATOR : marshaling snapshot: %v", err)
			http.Error(w, "error serving request", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(data); err != nil {
			log.Printf("AGGREGATOR : writing snapshot response: %v", err)
		}
	})
	return r
}

// persistCatalogueStatsLoop periodically writes the catalogue's current
// in-memory segment/intersection statistics (kept fresh by the
// aggregator's fold step) out to the posterior store. The rows are not
// loaded back on restart: both this process and gtfs-filter start from
// the statistics in the schedule database.
func persistCatalogueStatsLoop(log *logger.Logger, storeDB *sqlx.DB, cat *schedule.Catalogue, interval time.Duration, shutdown <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			persistCatalogueStats(log, storeDB, cat)
		}
	}
}

func persistCatalogueStats(log *logger.Logger, storeDB *sqlx.DB, cat *schedule.Catalogue) {
	now := time.Now()
	cat.EachSegment(func(seg schedule.Segment) {
		if seg.TravelTimeMean == 0 && seg.TravelTimeVar == 0 {
			return
		}
		row := store.SegmentStatRow{
			SegmentID: seg.ID,
			Mean:      seg.TravelTimeMean,
			Variance:  seg.TravelTimeVar,
			Timestamp: now,
			Count:     len(seg.RecentSamples()),
		}
		if err := store.RecordSegmentStat(storeDB, row); err != nil {
			log.Printf("AGGREGATOR : persisting segment stat %s: %v", seg.ID, err)
		}
	})
	cat.EachIntersection(func(isec schedule.Intersection) {
		if isec.DelayMean == 0 && isec.DelayVar == 0 {
			return
		}
		row := store.IntersectionStatRow{
			IntersectionID: isec.ID,
			Mean:           isec.DelayMean,
			Variance:       isec.DelayVar,
			Timestamp:      now,
		}
		if err := store.RecordIntersectionStat(storeDB, row); err != nil {
			log.Printf("AGGREGATOR : persisting intersection stat %s: %v", isec.ID, err)
		}
	})
}

func unsubscribe(log *logger.Logger, sub *nats.Subscription) {
	if !sub.IsValid() {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		log.Printf("AGGREGATOR : error unsubscribing from %s: %v", sub.Subject, err)
	}
}
