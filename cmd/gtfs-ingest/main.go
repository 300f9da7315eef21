// Command gtfs-ingest polls a GTFS-Realtime feed (VehiclePosition and
// TripUpdate entities) on an interval and republishes the decoded
// results as JSON on NATS, where gtfs-filter consumes them to drive the
// particle filter.
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
	"github.com/nats-io/nats.go"

	"github.com/transitnet/flowmodel/internal/realtime"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "GTFS_INGEST : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args conf.Args
		NATS struct {
			URL              string `conf:"default:localhost"`
			VehiclePositions string `conf:"default:vehicle-positions"`
			TripUpdates      string `conf:"default:trip-updates"`
		}
		GTFS struct {
			VehiclePositionsURL string `conf:"default:https://developer.trimet.org/ws/V1/VehiclePositions"`
			TripUpdatesURL      string `conf:""`
			PollIntervalSeconds int    `conf:"default:10"`
		}
		HTTPPort int `conf:"default:8080"`
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Poll a GTFS-Realtime feed and republish decoded entities on NATS"
	const prefix = "INGEST"
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

	srv := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", cfg.HTTPPort),
		Handler:      healthRouter(),
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("main: starting health endpoint on port %d", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("main: health endpoint stopped: %v", err)
		}
	}()

	poller := realtime.NewPoller(log, cfg.GTFS.VehiclePositionsURL, nil)
	onVehiclePositions := func(positions []realtime.VehiclePosition) {
		publishJSON(log, natsConnection, cfg.NATS.VehiclePositions, positions)
	}

	var onTripUpdates func([]realtime.TripUpdate)
	var tripUpdatePoller *realtime.Poller
	if cfg.GTFS.TripUpdatesURL != "" {
		tripUpdatePoller = realtime.NewPoller(log, cfg.GTFS.TripUpdatesURL, nil)
		onTripUpdates = func(updates []realtime.TripUpdate) {
			publishJSON(log, natsConnection, cfg.NATS.TripUpdates, updates)
		}
	}

	interval := time.Duration(cfg.GTFS.PollIntervalSeconds) * time.Second
	go func() {
		poller.Run(interval, done, onVehiclePositions, nil)
	}()
	if tripUpdatePoller != nil {
		go func() {
			tripUpdatePoller.Run(interval, done, nil, onTripUpdates)
		}()
	}

	<-shutdown
	log.Println("main: shutdown signal received")
	close(done)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("main: error shutting down health endpoint: %v", err)
	}

	return nil
}

// publishJSON marshals v and publishes it to subject, logging rather
// than failing the ingest loop on a single bad publish.
func publishJSON(log *logger.Logger, nc *nats.Conn, subject string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("main: marshaling payload for %s: %v", subject, err)
		return
	}
	if err := nc.Publish(subject, data); err != nil {
		log.Printf("main: publishing to %s: %v", subject, err)
	}
}

func healthRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Application-Status", "OK")
		w.WriteHeader(http.StatusOK)
	})
	return r
}
