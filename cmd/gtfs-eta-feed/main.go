// Command gtfs-eta-feed reads the posterior particle snapshots
// gtfs-filter persists, projects them forward against the learned
// segment/stop travel-time statistics gtfs-aggregator maintains, and
// serves the resulting per-stop arrival estimates as a GTFS-Realtime
// TripUpdate feed (or JSON, on request).
package main

import (
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"

	"github.com/transitnet/flowmodel/cmd/gtfs-eta-feed/etafeed"
	"github.com/transitnet/flowmodel/foundation/database"
	"github.com/transitnet/flowmodel/internal/schedule"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "GTFS_ETA_FEED : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
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
		Feed struct {
			RefreshIntervalSeconds int `conf:"default:10"`
			StalenessSeconds       int `conf:"default:120"`
		}
		HTTPPort int `conf:"default:8082"`
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Serve posterior-derived stop arrival estimates as a GTFS-Realtime feed"
	const prefix = "ETAFEED"
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

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	container := etafeed.NewContainer()
	refreshShutdown := make(chan struct{})
	webShutdown := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		interval := time.Duration(cfg.Feed.RefreshIntervalSeconds) * time.Second
		staleness := time.Duration(cfg.Feed.StalenessSeconds) * time.Second
		etafeed.RunRefreshLoop(log, cat, storeDB, container, interval, staleness, refreshShutdown)
	}()
	go func() {
		defer wg.Done()
		etafeed.RunWebService(log, container, cfg.HTTPPort, webShutdown)
	}()

	<-shutdown
	log.Println("main: shutdown signal received")
	close(refreshShutdown)
	close(webShutdown)
	wg.Wait()

	return nil
}
