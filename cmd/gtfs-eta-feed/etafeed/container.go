package etafeed

import (
	logger "log"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/transitnet/flowmodel/internal/schedule"
	"github.com/transitnet/flowmodel/internal/store"
)

// Container holds the most recently computed Estimate per vehicle,
// safe for concurrent reads from the web service while RunRefreshLoop
// writes in the background: one shared, lock-guarded map refreshed by
// a background loop and read by request handlers.
type Container struct {
	mu        sync.RWMutex
	estimates map[string]*Estimate
}

// NewContainer builds an empty Container.
func NewContainer() *Container {
	return &Container{estimates: make(map[string]*Estimate)}
}

// Set records vehicleID's latest estimate, replacing any prior one.
func (c *Container) Set(e *Estimate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.estimates[e.VehicleID] = e
}

// All returns every currently held estimate in no particular order.
func (c *Container) All() []*Estimate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Estimate, 0, len(c.estimates))
	for _, e := range c.estimates {
		out = append(out, e)
	}
	return out
}

// Expire drops estimates generated more than maxAge before now, for a
// vehicle that has stopped reporting positions, and returns the number
// removed.
func (c *Container) Expire(now time.Time, maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, e := range c.estimates {
		if now.Sub(e.GeneratedAt) > maxAge {
			delete(c.estimates, id)
			removed++
		}
	}
	return removed
}

// RunRefreshLoop polls the posterior store for active vehicles on
// interval, recomputes each one's Estimate, and expires stale entries,
// until shutdown is closed.
func RunRefreshLoop(log *logger.Logger, cat *schedule.Catalogue, storeDB *sqlx.DB, container *Container,
	interval time.Duration, staleness time.Duration, shutdown <-chan struct{}) {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			refreshOnce(log, cat, storeDB, container, staleness)
		}
	}
}

func refreshOnce(log *logger.Logger, cat *schedule.Catalogue, storeDB *sqlx.DB, container *Container, staleness time.Duration) {
	now := time.Now()
	ids, err := store.ListActiveVehicles(storeDB, now.Add(-staleness))
	if err != nil {
		log.Printf("ETA_FEED : listing active vehicles: %v", err)
		return
	}

	for _, vehicleID := range ids {
		rows, err := store.GetLatestSnapshot(storeDB, vehicleID)
		if err != nil {
			log.Printf("ETA_FEED : vehicle %s: loading snapshot: %v", vehicleID, err)
			continue
		}
		estimate, err := ComputeEstimate(cat, rows, now)
		if err != nil {
			log.Printf("ETA_FEED : vehicle %s: %v", vehicleID, err)
			continue
		}
		container.Set(estimate)
	}

	removed := container.Expire(now, staleness)
	if removed > 0 {
		log.Printf("ETA_FEED : expired %d stale estimate(s)", removed)
	}
}
