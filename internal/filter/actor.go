package filter

import (
	logger "log"
	"runtime"
	"sync"
	"time"

	"github.com/transitnet/flowmodel/internal/geo"
	"github.com/transitnet/flowmodel/internal/schedule"
)

// Observation is one arriving GTFS-Realtime VehiclePosition, queued for
// its vehicle's actor.
type Observation struct {
	VehicleID string
	Coord     geo.Coord
	Timestamp time.Time
}

// observationQueueCapacity is the bounded per-vehicle queue size: when
// full, the producer drops the oldest buffered item rather than
// blocking, since staleness is worse than loss for a realtime feed.
const observationQueueCapacity = 2

// vehicleActor owns one vehicle's filter state and its bounded inbox.
type vehicleActor struct {
	vehicle *Vehicle
	inbox   chan Observation

	// drainMu must be held for the duration of drain, so that at most
	// one worker ever runs this actor's mutate/weight/resample cycle at
	// a time. Submit may schedule the same actor onto p.work more than
	// once; the extra entries wait for drainMu and, once they hold it,
	// drain whatever is still in the inbox (often nothing) and return.
	drainMu sync.Mutex
}

func newVehicleActor(v *Vehicle) *vehicleActor {
	return &vehicleActor{
		vehicle: v,
		inbox:   make(chan Observation, observationQueueCapacity),
	}
}

// push enqueues obs, dropping the oldest buffered observation if the
// actor's inbox is already full.
func (a *vehicleActor) push(obs Observation) {
	select {
	case a.inbox <- obs:
		return
	default:
	}
	select {
	case <-a.inbox:
	default:
	}
	select {
	case a.inbox <- obs:
	default:
	}
}

// Pool is a worker pool of size equal to available hardware threads
// that drains per-vehicle actors' queues, running each vehicle's
// mutate/weight/resample cycle strictly sequentially while different
// vehicles run concurrently.
type Pool struct {
	log *logger.Logger
	cat *schedule.Catalogue

	mu     sync.Mutex
	actors map[string]*vehicleActor

	work    chan *vehicleActor
	wg      sync.WaitGroup
	seedFor func(vehicleID string) int64

	particleCount int

	observer func(v *Vehicle)
}

// SetObserver installs a callback invoked after every successful
// ObservePosition cycle, passing the vehicle whose particle population
// just advanced. Callers typically use it to forward the vehicle's
// averaged crossings (Vehicle.Crossings) to the network aggregator and
// its particle population to the posterior store; resample has already
// reset each particle's crossings by then. Must be set before Submit is
// called concurrently.
func (p *Pool) SetObserver(fn func(v *Vehicle)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = fn
}

// NewPool builds a worker pool with workers goroutines (0 means use
// runtime.NumCPU), spawning particleCount particles per newly seen
// vehicle and seeding each vehicle's PRNG via seedFor.
func NewPool(log *logger.Logger, cat *schedule.Catalogue, workers, particleCount int, seedFor func(vehicleID string) int64) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if seedFor == nil {
		seedFor = func(vehicleID string) int64 { return int64(len(vehicleID)) + 1 }
	}
	p := &Pool{
		log:           log,
		cat:           cat,
		actors:        make(map[string]*vehicleActor),
		work:          make(chan *vehicleActor, workers*4),
		seedFor:       seedFor,
		particleCount: particleCount,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
	return p
}

// Submit routes an observation to its vehicle's actor, creating the
// actor (and its Vehicle) on first sighting, then schedules the actor
// for processing.
func (p *Pool) Submit(obs Observation) {
	p.mu.Lock()
	actor, ok := p.actors[obs.VehicleID]
	if !ok {
		v := NewVehicle(obs.VehicleID, p.particleCount, p.seedFor(obs.VehicleID))
		actor = newVehicleActor(v)
		p.actors[obs.VehicleID] = actor
	}
	p.mu.Unlock()

	actor.push(obs)

	select {
	case p.work <- actor:
	default:
		// pool already saturated with scheduling entries for this actor;
		// the actor's own channel still holds the observation and will
		// be picked up on the next schedule.
	}
}

// AssignTrip associates vehicleID's actor with a trip id, creating the
// actor if this is the vehicle's first sighting.
func (p *Pool) AssignTrip(vehicleID, tripID string) {
	p.mu.Lock()
	actor, ok := p.actors[vehicleID]
	if !ok {
		v := NewVehicle(vehicleID, p.particleCount, p.seedFor(vehicleID))
		actor = newVehicleActor(v)
		p.actors[vehicleID] = actor
	}
	p.mu.Unlock()
	actor.vehicle.AssignTrip(tripID)
}

// Vehicle returns a snapshot reference to vehicleID's filter state, if
// it has been seen.
func (p *Pool) Vehicle(vehicleID string) (*Vehicle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	actor, ok := p.actors[vehicleID]
	if !ok {
		return nil, false
	}
	return actor.vehicle, true
}

// VehiclesOnTrip returns every vehicle currently assigned tripID, for
// routing a GTFS-Realtime TripUpdate (keyed by trip, not vehicle) to the
// vehicles it constrains.
func (p *Pool) VehiclesOnTrip(tripID string) []*Vehicle {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Vehicle
	for _, actor := range p.actors {
		if actor.vehicle.TripID == tripID {
			out = append(out, actor.vehicle)
		}
	}
	return out
}

// Purge removes vehicleID's actor, draining and dropping its pending
// queue, called when a trip ends or the no-observation timeout elapses.
func (p *Pool) Purge(vehicleID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.actors, vehicleID)
}

// Shutdown waits for in-flight updates to finish then returns; callers
// must stop calling Submit before invoking this.
func (p *Pool) Shutdown() {
	close(p.work)
	p.wg.Wait()
}

func (p *Pool) runWorker() {
	defer p.wg.Done()
	for actor := range p.work {
		p.drain(actor)
	}
}

// drain processes every observation currently buffered in actor's inbox
// strictly in order, one at a time, before returning the worker to the
// pool. drainMu ensures at most one worker ever runs a given vehicle's
// update cycle at a time, even if the same actor was scheduled onto
// p.work more than once.
func (p *Pool) drain(actor *vehicleActor) {
	actor.drainMu.Lock()
	defer actor.drainMu.Unlock()
	for {
		select {
		case obs := <-actor.inbox:
			p.process(actor, obs)
		default:
			return
		}
	}
}

func (p *Pool) process(actor *vehicleActor, obs Observation) {
	v := actor.vehicle
	if v.TripID == "" {
		return
	}
	shape, ok := p.cat.TripShape(v.TripID)
	if !ok {
		if p.log != nil {
			p.log.Printf("FILTER : vehicle %s: no shape for trip %s, dropping observation", v.ID, v.TripID)
		}
		return
	}
	if err := v.ObservePosition(obs.Coord, obs.Timestamp, p.cat, shape); err != nil {
		if p.log != nil {
			p.log.Printf("FILTER : vehicle %s: %v", v.ID, err)
		}
		return
	}

	p.mu.Lock()
	observer := p.observer
	p.mu.Unlock()
	if observer != nil {
		observer(v)
	}
}
