package network

import (
	logger "log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/transitnet/flowmodel/internal/filter"
	"github.com/transitnet/flowmodel/internal/schedule"
)

// Update is one vehicle's post-resample contribution to the network
// aggregate: the surviving particles' segment/stop crossing tuples,
// tagged with the identity the serializer uses to de-duplicate.
type Update struct {
	VehicleID string
	TripID    string
	At        time.Time
	Segments  []filter.SegmentCrossing
	Stops     []filter.StopCrossing
}

type segmentStat struct {
	welford   Welford
	samples   []float64
	timestamp time.Time
}

// stopStat tracks a stop's dwell time or an intersection's queue delay.
// welford folds every sample and is what feeds Catalogue.UpdateStopStats
// / UpdateIntersectionStats, so the particle filter's priors always see
// the combined population; holiday and regular additionally split the
// same samples by calendar day, so callers that care about the
// holiday/weekday difference (the published Snapshot) can see it.
type stopStat struct {
	welford   Welford
	holiday   Welford
	regular   Welford
	timestamp time.Time
}

func (s *stopStat) add(v float64, isHoliday bool) {
	s.welford.Add(v)
	if isHoliday {
		s.holiday.Add(v)
	} else {
		s.regular.Add(v)
	}
}

// Snapshot is an immutable, point-in-time view of the network aggregate,
// safe to read concurrently without locking.
type Snapshot struct {
	SegmentMean map[string]float64
	SegmentVar  map[string]float64
	StopMean    map[string]float64
	StopVar     map[string]float64

	// StopMeanHoliday/StopMeanRegular (and their variance counterparts)
	// split StopMean/StopVar's dwell and intersection-delay statistics
	// by whether the sample's day was an observed holiday, so consumers
	// can see how dwell/queue time shifts on holidays versus regular
	// service days.
	StopMeanHoliday map[string]float64
	StopVarHoliday  map[string]float64
	StopMeanRegular map[string]float64
	StopVarRegular  map[string]float64

	Generated time.Time
}

// dedupeKey identifies one (vehicle, trip, segment-or-stop, timestamp)
// contribution so the serializer folds each observed crossing at most
// once.
type dedupeKey struct {
	vehicleID string
	tripID    string
	entityID  string
	at        int64
}

// Aggregator is the single-writer/many-readers network-aggregate store.
// Exactly one goroutine (run via Start) drains submitted Updates and
// folds them into the running Welford state; readers call Snapshot at
// any time without blocking the writer.
type Aggregator struct {
	log      *logger.Logger
	cat      *schedule.Catalogue
	holidays *HolidayCalendar

	updates chan Update

	mu       sync.Mutex // guards segments/stops/seen, the writer's private state
	segments map[string]*segmentStat
	stops    map[string]*stopStat
	seen     map[dedupeKey]struct{}

	snapshot atomic.Pointer[Snapshot]

	wg sync.WaitGroup
}

// NewAggregator builds an Aggregator that folds updates against cat's
// catalogue (used to push refreshed statistics back via
// Catalogue.UpdateSegmentStats/UpdateStopStats so subsequent particle
// transitions see them), conditioning dwell and intersection-delay
// statistics on NewHolidayCalendar's observed US federal holiday set.
func NewAggregator(log *logger.Logger, cat *schedule.Catalogue) *Aggregator {
	a := &Aggregator{
		log:      log,
		cat:      cat,
		holidays: NewHolidayCalendar(),
		updates:  make(chan Update, 256),
		segments: make(map[string]*segmentStat),
		stops:    make(map[string]*stopStat),
		seen:     make(map[dedupeKey]struct{}),
	}
	a.snapshot.Store(&Snapshot{
		SegmentMean:     map[string]float64{},
		SegmentVar:      map[string]float64{},
		StopMean:        map[string]float64{},
		StopVar:         map[string]float64{},
		StopMeanHoliday: map[string]float64{},
		StopVarHoliday:  map[string]float64{},
		StopMeanRegular: map[string]float64{},
		StopVarRegular:  map[string]float64{},
	})
	return a
}

// Submit enqueues a vehicle's post-resample contribution. It blocks
// while the channel's buffer is full rather than dropping the update,
// since dropping network-aggregate samples (unlike observations)
// biases the estimate rather than merely staling it.
func (a *Aggregator) Submit(u Update) {
	a.updates <- u
}

// Start launches the serializer goroutine, which runs until shutdown is
// closed.
func (a *Aggregator) Start(shutdown <-chan struct{}) {
	a.wg.Add(1)
	go a.run(shutdown)
}

// Shutdown waits for the serializer to exit. It does not stop it: the
// serializer stops once the channel passed to Start is closed, after
// folding any updates already buffered.
func (a *Aggregator) Shutdown() {
	a.wg.Wait()
}

func (a *Aggregator) run(shutdown <-chan struct{}) {
	defer a.wg.Done()
	for {
		select {
		case <-shutdown:
			a.drainRemaining()
			return
		case u := <-a.updates:
			a.fold(u)
			a.publish()
		}
	}
}

func (a *Aggregator) drainRemaining() {
	for {
		select {
		case u := <-a.updates:
			a.fold(u)
		default:
			a.publish()
			return
		}
	}
}

func (a *Aggregator) fold(u Update) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, sc := range u.Segments {
		key := dedupeKey{vehicleID: u.VehicleID, tripID: u.TripID, entityID: sc.SegmentID, at: u.At.Unix()}
		if _, dup := a.seen[key]; dup {
			continue
		}
		a.seen[key] = struct{}{}

		stat, ok := a.segments[sc.SegmentID]
		if !ok {
			stat = &segmentStat{}
			a.segments[sc.SegmentID] = stat
		}
		stat.welford.Add(sc.Travel)
		stat.samples = append(stat.samples, sc.Travel)
		if len(stat.samples) > 32 {
			stat.samples = stat.samples[1:]
		}
		stat.timestamp = u.At

		if a.cat != nil {
			a.cat.UpdateSegmentStats(sc.SegmentID, stat.welford.Mean(), stat.welford.Variance(), stat.samples)
		}

		if sc.Queue > 0 {
			a.foldIntersectionDelay(sc.SegmentID, sc.Queue, u.At)
		}
	}

	for _, dw := range u.Stops {
		if dw.Dwell <= 0 {
			continue
		}
		key := dedupeKey{vehicleID: u.VehicleID, tripID: u.TripID, entityID: "stop:" + dw.StopID, at: u.At.Unix()}
		if _, dup := a.seen[key]; dup {
			continue
		}
		a.seen[key] = struct{}{}

		stat, ok := a.stops[dw.StopID]
		if !ok {
			stat = &stopStat{}
			a.stops[dw.StopID] = stat
		}
		stat.add(dw.Dwell, a.isHoliday(u.At))
		stat.timestamp = u.At

		if a.cat != nil {
			a.cat.UpdateStopStats(dw.StopID, stat.welford.Mean(), stat.welford.Variance())
		}
	}
}

// isHoliday reports whether at falls on an observed holiday, treating a
// nil calendar (as in tests that construct an Aggregator without one)
// as "never a holiday".
func (a *Aggregator) isHoliday(at time.Time) bool {
	if a.holidays == nil {
		return false
	}
	return a.holidays.IsHoliday(at)
}

// foldIntersectionDelay aggregates a segment's queue portion into the
// delay statistics of its start intersection, stripping the travel
// component, split into holiday and regular-day buckets since queueing
// delay shifts with holiday traffic patterns.
func (a *Aggregator) foldIntersectionDelay(segmentID string, queue float64, at time.Time) {
	if a.cat == nil {
		return
	}
	seg, ok := a.cat.Segment(segmentID)
	if !ok || seg.Start.Kind != schedule.EndpointIntersection {
		return
	}
	if _, ok := a.cat.Intersection(seg.Start.ID); !ok {
		return
	}
	// Delay statistics for the intersection are tracked the same way as
	// stop dwell, keyed separately to avoid colliding with stop ids.
	key := "intersection:" + seg.Start.ID
	s, exists := a.stops[key]
	if !exists {
		s = &stopStat{}
		a.stops[key] = s
	}
	s.add(queue, a.isHoliday(at))
	s.timestamp = at
	a.cat.UpdateIntersectionStats(seg.Start.ID, s.welford.Mean(), s.welford.Variance())
}

// publish builds a fresh Snapshot from the current segment/stop state
// and atomically swaps it in, so readers never observe a partially
// updated aggregate.
func (a *Aggregator) publish() {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := &Snapshot{
		SegmentMean:     make(map[string]float64, len(a.segments)),
		SegmentVar:      make(map[string]float64, len(a.segments)),
		StopMean:        make(map[string]float64, len(a.stops)),
		StopVar:         make(map[string]float64, len(a.stops)),
		StopMeanHoliday: make(map[string]float64, len(a.stops)),
		StopVarHoliday:  make(map[string]float64, len(a.stops)),
		StopMeanRegular: make(map[string]float64, len(a.stops)),
		StopVarRegular:  make(map[string]float64, len(a.stops)),
		Generated:       time.Now(),
	}
	for id, s := range a.segments {
		snap.SegmentMean[id] = s.welford.Mean()
		snap.SegmentVar[id] = s.welford.Variance()
	}
	for id, s := range a.stops {
		snap.StopMean[id] = s.welford.Mean()
		snap.StopVar[id] = s.welford.Variance()
		snap.StopMeanHoliday[id] = s.holiday.Mean()
		snap.StopVarHoliday[id] = s.holiday.Variance()
		snap.StopMeanRegular[id] = s.regular.Mean()
		snap.StopVarRegular[id] = s.regular.Variance()
	}
	a.snapshot.Store(snap)
}

// Snapshot returns the most recently published network-aggregate
// snapshot without blocking.
func (a *Aggregator) Snapshot() *Snapshot {
	return a.snapshot.Load()
}

// defaultLogger builds a component-prefixed logger (log.New with a
// component prefix) for callers that don't inject one.
func defaultLogger(prefix string) *logger.Logger {
	return logger.New(os.Stdout, prefix+" : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
}
