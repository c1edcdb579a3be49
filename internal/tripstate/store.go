package tripstate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluele/gcache"

	"tripupdate-processor/internal/events"
)

// Status of a trip as seen through cancellation messages.
type Status int

const (
	Scheduled Status = iota
	Running
	Canceled
)

func (s Status) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Canceled:
		return "CANCELED"
	default:
		return "SCHEDULED"
	}
}

// Prediction is the latest known arrival and/or departure at one stop.
type Prediction struct {
	StopID       string
	ArrivalMs    int64
	DepartureMs  int64
	HasArrival   bool
	HasDeparture bool
}

// Snapshot is a copy of a trip's state at the time it was taken.
// Predictions are ordered by when their stop was first observed.
type Snapshot struct {
	TripKey         events.TripKey
	Status          Status
	Predictions     []Prediction
	LastEventTimeMs int64
}

type trip struct {
	status          Status
	order           []string
	predictions     map[string]Prediction
	lastEventTimeMs int64
	// touched is the store clock's UnixNano at the last Apply.
	touched atomic.Int64
}

func (t *trip) snapshot(key events.TripKey) Snapshot {
	s := Snapshot{
		TripKey:         key,
		Status:          t.status,
		LastEventTimeMs: t.lastEventTimeMs,
		Predictions:     make([]Prediction, 0, len(t.order)),
	}
	for _, stop := range t.order {
		s.Predictions = append(s.Predictions, t.predictions[stop])
	}
	return s
}

func (t *trip) upsert(e events.StopEstimate) {
	p, seen := t.predictions[e.StopID]
	if !seen {
		p.StopID = e.StopID
		t.order = append(t.order, e.StopID)
	}
	switch e.Kind {
	case events.Arrival:
		p.ArrivalMs, p.HasArrival = e.EstimatedTimeMs, true
	case events.Departure:
		p.DepartureMs, p.HasDeparture = e.EstimatedTimeMs, true
	}
	t.predictions[e.StopID] = p
}

const shardCount = 64

// Options bound the store. Zero values fall back to defaults.
type Options struct {
	MaxTrips int
	// TTL evicts a trip that has seen no event for this long.
	TTL time.Duration
	// OnEvict is called for trips dropped by TTL or capacity.
	OnEvict func(events.TripKey)
	Clock   gcache.Clock
}

const (
	DefaultMaxTrips = 200000
	DefaultTTL      = 30 * time.Hour
)

// Store holds per-trip state. Events for the same trip are applied one at a
// time; different trips only contend when they hash to the same shard.
type Store struct {
	shards [shardCount]sync.Mutex
	trips  gcache.Cache
	clock  gcache.Clock
	ttl    time.Duration
}

func New(opts Options) *Store {
	if opts.MaxTrips <= 0 {
		opts.MaxTrips = DefaultMaxTrips
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = gcache.NewRealClock()
	}
	b := gcache.New(opts.MaxTrips).LRU().Expiration(opts.TTL).Clock(opts.Clock)
	if opts.OnEvict != nil {
		onEvict := opts.OnEvict
		b = b.EvictedFunc(func(k, _ interface{}) {
			onEvict(k.(events.TripKey))
		})
	}
	return &Store{trips: b.Build(), clock: opts.Clock, ttl: opts.TTL}
}

// Apply records ev and reports whether the trip should be published.
//
//	cancellation CANCELED  -> status CANCELED, predictions kept, emit
//	cancellation RUNNING   -> status RUNNING, emit
//	stop estimate          -> upsert prediction, emit unless CANCELED
func (s *Store) Apply(ev events.Event) (bool, Snapshot) {
	key := ev.Trip()
	mu := &s.shards[uint64(key)%shardCount]
	mu.Lock()
	defer mu.Unlock()

	t := s.load(key)
	t.lastEventTimeMs = ev.EventTime()
	t.touched.Store(s.clock.Now().UnixNano())

	emit := true
	switch e := ev.(type) {
	case events.TripCancellation:
		if e.Status == events.Canceled {
			t.status = Canceled
		} else {
			t.status = Running
		}
	case events.StopEstimate:
		t.upsert(e)
		emit = t.status != Canceled
	}

	// Set refreshes the expiration, so TTL counts from the last event.
	_ = s.trips.Set(key, t)
	return emit, t.snapshot(key)
}

// Lookup returns the current state of a trip without modifying it.
func (s *Store) Lookup(key events.TripKey) (Snapshot, bool) {
	mu := &s.shards[uint64(key)%shardCount]
	mu.Lock()
	defer mu.Unlock()

	v, err := s.trips.GetIFPresent(key)
	if err != nil {
		return Snapshot{}, false
	}
	return v.(*trip).snapshot(key), true
}

// Len returns the number of live trips. gcache checks expiry in Len against
// the wall clock, so liveness is judged here against the store's own clock.
func (s *Store) Len() int {
	deadline := s.clock.Now().Add(-s.ttl).UnixNano()
	n := 0
	for _, v := range s.trips.GetALL(false) {
		if v.(*trip).touched.Load() >= deadline {
			n++
		}
	}
	return n
}

func (s *Store) load(key events.TripKey) *trip {
	if v, err := s.trips.GetIFPresent(key); err == nil {
		return v.(*trip)
	}
	return &trip{predictions: make(map[string]Prediction)}
}
