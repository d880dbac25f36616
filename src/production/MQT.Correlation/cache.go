package correlation

import (
	"context"
	"fmt"
	"sync"
	"time"

	logger "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Repository/Interfaces"
)

const DefaultMotionWindow = 2000 * time.Millisecond

// Result tells the caller what an update did
type Result int

const (
	// ResultPending means the reading was cached and awaits its pair
	ResultPending Result = iota
	// ResultStored means a record was persisted
	ResultStored
	// ResultGated means a motion event fell inside the window and was dropped
	ResultGated
	// ResultIgnored means the value does not produce records (motion 0)
	ResultIgnored
	// ResultDropped means a completed record was lost to a store failure
	ResultDropped
)

func (r Result) String() string {
	switch r {
	case ResultPending:
		return "pending"
	case ResultStored:
		return "stored"
	case ResultGated:
		return "gated"
	case ResultIgnored:
		return "ignored"
	case ResultDropped:
		return "dropped"
	}
	return "unknown"
}

type entryState int

const (
	stateEmpty entryState = iota
	statePartialDht
	stateFlushing
)

// userEntry is the per-user state. mu is held for the whole read-modify-write
// including the store call, so updates for one user never interleave.
type userEntry struct {
	mu sync.Mutex

	state       entryState
	temperature *float64
	humidity    *float64

	lastMotion    time.Time
	hasMotionGate bool

	touched time.Time
	evicted bool
}

// Cache pairs temperature/humidity readings and gates motion events per user
// before they are persisted. Entries live until evicted explicitly.
type Cache struct {
	store        interfaces.ReadingInserter
	log          *logger.Logger
	now          func() time.Time
	motionWindow time.Duration

	mu      sync.Mutex
	entries map[int64]*userEntry
}

type Option func(*Cache)

// WithClock replaces time.Now, tests drive the motion window with it
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithMotionWindow(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.motionWindow = d
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Cache) { c.log = l.WithComponent("correlation") }
}

func NewCache(store interfaces.ReadingInserter, opts ...Option) *Cache {
	c := &Cache{
		store:        store,
		log:          logger.NewNopLogger(),
		now:          time.Now,
		motionWindow: DefaultMotionWindow,
		entries:      make(map[int64]*userEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// lockEntry returns the user's entry locked, creating it on first use
func (c *Cache) lockEntry(userID int64) *userEntry {
	for {
		c.mu.Lock()
		e, ok := c.entries[userID]
		if !ok {
			e = &userEntry{}
			c.entries[userID] = e
		}
		c.mu.Unlock()

		e.mu.Lock()
		if !e.evicted {
			return e
		}
		// lost a race with Evict, the map now holds a fresh entry or none
		e.mu.Unlock()
	}
}

// UpdateDht stores one half of a dht pair. When both halves are present the
// pair is persisted and cleared, whether or not the store call succeeds.
func (c *Cache) UpdateDht(ctx context.Context, userID int64, sensor mqtmodels.Sensor, value float64) (Result, error) {
	if sensor != mqtmodels.SensorTemperature && sensor != mqtmodels.SensorHumidity {
		return ResultIgnored, mqtmodels.NewValidationError(fmt.Sprintf("sensor %q is not a dht field", sensor))
	}

	e := c.lockEntry(userID)
	defer e.mu.Unlock()
	e.touched = c.now()

	v := value
	if sensor == mqtmodels.SensorTemperature {
		e.temperature = &v
	} else {
		e.humidity = &v
	}

	if e.temperature == nil || e.humidity == nil {
		e.state = statePartialDht
		return ResultPending, nil
	}

	fields := map[string]float64{
		mqtmodels.FieldTemperature: *e.temperature,
		mqtmodels.FieldHumidity:    *e.humidity,
	}
	e.state = stateFlushing
	_, err := c.store.InsertReading(ctx, mqtmodels.KindDht, userID, fields)
	e.temperature, e.humidity = nil, nil
	e.state = stateEmpty

	if err != nil {
		c.log.WithUser(userID).WithError(err).Logger.Error().
			Float64("temperature", fields[mqtmodels.FieldTemperature]).
			Float64("humidity", fields[mqtmodels.FieldHumidity]).
			Msg("Failed to store dht reading, pair dropped")
		return ResultDropped, fmt.Errorf("store dht for user %d: %w", userID, err)
	}
	c.log.WithUser(userID).Debug("Stored dht reading")
	return ResultStored, nil
}

// UpdateMotion persists a motion event unless one was stored for the user
// less than the motion window ago. Only value 1 counts as motion. The gate
// advances on successful inserts only and never moves backwards.
func (c *Cache) UpdateMotion(ctx context.Context, userID int64, value int) (Result, error) {
	if value != 1 {
		return ResultIgnored, nil
	}

	e := c.lockEntry(userID)
	defer e.mu.Unlock()
	now := c.now()
	e.touched = now

	if e.hasMotionGate && now.Sub(e.lastMotion) < c.motionWindow {
		return ResultGated, nil
	}

	if _, err := c.store.InsertReading(ctx, mqtmodels.KindMotion, userID, map[string]float64{mqtmodels.FieldMotion: 1}); err != nil {
		c.log.WithUser(userID).ErrorWithError(err, "Failed to store motion reading")
		return ResultDropped, fmt.Errorf("store motion for user %d: %w", userID, err)
	}

	if !e.hasMotionGate || now.After(e.lastMotion) {
		e.lastMotion = now
		e.hasMotionGate = true
	}
	c.log.WithUser(userID).Debug("Stored motion reading")
	return ResultStored, nil
}

// Evict drops all state kept for a user, waiting for an in-flight store
// call for that user to finish first. Reports whether an entry existed.
func (c *Cache) Evict(userID int64) bool {
	c.mu.Lock()
	e, ok := c.entries[userID]
	c.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[userID] != e {
		return false
	}
	delete(c.entries, userID)
	e.evicted = true
	return true
}

// EvictIdle drops entries untouched for at least ttl and returns how many
// went. Entries busy with a store call are skipped.
func (c *Cache) EvictIdle(ttl time.Duration) int {
	cutoff := c.now().Add(-ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for userID, e := range c.entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.touched.After(cutoff) {
			e.mu.Unlock()
			continue
		}
		delete(c.entries, userID)
		e.evicted = true
		e.mu.Unlock()
		evicted++
	}
	return evicted
}

// Run evicts idle entries every interval until ctx is done. A non-positive
// ttl disables eviction and Run returns immediately.
func (c *Cache) Run(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.EvictIdle(ttl); n > 0 {
				c.log.Logger.Info().Int("evicted", n).Msg("Evicted idle cache entries")
			}
		}
	}
}

// Snapshot summarizes the cache for the debug endpoint
type Snapshot struct {
	Users       int `json:"users"`
	PendingDht  int `json:"pending_dht"`
	Flushing    int `json:"flushing"`
	MotionGates int `json:"motion_gates"`
}

func (c *Cache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{Users: len(c.entries)}
	for _, e := range c.entries {
		if !e.mu.TryLock() {
			s.Flushing++
			continue
		}
		switch e.state {
		case statePartialDht:
			s.PendingDht++
		case stateFlushing:
			s.Flushing++
		}
		if e.hasMotionGate {
			s.MotionGates++
		}
		e.mu.Unlock()
	}
	return s
}

// Pending returns the cached, unpaired dht halves for a user
func (c *Cache) Pending(userID int64) (temperature, humidity *float64) {
	c.mu.Lock()
	e, ok := c.entries[userID]
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return nil, nil
	}
	return copyFloat(e.temperature), copyFloat(e.humidity)
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}
