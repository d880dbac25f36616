package implementation

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Repository/Interfaces"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker fails calls fast after maxFailures consecutive failures until
// resetTimeout has passed, then lets a single probe through
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	state        CircuitBreakerState
	failureCount int
	lastFailTime time.Time
	probing      bool
	now          func() time.Time
	mutex        sync.Mutex
}

func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

func (cb *CircuitBreaker) canExecute() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailTime) < cb.resetTimeout {
			return false
		}
		cb.state = StateHalfOpen
		cb.probing = true
		return true
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount = 0
	cb.probing = false
	cb.state = StateClosed
}

func (cb *CircuitBreaker) onFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount++
	cb.lastFailTime = cb.now()
	cb.probing = false

	if cb.state == StateHalfOpen || cb.failureCount >= cb.maxFailures {
		cb.state = StateOpen
	}
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// StateName is State as text, for health reports
func (cb *CircuitBreaker) StateName() string {
	return cb.State().String()
}

// execute runs fn under the breaker. Every failure, including a rejected
// call, is reported as ErrTransientIO.
func (cb *CircuitBreaker) execute(op string, fn func() error) error {
	if !cb.canExecute() {
		return fmt.Errorf("%s: circuit breaker is open: %w", op, mqtmodels.ErrTransientIO)
	}
	if err := fn(); err != nil {
		cb.onFailure()
		return fmt.Errorf("%s: %w: %w", op, mqtmodels.ErrTransientIO, err)
	}
	cb.onSuccess()
	return nil
}

// GuardedReadingRepository wraps a store so a dead database costs one fast
// failure per call instead of one driver timeout. It never retries.
type GuardedReadingRepository struct {
	inner   interfaces.ReadingRepository
	breaker *CircuitBreaker
}

func NewGuardedReadingRepository(inner interfaces.ReadingRepository, breaker *CircuitBreaker) *GuardedReadingRepository {
	return &GuardedReadingRepository{inner: inner, breaker: breaker}
}

var _ interfaces.ReadingRepository = (*GuardedReadingRepository)(nil)

func (g *GuardedReadingRepository) Breaker() *CircuitBreaker { return g.breaker }

func (g *GuardedReadingRepository) InsertReading(ctx context.Context, kind mqtmodels.RecordKind, userID int64, fields map[string]float64) (mqtmodels.RecordID, error) {
	var id mqtmodels.RecordID
	err := g.breaker.execute("insert "+string(kind), func() error {
		var err error
		id, err = g.inner.InsertReading(ctx, kind, userID, fields)
		return err
	})
	return id, err
}

func (g *GuardedReadingRepository) FetchLatest(ctx context.Context, kind mqtmodels.RecordKind, userID int64) (*mqtmodels.Reading, error) {
	var reading *mqtmodels.Reading
	err := g.breaker.execute("latest "+string(kind), func() error {
		var err error
		reading, err = g.inner.FetchLatest(ctx, kind, userID)
		return err
	})
	return reading, err
}

func (g *GuardedReadingRepository) History(ctx context.Context, kind mqtmodels.RecordKind, userID int64, limit int) ([]mqtmodels.Reading, error) {
	var readings []mqtmodels.Reading
	err := g.breaker.execute("history "+string(kind), func() error {
		var err error
		readings, err = g.inner.History(ctx, kind, userID, limit)
		return err
	})
	return readings, err
}

func (g *GuardedReadingRepository) Stats(ctx context.Context, userID int64, since time.Time) (*mqtmodels.SensorStats, error) {
	var stats *mqtmodels.SensorStats
	err := g.breaker.execute("stats", func() error {
		var err error
		stats, err = g.inner.Stats(ctx, userID, since)
		return err
	})
	return stats, err
}

// Ping bypasses the breaker so health checks report the real store state
func (g *GuardedReadingRepository) Ping(ctx context.Context) error {
	return g.inner.Ping(ctx)
}

func (g *GuardedReadingRepository) Close(ctx context.Context) error {
	return g.inner.Close(ctx)
}
