package implementation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
)

// flakyRepository fails while down is set and counts the calls that reached it
type flakyRepository struct {
	*MemoryReadingRepository
	down  bool
	calls int
}

func (f *flakyRepository) InsertReading(ctx context.Context, kind mqtmodels.RecordKind, userID int64, fields map[string]float64) (mqtmodels.RecordID, error) {
	f.calls++
	if f.down {
		return "", errors.New("connection refused")
	}
	return f.MemoryReadingRepository.InsertReading(ctx, kind, userID, fields)
}

func newGuarded(t *testing.T, maxFailures int, reset time.Duration) (*GuardedReadingRepository, *flakyRepository, *time.Time) {
	t.Helper()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	breaker := NewCircuitBreaker(maxFailures, reset)
	breaker.now = func() time.Time { return now }
	inner := &flakyRepository{MemoryReadingRepository: NewMemoryReadingRepository()}
	return NewGuardedReadingRepository(inner, breaker), inner, &now
}

var motionFields = map[string]float64{mqtmodels.FieldMotion: 1}

func TestGuardedRepository_OpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	repo, inner, _ := newGuarded(t, 3, time.Minute)
	inner.down = true

	for i := 0; i < 3; i++ {
		_, err := repo.InsertReading(ctx, mqtmodels.KindMotion, 1, motionFields)
		require.Error(t, err)
		assert.ErrorIs(t, err, mqtmodels.ErrTransientIO)
	}
	assert.Equal(t, StateOpen, repo.Breaker().State())

	_, err := repo.InsertReading(ctx, mqtmodels.KindMotion, 1, motionFields)
	require.ErrorIs(t, err, mqtmodels.ErrTransientIO)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, 3, inner.calls, "open breaker must not reach the store")
}

func TestGuardedRepository_HalfOpenProbe(t *testing.T) {
	ctx := context.Background()
	repo, inner, now := newGuarded(t, 1, time.Minute)
	inner.down = true

	_, err := repo.InsertReading(ctx, mqtmodels.KindMotion, 1, motionFields)
	require.Error(t, err)
	require.Equal(t, StateOpen, repo.Breaker().State())

	*now = now.Add(2 * time.Minute)
	_, err = repo.InsertReading(ctx, mqtmodels.KindMotion, 1, motionFields)
	require.Error(t, err, "failed probe")
	assert.Equal(t, StateOpen, repo.Breaker().State())
	assert.Equal(t, 2, inner.calls)

	*now = now.Add(2 * time.Minute)
	inner.down = false
	id, err := repo.InsertReading(ctx, mqtmodels.KindMotion, 1, motionFields)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, StateClosed, repo.Breaker().State())
}

func TestGuardedRepository_SuccessResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	repo, inner, _ := newGuarded(t, 2, time.Minute)

	inner.down = true
	_, _ = repo.InsertReading(ctx, mqtmodels.KindMotion, 1, motionFields)
	inner.down = false
	_, err := repo.InsertReading(ctx, mqtmodels.KindMotion, 1, motionFields)
	require.NoError(t, err)
	inner.down = true
	_, _ = repo.InsertReading(ctx, mqtmodels.KindMotion, 1, motionFields)

	assert.Equal(t, StateClosed, repo.Breaker().State())
}
