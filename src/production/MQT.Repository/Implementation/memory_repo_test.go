package implementation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
)

func TestMemoryRepository_InsertAndFetchLatest(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	repo := NewMemoryReadingRepository().WithClock(func() time.Time { return now })

	latest, err := repo.FetchLatest(ctx, mqtmodels.KindDht, 1)
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = repo.InsertReading(ctx, mqtmodels.KindDht, 1, map[string]float64{"temperature": 20, "humidity": 50})
	require.NoError(t, err)
	now = now.Add(time.Second)
	id, err := repo.InsertReading(ctx, mqtmodels.KindDht, 1, map[string]float64{"temperature": 21, "humidity": 55})
	require.NoError(t, err)
	_, err = repo.InsertReading(ctx, mqtmodels.KindDht, 2, map[string]float64{"temperature": 30, "humidity": 40})
	require.NoError(t, err)

	latest, err = repo.FetchLatest(ctx, mqtmodels.KindDht, 1)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, id, latest.ID)
	assert.Equal(t, 21.0, latest.Fields[mqtmodels.FieldTemperature])
}

func TestMemoryRepository_RejectsMissingField(t *testing.T) {
	repo := NewMemoryReadingRepository()
	_, err := repo.InsertReading(context.Background(), mqtmodels.KindDht, 1, map[string]float64{"temperature": 20})
	require.Error(t, err)
	assert.Zero(t, repo.Count(mqtmodels.KindDht))
}

func TestMemoryRepository_HistoryOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryReadingRepository()
	for i := 0; i < 5; i++ {
		_, err := repo.InsertReading(ctx, mqtmodels.KindAction, 7, map[string]float64{"status": float64(i % 2)})
		require.NoError(t, err)
	}

	history, err := repo.History(ctx, mqtmodels.KindAction, 7, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, mqtmodels.RecordID("5"), history[0].ID)
	assert.Equal(t, mqtmodels.RecordID("4"), history[1].ID)
}

func TestMemoryRepository_Stats(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	repo := NewMemoryReadingRepository().WithClock(func() time.Time { return now })

	_, _ = repo.InsertReading(ctx, mqtmodels.KindDht, 1, map[string]float64{"temperature": 10, "humidity": 40})
	_, _ = repo.InsertReading(ctx, mqtmodels.KindDht, 1, map[string]float64{"temperature": 20, "humidity": 60})
	_, _ = repo.InsertReading(ctx, mqtmodels.KindMotion, 1, map[string]float64{"motion": 1})
	_, _ = repo.InsertReading(ctx, mqtmodels.KindAction, 1, map[string]float64{"status": 1})
	_, _ = repo.InsertReading(ctx, mqtmodels.KindAction, 1, map[string]float64{"status": 0})

	stats, err := repo.Stats(ctx, 1, now.AddDate(0, 0, -7))
	require.NoError(t, err)
	require.NotNil(t, stats.Dht.AvgTemperature)
	assert.Equal(t, 15.0, *stats.Dht.AvgTemperature)
	assert.Equal(t, 50.0, *stats.Dht.AvgHumidity)
	assert.Equal(t, 20.0, *stats.Dht.MaxTemperature)
	assert.Equal(t, 10.0, *stats.Dht.MinTemperature)
	assert.Equal(t, int64(2), stats.Dht.TotalReadings)
	assert.Equal(t, int64(1), stats.Motion.MotionDetected)
	assert.Equal(t, int64(2), stats.Action.TotalActions)
	assert.Equal(t, int64(1), stats.Action.LightOnActions)

	empty, err := repo.Stats(ctx, 2, now.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Nil(t, empty.Dht.AvgTemperature)
	assert.Zero(t, empty.Dht.TotalReadings)
}
