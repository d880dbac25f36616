package implementation

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Repository/Interfaces"
)

// MemoryReadingRepository keeps records in process memory. It backs
// STORE_DRIVER=memory for local runs and the pipeline tests.
type MemoryReadingRepository struct {
	mu      sync.RWMutex
	nextID  int64
	records []mqtmodels.Reading
	now     func() time.Time
}

func NewMemoryReadingRepository() *MemoryReadingRepository {
	return &MemoryReadingRepository{now: time.Now}
}

// WithClock replaces the insert timestamp source
func (r *MemoryReadingRepository) WithClock(now func() time.Time) *MemoryReadingRepository {
	r.now = now
	return r
}

var _ interfaces.ReadingRepository = (*MemoryReadingRepository)(nil)

func (r *MemoryReadingRepository) InsertReading(ctx context.Context, kind mqtmodels.RecordKind, userID int64, fields map[string]float64) (mqtmodels.RecordID, error) {
	t, err := tableFor(kind)
	if err != nil {
		return "", err
	}
	copied := make(map[string]float64, len(t.columns))
	for _, col := range t.columns {
		v, ok := fields[col]
		if !ok {
			return "", fmt.Errorf("insert %s: missing field %q", kind, col)
		}
		copied[col] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := mqtmodels.RecordID(strconv.FormatInt(r.nextID, 10))
	r.records = append(r.records, mqtmodels.Reading{
		ID:     id,
		Kind:   kind,
		UserID: userID,
		Fields: copied,
		Time:   r.now().UTC(),
	})
	return id, nil
}

func (r *MemoryReadingRepository) FetchLatest(ctx context.Context, kind mqtmodels.RecordKind, userID int64) (*mqtmodels.Reading, error) {
	readings, err := r.History(ctx, kind, userID, 1)
	if err != nil || len(readings) == 0 {
		return nil, err
	}
	return &readings[0], nil
}

func (r *MemoryReadingRepository) History(ctx context.Context, kind mqtmodels.RecordKind, userID int64, limit int) ([]mqtmodels.Reading, error) {
	if _, err := tableFor(kind); err != nil {
		return nil, err
	}
	matched := r.Records(kind, userID)
	// newest first, later inserts win timestamp ties
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Time.After(matched[j].Time)
	})
	if limit = interfaces.ClampHistoryLimit(limit); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *MemoryReadingRepository) Stats(ctx context.Context, userID int64, since time.Time) (*mqtmodels.SensorStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats mqtmodels.SensorStats
	var sumHum, sumTemp float64
	for _, rec := range r.records {
		if rec.UserID != userID || rec.Time.Before(since) {
			continue
		}
		switch rec.Kind {
		case mqtmodels.KindDht:
			hum, temp := rec.Fields[mqtmodels.FieldHumidity], rec.Fields[mqtmodels.FieldTemperature]
			sumHum += hum
			sumTemp += temp
			if stats.Dht.MaxTemperature == nil || temp > *stats.Dht.MaxTemperature {
				v := temp
				stats.Dht.MaxTemperature = &v
			}
			if stats.Dht.MinTemperature == nil || temp < *stats.Dht.MinTemperature {
				v := temp
				stats.Dht.MinTemperature = &v
			}
			stats.Dht.TotalReadings++
		case mqtmodels.KindMotion:
			stats.Motion.TotalDetections++
			if rec.Fields[mqtmodels.FieldMotion] == 1 {
				stats.Motion.MotionDetected++
			}
		case mqtmodels.KindAction:
			stats.Action.TotalActions++
			if rec.Fields[mqtmodels.FieldStatus] == 1 {
				stats.Action.LightOnActions++
			}
		}
	}
	if n := float64(stats.Dht.TotalReadings); n > 0 {
		avgHum, avgTemp := sumHum/n, sumTemp/n
		stats.Dht.AvgHumidity = &avgHum
		stats.Dht.AvgTemperature = &avgTemp
	}
	return &stats, nil
}

// Records returns a copy of every stored record of kind for userID in insertion order
func (r *MemoryReadingRepository) Records(kind mqtmodels.RecordKind, userID int64) []mqtmodels.Reading {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []mqtmodels.Reading
	for _, rec := range r.records {
		if rec.Kind == kind && rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out
}

// Count returns how many records of kind exist across all users
func (r *MemoryReadingRepository) Count(kind mqtmodels.RecordKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.records {
		if rec.Kind == kind {
			n++
		}
	}
	return n
}

func (r *MemoryReadingRepository) Ping(ctx context.Context) error { return nil }

func (r *MemoryReadingRepository) Close(ctx context.Context) error { return nil }
