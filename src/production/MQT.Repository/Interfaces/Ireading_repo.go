package interfaces

import (
	"context"
	"time"

	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

type ReadingRepository interface {
	ReadingInserter
	LatestFetcher

	// History returns a user's records of one kind, newest first
	History(ctx context.Context, kind mqtmodels.RecordKind, userID int64, limit int) ([]mqtmodels.Reading, error)

	// Stats aggregates a user's records created at or after since
	Stats(ctx context.Context, userID int64, since time.Time) (*mqtmodels.SensorStats, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// ClampHistoryLimit applies the default and upper bound to a requested page size
func ClampHistoryLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
