package interfaces

import (
	"context"

	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
)

// ReadingInserter is the write side of the store. Implementations must be
// safe for concurrent use.
type ReadingInserter interface {
	InsertReading(ctx context.Context, kind mqtmodels.RecordKind, userID int64, fields map[string]float64) (mqtmodels.RecordID, error)
}

// LatestFetcher returns the newest record of a kind for a user, nil when none exists
type LatestFetcher interface {
	FetchLatest(ctx context.Context, kind mqtmodels.RecordKind, userID int64) (*mqtmodels.Reading, error)
}
