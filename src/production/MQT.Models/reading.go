package mqtmodels

import "time"

// RecordKind names the table/collection a persisted record belongs to
type RecordKind string

const (
	KindDht    RecordKind = "dht"
	KindMotion RecordKind = "motion"
	KindAction RecordKind = "action"
)

// ParseRecordKind maps the query-string spelling onto a RecordKind
func ParseRecordKind(s string) (RecordKind, bool) {
	switch RecordKind(s) {
	case KindDht, KindMotion, KindAction:
		return RecordKind(s), true
	}
	return "", false
}

// Field names used inside Reading.Fields
const (
	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
	FieldMotion      = "motion"
	FieldStatus      = "status"
)

// Sensor is the last path segment of a device topic
type Sensor string

const (
	SensorTemperature Sensor = "temperature"
	SensorHumidity    Sensor = "humidity"
	SensorMotion      Sensor = "motion"
	SensorLight       Sensor = "light"
)

// RecordID identifies a persisted record regardless of the backing store
type RecordID string

// Reading is a persisted record of one kind for one user
type Reading struct {
	ID     RecordID           `json:"id"`
	Kind   RecordKind         `json:"kind"`
	UserID int64              `json:"user_id"`
	Fields map[string]float64 `json:"fields"`
	Time   time.Time          `json:"time"`
}

// Field returns a named field and whether it was present
func (r *Reading) Field(name string) (float64, bool) {
	if r == nil || r.Fields == nil {
		return 0, false
	}
	v, ok := r.Fields[name]
	return v, ok
}

// SensorStats aggregates a user's records over a period
type SensorStats struct {
	Period string      `json:"period"`
	Dht    DhtStats    `json:"dht"`
	Motion MotionStats `json:"motion"`
	Action ActionStats `json:"action"`
}

type DhtStats struct {
	AvgHumidity    *float64 `json:"avg_humidity"`
	AvgTemperature *float64 `json:"avg_temperature"`
	MaxTemperature *float64 `json:"max_temperature"`
	MinTemperature *float64 `json:"min_temperature"`
	TotalReadings  int64    `json:"total_readings"`
}

type MotionStats struct {
	TotalDetections int64 `json:"total_detections"`
	MotionDetected  int64 `json:"motion_detected"`
}

type ActionStats struct {
	TotalActions   int64 `json:"total_actions"`
	LightOnActions int64 `json:"light_on_actions"`
}
