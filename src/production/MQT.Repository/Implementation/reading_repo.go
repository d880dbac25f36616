package implementation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Repository/Interfaces"
)

// kindTable maps a record kind onto its table and value columns
type kindTable struct {
	table   string
	columns []string
}

var kindTables = map[mqtmodels.RecordKind]kindTable{
	mqtmodels.KindDht:    {table: "dhtsensor", columns: []string{mqtmodels.FieldHumidity, mqtmodels.FieldTemperature}},
	mqtmodels.KindMotion: {table: "motionsensor", columns: []string{mqtmodels.FieldMotion}},
	mqtmodels.KindAction: {table: "action", columns: []string{mqtmodels.FieldStatus}},
}

func tableFor(kind mqtmodels.RecordKind) (kindTable, error) {
	t, ok := kindTables[kind]
	if !ok {
		return kindTable{}, fmt.Errorf("unknown record kind %q", kind)
	}
	return t, nil
}

type PostgresReadingRepository struct {
	db *sql.DB
}

func NewPostgresReadingRepository(db *sql.DB) *PostgresReadingRepository {
	return &PostgresReadingRepository{db: db}
}

var _ interfaces.ReadingRepository = (*PostgresReadingRepository)(nil)

// InsertReading writes one row and returns its generated id. A column missing
// from fields is rejected rather than stored as zero.
func (r *PostgresReadingRepository) InsertReading(ctx context.Context, kind mqtmodels.RecordKind, userID int64, fields map[string]float64) (mqtmodels.RecordID, error) {
	t, err := tableFor(kind)
	if err != nil {
		return "", err
	}

	args := []interface{}{userID}
	placeholders := []string{"$1"}
	for i, col := range t.columns {
		v, ok := fields[col]
		if !ok {
			return "", fmt.Errorf("insert %s: missing field %q", kind, col)
		}
		args = append(args, v)
		placeholders = append(placeholders, "$"+strconv.Itoa(i+2))
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (user_id, %s) VALUES (%s) RETURNING id`,
		t.table, strings.Join(t.columns, ", "), strings.Join(placeholders, ", "),
	)

	var id int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return "", fmt.Errorf("insert %s: %w", kind, err)
	}
	return mqtmodels.RecordID(strconv.FormatInt(id, 10)), nil
}

func (r *PostgresReadingRepository) FetchLatest(ctx context.Context, kind mqtmodels.RecordKind, userID int64) (*mqtmodels.Reading, error) {
	readings, err := r.History(ctx, kind, userID, 1)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, nil
	}
	return &readings[0], nil
}

func (r *PostgresReadingRepository) History(ctx context.Context, kind mqtmodels.RecordKind, userID int64, limit int) ([]mqtmodels.Reading, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`SELECT id, %s, time FROM %s WHERE user_id = $1 ORDER BY time DESC, id DESC LIMIT $2`,
		strings.Join(t.columns, ", "), t.table,
	)

	rows, err := r.db.QueryContext(ctx, query, userID, interfaces.ClampHistoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", kind, err)
	}
	defer rows.Close()

	return r.scanReadings(rows, kind, userID, t.columns)
}

func (r *PostgresReadingRepository) Stats(ctx context.Context, userID int64, since time.Time) (*mqtmodels.SensorStats, error) {
	var stats mqtmodels.SensorStats

	var avgHum, avgTemp, maxTemp, minTemp sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT
			AVG(humidity),
			AVG(temperature),
			MAX(temperature),
			MIN(temperature),
			COUNT(*)
		FROM dhtsensor
		WHERE user_id = $1 AND time >= $2
	`, userID, since).Scan(&avgHum, &avgTemp, &maxTemp, &minTemp, &stats.Dht.TotalReadings)
	if err != nil {
		return nil, fmt.Errorf("dht stats: %w", err)
	}
	stats.Dht.AvgHumidity = nullFloat(avgHum)
	stats.Dht.AvgTemperature = nullFloat(avgTemp)
	stats.Dht.MaxTemperature = nullFloat(maxTemp)
	stats.Dht.MinTemperature = nullFloat(minTemp)

	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE motion = 1)
		FROM motionsensor
		WHERE user_id = $1 AND time >= $2
	`, userID, since).Scan(&stats.Motion.TotalDetections, &stats.Motion.MotionDetected)
	if err != nil {
		return nil, fmt.Errorf("motion stats: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 1)
		FROM action
		WHERE user_id = $1 AND time >= $2
	`, userID, since).Scan(&stats.Action.TotalActions, &stats.Action.LightOnActions)
	if err != nil {
		return nil, fmt.Errorf("action stats: %w", err)
	}

	return &stats, nil
}

func (r *PostgresReadingRepository) Ping(ctx context.Context) error {
	if r.db == nil {
		return errors.New("database connection is nil")
	}
	var one int
	return r.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// Close is a no-op, the *sql.DB belongs to the container
func (r *PostgresReadingRepository) Close(ctx context.Context) error {
	return nil
}

func (r *PostgresReadingRepository) scanReadings(rows *sql.Rows, kind mqtmodels.RecordKind, userID int64, columns []string) ([]mqtmodels.Reading, error) {
	var readings []mqtmodels.Reading

	for rows.Next() {
		var id int64
		values := make([]sql.NullFloat64, len(columns))
		dest := make([]interface{}, 0, len(columns)+2)
		dest = append(dest, &id)
		for i := range values {
			dest = append(dest, &values[i])
		}
		reading := mqtmodels.Reading{Kind: kind, UserID: userID, Fields: make(map[string]float64, len(columns))}
		dest = append(dest, &reading.Time)

		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		reading.ID = mqtmodels.RecordID(strconv.FormatInt(id, 10))
		for i, col := range columns {
			if values[i].Valid {
				reading.Fields[col] = values[i].Float64
			}
		}
		readings = append(readings, reading)
	}

	return readings, rows.Err()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
