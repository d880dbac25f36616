package implementation

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Repository/Interfaces"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoWriteTimeout = 3 * time.Second
	mongoReadTimeout  = 10 * time.Second
)

// MongoReadingRepository stores each record kind in its own collection, named
// after the matching Postgres table
type MongoReadingRepository struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoReadingRepository(client *mongo.Client, dbName string) *MongoReadingRepository {
	return &MongoReadingRepository{client: client, db: client.Database(dbName)}
}

var _ interfaces.ReadingRepository = (*MongoReadingRepository)(nil)

func (r *MongoReadingRepository) collection(kind mqtmodels.RecordKind) (*mongo.Collection, kindTable, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, kindTable{}, err
	}
	return r.db.Collection(t.table), t, nil
}

// EnsureIndexes creates the (user_id, time desc) index on every collection
func (r *MongoReadingRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mongoReadTimeout)
	defer cancel()
	for kind := range kindTables {
		coll, _, err := r.collection(kind)
		if err != nil {
			return err
		}
		_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "time", Value: -1}},
		})
		if err != nil {
			return fmt.Errorf("index %s: %w", kind, err)
		}
	}
	return nil
}

func (r *MongoReadingRepository) InsertReading(ctx context.Context, kind mqtmodels.RecordKind, userID int64, fields map[string]float64) (mqtmodels.RecordID, error) {
	coll, t, err := r.collection(kind)
	if err != nil {
		return "", err
	}

	doc := bson.D{{Key: "user_id", Value: userID}}
	for _, col := range t.columns {
		v, ok := fields[col]
		if !ok {
			return "", fmt.Errorf("insert %s: missing field %q", kind, col)
		}
		doc = append(doc, bson.E{Key: col, Value: v})
	}
	doc = append(doc, bson.E{Key: "time", Value: time.Now().UTC()})

	ctx, cancel := context.WithTimeout(ctx, mongoWriteTimeout)
	defer cancel()
	res, err := coll.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", kind, err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		return mqtmodels.RecordID(oid.Hex()), nil
	}
	return mqtmodels.RecordID(fmt.Sprint(res.InsertedID)), nil
}

func (r *MongoReadingRepository) FetchLatest(ctx context.Context, kind mqtmodels.RecordKind, userID int64) (*mqtmodels.Reading, error) {
	readings, err := r.History(ctx, kind, userID, 1)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, nil
	}
	return &readings[0], nil
}

func (r *MongoReadingRepository) History(ctx context.Context, kind mqtmodels.RecordKind, userID int64, limit int) ([]mqtmodels.Reading, error) {
	coll, t, err := r.collection(kind)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, mongoReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "time", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(interfaces.ClampHistoryLimit(limit)))
	cur, err := coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", kind, err)
	}
	defer cur.Close(ctx)

	var readings []mqtmodels.Reading
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}
		readings = append(readings, decodeReading(raw, kind, userID, t.columns))
	}
	return readings, cur.Err()
}

func decodeReading(raw bson.M, kind mqtmodels.RecordKind, userID int64, columns []string) mqtmodels.Reading {
	reading := mqtmodels.Reading{Kind: kind, UserID: userID, Fields: make(map[string]float64, len(columns))}
	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		reading.ID = mqtmodels.RecordID(oid.Hex())
	}
	if ts, ok := raw["time"].(primitive.DateTime); ok {
		reading.Time = ts.Time().UTC()
	}
	for _, col := range columns {
		if v, ok := toFloat(raw[col]); ok {
			reading.Fields[col] = v
		}
	}
	return reading
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func (r *MongoReadingRepository) Stats(ctx context.Context, userID int64, since time.Time) (*mqtmodels.SensorStats, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoReadTimeout)
	defer cancel()

	match := bson.D{{Key: "$match", Value: bson.M{"user_id": userID, "time": bson.M{"$gte": since}}}}
	var stats mqtmodels.SensorStats

	dht, err := r.aggregateOne(ctx, mqtmodels.KindDht, mongo.Pipeline{match, {{Key: "$group", Value: bson.M{
		"_id":             nil,
		"avg_humidity":    bson.M{"$avg": "$humidity"},
		"avg_temperature": bson.M{"$avg": "$temperature"},
		"max_temperature": bson.M{"$max": "$temperature"},
		"min_temperature": bson.M{"$min": "$temperature"},
		"total":           bson.M{"$sum": 1},
	}}}})
	if err != nil {
		return nil, fmt.Errorf("dht stats: %w", err)
	}
	stats.Dht.AvgHumidity = optFloat(dht["avg_humidity"])
	stats.Dht.AvgTemperature = optFloat(dht["avg_temperature"])
	stats.Dht.MaxTemperature = optFloat(dht["max_temperature"])
	stats.Dht.MinTemperature = optFloat(dht["min_temperature"])
	stats.Dht.TotalReadings = count(dht["total"])

	motion, err := r.aggregateOne(ctx, mqtmodels.KindMotion, countPipeline(match, mqtmodels.FieldMotion))
	if err != nil {
		return nil, fmt.Errorf("motion stats: %w", err)
	}
	stats.Motion.TotalDetections = count(motion["total"])
	stats.Motion.MotionDetected = count(motion["ones"])

	action, err := r.aggregateOne(ctx, mqtmodels.KindAction, countPipeline(match, mqtmodels.FieldStatus))
	if err != nil {
		return nil, fmt.Errorf("action stats: %w", err)
	}
	stats.Action.TotalActions = count(action["total"])
	stats.Action.LightOnActions = count(action["ones"])

	return &stats, nil
}

// countPipeline counts all documents and those whose field equals 1
func countPipeline(match bson.D, field string) mongo.Pipeline {
	return mongo.Pipeline{match, {{Key: "$group", Value: bson.M{
		"_id":   nil,
		"total": bson.M{"$sum": 1},
		"ones":  bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$" + field, 1}}, 1, 0}}},
	}}}}
}

// aggregateOne runs a grouping pipeline and returns its single row, empty when nothing matched
func (r *MongoReadingRepository) aggregateOne(ctx context.Context, kind mqtmodels.RecordKind, pipeline mongo.Pipeline) (bson.M, error) {
	coll, _, err := r.collection(kind)
	if err != nil {
		return nil, err
	}
	cur, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	row := bson.M{}
	if cur.Next(ctx) {
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
	}
	return row, cur.Err()
}

func optFloat(v interface{}) *float64 {
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	return &f
}

func count(v interface{}) int64 {
	f, _ := toFloat(v)
	return int64(f)
}

func (r *MongoReadingRepository) Ping(ctx context.Context) error {
	if r.client == nil {
		return errors.New("mongo client is nil")
	}
	return r.client.Ping(ctx, nil)
}

func (r *MongoReadingRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
