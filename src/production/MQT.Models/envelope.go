package mqtmodels

import "time"

// EnvelopeType is the "type" tag of every server to client frame
type EnvelopeType string

const (
	EnvelopeConnection           EnvelopeType = "connection"
	EnvelopeError                EnvelopeType = "error"
	EnvelopePong                 EnvelopeType = "pong"
	EnvelopeSensorData           EnvelopeType = "sensor_data"
	EnvelopeLatestData           EnvelopeType = "latest_data"
	EnvelopeLightControlResponse EnvelopeType = "light_control_response"
)

// Viewer-facing messages
const (
	MsgConnected          = "Connected successfully"
	MsgTokenRequired      = "Authentication token required"
	MsgInvalidToken       = "Invalid or expired token"
	MsgNotAuthenticated   = "Client not authenticated"
	MsgInvalidLightStatus = "Invalid light status"
	MsgLightFailed        = "Failed to control light"
	MsgUnknownType        = "Unknown message type"
	MsgInvalidFormat      = "Invalid message format"
	MsgLatestDataFailed   = "Failed to fetch latest data"
)

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Timestamp renders t the way viewers expect (UTC, millisecond precision)
func Timestamp(t time.Time) string {
	return t.UTC().Format(isoMillis)
}

// UserInfo is the identity echoed back on a successful connection
type UserInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type ConnectionEnvelope struct {
	Type    EnvelopeType `json:"type"`
	Message string       `json:"message"`
	User    UserInfo     `json:"user"`
}

type ErrorEnvelope struct {
	Type    EnvelopeType `json:"type"`
	Message string       `json:"message"`
}

type PongEnvelope struct {
	Type      EnvelopeType `json:"type"`
	Timestamp string       `json:"timestamp"`
}

// SensorDataEnvelope is the BroadcastEnvelope fanned out for every device message
type SensorDataEnvelope struct {
	Type      EnvelopeType `json:"type"`
	Topic     string       `json:"topic"`
	Value     string       `json:"value"`
	Timestamp string       `json:"timestamp"`
}

type LightControlEnvelope struct {
	Type      EnvelopeType `json:"type"`
	Status    int          `json:"status"`
	Message   string       `json:"message"`
	Timestamp string       `json:"timestamp"`
}

type LatestDataEnvelope struct {
	Type      EnvelopeType `json:"type"`
	Data      LatestData   `json:"data"`
	Timestamp string       `json:"timestamp"`
}

type LatestData struct {
	Dht    DhtSnapshot    `json:"dht"`
	Motion MotionSnapshot `json:"motion"`
	Action ActionSnapshot `json:"action"`
}

type DhtSnapshot struct {
	Humidity    *float64   `json:"humidity"`
	Temperature *float64   `json:"temperature"`
	Time        *time.Time `json:"time"`
}

type MotionSnapshot struct {
	Motion int        `json:"motion"`
	Time   *time.Time `json:"time"`
}

type ActionSnapshot struct {
	Status int        `json:"status"`
	Time   *time.Time `json:"time"`
}

func NewConnectionEnvelope(user UserInfo) ConnectionEnvelope {
	return ConnectionEnvelope{Type: EnvelopeConnection, Message: MsgConnected, User: user}
}

func NewErrorEnvelope(message string) ErrorEnvelope {
	return ErrorEnvelope{Type: EnvelopeError, Message: message}
}

func NewPongEnvelope(now time.Time) PongEnvelope {
	return PongEnvelope{Type: EnvelopePong, Timestamp: Timestamp(now)}
}

func NewSensorDataEnvelope(topic, value string, now time.Time) SensorDataEnvelope {
	return SensorDataEnvelope{Type: EnvelopeSensorData, Topic: topic, Value: value, Timestamp: Timestamp(now)}
}

func NewLightControlEnvelope(status int, now time.Time) LightControlEnvelope {
	verb := "turned off"
	if status == 1 {
		verb = "turned on"
	}
	return LightControlEnvelope{
		Type:      EnvelopeLightControlResponse,
		Status:    status,
		Message:   "Light " + verb + " successfully",
		Timestamp: Timestamp(now),
	}
}

// NewLatestData builds the snapshot from whatever records exist, nil meaning none
func NewLatestData(dht, motion, action *Reading) LatestData {
	var data LatestData
	if dht != nil {
		if v, ok := dht.Field(FieldHumidity); ok {
			data.Dht.Humidity = &v
		}
		if v, ok := dht.Field(FieldTemperature); ok {
			data.Dht.Temperature = &v
		}
		t := dht.Time
		data.Dht.Time = &t
	}
	if motion != nil {
		v, _ := motion.Field(FieldMotion)
		data.Motion.Motion = int(v)
		t := motion.Time
		data.Motion.Time = &t
	}
	if action != nil {
		v, _ := action.Field(FieldStatus)
		data.Action.Status = int(v)
		t := action.Time
		data.Action.Time = &t
	}
	return data
}
