package command

import (
	"encoding/json"

	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
)

const (
	TypePing          = "ping"
	TypeControlLight  = "control_light"
	TypeGetLatestData = "get_latest_data"
)

// Command is one decoded viewer frame. The set of implementations is closed.
type Command interface {
	command()
}

type Ping struct{}

// ControlLight keeps the raw status so authentication is checked before the
// value is validated
type ControlLight struct {
	status json.RawMessage
}

type GetLatestData struct{}

func (Ping) command()          {}
func (ControlLight) command()  {}
func (GetLatestData) command() {}

// NewControlLight builds a command with a valid status, mostly for callers
// that did not come through Decode
func NewControlLight(status int) ControlLight {
	raw, _ := json.Marshal(status)
	return ControlLight{status: raw}
}

// ParseLightStatus validates a raw JSON status value outside a frame
func ParseLightStatus(raw json.RawMessage) (int, error) {
	return ControlLight{status: raw}.LightStatus()
}

// LightStatus returns the requested light state. Only the JSON numbers 0 and
// 1 are accepted.
func (c ControlLight) LightStatus() (int, error) {
	if len(c.status) == 0 || string(c.status) == "null" {
		return 0, mqtmodels.NewValidationError(mqtmodels.MsgInvalidLightStatus)
	}
	var v float64
	if err := json.Unmarshal(c.status, &v); err != nil {
		return 0, mqtmodels.NewValidationError(mqtmodels.MsgInvalidLightStatus)
	}
	switch v {
	case 0:
		return 0, nil
	case 1:
		return 1, nil
	}
	return 0, mqtmodels.NewValidationError(mqtmodels.MsgInvalidLightStatus)
}

// Decode parses a text frame. Frames that are not JSON, or are JSON null,
// fail with the invalid format message; JSON without a known string "type"
// fails with the unknown type message.
func Decode(frame []byte) (Command, error) {
	if !json.Valid(frame) {
		return nil, mqtmodels.NewValidationError(mqtmodels.MsgInvalidFormat)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return nil, mqtmodels.NewValidationError(mqtmodels.MsgUnknownType)
	}
	if fields == nil {
		return nil, mqtmodels.NewValidationError(mqtmodels.MsgInvalidFormat)
	}
	var kind string
	if raw, ok := fields["type"]; !ok || json.Unmarshal(raw, &kind) != nil {
		return nil, mqtmodels.NewValidationError(mqtmodels.MsgUnknownType)
	}

	switch kind {
	case TypePing:
		return Ping{}, nil
	case TypeControlLight:
		return ControlLight{status: fields["status"]}, nil
	case TypeGetLatestData:
		return GetLatestData{}, nil
	}
	return nil, mqtmodels.NewValidationError(mqtmodels.MsgUnknownType)
}
