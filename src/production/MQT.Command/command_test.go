package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    Command
		wantMsg string
	}{
		{name: "ping", frame: `{"type":"ping"}`, want: Ping{}},
		{name: "latest", frame: `{"type":"get_latest_data"}`, want: GetLatestData{}},
		{name: "control light", frame: `{"type":"control_light","status":1}`, want: ControlLight{status: []byte("1")}},
		{name: "not json", frame: `{type:ping`, wantMsg: mqtmodels.MsgInvalidFormat},
		{name: "empty", frame: ``, wantMsg: mqtmodels.MsgInvalidFormat},
		{name: "null", frame: `null`, wantMsg: mqtmodels.MsgInvalidFormat},
		{name: "padded null", frame: ` null `, wantMsg: mqtmodels.MsgInvalidFormat},
		{name: "unknown type", frame: `{"type":"reboot"}`, wantMsg: mqtmodels.MsgUnknownType},
		{name: "missing type", frame: `{"status":1}`, wantMsg: mqtmodels.MsgUnknownType},
		{name: "type not a string", frame: `{"type":5}`, wantMsg: mqtmodels.MsgUnknownType},
		{name: "json array", frame: `["ping"]`, wantMsg: mqtmodels.MsgUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.frame))
			if tt.wantMsg != "" {
				var verr *mqtmodels.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.wantMsg, verr.Message)
				assert.ErrorIs(t, err, mqtmodels.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestControlLight_LightStatus(t *testing.T) {
	tests := []struct {
		frame string
		want  int
		ok    bool
	}{
		{`{"type":"control_light","status":0}`, 0, true},
		{`{"type":"control_light","status":1}`, 1, true},
		{`{"type":"control_light","status":1.0}`, 1, true},
		{`{"type":"control_light","status":2}`, 0, false},
		{`{"type":"control_light","status":-1}`, 0, false},
		{`{"type":"control_light","status":"1"}`, 0, false},
		{`{"type":"control_light","status":true}`, 0, false},
		{`{"type":"control_light","status":null}`, 0, false},
		{`{"type":"control_light"}`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.frame, func(t *testing.T) {
			cmd, err := Decode([]byte(tt.frame))
			require.NoError(t, err)
			status, err := cmd.(ControlLight).LightStatus()
			if !tt.ok {
				var verr *mqtmodels.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, mqtmodels.MsgInvalidLightStatus, verr.Message)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestNewControlLight(t *testing.T) {
	status, err := NewControlLight(1).LightStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, status)
}
