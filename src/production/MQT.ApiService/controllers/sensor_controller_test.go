package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	jwt "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.ApiService/implementation/jwt"
	"gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.ApiService/middleware"
	logger "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
	api_models "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models/api"
	implementation "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Repository/Implementation"
)

type fakePublisher struct {
	err       error
	published []string
}

func (p *fakePublisher) PublishCommand(ctx context.Context, sensor mqtmodels.Sensor, value string) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, string(sensor)+"="+value)
	return nil
}

type sensorFixture struct {
	router    *gin.Engine
	store     *implementation.MemoryReadingRepository
	publisher *fakePublisher
	token     string
	now       time.Time
}

func newSensorFixture(t *testing.T) *sensorFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	tokens := jwt.NewService(api_models.Config{SecretKey: "test-secret"})
	token, err := tokens.IssueAccessToken(mqtmodels.UserInfo{ID: 1, Username: "alice"}, time.Hour)
	require.NoError(t, err)

	store := implementation.NewMemoryReadingRepository().WithClock(func() time.Time { return now })
	publisher := &fakePublisher{}
	auth := middleware.NewAuthMiddleware(tokens, middleware.DefaultConfig())

	ctrl := NewSensorController(store, publisher, logger.NewNopLogger(), auth)
	ctrl.now = func() time.Time { return now }

	router := gin.New()
	ctrl.RegisterRoutes(router)
	return &sensorFixture{router: router, store: store, publisher: publisher, token: token, now: now}
}

func (f *sensorFixture) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+f.token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSensors_RequireToken(t *testing.T) {
	f := newSensorFixture(t)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sensors/latest", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetLatest_Defaults(t *testing.T) {
	f := newSensorFixture(t)
	w := f.do(t, http.MethodGet, "/api/sensors/latest", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"dht": {"humidity": null, "temperature": null, "time": null},
		"motion": {"motion": 0, "time": null},
		"action": {"status": 0, "time": null}
	}`, w.Body.String())
}

func TestGetLatest_ReturnsOwnRecords(t *testing.T) {
	f := newSensorFixture(t)
	ctx := context.Background()
	_, err := f.store.InsertReading(ctx, mqtmodels.KindDht, 1, map[string]float64{"temperature": 22, "humidity": 40})
	require.NoError(t, err)
	_, err = f.store.InsertReading(ctx, mqtmodels.KindDht, 2, map[string]float64{"temperature": 30, "humidity": 90})
	require.NoError(t, err)

	body := decode(t, f.do(t, http.MethodGet, "/api/sensors/latest", ""))
	dht := body["dht"].(map[string]interface{})
	assert.Equal(t, float64(22), dht["temperature"])
	assert.Equal(t, float64(40), dht["humidity"])
}

func TestGetHistory(t *testing.T) {
	f := newSensorFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.store.InsertReading(ctx, mqtmodels.KindMotion, 1, map[string]float64{"motion": 1})
		require.NoError(t, err)
	}

	w := f.do(t, http.MethodGet, "/api/sensors/history?type=motion&limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode(t, w)["data"].([]interface{})
	require.Len(t, rows, 2)
	assert.Equal(t, float64(1), rows[0].(map[string]interface{})["motion"])
	assert.Contains(t, rows[0], "time")
}

func TestGetHistory_InvalidType(t *testing.T) {
	f := newSensorFixture(t)
	for _, path := range []string{"/api/sensors/history", "/api/sensors/history?type=light"} {
		w := f.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Invalid type parameter. Use: dht, motion, or action", decode(t, w)["message"])
	}
}

func TestControlLight(t *testing.T) {
	f := newSensorFixture(t)

	w := f.do(t, http.MethodPost, "/api/sensors/control-light", `{"status":1}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Light turned on successfully", body["message"])
	assert.Equal(t, float64(1), body["status"])

	records := f.store.Records(mqtmodels.KindAction, 1)
	require.Len(t, records, 1)
	assert.Equal(t, float64(1), records[0].Fields["status"])
	assert.Equal(t, []string{"light=1"}, f.publisher.published)
}

func TestControlLight_PublishFailureStillRecords(t *testing.T) {
	f := newSensorFixture(t)
	f.publisher.err = errors.New("not connected")

	w := f.do(t, http.MethodPost, "/api/sensors/control-light", `{"status":0}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Light turned off successfully", decode(t, w)["message"])
	assert.Len(t, f.store.Records(mqtmodels.KindAction, 1), 1)
}

func TestControlLight_InvalidStatus(t *testing.T) {
	f := newSensorFixture(t)
	for _, body := range []string{`{}`, `{"status":2}`, `{"status":"1"}`, `{"status":null}`, `not json`} {
		w := f.do(t, http.MethodPost, "/api/sensors/control-light", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "Status must be 0 or 1", decode(t, w)["message"], body)
	}
	assert.Zero(t, f.store.Count(mqtmodels.KindAction))
	assert.Empty(t, f.publisher.published)
}

func TestGetStats(t *testing.T) {
	f := newSensorFixture(t)
	ctx := context.Background()
	_, err := f.store.InsertReading(ctx, mqtmodels.KindDht, 1, map[string]float64{"temperature": 20, "humidity": 50})
	require.NoError(t, err)
	_, err = f.store.InsertReading(ctx, mqtmodels.KindDht, 1, map[string]float64{"temperature": 30, "humidity": 70})
	require.NoError(t, err)
	_, err = f.store.InsertReading(ctx, mqtmodels.KindAction, 1, map[string]float64{"status": 1})
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/sensors/stats?days=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "3 days", body["period"])
	dht := body["dht"].(map[string]interface{})
	assert.Equal(t, float64(25), dht["avg_temperature"])
	assert.Equal(t, float64(60), dht["avg_humidity"])
	assert.Equal(t, float64(30), dht["max_temperature"])
	assert.Equal(t, float64(2), dht["total_readings"])
	action := body["action"].(map[string]interface{})
	assert.Equal(t, float64(1), action["light_on_actions"])

	assert.Equal(t, "7 days", decode(t, f.do(t, http.MethodGet, "/api/sensors/stats", ""))["period"])
}
