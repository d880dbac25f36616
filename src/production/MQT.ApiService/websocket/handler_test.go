package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	jwt "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.ApiService/implementation/jwt"
	"gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.ApiService/middleware"
	broadcast "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Broadcast"
	command "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Command"
	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
	api_models "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models/api"
	registry "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Registry"
	implementation "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Repository/Implementation"
)

type nopPublisher struct{}

func (nopPublisher) PublishCommand(ctx context.Context, sensor mqtmodels.Sensor, value string) error {
	return nil
}

type harness struct {
	server *httptest.Server
	reg    *registry.Registry
	out    *broadcast.Broadcaster
	tokens *jwt.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := jwt.NewService(api_models.Config{SecretKey: "test-secret"})
	reg := registry.New(nil)
	out := broadcast.New(reg, nil)
	commands := command.NewChannel(reg, out, nopPublisher{}, implementation.NewMemoryReadingRepository(), nil)
	auth := middleware.NewAuthMiddleware(tokens, middleware.DefaultConfig())

	router := gin.New()
	NewHandler(reg, out, commands, auth, nil).RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		reg.CloseAll()
		server.Close()
	})
	return &harness{server: server, reg: reg, out: out, tokens: tokens}
}

func (h *harness) token(t *testing.T, user mqtmodels.UserInfo) string {
	t.Helper()
	token, err := h.tokens.IssueAccessToken(user, time.Hour)
	require.NoError(t, err)
	return token
}

func (h *harness) dial(t *testing.T, query string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func assertClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	assert.ErrorAs(t, err, &closeErr)
}

func TestServeWS_RejectsMissingToken(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "", nil)

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "Authentication token required", frame["message"])
	assertClosed(t, conn)
	assert.Zero(t, h.reg.Count())
}

func TestServeWS_RejectsInvalidToken(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "?token=not-a-token", nil)

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "Invalid or expired token", frame["message"])
	assertClosed(t, conn)
	assert.Empty(t, h.reg.Entries())
}

func TestServeWS_AuthenticatesFromQuery(t *testing.T) {
	h := newHarness(t)
	user := mqtmodels.UserInfo{ID: 1, Username: "alice", Email: "alice@example.com"}
	conn := h.dial(t, "?token="+h.token(t, user), nil)

	frame := readFrame(t, conn)
	assert.Equal(t, "connection", frame["type"])
	assert.Equal(t, "Connected successfully", frame["message"])
	assert.Equal(t, map[string]interface{}{"id": float64(1), "username": "alice", "email": "alice@example.com"}, frame["user"])

	entries := h.reg.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].UserID)
}

func TestServeWS_AuthenticatesFromHeader(t *testing.T) {
	h := newHarness(t)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+h.token(t, mqtmodels.UserInfo{ID: 2, Username: "bob"}))
	conn := h.dial(t, "", header)

	assert.Equal(t, "connection", readFrame(t, conn)["type"])
	require.Len(t, h.reg.Entries(), 1)
}

func TestServeWS_CommandsAndBroadcast(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "?token="+h.token(t, mqtmodels.UserInfo{ID: 3, Username: "carol"}), nil)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	pong := readFrame(t, conn)
	assert.Equal(t, "pong", pong["type"])
	assert.NotEmpty(t, pong["timestamp"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	bad := readFrame(t, conn)
	assert.Equal(t, "error", bad["type"])
	assert.Equal(t, "Invalid message format", bad["message"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"control_light","status":1}`)))
	light := readFrame(t, conn)
	assert.Equal(t, "light_control_response", light["type"])
	assert.Equal(t, float64(1), light["status"])

	n, err := h.out.Broadcast(mqtmodels.NewSensorDataEnvelope("iot/temperature", "21.5", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	data := readFrame(t, conn)
	assert.Equal(t, "sensor_data", data["type"])
	assert.Equal(t, "iot/temperature", data["topic"])
	assert.Equal(t, "21.5", data["value"])
}

func TestServeWS_RemovedOnClose(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "?token="+h.token(t, mqtmodels.UserInfo{ID: 4, Username: "dan"}), nil)
	readFrame(t, conn)
	require.Equal(t, 1, h.reg.Count())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	assert.Eventually(t, func() bool { return h.reg.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeWS_CloseAllDisconnectsViewer(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "?token="+h.token(t, mqtmodels.UserInfo{ID: 5, Username: "eve"}), nil)
	readFrame(t, conn)

	h.reg.CloseAll()
	assertClosed(t, conn)
	assert.Eventually(t, func() bool { return h.reg.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeWS_PlainRequestRefused(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.server.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
