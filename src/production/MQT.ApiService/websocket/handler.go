package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.ApiService/middleware"
	broadcast "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Broadcast"
	logger "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
	registry "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are policed by the CORS layer and the bearer token
	CheckOrigin: func(r *http.Request) bool { return true },
}

// CommandHandler consumes inbound viewer frames
type CommandHandler interface {
	Handle(ctx context.Context, conn registry.Conn, frame []byte) error
}

// Handler serves the viewer socket endpoint
type Handler struct {
	reg      *registry.Registry
	out      *broadcast.Broadcaster
	commands CommandHandler
	auth     *middleware.AuthMiddleware
	log      *logger.Logger
}

func NewHandler(reg *registry.Registry, out *broadcast.Broadcaster, commands CommandHandler, auth *middleware.AuthMiddleware, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Handler{
		reg:      reg,
		out:      out,
		commands: commands,
		auth:     auth,
		log:      log.WithComponent("websocket"),
	}
}

// RegisterRoutes mounts the socket on both / and /ws
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws", h.ServeWS)
	router.GET("/", h.ServeWS)
}

// ServeWS upgrades the request and runs the socket until it closes. The
// token is checked once; a socket that fails it gets one error frame and is
// closed without ever entering the registry.
func (h *Handler) ServeWS(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusUpgradeRequired, gin.H{"error": "websocket upgrade required"})
		return
	}

	token := h.auth.Token(c.Request)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	user, err := h.auth.Verify(token)
	if err != nil {
		h.refuse(conn, err)
		return
	}

	client := newClient(conn, h.log)
	if err := h.out.SendTo(client, mqtmodels.NewConnectionEnvelope(user)); err != nil {
		h.log.ErrorWithError(err, "Failed to queue connection frame")
	}
	h.reg.Attach(client)
	if _, err := h.reg.Authenticate(client, user); err != nil {
		h.log.ErrorWithError(err, "Failed to register viewer")
		h.reg.Remove(client)
		_ = client.Close()
		_ = conn.Close()
		return
	}

	go client.writePump()

	ctx := c.Request.Context()
	client.readPump(func(frame []byte) {
		if err := h.commands.Handle(ctx, client, frame); err != nil {
			client.log.Logger.Debug().Err(err).Msg("Command rejected")
		}
	})

	h.reg.Remove(client)
	_ = client.Close()
}

// refuse sends the single auth error frame and closes the socket
func (h *Handler) refuse(conn *websocket.Conn, err error) {
	message := mqtmodels.MsgInvalidToken
	var authErr *mqtmodels.AuthError
	if errors.As(err, &authErr) {
		message = authErr.Message
	}
	h.log.Logger.Info().Str("reason", message).Msg("Viewer rejected")

	deadline := time.Now().Add(writeWait)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(mqtmodels.NewErrorEnvelope(message)); err != nil {
		h.log.Logger.Debug().Err(err).Msg("Failed to write auth error")
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), deadline)
	_ = conn.Close()
}
