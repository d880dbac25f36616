package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.ApiService/health"
	logger "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
	pipeline "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Pipeline"
)

// StatusSource is the read-only view of the running pipeline
type StatusSource interface {
	Status() pipeline.Status
}

// HealthController handles health and status requests
type HealthController struct {
	pipeline StatusSource
	checker  *health.HealthChecker
	logger   *logger.Logger
	started  time.Time
	now      func() time.Time
}

// NewHealthController creates a new health controller
func NewHealthController(pipeline StatusSource, checker *health.HealthChecker, logger *logger.Logger) *HealthController {
	return &HealthController{
		pipeline: pipeline,
		checker:  checker,
		logger:   logger.WithComponent("health"),
		started:  time.Now(),
		now:      time.Now,
	}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api")
	{
		api.GET("/health", c.Health)
		api.GET("/ws-status", c.WsStatus)
		api.GET("/debug/pipeline", c.DebugPipeline)
	}
}

func (c *HealthController) Health(ctx *gin.Context) {
	status := c.pipeline.Status()
	store := c.checker.GetStoreStatus(ctx)
	if store.Status != "ok" {
		c.logger.Logger.Warn().Str("error", store.Error).Msg("Store health check failed")
	}

	ctx.JSON(http.StatusOK, gin.H{
		"status":        "OK",
		"timestamp":     mqtmodels.Timestamp(c.now()),
		"mqttConnected": status.MQTTConnected,
		"wsClients":     status.Connections,
		"uptime":        c.now().Sub(c.started).Seconds(),
		"store":         store,
	})
}

// connectedUser is one authenticated viewer as shown on the status page
type connectedUser struct {
	UserID      int64     `json:"userId"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	ConnectedAt time.Time `json:"connectedAt"`
}

func (c *HealthController) WsStatus(ctx *gin.Context) {
	status := c.pipeline.Status()

	users := make([]connectedUser, 0, len(status.Live))
	for _, live := range status.Live {
		users = append(users, connectedUser{
			UserID:      live.UserID,
			Username:    live.Username,
			Email:       live.Email,
			ConnectedAt: live.ConnectedAt,
		})
	}

	ctx.JSON(http.StatusOK, gin.H{
		"connectedClients": status.Connections,
		"connectedUsers":   users,
	})
}

// DebugPipeline exposes cache and ingest counters; it never mutates state
func (c *HealthController) DebugPipeline(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.pipeline.Status())
}
