package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.ApiService/middleware"
	command "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Command"
	logger "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Repository/Interfaces"
)

const (
	msgInvalidType   = "Invalid type parameter. Use: dht, motion, or action"
	msgInvalidStatus = "Status must be 0 or 1"
	msgInternal      = "Internal server error"
	defaultStatsDays = 7
)

// SensorController serves a viewer's own readings over REST
type SensorController struct {
	readingRepo    interfaces.ReadingRepository
	publisher      command.Publisher
	logger         *logger.Logger
	authMiddleware *middleware.AuthMiddleware
	now            func() time.Time
}

// NewSensorController creates a new sensor controller
func NewSensorController(readingRepo interfaces.ReadingRepository, publisher command.Publisher, logger *logger.Logger, authMiddleware *middleware.AuthMiddleware) *SensorController {
	return &SensorController{
		readingRepo:    readingRepo,
		publisher:      publisher,
		logger:         logger.WithComponent("sensors"),
		authMiddleware: authMiddleware,
		now:            time.Now,
	}
}

// RegisterRoutes registers the sensor routes with Gin
func (c *SensorController) RegisterRoutes(router gin.IRouter) {
	sensors := router.Group("/api/sensors")
	sensors.Use(c.authMiddleware.Authenticate())
	{
		sensors.GET("/latest", c.GetLatest)
		sensors.GET("/history", c.GetHistory)
		sensors.POST("/control-light", c.ControlLight)
		sensors.GET("/stats", c.GetStats)
	}
}

func (c *SensorController) GetLatest(ctx *gin.Context) {
	userID, _ := middleware.GetUserFromGinContext(ctx)

	data, err := command.LatestSnapshot(ctx, c.readingRepo, userID)
	if err != nil {
		c.logger.WithUser(userID).ErrorWithError(err, "Get latest data failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"message": msgInternal})
		return
	}

	ctx.JSON(http.StatusOK, data)
}

func (c *SensorController) GetHistory(ctx *gin.Context) {
	userID, _ := middleware.GetUserFromGinContext(ctx)

	kind, ok := mqtmodels.ParseRecordKind(ctx.Query("type"))
	if !ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"message": msgInvalidType})
		return
	}
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", strconv.Itoa(interfaces.DefaultHistoryLimit)))

	readings, err := c.readingRepo.History(ctx, kind, userID, interfaces.ClampHistoryLimit(limit))
	if err != nil {
		c.logger.WithUser(userID).ErrorWithError(err, "Get history failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"message": msgInternal})
		return
	}

	rows := make([]gin.H, 0, len(readings))
	for _, r := range readings {
		rows = append(rows, historyRow(r))
	}
	ctx.JSON(http.StatusOK, gin.H{"data": rows})
}

// historyRow flattens a record into its value columns plus time
func historyRow(r mqtmodels.Reading) gin.H {
	row := gin.H{"time": r.Time}
	for name, value := range r.Fields {
		if r.Kind == mqtmodels.KindDht {
			row[name] = value
		} else {
			row[name] = int(value)
		}
	}
	return row
}

type controlLightRequest struct {
	Status json.RawMessage `json:"status"`
}

// ControlLight records the requested light state and forwards it to the device
func (c *SensorController) ControlLight(ctx *gin.Context) {
	userID, _ := middleware.GetUserFromGinContext(ctx)
	log := c.logger.WithUser(userID)

	var req controlLightRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"message": msgInvalidStatus})
		return
	}
	status, err := command.ParseLightStatus(req.Status)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"message": msgInvalidStatus})
		return
	}

	if _, err := c.readingRepo.InsertReading(ctx, mqtmodels.KindAction, userID, map[string]float64{
		mqtmodels.FieldStatus: float64(status),
	}); err != nil {
		log.ErrorWithError(err, "Control light failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"message": msgInternal})
		return
	}

	if err := c.publisher.PublishCommand(ctx, mqtmodels.SensorLight, strconv.Itoa(status)); err != nil {
		log.Logger.Warn().Err(err).Msg("Light command recorded but not published")
	}

	now := c.now()
	ctx.JSON(http.StatusOK, gin.H{
		"message": mqtmodels.NewLightControlEnvelope(status, now).Message,
		"status":  status,
		"time":    now.UTC(),
	})
}

func (c *SensorController) GetStats(ctx *gin.Context) {
	userID, _ := middleware.GetUserFromGinContext(ctx)

	days, err := strconv.Atoi(ctx.DefaultQuery("days", strconv.Itoa(defaultStatsDays)))
	if err != nil || days < 0 {
		days = defaultStatsDays
	}
	since := c.now().AddDate(0, 0, -days)

	stats, err := c.readingRepo.Stats(ctx, userID, since)
	if err != nil {
		c.logger.WithUser(userID).ErrorWithError(err, "Get stats failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"message": msgInternal})
		return
	}

	stats.Period = fmt.Sprintf("%d days", days)
	ctx.JSON(http.StatusOK, stats)
}
