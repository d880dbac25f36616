package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.ApiService/controllers"
	jwt "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.ApiService/implementation/jwt"
	authMiddleware "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.ApiService/middleware"
	"gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.ApiService/websocket"
	container "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Container"
	api_models "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models/api"
	pipeline "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Pipeline"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	config := ctr.GetConfig()
	logger.Info("Starting telemetry server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the store
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	store, err := ctr.GetStore(initCtx)
	if err != nil {
		logger.FatalWithError(err, "Failed to initialize store")
	}
	healthChecker, err := ctr.GetHealthChecker(initCtx)
	if err != nil {
		logger.FatalWithError(err, "Failed to initialize health checker")
	}

	// Initialize JWT service for token validation
	jwtService := jwt.NewService(api_models.Config{
		SecretKey: config.Auth.JWTSecretKey,
		Issuer:    config.Auth.JWTIssuer,
	})
	authMiddlewareInstance := authMiddleware.NewAuthMiddleware(jwtService, authMiddleware.DefaultConfig())

	// Build the telemetry pipeline and connect to the broker
	p := pipeline.New(config, store, logger, pipeline.Options{})
	if err := p.Start(ctx); err != nil {
		logger.FatalWithError(err, "Failed to start pipeline")
	}

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Configure CORS from config
	corsConfig := cors.Config{
		AllowOrigins:     config.CORS.AllowedOrigins,
		AllowMethods:     config.CORS.AllowedMethods,
		AllowHeaders:     config.CORS.AllowedHeaders,
		ExposeHeaders:    config.CORS.ExposedHeaders,
		AllowCredentials: config.CORS.AllowCredentials,
		MaxAge:           time.Duration(config.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	// Create controllers and register routes
	sensorController := controllers.NewSensorController(store, p.Ingestor, logger, authMiddlewareInstance)
	healthController := controllers.NewHealthController(p, healthChecker, logger)
	wsHandler := websocket.NewHandler(p.Registry, p.Broadcaster, p.Commands, authMiddlewareInstance, logger)

	sensorController.RegisterRoutes(router)
	healthController.RegisterRoutes(router)
	wsHandler.RegisterRoutes(router)
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Route not found"})
	})

	// Get port from configuration
	port := config.Server.Port

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server starting on port " + port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")

		// Graceful shutdown
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.ErrorWithError(err, "Server forced to shutdown")
		}
		p.Stop()
		return nil
	})

	logger.Info("Telemetry server running... press Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		logger.ErrorWithError(err, "Server stopped with error")
		ctr.Shutdown(context.Background())
		os.Exit(1)
	}
}
