package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.ApiService/health"
	config "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
	implementation "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Repository/Interfaces"
)

const connectTimeout = 20 * time.Second

// Container manages dependencies and their lifecycle
type Container struct {
	config *config.Config
	logger *logger.Logger
	db     *sql.DB

	store         *implementation.GuardedReadingRepository
	healthChecker *health.HealthChecker

	// Mutex for thread-safe access
	mu sync.Mutex

	// Cleanup functions
	cleanupFuncs []func() error
}

// NewContainer loads configuration from the environment and builds the logger
func NewContainer() (*Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w: %w", mqtmodels.ErrStartup, err)
	}
	return NewContainerWithConfig(cfg, logger.NewLogger(&cfg.Logging)), nil
}

// NewContainerWithConfig builds a container around an already loaded config
func NewContainerWithConfig(cfg *config.Config, log *logger.Logger) *Container {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Container{
		config: cfg,
		logger: log,
	}
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// GetStore connects the configured driver on first use, bootstraps its
// schema and wraps it in the circuit breaker
func (c *Container) GetStore(ctx context.Context) (*implementation.GuardedReadingRepository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store != nil {
		return c.store, nil
	}

	inner, err := c.openStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w: %w", c.config.Database.Driver, mqtmodels.ErrStartup, err)
	}

	breaker := implementation.NewCircuitBreaker(c.config.Pipeline.BreakerMaxFailures, c.config.Pipeline.BreakerReset)
	c.store = implementation.NewGuardedReadingRepository(inner, breaker)
	c.cleanupFuncs = append(c.cleanupFuncs, func() error {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return inner.Close(closeCtx)
	})

	c.logger.Logger.Info().Str("driver", c.config.Database.Driver).Msg("Store initialized successfully")
	return c.store, nil
}

func (c *Container) openStore(ctx context.Context) (interfaces.ReadingRepository, error) {
	switch c.config.Database.Driver {
	case config.StoreDriverMemory:
		return implementation.NewMemoryReadingRepository(), nil

	case config.StoreDriverMongo:
		client, err := health.ConnectMongoWithTimeout(c.config, connectTimeout)
		if err != nil {
			return nil, err
		}
		repo := implementation.NewMongoReadingRepository(client, c.config.Database.MongoDB)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = repo.Close(context.Background())
			return nil, fmt.Errorf("failed to create indexes: %w", err)
		}
		return repo, nil

	case config.StoreDriverPostgres:
		db, err := health.ConnectPostgresWithTimeout(c.config, connectTimeout)
		if err != nil {
			return nil, err
		}
		if err := health.NewDatabaseManager(db).CreateTables(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
		c.db = db
		return implementation.NewPostgresReadingRepository(db), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", c.config.Database.Driver)
}

// GetHealthChecker returns the health checker for the store
func (c *Container) GetHealthChecker(ctx context.Context) (*health.HealthChecker, error) {
	store, err := c.GetStore(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthChecker == nil {
		c.healthChecker = health.NewHealthChecker(c.config.Database.Driver, store, store.Breaker())
	}
	return c.healthChecker, nil
}

// Shutdown gracefully shuts down the container and all its dependencies
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	// Execute cleanup functions in reverse order
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	// Close database connection
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.ErrorWithError(err, "Error closing database connection")
		}
		c.db = nil
	}

	c.logger.Info("Container shutdown complete")
	return nil
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
