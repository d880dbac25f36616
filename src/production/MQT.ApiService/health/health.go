package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	config "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Pinger is the slice of the store the checker needs
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerState reports the store circuit breaker, when there is one
type BreakerState interface {
	StateName() string
}

// HealthChecker provides health check functionality
type HealthChecker struct {
	driver  string
	store   Pinger
	breaker BreakerState
	timeout time.Duration
}

// NewHealthChecker creates a new health checker. breaker may be nil.
func NewHealthChecker(driver string, store Pinger, breaker BreakerState) *HealthChecker {
	return &HealthChecker{
		driver:  driver,
		store:   store,
		breaker: breaker,
		timeout: 2 * time.Second,
	}
}

// CheckStoreHealth pings the store with a short deadline
func (h *HealthChecker) CheckStoreHealth(ctx context.Context) error {
	if h.store == nil {
		return fmt.Errorf("store is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	return nil
}

// StoreStatus is the store section of the health report
type StoreStatus struct {
	Driver  string `json:"driver"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Breaker string `json:"breaker,omitempty"`
}

// GetStoreStatus returns the current store health
func (h *HealthChecker) GetStoreStatus(ctx context.Context) StoreStatus {
	status := StoreStatus{Driver: h.driver, Status: "ok"}
	if err := h.CheckStoreHealth(ctx); err != nil {
		status.Status = "error"
		status.Error = err.Error()
	}
	if h.breaker != nil {
		status.Breaker = h.breaker.StateName()
	}
	return status
}

// ConnectPostgresWithTimeout creates a PostgreSQL connection with a timeout context
func ConnectPostgresWithTimeout(cfg *config.Config, timeout time.Duration) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to open PostgreSQL connection: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping PostgreSQL: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MinConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// ConnectMongoWithTimeout connects to MongoDB and waits for the primary
func ConnectMongoWithTimeout(cfg *config.Config, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(cfg.Database.MongoURI).
		SetMaxPoolSize(uint64(max(cfg.Database.MaxConns, 1))).
		SetMinPoolSize(uint64(max(cfg.Database.MinConns, 0)))

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to ping MongoDB: %w", err)
	}
	return client, nil
}

// DatabaseManager handles database operations
type DatabaseManager struct {
	db *sql.DB
}

// NewDatabaseManager creates a new database manager
func NewDatabaseManager(db *sql.DB) *DatabaseManager {
	return &DatabaseManager{db: db}
}

// CreateTables creates the reading tables if they don't exist
func (dm *DatabaseManager) CreateTables(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	createDhtTable := `
		CREATE TABLE IF NOT EXISTS dhtsensor (
			id          BIGSERIAL PRIMARY KEY,
			user_id     BIGINT NOT NULL,
			humidity    DOUBLE PRECISION NOT NULL,
			temperature DOUBLE PRECISION NOT NULL,
			time        TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`

	createMotionTable := `
		CREATE TABLE IF NOT EXISTS motionsensor (
			id          BIGSERIAL PRIMARY KEY,
			user_id     BIGINT NOT NULL,
			motion      SMALLINT NOT NULL,
			time        TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`

	createActionTable := `
		CREATE TABLE IF NOT EXISTS action (
			id          BIGSERIAL PRIMARY KEY,
			user_id     BIGINT NOT NULL,
			status      SMALLINT NOT NULL,
			time        TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`

	createIndexes := `
		CREATE INDEX IF NOT EXISTS idx_dhtsensor_user_time_desc ON dhtsensor (user_id, time DESC);
		CREATE INDEX IF NOT EXISTS idx_motionsensor_user_time_desc ON motionsensor (user_id, time DESC);
		CREATE INDEX IF NOT EXISTS idx_action_user_time_desc ON action (user_id, time DESC);
	`

	queries := []string{
		createDhtTable,
		createMotionTable,
		createActionTable,
		createIndexes,
	}

	for _, query := range queries {
		if _, err := dm.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}
