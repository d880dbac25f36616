package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"

	defaultJWTSecret = "change-this-secret-in-production"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Auth     AuthConfig     `json:"auth"`
	Pipeline PipelineConfig `json:"pipeline"`
	Logging  LoggingConfig  `json:"logging"`
	CORS     CORSConfig     `json:"cors"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig selects the persistence driver and carries its settings
type DatabaseConfig struct {
	Driver   string `json:"driver"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
	MinConns int    `json:"min_conns"`

	MongoURI string `json:"mongo_uri"`
	MongoDB  string `json:"mongo_db"`
}

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	BrokerHost      string        `json:"broker_host"`
	BrokerPort      int           `json:"broker_port"`
	BrokerUser      string        `json:"broker_user"`
	BrokerPass      string        `json:"broker_pass"`
	UseTLS          bool          `json:"use_tls"`
	CACertPath      string        `json:"ca_cert_path"`
	ClientID        string        `json:"client_id"`
	TopicPrefix     string        `json:"topic_prefix"`
	QoS             int           `json:"qos"`
	ReconnectPeriod time.Duration `json:"reconnect_period"`
	ConnectTimeout  time.Duration `json:"connect_timeout"`
	KeepAlive       time.Duration `json:"keep_alive"`
	PingTimeout     time.Duration `json:"ping_timeout"`
	QueueSize       int           `json:"queue_size"`
}

// AuthConfig holds token verification settings
type AuthConfig struct {
	JWTSecretKey string `json:"jwt_secret_key"`
	JWTIssuer    string `json:"jwt_issuer"`
}

// PipelineConfig tunes the correlation cache and the store guard
type PipelineConfig struct {
	MotionWindow       time.Duration `json:"motion_window"`
	CacheIdleTTL       time.Duration `json:"cache_idle_ttl"`
	CacheSweepInterval time.Duration `json:"cache_sweep_interval"`
	BreakerMaxFailures int           `json:"breaker_max_failures"`
	BreakerReset       time.Duration `json:"breaker_reset"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout, stderr, or file path
	EnableCaller bool   `json:"enable_caller"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

// Load loads configuration from environment variables with fallback defaults
func Load() (*Config, error) {
	// A missing .env is fine, the process may get its environment directly
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "5000"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", ""),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			DBName:   getEnv("POSTGRES_DB", "iot"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns: getInt("POSTGRES_MAX_CONNS", 25),
			MinConns: getInt("POSTGRES_MIN_CONNS", 5),
			MongoURI: getEnv("MONGODB_URI", ""),
			MongoDB:  getEnv("MONGODB_DB", "iot"),
		},
		MQTT: MQTTConfig{
			BrokerHost:      getEnv("BROKER_HOST", "localhost"),
			BrokerPort:      getInt("BROKER_PORT", 1883),
			BrokerUser:      getEnv("BROKER_USER", ""),
			BrokerPass:      getEnv("BROKER_PASS", ""),
			UseTLS:          getBool("BROKER_TLS", false),
			CACertPath:      getEnv("BROKER_CA_FILE", ""),
			ClientID:        getEnv("MQTT_CLIENT_ID", "backend_client"),
			TopicPrefix:     getEnv("MQTT_TOPIC_PREFIX", "iot/"),
			QoS:             getInt("MQTT_QOS", 0),
			ReconnectPeriod: getDuration("MQTT_RECONNECT_PERIOD", 1*time.Second),
			ConnectTimeout:  getDuration("MQTT_CONNECT_TIMEOUT", 30*time.Second),
			KeepAlive:       getDuration("MQTT_KEEP_ALIVE", 30*time.Second),
			PingTimeout:     getDuration("MQTT_PING_TIMEOUT", 10*time.Second),
			QueueSize:       getInt("MQTT_QUEUE_SIZE", 1024),
		},
		Auth: AuthConfig{
			JWTSecretKey: getEnv("JWT_SECRET_KEY", defaultJWTSecret),
			JWTIssuer:    getEnv("JWT_ISSUER", ""),
		},
		Pipeline: PipelineConfig{
			MotionWindow:       getDuration("MOTION_WINDOW", 2*time.Second),
			CacheIdleTTL:       getDuration("CACHE_IDLE_TTL", 0),
			CacheSweepInterval: getDuration("CACHE_SWEEP_INTERVAL", time.Minute),
			BreakerMaxFailures: getInt("STORE_BREAKER_MAX_FAILURES", 5),
			BreakerReset:       getDuration("STORE_BREAKER_RESET", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:        getEnv("LOG_LEVEL", "info"),
			Format:       getEnv("LOG_FORMAT", "text"),
			Output:       getEnv("LOG_OUTPUT", "stdout"),
			EnableCaller: getBool("LOG_ENABLE_CALLER", false),
		},
		CORS: CORSConfig{
			AllowedOrigins:   getStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   getStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders:   getStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization"}),
			ExposedHeaders:   getStringSlice("CORS_EXPOSED_HEADERS", []string{"Content-Length"}),
			AllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           getInt("CORS_MAX_AGE", 43200), // 12 hours
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case StoreDriverPostgres:
		if c.Database.User == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("POSTGRES_PASSWORD is required")
		}
	case StoreDriverMongo:
		if c.Database.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (expected %s, %s or %s)", c.Database.Driver, StoreDriverPostgres, StoreDriverMongo, StoreDriverMemory)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2")
	}
	if c.MQTT.ReconnectPeriod <= 0 {
		return fmt.Errorf("MQTT_RECONNECT_PERIOD must be positive")
	}
	if c.MQTT.ConnectTimeout <= 0 {
		return fmt.Errorf("MQTT_CONNECT_TIMEOUT must be positive")
	}
	if c.MQTT.QueueSize <= 0 {
		return fmt.Errorf("MQTT_QUEUE_SIZE must be positive")
	}
	if c.Pipeline.MotionWindow <= 0 {
		return fmt.Errorf("MOTION_WINDOW must be positive")
	}
	if c.Pipeline.CacheIdleTTL < 0 {
		return fmt.Errorf("CACHE_IDLE_TTL must not be negative")
	}
	if c.Auth.JWTSecretKey == defaultJWTSecret {
		log.Println("WARNING: Using default JWT secret key. Change JWT_SECRET_KEY in production!")
	}
	return nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (c *MQTTConfig) GetMQTTBrokerURL() string {
	scheme := "tcp"
	if c.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.BrokerHost, c.BrokerPort)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return intValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "1", "true":
		return true
	case "0", "false":
		return false
	}
	log.Fatalf("invalid %s: %q (expected true/false or 1/0)", key, value)
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return duration
}

func getStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
