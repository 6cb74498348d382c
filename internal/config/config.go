package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers       []string
	KafkaEventTopic    string
	KafkaForecastTopic string
	KafkaOutcomeTopic  string
	KafkaGroupID       string
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	ShutdownTimeout    time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Engine configuration.
	BranchTimeout    time.Duration
	PredictorDir     string
	CalibrationFile  string
	PhysicsCacheSize int

	// Trust snapshot persistence.
	RedisEnabled bool
	RedisAddr    string
	RedisKey     string
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	branchTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("BRANCH_TIMEOUT", "2s"))
	if err != nil || branchTimeout <= 0 {
		return nil, errors.New("invalid BRANCH_TIMEOUT")
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	redisEnabled := redisAddr != ""
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		redisEnabled = v == "true"
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaEventTopic:    sharedcfg.EnvOrDefault("KAFKA_EVENT_TOPIC", "solar-events"),
		KafkaForecastTopic: sharedcfg.EnvOrDefault("KAFKA_FORECAST_TOPIC", "impact-forecasts"),
		KafkaOutcomeTopic:  sharedcfg.EnvOrDefault("KAFKA_OUTCOME_TOPIC", "forecast-outcomes"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "space-weather-forecast"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		BranchTimeout:    branchTimeout,
		PredictorDir:     sharedcfg.EnvOrDefault("PREDICTOR_DIR", "predictors"),
		CalibrationFile:  os.Getenv("CALIBRATION_FILE"),
		PhysicsCacheSize: parsePhysicsCacheSize(),

		RedisEnabled: redisEnabled,
		RedisAddr:    redisAddr,
		RedisKey:     sharedcfg.EnvOrDefault("REDIS_TRUST_KEY", "swx:trust"),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaEventTopic == "" {
		return nil, errors.New("KAFKA_EVENT_TOPIC is required")
	}
	if cfg.KafkaForecastTopic == "" {
		return nil, errors.New("KAFKA_FORECAST_TOPIC is required")
	}
	if cfg.KafkaOutcomeTopic == "" {
		return nil, errors.New("KAFKA_OUTCOME_TOPIC is required")
	}
	if cfg.RedisEnabled && cfg.RedisAddr == "" {
		return nil, errors.New("REDIS_ENABLED is true but REDIS_ADDR is not set")
	}

	return cfg, nil
}

// parsePhysicsCacheSize returns the physics cache capacity. Zero disables
// the cache.
func parsePhysicsCacheSize() int {
	if s := os.Getenv("PHYSICS_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			return n
		}
	}
	return 1000
}
