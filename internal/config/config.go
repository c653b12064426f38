// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/aristath/sentinel-offload/internal/executor"
	"github.com/aristath/sentinel-offload/internal/metrics"
	"github.com/aristath/sentinel-offload/internal/queue"
)

// Config holds application configuration
type Config struct {
	LogLevel string
	Port     int
	DevMode  bool
	Offload  OffloadConfig
}

// OffloadConfig holds executor sizing as read from the environment
type OffloadConfig struct {
	ThreadWorkers      int
	ProcessPoolEnabled bool
	ProcessWorkers     int
	QueueCapacity      int
	QueueWorkers       int
	MetricsRetention   int
	DrainOnStop        bool
	PollInterval       time.Duration
	SummarySchedule    string // cron spec for the periodic summary log, empty disables it
}

// ToPoolConfiguration converts the environment settings to an executor configuration
func (c *OffloadConfig) ToPoolConfiguration() executor.PoolConfiguration {
	cfg := executor.PoolConfiguration{
		ThreadWorkers:    c.ThreadWorkers,
		QueueCapacity:    c.QueueCapacity,
		QueueWorkers:     c.QueueWorkers,
		MetricsRetention: c.MetricsRetention,
		StopMode:         executor.DrainThenStop,
		PollInterval:     c.PollInterval,
	}
	if c.ProcessPoolEnabled {
		cfg.ProcessWorkers = c.ProcessWorkers
	}
	if !c.DrainOnStop {
		cfg.StopMode = executor.DiscardAndStop
	}
	return cfg
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("GO_PORT", 8001),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		Offload: OffloadConfig{
			ThreadWorkers:      getEnvAsInt("OFFLOAD_THREAD_WORKERS", runtime.NumCPU()*2),
			ProcessPoolEnabled: getEnvAsBool("OFFLOAD_PROCESS_POOL_ENABLED", false),
			ProcessWorkers:     getEnvAsInt("OFFLOAD_PROCESS_WORKERS", runtime.NumCPU()),
			QueueCapacity:      getEnvAsInt("OFFLOAD_QUEUE_CAPACITY", executor.DefaultQueueCapacity),
			QueueWorkers:       getEnvAsInt("OFFLOAD_QUEUE_WORKERS", executor.DefaultQueueWorkers),
			MetricsRetention:   getEnvAsInt("OFFLOAD_METRICS_RETENTION", metrics.DefaultRetention),
			DrainOnStop:        getEnvAsBool("OFFLOAD_DRAIN_ON_STOP", true),
			PollInterval:       getEnvAsDuration("OFFLOAD_POLL_INTERVAL", queue.DefaultPollInterval),
			SummarySchedule:    getEnv("OFFLOAD_SUMMARY_SCHEDULE", "@every 1m"),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the executor would reject
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid GO_PORT %d", c.Port)
	}
	if c.Offload.ProcessPoolEnabled && c.Offload.ProcessWorkers < 1 {
		return fmt.Errorf("OFFLOAD_PROCESS_WORKERS must be positive when the process pool is enabled, got %d", c.Offload.ProcessWorkers)
	}
	if err := c.Offload.ToPoolConfiguration().Validate(); err != nil {
		return fmt.Errorf("invalid offload configuration: %w", err)
	}
	if c.Offload.SummarySchedule != "" {
		if _, err := cron.ParseStandard(c.Offload.SummarySchedule); err != nil {
			return fmt.Errorf("invalid OFFLOAD_SUMMARY_SCHEDULE %q: %w", c.Offload.SummarySchedule, err)
		}
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
