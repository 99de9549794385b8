// Package config loads Elytra configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the full configuration of an Elytra control plane process
type Config struct {
	Server  ServerConfig
	Logging LoggingConfig
	Metrics MetricsConfig
	Storage StorageConfig
}

// ServerConfig configures the control plane itself
type ServerConfig struct {
	Port           int           // HTTP + channel listen port
	Host           string        // listen host
	DataDir        string        // root of the on-disk catalog mirror
	DatasetMaxAge  time.Duration // datasets older than this are reaped
	ReaperPeriod   time.Duration // how often the reaper sweeps
	LivenessPeriod time.Duration // how often connections are pinged
	MaxConns       int           // cap on concurrent connections, 0 = unlimited
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Format string
	Level  string
}

// MetricsConfig configures the Prometheus side server
type MetricsConfig struct {
	Enabled bool
	Address string // e.g. ":9090"
}

// StorageConfig carries object storage settings. The control plane does
// not use these itself; they are passed through to the ingest tooling.
type StorageConfig struct {
	Backend       string // "local" | "s3" | "gcs"
	Bucket        string
	Prefix        string
	LocalDir      string
	S3Endpoint    string
	S3Region      string
	PublicBaseURL string // base for dataset public URLs
}

// FromEnv loads configuration from ELYTRA_* environment variables,
// defaulting anything unset
func FromEnv() Config {
	return Config{
		Server: ServerConfig{
			Port:           getenvInt("ELYTRA_PORT", 8080),
			Host:           getenvDefault("ELYTRA_HOST", "0.0.0.0"),
			DataDir:        getenvDefault("ELYTRA_DATA_DIR", "datasets"),
			DatasetMaxAge:  getenvDuration("ELYTRA_DATASET_MAX_AGE", 2*time.Hour),
			ReaperPeriod:   getenvDuration("ELYTRA_REAPER_PERIOD", 30*time.Minute),
			LivenessPeriod: getenvDuration("ELYTRA_LIVENESS_PERIOD", 30*time.Second),
			MaxConns:       getenvInt("ELYTRA_MAX_CONNS", 0),
		},
		Logging: LoggingConfig{
			Format: getenvDefault("ELYTRA_LOG_FORMAT", "text"),
			Level:  getenvDefault("ELYTRA_LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Enabled: os.Getenv("ELYTRA_METRICS_ADDR") != "",
			Address: os.Getenv("ELYTRA_METRICS_ADDR"),
		},
		Storage: StorageConfig{
			Backend:       getenvDefault("ELYTRA_STORAGE_BACKEND", "local"),
			Bucket:        os.Getenv("ELYTRA_STORAGE_BUCKET"),
			Prefix:        getenvDefault("ELYTRA_STORAGE_PREFIX", "elytra/"),
			LocalDir:      getenvDefault("ELYTRA_STORAGE_LOCAL_DIR", "./artifacts"),
			S3Endpoint:    os.Getenv("ELYTRA_S3_ENDPOINT"),
			S3Region:      os.Getenv("ELYTRA_S3_REGION"),
			PublicBaseURL: os.Getenv("ELYTRA_PUBLIC_BASE_URL"),
		},
	}
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
