package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Valkey    ValkeyConfig
	Extractor ExtractorConfig
	Pipeline  PipelineConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type ValkeyConfig struct {
	Addr     string
	Password string
	DB       int
}

type ExtractorConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type PipelineConfig struct {
	// FreshWindow is how recent the last successful sync must be for a new
	// trigger to be skipped server-side.
	FreshWindow time.Duration
	// HeartbeatInterval is how often the SSE relay emits keep-alive events.
	HeartbeatInterval time.Duration
	// ExtractConcurrency bounds parallel extraction calls per run.
	ExtractConcurrency int
	// EmailBatchSize caps how many unprocessed emails one run picks up.
	EmailBatchSize int
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  time.Duration(getEnvInt("SERVER_READ_TIMEOUT_SECS", 30)) * time.Second,
			// SSE connections stay open indefinitely; zero disables the
			// server-wide write deadline.
			WriteTimeout: time.Duration(getEnvInt("SERVER_WRITE_TIMEOUT_SECS", 0)) * time.Second,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "intel"),
			Password: getEnv("DB_PASSWORD", "intel"),
			Name:     getEnv("DB_NAME", "intel"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 5)),
		},
		Valkey: ValkeyConfig{
			Addr:     getEnv("VALKEY_ADDR", "localhost:6379"),
			Password: getEnv("VALKEY_PASSWORD", ""),
			DB:       getEnvInt("VALKEY_DB", 0),
		},
		Extractor: ExtractorConfig{
			APIKey:  getEnv("EXTRACTOR_API_KEY", ""),
			Model:   getEnv("EXTRACTOR_MODEL", ""),
			BaseURL: getEnv("EXTRACTOR_BASE_URL", ""),
		},
		Pipeline: PipelineConfig{
			FreshWindow:        time.Duration(getEnvInt("PIPELINE_FRESH_WINDOW_SECS", 300)) * time.Second,
			HeartbeatInterval:  time.Duration(getEnvInt("PIPELINE_HEARTBEAT_SECS", 15)) * time.Second,
			ExtractConcurrency: getEnvInt("PIPELINE_EXTRACT_CONCURRENCY", 4),
			EmailBatchSize:     getEnvInt("PIPELINE_EMAIL_BATCH_SIZE", 200),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
