package config

import (
	"errors"
	"log/slog"
	"strings"

	"edgehost/pkg/models"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variable.
type Config struct {
	// Database Configurations
	DBDriver   string `mapstructure:"DB_DRIVER"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBPort     string `mapstructure:"DB_PORT"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`

	// Server Configurations
	ServerAddress string `mapstructure:"SERVER_ADDRESS"`
	TLSCertFile   string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile    string `mapstructure:"TLS_KEY_FILE"`

	// Logging Configurations
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// Security/Encryption Configurations
	JWTSecret            string `mapstructure:"JWT_SECRET"`
	EncryptionKey        string `mapstructure:"HOST_SECRET"`
	AdminUser            string `mapstructure:"ADMIN_USER"`
	AdminHash            string `mapstructure:"ADMIN_HASH"`
	SessionDurationHours int    `mapstructure:"SESSION_DURATION_HOURS"`

	// Host Settings
	EventQueueSize   int `mapstructure:"EVENT_QUEUE_SIZE"`
	StartConcurrency int `mapstructure:"START_CONCURRENCY"`

	// Fault Recovery
	FaultRecoveryEnabled bool `mapstructure:"FAULT_RECOVERY_ENABLED"`
	FaultWindowMinutes   int  `mapstructure:"FAULT_WINDOW_MINUTES"`
	FaultThreshold       int  `mapstructure:"FAULT_THRESHOLD"`

	// Declared endpoint instances (app.yaml only)
	Endpoints []models.EndpointSpec `mapstructure:"endpoints"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// 1. Set Defaults
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_USER", "edgehost")
	v.SetDefault("DB_PASSWORD", "edgehost")
	v.SetDefault("DB_NAME", "edgehost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("SQLITE_PATH", "edgehost.db")
	v.SetDefault("SERVER_ADDRESS", ":8080")
	v.SetDefault("TLS_CERT_FILE", "")
	v.SetDefault("TLS_KEY_FILE", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("JWT_SECRET", "default-insecure-secret-change-me")
	v.SetDefault("HOST_SECRET", "")
	v.SetDefault("ADMIN_USER", "admin")
	v.SetDefault("ADMIN_HASH", "$2a$10$BST/uOdLLXUyqO4fN.b9cuwVwoXEJWWFzpc4iirHiu3GcgbuJqtdu")
	v.SetDefault("SESSION_DURATION_HOURS", 24)
	v.SetDefault("EVENT_QUEUE_SIZE", 100)
	v.SetDefault("START_CONCURRENCY", 4)
	v.SetDefault("FAULT_RECOVERY_ENABLED", false)
	v.SetDefault("FAULT_WINDOW_MINUTES", 10)
	v.SetDefault("FAULT_THRESHOLD", 3)

	// 2. Read app.yaml if exists
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	// 3. Read .env if exists (overriding app.yaml)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	// 4. Allow Viper to read Environment Variables (highest priority)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
