// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the portfolio database
	Port     int
	LogLevel string
	DevMode  bool

	// Price updates
	UpdateSchedule    string // cron spec for the daily fetch job
	UpdateConcurrency int    // bounded parallelism for update-all

	// Loss alerts
	AlertSchedule     string  // cron spec for the drawdown check
	AlertWindowDays   int     // number of recent series points inspected
	AlertLossPct      float64 // notify when drawdown exceeds this percentage
	AlertRecipient    string  // notification address; alerts disabled when empty
	MailFrom          string
	SMTPAddr          string
	PortfolioStart    time.Time // portfolio inception, reporting baseline
	HasPortfolioStart bool

	Backup BackupConfig
}

// BackupConfig holds S3-compatible backup settings. Backups are disabled
// when Bucket is empty.
type BackupConfig struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for S3-compatible stores
	AccessKeyID     string
	SecretAccessKey string
	Schedule        string // cron spec
	RetentionDays   int    // 0 keeps backups forever
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("STOCKWATCH_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		// Weekday mornings, after US close and before London open refresh
		UpdateSchedule:    getEnv("UPDATE_SCHEDULE", "0 30 6 * * MON-FRI"),
		UpdateConcurrency: getEnvAsInt("UPDATE_CONCURRENCY", 4),

		AlertSchedule:   getEnv("ALERT_SCHEDULE", "0 0 8 * * *"),
		AlertWindowDays: getEnvAsInt("ALERT_WINDOW_DAYS", 10),
		AlertLossPct:    getEnvAsFloat("ALERT_LOSS_THRESHOLD", 2.0),
		AlertRecipient:  getEnv("ALERT_RECIPIENT", ""),
		MailFrom:        getEnv("MAIL_FROM", "stockwatch@localhost"),
		SMTPAddr:        getEnv("SMTP_ADDR", "localhost:25"),

		Backup: BackupConfig{
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			Region:          getEnv("BACKUP_S3_REGION", "auto"),
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			Schedule:        getEnv("BACKUP_SCHEDULE", "0 0 2 * * *"),
			RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}

	if cfg.AlertWindowDays <= 0 {
		return nil, fmt.Errorf("ALERT_WINDOW_DAYS must be positive, got %d", cfg.AlertWindowDays)
	}
	if cfg.AlertLossPct <= 0 {
		return nil, fmt.Errorf("ALERT_LOSS_THRESHOLD must be positive, got %v", cfg.AlertLossPct)
	}
	if cfg.UpdateConcurrency <= 0 {
		cfg.UpdateConcurrency = 1
	}

	if start := getEnv("PORTFOLIO_START_DATE", ""); start != "" {
		t, err := time.Parse("2006-01-02", start)
		if err != nil {
			return nil, fmt.Errorf("invalid PORTFOLIO_START_DATE %q: %w", start, err)
		}
		cfg.PortfolioStart = t
		cfg.HasPortfolioStart = true
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
