package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	// Database
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	DatabaseURL string

	// Redis
	EnableRedis bool
	RedisURL    string

	// JWT
	JWTSecret string

	// Server
	Port        string
	Environment string

	// Logging
	LogLevel  string
	LogFormat string

	// CORS
	CORSOrigins []string

	// Storage
	UploadDir     string
	HLSDir        string
	BackupDir     string
	MaxUploadSize int64

	// Backup
	BackupScheduleEnabled bool
	BackupIntervalHours   int

	// Rate Limiting
	RateLimitRequests int
	RateLimitWindow   int

	// Backup operations are expensive; they get their own, much
	// stricter per-account budget.
	BackupRateLimitRequests int
	BackupRateLimitWindow   int

	// Features
	EnableMetrics bool
}

func New() (*Config, error) {
	c := &Config{
		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "journal"),
		DBPassword: getEnv("DB_PASSWORD", "journal"),
		DBName:     getEnv("DB_NAME", "journaldb"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// Redis
		EnableRedis: getEnvAsBool("ENABLE_REDIS", false),
		RedisURL:    getEnv("REDIS_URL", "localhost:6379"),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "change-this-secret-in-production"),

		// Server
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		// CORS
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),

		// Storage
		UploadDir:     getEnv("UPLOAD_DIR", "./uploads"),
		BackupDir:     getEnv("BACKUP_DIR", "./backups"),
		MaxUploadSize: 1024 * 1024 * 1024, // 1GB, video journals are large

		// Backup
		BackupScheduleEnabled: getEnvAsBool("BACKUP_SCHEDULE_ENABLED", false),
		BackupIntervalHours:   getEnvAsInt("BACKUP_INTERVAL_HOURS", 24),

		// Rate Limiting
		RateLimitRequests: getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   getEnvAsInt("RATE_LIMIT_WINDOW", 60),

		BackupRateLimitRequests: getEnvAsInt("BACKUP_RATE_LIMIT_REQUESTS", 5),
		BackupRateLimitWindow:   getEnvAsInt("BACKUP_RATE_LIMIT_WINDOW", 3600),

		// Features
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
	}

	// Build DSN
	c.DatabaseURL = fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)

	// The engine only ever works with absolute, cleaned storage roots.
	uploadDir, err := filepath.Abs(c.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload directory: %w", err)
	}
	c.UploadDir = uploadDir

	backupDir, err := filepath.Abs(c.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backup directory: %w", err)
	}
	c.BackupDir = backupDir

	c.HLSDir = filepath.Join(c.UploadDir, "hls")

	return c, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return valueStr == "true" || valueStr == "1"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
