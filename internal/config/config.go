package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // distrolessイメージにはzoneinfoがない
)

// キューのバックエンド
const (
	QueueBackendPostgres = "postgres"
	QueueBackendRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	JWTSecret string
	JWTTTL    time.Duration

	// Server
	ServerPort string
	BaseURL    string
	LogLevel   string
	Timezone   string
	Location   *time.Location

	// Queue
	QueueBackend     string
	RedisURL         string
	JobPollInterval  time.Duration
	JobMaxConcurrent int
	JobMaxAttempts   int
	JobRetentionDays int
	JobStaleAfter    time.Duration

	// Mail
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	MailFrom     string

	// Upload
	UploadDir       string
	UploadMaxBytes  int64
	BannerMaxWidth  int
	BannerMaxHeight int
	BannerMaxPixels int

	// Rate Limit（req/min）
	RateLimitGeneral   int
	RateLimitSubscribe int

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.Timezone = getEnvString("APP_TIMEZONE", "UTC")
	cfg.JWTTTL = getEnvDuration("JWT_TTL", 168*time.Hour)

	cfg.QueueBackend = getEnvString("QUEUE_BACKEND", QueueBackendPostgres)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.JobPollInterval = getEnvDuration("JOB_POLL_INTERVAL", 2*time.Second)
	cfg.JobMaxConcurrent = getEnvInt("JOB_MAX_CONCURRENT", 4)
	cfg.JobMaxAttempts = getEnvInt("JOB_MAX_ATTEMPTS", 5)
	cfg.JobRetentionDays = getEnvInt("JOB_RETENTION_DAYS", 7)
	cfg.JobStaleAfter = getEnvDuration("JOB_STALE_AFTER", 10*time.Minute)

	cfg.SMTPHost = getEnvString("SMTP_HOST", "")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUser = getEnvString("SMTP_USER", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.MailFrom = getEnvString("MAIL_FROM", "")

	cfg.UploadDir = getEnvString("UPLOAD_DIR", "./tmp/uploads")
	cfg.UploadMaxBytes = getEnvInt64("UPLOAD_MAX_BYTES", 5242880)
	cfg.BannerMaxWidth = getEnvInt("BANNER_MAX_WIDTH", 1280)
	cfg.BannerMaxHeight = getEnvInt("BANNER_MAX_HEIGHT", 720)
	cfg.BannerMaxPixels = getEnvInt("BANNER_MAX_PIXELS", 40000000)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSubscribe = getEnvInt("RATE_LIMIT_SUBSCRIBE", 20)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	switch cfg.QueueBackend {
	case QueueBackendPostgres:
	case QueueBackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when QUEUE_BACKEND=%s", QueueBackendRedis)
		}
	default:
		return nil, fmt.Errorf("unsupported QUEUE_BACKEND %q (postgres or redis)", cfg.QueueBackend)
	}

	return cfg, nil
}

// SMTPEnabled はSMTP送信の設定があるかを返す。
// 未設定の場合、ワーカーはメールをログに出力する。
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.MailFrom != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
