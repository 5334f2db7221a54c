package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort   string
	AdminToken   string
	DashboardURL string

	// Scrape
	ScrapeTimeout       time.Duration
	ScrapeMaxConcurrent int
	ScrapeInterval      time.Duration
	ScrapeRatePerMinute int
	ChromePath          string
	ScrapeUserAgent     string
	FeedMaxSize         int64

	// Dispatch
	DispatchMaxConcurrent int
	EmailTimeout          time.Duration
	AlertDefaultTTL       time.Duration

	// Digest / Lifecycle
	DigestWindow      time.Duration
	DigestInterval    time.Duration
	LifecycleInterval time.Duration

	// Mail
	MailFrom        string
	MailFromName    string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPImplicitTLS bool

	// Job lock
	RedisURL   string
	JobLockTTL time.Duration

	// Rate Limit
	RateLimitAPI int

	// Logging
	LogLevel string
}

// Load はカレントディレクトリの.envを読み込んだうえで、環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	return LoadWithEnvFile(".env")
}

// LoadWithEnvFile は指定した.envファイルを読み込んでからConfigを読み込む。
// ファイルが存在しない場合は無視する。既に設定済みの環境変数は.envで上書きしない。
func LoadWithEnvFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.MailFrom = os.Getenv("MAIL_FROM")
	if cfg.MailFrom == "" {
		missing = append(missing, "MAIL_FROM")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.AdminToken = getEnvString("ADMIN_TOKEN", "")
	cfg.DashboardURL = getEnvString("DASHBOARD_URL", "")
	cfg.ScrapeTimeout = getEnvDuration("SCRAPE_TIMEOUT", 45*time.Second)
	cfg.ScrapeMaxConcurrent = getEnvInt("SCRAPE_MAX_CONCURRENT", 3)
	cfg.ScrapeInterval = getEnvDuration("SCRAPE_INTERVAL", 6*time.Hour)
	cfg.ScrapeRatePerMinute = getEnvInt("SCRAPE_RATE_PER_MINUTE", 30)
	cfg.ChromePath = getEnvString("CHROME_PATH", "")
	cfg.ScrapeUserAgent = getEnvString("SCRAPE_USER_AGENT", "")
	cfg.FeedMaxSize = getEnvInt64("FEED_MAX_SIZE", 5242880)
	cfg.DispatchMaxConcurrent = getEnvInt("DISPATCH_MAX_CONCURRENT", 8)
	cfg.EmailTimeout = getEnvDuration("EMAIL_TIMEOUT", 15*time.Second)
	cfg.AlertDefaultTTL = getEnvDuration("ALERT_DEFAULT_TTL", 90*24*time.Hour)
	cfg.DigestWindow = getEnvDuration("DIGEST_WINDOW", 24*time.Hour)
	cfg.DigestInterval = getEnvDuration("DIGEST_INTERVAL", 24*time.Hour)
	cfg.LifecycleInterval = getEnvDuration("LIFECYCLE_INTERVAL", time.Hour)
	cfg.MailFromName = getEnvString("MAIL_FROM_NAME", "Regwatch")
	cfg.SMTPHost = getEnvString("SMTP_HOST", "localhost")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.SMTPImplicitTLS = getEnvBool("SMTP_IMPLICIT_TLS", cfg.SMTPPort == 465)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.JobLockTTL = getEnvDuration("JOB_LOCK_TTL", 30*time.Minute)
	cfg.RateLimitAPI = getEnvInt("RATE_LIMIT_API", 60)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))

	return cfg, nil
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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
