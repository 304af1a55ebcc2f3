package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/mentorlink/internal/poll"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session
	SessionSecret string // ストリームトークンの署名鍵を兼ねる

	// Server
	ServerPort string
	BaseURL    string
	LogLevel   string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Internal API
	InternalAPIToken string // 空の場合、内部イベントの受信は全て401になる

	// Rate Limit（req/min/user）
	RateLimitGeneral int
	RateLimitVote    int

	// Live connections
	StreamTokenTTL     time.Duration
	StreamBufferSize   int
	StreamPingInterval time.Duration

	// Weekly poll
	PollTickInterval  time.Duration
	PollOpenWeekday   time.Weekday
	PollOpenHour      int
	PollVotingWindow  time.Duration
	PollLocation      *time.Location
	PollMaxOptions    int
	PollAnnounceBatch int

	// Cleanup
	CleanupInterval      time.Duration
	CleanupRetentionDays int
}

// PollSchedule は週次投票のスケジュールを返す。
func (c *Config) PollSchedule() poll.Schedule {
	return poll.Schedule{
		Weekday:  c.PollOpenWeekday,
		Hour:     c.PollOpenHour,
		Window:   c.PollVotingWindow,
		Location: c.PollLocation,
	}
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や、投票スケジュールの値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.InternalAPIToken = getEnvString("INTERNAL_API_TOKEN", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitVote = getEnvInt("RATE_LIMIT_VOTE", 10)
	cfg.StreamTokenTTL = getEnvDuration("STREAM_TOKEN_TTL", time.Minute)
	cfg.StreamBufferSize = getEnvInt("STREAM_BUFFER_SIZE", 64)
	cfg.StreamPingInterval = getEnvDuration("STREAM_PING_INTERVAL", 30*time.Second)
	cfg.PollTickInterval = getEnvDuration("POLL_TICK_INTERVAL", time.Minute)
	cfg.PollOpenHour = getEnvInt("POLL_OPEN_HOUR", 9)
	cfg.PollVotingWindow = getEnvDuration("POLL_VOTING_WINDOW", 72*time.Hour)
	cfg.PollMaxOptions = getEnvInt("POLL_MAX_OPTIONS", 5)
	cfg.PollAnnounceBatch = getEnvInt("POLL_ANNOUNCE_BATCH", 500)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.CleanupRetentionDays = getEnvInt("CLEANUP_RETENTION_DAYS", 30)

	// 投票スケジュールは誤った既定値で動くと結果に影響するため、不正値はエラーにする
	var errs []error

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL is invalid: %q", cfg.LogLevel))
	}

	weekday, err := poll.ParseWeekday(getEnvString("POLL_OPEN_WEEKDAY", "monday"))
	if err != nil {
		errs = append(errs, fmt.Errorf("POLL_OPEN_WEEKDAY: %w", err))
	}
	cfg.PollOpenWeekday = weekday

	loc, err := time.LoadLocation(getEnvString("POLL_TIMEZONE", "UTC"))
	if err != nil {
		errs = append(errs, fmt.Errorf("POLL_TIMEZONE: %w", err))
	}
	cfg.PollLocation = loc

	if cfg.PollOpenHour < 0 || cfg.PollOpenHour > 23 {
		errs = append(errs, fmt.Errorf("POLL_OPEN_HOUR must be between 0 and 23: %d", cfg.PollOpenHour))
	}
	if cfg.PollVotingWindow <= 0 || cfg.PollVotingWindow > 7*24*time.Hour {
		errs = append(errs, fmt.Errorf("POLL_VOTING_WINDOW must be within one week: %s", cfg.PollVotingWindow))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
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
