// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/eggtrack and cmd/eggctl.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Snapshot decision constants
// --------------------------------------------------------------------------

// Defaults for the snapshot decision engine. All are overridable through
// environment variables so staging can run with tighter windows.
const (
	DefaultSyncWindowHours          = 65.0 / 60.0 // ~1h05m recency window
	DefaultCooldownHours            = 1.5
	DefaultPartialSyncThreshold     = 99.0 // percent
	DefaultPartialSyncRetries       = 2
	DefaultCronIntervalMinutes      = 15
	DefaultPendingSyncStaleHours    = 2.0
	DefaultAlertThresholdDays       = 7
	DefaultAlertCooldownHours       = 2.0
	DefaultCacheDurationMinutes     = 15
	DefaultUpstreamTimeoutSeconds   = 30
	DefaultSessionTokenLifetimeDays = 7
)

// --------------------------------------------------------------------------
// Table names — single source of truth, matches schema.sql
// --------------------------------------------------------------------------

const (
	SnapshotsTable     = "player_snapshots"
	SnapshotMetaTable  = "snapshot_metadata"
	EggDayGainsTable   = "eggday_gains"
	CacheTable         = "leaderboard_cache"
	CacheMetaTable     = "leaderboard_cache_metadata"
	ExclusionsTable    = "excluded_players"
	SaveMetaTable      = "snapshot_save_metadata"
	EmailLogTable      = "email_log"
	DeletionAuditTable = "snapshot_deletions"
)

// --------------------------------------------------------------------------
// Config struct — populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Upstream (Wonky player feed)
	UpstreamURL     string
	UpstreamTimeout time.Duration

	// Snapshot decision engine
	SyncWindowHours       float64
	CooldownHours         float64
	PartialSyncThreshold  float64
	PartialSyncRetries    int
	CronInterval          time.Duration
	PendingSyncStaleHours float64
	AlertThresholdDays    int
	AlertCooldownHours    float64
	SchedulerEnabled      bool

	// Cache freshness contract for read endpoints
	CacheDuration time.Duration

	// Discord identity provider
	DiscordClientID     string
	DiscordClientSecret string
	GuildID             string
	MajRoleID           string
	YCRoleID            string
	AdminRoleID         string // "wonky leader" role

	// Session tokens
	SupabaseURL          string // used for the token issuer claim
	JWTSecret            string
	SessionTokenLifetime time.Duration

	// Operator secret for external tooling (update-player-data, delete-snapshot)
	SecretToken string

	// Service role key accepted on internal calls
	ServiceRoleKey string

	// Notifications (Resend)
	ResendAPIKey      string
	NotificationEmail string
	EmailFrom         string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", envOr("SUPABASE_DB_URL", ""))
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL or SUPABASE_DB_URL must be set")
	}

	jwtSecret := envOr("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}

	return &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		UpstreamURL:     envOr("WONKY_ENDPOINT_URL", ""),
		UpstreamTimeout: time.Duration(envInt("UPSTREAM_TIMEOUT_SECONDS", DefaultUpstreamTimeoutSeconds)) * time.Second,

		SyncWindowHours:       envFloat("SYNC_WINDOW_HOURS", DefaultSyncWindowHours),
		CooldownHours:         envFloat("COOLDOWN_HOURS", DefaultCooldownHours),
		PartialSyncThreshold:  envFloat("PARTIAL_SYNC_THRESHOLD", DefaultPartialSyncThreshold),
		PartialSyncRetries:    envInt("PARTIAL_SYNC_RETRY_ATTEMPTS", DefaultPartialSyncRetries),
		CronInterval:          time.Duration(envInt("CRON_INTERVAL_MINUTES", DefaultCronIntervalMinutes)) * time.Minute,
		PendingSyncStaleHours: envFloat("PENDING_SYNC_STALE_HOURS", DefaultPendingSyncStaleHours),
		AlertThresholdDays:    envInt("ALERT_THRESHOLD_DAYS", DefaultAlertThresholdDays),
		AlertCooldownHours:    envFloat("ALERT_COOLDOWN_HOURS", DefaultAlertCooldownHours),
		SchedulerEnabled:      envBool("SCHEDULER_ENABLED", true),

		CacheDuration: time.Duration(envInt("CACHE_DURATION_MINUTES", DefaultCacheDurationMinutes)) * time.Minute,

		DiscordClientID:     envOr("DISCORD_CLIENT_ID", ""),
		DiscordClientSecret: envOr("DISCORD_CLIENT_SECRET", ""),
		GuildID:             envOr("EGGINC_GUILD", ""),
		MajRoleID:           envOr("EGGINC_MAJ_ROLE", ""),
		YCRoleID:            envOr("EGGINC_YC_ROLE", ""),
		AdminRoleID:         envOr("EGGINC_WONKY_LEADER_ROLE", ""),

		SupabaseURL:          envOr("SUPABASE_URL", ""),
		JWTSecret:            jwtSecret,
		SessionTokenLifetime: time.Duration(envInt("SESSION_TOKEN_LIFETIME_DAYS", DefaultSessionTokenLifetimeDays)) * 24 * time.Hour,

		SecretToken:    envOr("SECRET_TOKEN", ""),
		ServiceRoleKey: envOr("SUPABASE_SERVICE_ROLE_KEY", ""),

		ResendAPIKey:      envOr("RESEND_API_KEY", ""),
		NotificationEmail: envOr("NOTIFICATION_EMAIL", ""),
		EmailFrom:         envOr("EMAIL_FROM", "Eggtrack <alerts@eggtrack.dev>"),
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
