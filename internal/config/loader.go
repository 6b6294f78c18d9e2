package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies IOUNODE_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known IOUNODE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Node ──
	setStr(&cfg.Node.Name, "IOUNODE_NODE_NAME")
	setStr(&cfg.Node.Role, "IOUNODE_NODE_ROLE")
	setInt(&cfg.Node.MaxSessions, "IOUNODE_NODE_MAX_SESSIONS")

	// ── Identity ──
	setStr(&cfg.Identity.PrivateKey, "IOUNODE_IDENTITY_PRIVATE_KEY")
	setStr(&cfg.Identity.KeyFile, "IOUNODE_IDENTITY_KEY_FILE")
	setStr(&cfg.Identity.KeyPassword, "IOUNODE_IDENTITY_KEY_PASSWORD")

	// ── Notary ──
	setStr(&cfg.Notary.Name, "IOUNODE_NOTARY_NAME")
	setStr(&cfg.Notary.Address, "IOUNODE_NOTARY_ADDRESS")
	setStr(&cfg.Notary.URL, "IOUNODE_NOTARY_URL")
	setStr(&cfg.Notary.Uniqueness, "IOUNODE_NOTARY_UNIQUENESS")

	// ── Network ──
	setStr(&cfg.Network.Secret, "IOUNODE_NETWORK_SECRET")
	setDuration(&cfg.Network.MaxClockSkew, "IOUNODE_NETWORK_MAX_CLOCK_SKEW")

	// ── Flow ──
	setDuration(&cfg.Flow.SessionTimeout, "IOUNODE_FLOW_SESSION_TIMEOUT")
	setDuration(&cfg.Flow.NotaryTimeout, "IOUNODE_FLOW_NOTARY_TIMEOUT")
	setDuration(&cfg.Flow.CashLockTTL, "IOUNODE_FLOW_CASH_LOCK_TTL")

	// ── Vault ──
	setStr(&cfg.Vault.Backend, "IOUNODE_VAULT_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "IOUNODE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "IOUNODE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "IOUNODE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "IOUNODE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "IOUNODE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "IOUNODE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "IOUNODE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "IOUNODE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "IOUNODE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "IOUNODE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "IOUNODE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "IOUNODE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "IOUNODE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "IOUNODE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "IOUNODE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "IOUNODE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "IOUNODE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "IOUNODE_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "IOUNODE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "IOUNODE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "IOUNODE_S3_REGION")
	setStr(&cfg.S3.Bucket, "IOUNODE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "IOUNODE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "IOUNODE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "IOUNODE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "IOUNODE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "IOUNODE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "IOUNODE_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "IOUNODE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "IOUNODE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "IOUNODE_SERVER_RATE_LIMIT_WINDOW")
	setStringSlice(&cfg.Server.CORSOrigins, "IOUNODE_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "IOUNODE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "IOUNODE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "IOUNODE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.DiscordUsername, "IOUNODE_NOTIFY_DISCORD_USERNAME")
	setStringSlice(&cfg.Notify.Events, "IOUNODE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "IOUNODE_MODE")
	setStr(&cfg.LogLevel, "IOUNODE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
