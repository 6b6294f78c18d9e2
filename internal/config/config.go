// Package config defines the top-level configuration for an IOU ledger node
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by IOUNODE_* environment variables.
type Config struct {
	Node     NodeConfig     `toml:"node"`
	Identity IdentityConfig `toml:"identity"`
	Notary   NotaryConfig   `toml:"notary"`
	Peers    []PeerConfig   `toml:"peers"`
	Network  NetworkConfig  `toml:"network"`
	Flow     FlowConfig     `toml:"flow"`
	Vault    VaultConfig    `toml:"vault"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// NodeConfig names this node and the role it plays on the network.
type NodeConfig struct {
	Name string `toml:"name"`
	// Role is "party" or "notary".
	Role        string `toml:"role"`
	MaxSessions int    `toml:"max_sessions"`
}

// IdentityConfig holds the node's signing key source.
type IdentityConfig struct {
	PrivateKey  string `toml:"private_key"`
	KeyFile     string `toml:"key_file"`
	KeyPassword string `toml:"key_password"`
}

// NotaryConfig identifies the notary every transaction is assigned to.
type NotaryConfig struct {
	Name    string `toml:"name"`
	Address string `toml:"address"`
	URL     string `toml:"url"`
	// Uniqueness selects the spent-state store when this node is the notary:
	// "memory" or "redis".
	Uniqueness string `toml:"uniqueness"`
}

// PeerConfig is an entry in the node's address book.
type PeerConfig struct {
	Name    string `toml:"name"`
	Address string `toml:"address"`
	URL     string `toml:"url"`
}

// NetworkConfig holds the shared handshake credentials.
type NetworkConfig struct {
	Secret       string   `toml:"secret"`
	MaxClockSkew duration `toml:"max_clock_skew"`
}

// FlowConfig holds protocol timeouts.
type FlowConfig struct {
	SessionTimeout duration `toml:"session_timeout"`
	NotaryTimeout  duration `toml:"notary_timeout"`
	CashLockTTL    duration `toml:"cash_lock_ttl"`
}

// VaultConfig selects the vault backend: "memory" or "postgres".
type VaultConfig struct {
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for the transaction
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
	// APIKey guards the read-only API when set. The p2p endpoint is
	// authenticated by the handshake instead.
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
	CORSOrigins     []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Node: NodeConfig{
			Role:        "party",
			MaxSessions: 64,
		},
		Notary: NotaryConfig{
			Name:       "Notary",
			Uniqueness: "memory",
		},
		Network: NetworkConfig{
			MaxClockSkew: duration{30 * time.Second},
		},
		Flow: FlowConfig{
			SessionTimeout: duration{30 * time.Second},
			NotaryTimeout:  duration{30 * time.Second},
			CashLockTTL:    duration{2 * time.Minute},
		},
		Vault: VaultConfig{
			Backend: "memory",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "iouledger",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "iou:",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "iouledger-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			DiscordUsername: "iounode",
			Events:          []string{"iou_issued", "iou_transferred", "iou_settled", "flow_aborted"},
		},
		Mode:     "node",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"node":    true,
	"sandbox": true,
	"keygen":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// SessionTimeout is the per-exchange receive deadline.
func (c *Config) SessionTimeout() time.Duration { return c.Flow.SessionTimeout.Duration }

// NotaryTimeout bounds one notarisation round trip.
func (c *Config) NotaryTimeout() time.Duration { return c.Flow.NotaryTimeout.Duration }

// CashLockTTL is how long cash selected for a settlement stays reserved.
func (c *Config) CashLockTTL() time.Duration { return c.Flow.CashLockTTL.Duration }

// MaxClockSkew bounds handshake timestamp drift.
func (c *Config) MaxClockSkew() time.Duration { return c.Network.MaxClockSkew.Duration }

// RateLimitWindow is the window RateLimit requests are counted over.
func (c *Config) RateLimitWindow() time.Duration { return c.Server.RateLimitWindow.Duration }

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: node, sandbox, keygen)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Flow timeouts apply to every mode that runs protocols.
	if c.Flow.SessionTimeout.Duration <= 0 {
		errs = append(errs, "flow: session_timeout must be > 0")
	}
	if c.Flow.NotaryTimeout.Duration <= 0 {
		errs = append(errs, "flow: notary_timeout must be > 0")
	}
	if c.Flow.CashLockTTL.Duration <= 0 {
		errs = append(errs, "flow: cash_lock_ttl must be > 0")
	}

	// keygen only needs somewhere to write the key.
	if mode == "keygen" {
		if c.Identity.KeyFile == "" {
			errs = append(errs, "identity: key_file is required for mode keygen")
		}
		if c.Identity.KeyPassword == "" {
			errs = append(errs, "identity: key_password is required for mode keygen")
		}
	}

	if mode == "node" {
		errs = append(errs, c.validateNode()...)
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateNode() []string {
	var errs []string

	if strings.TrimSpace(c.Node.Name) == "" {
		errs = append(errs, "node: name must not be empty")
	}
	if c.Node.Role != "party" && c.Node.Role != "notary" {
		errs = append(errs, fmt.Sprintf("node: role must be party or notary, got %q", c.Node.Role))
	}

	// Identity: exactly one key source.
	hasRaw := c.Identity.PrivateKey != ""
	hasFile := c.Identity.KeyFile != ""
	switch {
	case !hasRaw && !hasFile:
		errs = append(errs, "identity: either private_key or key_file must be set")
	case hasRaw && hasFile:
		errs = append(errs, "identity: private_key and key_file are mutually exclusive")
	case hasFile && c.Identity.KeyPassword == "":
		errs = append(errs, "identity: key_password is required when key_file is set")
	}

	// Notary
	if c.Node.Role == "party" {
		if !common.IsHexAddress(c.Notary.Address) {
			errs = append(errs, fmt.Sprintf("notary: address %q is not a hex address", c.Notary.Address))
		}
		if c.Notary.URL == "" {
			errs = append(errs, "notary: url must not be empty")
		}
	}
	if c.Node.Role == "notary" && c.Notary.Uniqueness != "memory" && c.Notary.Uniqueness != "redis" {
		errs = append(errs, fmt.Sprintf("notary: uniqueness must be memory or redis, got %q", c.Notary.Uniqueness))
	}
	if c.Node.Role == "notary" && c.Notary.Uniqueness == "redis" && !c.Redis.Enabled {
		errs = append(errs, "notary: uniqueness redis requires redis.enabled")
	}

	// Peers
	seen := make(map[string]bool, len(c.Peers))
	for i, p := range c.Peers {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("peers[%d]: name must not be empty", i))
		}
		if !common.IsHexAddress(p.Address) {
			errs = append(errs, fmt.Sprintf("peers[%d]: address %q is not a hex address", i, p.Address))
		}
		if p.URL == "" {
			errs = append(errs, fmt.Sprintf("peers[%d]: url must not be empty", i))
		}
		key := strings.ToLower(p.Address)
		if seen[key] {
			errs = append(errs, fmt.Sprintf("peers[%d]: duplicate address %s", i, p.Address))
		}
		seen[key] = true
	}

	// Network
	if len(c.Network.Secret) < 16 {
		errs = append(errs, "network: secret must be at least 16 characters")
	}

	// Vault
	switch c.Vault.Backend {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("vault: backend must be memory or postgres, got %q", c.Vault.Backend))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Notify: Telegram needs both halves.
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	return errs
}
