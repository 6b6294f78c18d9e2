package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "node"
log_level = "debug"

[node]
name = "Alice"

[identity]
private_key = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

[notary]
address = "0x00000000000000000000000000000000000000aa"
url = "ws://notary:8000/p2p"

[[peers]]
name = "Bob"
address = "0x00000000000000000000000000000000000000bb"
url = "ws://bob:8000/p2p"

[network]
secret = "0123456789abcdef0123"

[flow]
session_timeout = "5s"
cash_lock_ttl = "1m"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "iounode.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "Alice", cfg.Node.Name)
	assert.Equal(t, "party", cfg.Node.Role)
	assert.Equal(t, 5*time.Second, cfg.SessionTimeout())
	assert.Equal(t, 30*time.Second, cfg.NotaryTimeout(), "default kept")
	assert.Equal(t, time.Minute, cfg.CashLockTTL())
	require.Len(t, cfg.Peers, 1)
	assert.Equal(t, "Bob", cfg.Peers[0].Name)
	assert.Equal(t, "memory", cfg.Vault.Backend)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("IOUNODE_NODE_NAME", "Charlie")
	t.Setenv("IOUNODE_FLOW_NOTARY_TIMEOUT", "3s")
	t.Setenv("IOUNODE_NOTIFY_EVENTS", "iou_settled, flow_aborted,")
	t.Setenv("IOUNODE_REDIS_ENABLED", "true")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	assert.Equal(t, "Charlie", cfg.Node.Name)
	assert.Equal(t, 3*time.Second, cfg.NotaryTimeout())
	assert.Equal(t, []string{"iou_settled", "flow_aborted"}, cfg.Notify.Events)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("IOUNODE_MODE", "sandbox")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestLoadBadFile(t *testing.T) {
	_, err := Load(writeConfig(t, "mode = "))
	assert.Error(t, err)
}

func TestValidateNode(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no key", func(c *Config) { c.Identity.PrivateKey = "" }, "either private_key or key_file"},
		{"two keys", func(c *Config) { c.Identity.KeyFile = "/k.json" }, "mutually exclusive"},
		{"bad notary", func(c *Config) { c.Notary.Address = "notary" }, "not a hex address"},
		{"short secret", func(c *Config) { c.Network.Secret = "x" }, "at least 16"},
		{"bad role", func(c *Config) { c.Node.Role = "observer" }, "role must be party or notary"},
		{"bad backend", func(c *Config) { c.Vault.Backend = "sqlite" }, "backend must be memory or postgres"},
		{"dup peer", func(c *Config) { c.Peers = append(c.Peers, c.Peers[0]) }, "duplicate address"},
		{"redis uniqueness", func(c *Config) {
			c.Node.Role = "notary"
			c.Notary.Uniqueness = "redis"
		}, "requires redis.enabled"},
		{"half telegram", func(c *Config) { c.Notify.TelegramToken = "t" }, "set together"},
		{"zero timeout", func(c *Config) { c.Flow.SessionTimeout.Duration = 0 }, "session_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, sampleTOML))
			require.NoError(t, err)
			tc.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateKeygen(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "keygen"
	assert.ErrorContains(t, cfg.Validate(), "key_file is required")

	cfg.Identity.KeyFile = "/tmp/key.json"
	cfg.Identity.KeyPassword = "pw"
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(cfg)
	assert.Equal(t, redacted, out.Identity.PrivateKey)
	assert.Equal(t, redacted, out.Network.Secret)
	assert.Equal(t, redacted, out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Identity.KeyPassword, "empty values stay empty")
	assert.NotEqual(t, redacted, cfg.Identity.PrivateKey)

	out.Peers[0].Name = "Mallory"
	assert.Equal(t, "Bob", cfg.Peers[0].Name)
}
