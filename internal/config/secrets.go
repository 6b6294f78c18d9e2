package config

import "slices"

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log: every secret
// that is set reads "***" and slices are cloned.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	for _, s := range out.secrets() {
		if *s != "" {
			*s = redacted
		}
	}
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Peers = slices.Clone(cfg.Peers)
	return out
}

// secrets points at every sensitive field of c.
func (c *Config) secrets() []*string {
	return []*string{
		&c.Identity.PrivateKey,
		&c.Identity.KeyPassword,
		&c.Network.Secret,
		&c.Postgres.DSN,
		&c.Postgres.Password,
		&c.Redis.Password,
		&c.S3.AccessKey,
		&c.S3.SecretKey,
		&c.Server.APIKey,
		&c.Notify.TelegramToken,
		&c.Notify.DiscordWebhookURL,
	}
}
