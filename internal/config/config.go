package config

import (
	"fmt"
	"net/url"

	"github.com/caarlos0/env/v11"
)

// Config carries everything the sync daemon needs. ArchiveDSN and
// AmqpUrl are optional: without them the daemon runs without the
// write-behind archive and without operator top-up notices.
type Config struct {
	UserId           int      `env:"PARTYSYNC_USER_ID"`
	SocketUrl        string   `env:"PARTYSYNC_SOCKET_URL"`
	ApiAddr          string   `env:"PARTYSYNC_API_ADDR" envDefault:"localhost:8600"`
	AllowedOrigins   []string `env:"PARTYSYNC_ALLOWED_ORIGINS" envSeparator:","`
	ArchiveDSN       string   `env:"PARTYSYNC_ARCHIVE_DSN"`
	AmqpUrl          string   `env:"PARTYSYNC_AMQP_URL"`
	UploadUrl        string   `env:"PARTYSYNC_UPLOAD_URL"`
	CardGatewayUrl   string   `env:"PARTYSYNC_CARD_GATEWAY_URL"`
	CryptoGatewayUrl string   `env:"PARTYSYNC_CRYPTO_GATEWAY_URL"`
}

func NewConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.UserId <= 0 {
		return fmt.Errorf("user id must be positive")
	}
	if c.SocketUrl == "" {
		return fmt.Errorf("socket url cannot be empty")
	}

	u, err := url.Parse(c.SocketUrl)
	if err != nil {
		return fmt.Errorf("parse socket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("socket url scheme must be ws or wss, got %q", u.Scheme)
	}

	if c.ApiAddr == "" {
		return fmt.Errorf("api address cannot be empty")
	}
	return nil
}
