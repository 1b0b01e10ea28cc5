package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App struct {
		Name string `envconfig:"APP_NAME" default:"Paygate"`
		Port int    `envconfig:"PORT" default:"8080"`
	}

	DB struct {
		Host     string `envconfig:"DB_HOST" default:"localhost"`
		Port     int    `envconfig:"DB_PORT" default:"5432"`
		User     string `envconfig:"DB_USER" default:"postgres"`
		Password string `envconfig:"DB_PASSWORD" default:""`
		Name     string `envconfig:"DB_NAME" default:"paygate"`
	}

	Server struct {
		Timeout time.Duration `envconfig:"SERVER_TIMEOUT" default:"30s"`
	}

	Gateway struct {
		// OAuth client-credentials grant. When unset the client falls
		// back to SecretKey bearer auth.
		ClientID     string `envconfig:"GATEWAY_CLIENT_ID"`
		ClientSecret string `envconfig:"GATEWAY_CLIENT_SECRET"`
		IdentityURL  string `envconfig:"GATEWAY_IDENTITY_URL" default:"https://idp.flutterwave.com/realms/flutterwave/protocol/openid-connect/token"`

		SecretKey     string `envconfig:"GATEWAY_SECRET_KEY"`
		EncryptionKey string `envconfig:"GATEWAY_ENCRYPTION_KEY"` // base64-encoded AES-256 key
		WebhookSecret string `envconfig:"GATEWAY_WEBHOOK_SECRET"`

		APIVersion  string `envconfig:"GATEWAY_API_VERSION" default:"2024-01-01"`
		Environment string `envconfig:"GATEWAY_ENVIRONMENT" default:"sandbox"`
	}

	Payment struct {
		PendingWindow time.Duration `envconfig:"PAYMENT_PENDING_WINDOW" default:"30m"`
		SweepInterval time.Duration `envconfig:"PAYMENT_SWEEP_INTERVAL" default:"1m"`
	}
}

func (c *Config) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name)
}

// Production reports whether the service targets the live gateway.
func (c *Config) Production() bool {
	return c.Gateway.Environment == "production"
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}
