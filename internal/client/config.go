package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the environment variable prefix for the client
const EnvPrefix = "ES_CLIENT"

// Config holds client settings. Every field can be set from ES_CLIENT_*.
type Config struct {
	ServerURL          string        `envconfig:"SERVER_URL" default:"http://localhost:5000"`
	ConfigDir          string        `envconfig:"CONFIG_DIR"`
	Email              string        `envconfig:"EMAIL"`
	VerifyTimeout      time.Duration `envconfig:"VERIFY_TIMEOUT" default:"10s"`
	EligibilityTimeout time.Duration `envconfig:"ELIGIBILITY_TIMEOUT" default:"5s"`
	MaxRetries         uint64        `envconfig:"MAX_RETRIES" default:"2"`
}

// LoadConfig reads the client configuration from the environment
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load client config from env: %w", err)
	}
	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	if cfg.ServerURL == "" {
		return Config{}, fmt.Errorf("%s_SERVER_URL must not be empty", EnvPrefix)
	}
	if cfg.ConfigDir == "" {
		dir, err := DefaultConfigDir()
		if err != nil {
			return Config{}, err
		}
		cfg.ConfigDir = dir
	}
	return cfg, nil
}
