package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the environment variable prefix for the server
const EnvPrefix = "ES"

// PlaceholderSecret is the documented value shipped in sample configs.
// A webhook secret equal to it is treated as unset.
const PlaceholderSecret = "change-me-secret-key-here"

// Store drivers
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	SMTP      SMTPConfig      `yaml:"smtp" envconfig:"SMTP"`
	Payments  PaymentsConfig  `yaml:"payments" envconfig:"PAYMENTS"`
	Reports   ReportsConfig   `yaml:"reports" envconfig:"REPORTS"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Events    EventsConfig    `yaml:"events" envconfig:"EVENTS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST" default:"0.0.0.0"`
	Port            int           `yaml:"port" envconfig:"PORT" default:"5000"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SecurityConfig contains shared secrets and request limits
type SecurityConfig struct {
	WebhookSecret  string               `yaml:"webhook_secret" envconfig:"WEBHOOK_SECRET"`
	AdminSecret    string               `yaml:"admin_secret" envconfig:"ADMIN_SECRET"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	AdminRateLimit AdminRateLimitConfig `yaml:"admin_rate_limit" envconfig:"ADMIN_RATE_LIMIT"`
}

// WebhookVerificationEnabled reports whether webhook signatures are checked
func (s SecurityConfig) WebhookVerificationEnabled() bool {
	return s.WebhookSecret != "" && s.WebhookSecret != PlaceholderSecret
}

// RateLimitConfig contains global rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// AdminRateLimitConfig limits admin requests per client IP
type AdminRateLimitConfig struct {
	Requests int           `yaml:"requests" envconfig:"REQUESTS" default:"30"`
	Window   time.Duration `yaml:"window" envconfig:"WINDOW" default:"1m"`
}

// StoreConfig selects and configures the license store backend
type StoreConfig struct {
	Driver          string         `yaml:"driver" envconfig:"DRIVER" default:"file"`
	DataDir         string         `yaml:"data_dir" envconfig:"DATA_DIR" default:"data"`
	FileName        string         `yaml:"file_name" envconfig:"FILE_NAME" default:"license_db.json"`
	BackupRetention int            `yaml:"backup_retention" envconfig:"BACKUP_RETENTION" default:"50"`
	LockTimeout     time.Duration  `yaml:"lock_timeout" envconfig:"LOCK_TIMEOUT" default:"5s"`
	Postgres        PostgresConfig `yaml:"postgres" envconfig:"POSTGRES"`
	Mongo           MongoConfig    `yaml:"mongo" envconfig:"MONGO"`
}

// FilePath returns the path of the JSON store file
func (s StoreConfig) FilePath() string {
	return filepath.Join(s.DataDir, s.FileName)
}

// PostgresConfig configures the pgx backend
type PostgresConfig struct {
	DSN   string `yaml:"dsn" envconfig:"DSN"`
	Table string `yaml:"table" envconfig:"TABLE" default:"licenses"`
}

// MongoConfig configures the MongoDB backend
type MongoConfig struct {
	URI        string `yaml:"uri" envconfig:"URI"`
	Database   string `yaml:"database" envconfig:"DATABASE" default:"examshield"`
	Collection string `yaml:"collection" envconfig:"COLLECTION" default:"licenses"`
}

// SMTPConfig configures outbound license emails
type SMTPConfig struct {
	Enabled  bool          `yaml:"enabled" envconfig:"ENABLED" default:"false"`
	Host     string        `yaml:"host" envconfig:"HOST" default:"localhost"`
	Port     int           `yaml:"port" envconfig:"PORT" default:"587"`
	Username string        `yaml:"username" envconfig:"USERNAME"`
	Password string        `yaml:"password" envconfig:"PASSWORD"`
	From     string        `yaml:"from" envconfig:"FROM" default:"ExamShield <noreply@examshield.local>"`
	Hello    string        `yaml:"hello" envconfig:"HELLO" default:"localhost"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"10s"`
}

// PaymentsConfig configures payment providers and public URLs
type PaymentsConfig struct {
	PublicBaseURL     string `yaml:"public_base_url" envconfig:"PUBLIC_BASE_URL" default:"http://localhost:5000"`
	RazorpayKeyID     string `yaml:"razorpay_key_id" envconfig:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret string `yaml:"razorpay_key_secret" envconfig:"RAZORPAY_KEY_SECRET"`
}

// RazorpayEnabled reports whether Razorpay credentials are configured
func (p PaymentsConfig) RazorpayEnabled() bool {
	return p.RazorpayKeyID != "" && p.RazorpayKeySecret != ""
}

// ReportsConfig controls the public reports endpoint
type ReportsConfig struct {
	PublicEnabled bool `yaml:"public_enabled" envconfig:"PUBLIC_ENABLED" default:"true"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format     string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output     string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath   string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/license-server.log"`
	MaxSizeMB  int    `yaml:"max_size_mb" envconfig:"MAX_SIZE_MB" default:"100"`
	MaxBackups int    `yaml:"max_backups" envconfig:"MAX_BACKUPS" default:"5"`
	MaxAgeDays int    `yaml:"max_age_days" envconfig:"MAX_AGE_DAYS" default:"30"`
	Compress   bool   `yaml:"compress" envconfig:"COMPRESS" default:"true"`
}

// TelemetryConfig controls tracing and metrics
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME" default:"examshield-license-server"`
	Environment    string `yaml:"environment" envconfig:"ENVIRONMENT" default:"development"`
	TraceExporter  string `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" default:"none"`
	MetricsEnabled bool   `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED" default:"true"`
}

// EventsConfig contains admin event websocket configuration
type EventsConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE" default:"1024"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE" default:"1024"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT" default:"60s"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile := getConfigFilePath(); configFile != "" {
		if err := overlayFile(&cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// overlayFile unmarshals a YAML file on top of cfg. Keys missing from the
// file leave the existing values untouched.
func overlayFile(cfg *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", filePath, err)
	}
	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server max body bytes must be positive")
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case DriverFile:
		if c.Store.DataDir == "" || c.Store.FileName == "" {
			return fmt.Errorf("file store requires data_dir and file_name")
		}
	case DriverPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("postgres store requires a dsn")
		}
	case DriverMongo:
		if c.Store.Mongo.URI == "" {
			return fmt.Errorf("mongo store requires a uri")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Store.BackupRetention < 0 {
		return fmt.Errorf("backup retention must not be negative")
	}

	if c.Security.AdminRateLimit.Requests <= 0 || c.Security.AdminRateLimit.Window <= 0 {
		return fmt.Errorf("admin rate limit must be positive")
	}

	u, err := url.Parse(c.Payments.PublicBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid public base url %q", c.Payments.PublicBaseURL)
	}
	c.Payments.PublicBaseURL = strings.TrimRight(c.Payments.PublicBaseURL, "/")

	if c.SMTP.Enabled && c.SMTP.Host == "" {
		return fmt.Errorf("smtp enabled without a host")
	}

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		c.Logging.Output = "console"
	}

	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/license-server.log"
	}

	switch c.Telemetry.TraceExporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("unknown trace exporter %q", c.Telemetry.TraceExporter)
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG_FILE"); explicit != "" {
		return explicit
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
			AdminRateLimit: AdminRateLimitConfig{
				Requests: 30,
				Window:   time.Minute,
			},
		},
		Store: StoreConfig{
			Driver:          DriverFile,
			DataDir:         "data",
			FileName:        "license_db.json",
			BackupRetention: 50,
			LockTimeout:     5 * time.Second,
			Postgres:        PostgresConfig{Table: "licenses"},
			Mongo:           MongoConfig{Database: "examshield", Collection: "licenses"},
		},
		SMTP: SMTPConfig{
			Host:    "localhost",
			Port:    587,
			From:    "ExamShield <noreply@examshield.local>",
			Hello:   "localhost",
			Timeout: 10 * time.Second,
		},
		Payments: PaymentsConfig{
			PublicBaseURL: "http://localhost:5000",
		},
		Reports: ReportsConfig{
			PublicEnabled: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "console",
			FilePath:   "logs/license-server.log",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "examshield-license-server",
			Environment:    "development",
			TraceExporter:  "none",
			MetricsEnabled: true,
		},
		Events: EventsConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PongWait:        60 * time.Second,
		},
	}
}
