// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the campus mail server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 10 MiB.
const defaultMaxMessageSize = 10 << 20

// Provider names.
const (
	ProviderNone   = ""
	ProviderSES    = "ses"
	ProviderGraph  = "graph"
	ProviderRelay  = "relay"
	ProviderStdout = "stdout"
)

// Storage backends.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"

	BackendFS = "fs"
	BackendS3 = "s3"
)

// Config holds the complete application configuration.
type Config struct {
	SMTP        SMTPConfig       `yaml:"smtp"`
	Mail        MailConfig       `yaml:"mail"`
	Dispatch    DispatchConfig   `yaml:"dispatch"`
	Database    DatabaseConfig   `yaml:"database"`
	Provider    string           `yaml:"provider"`
	SES         SESConfig        `yaml:"ses"`
	Graph       GraphConfig      `yaml:"graph"`
	Relay       RelayConfig      `yaml:"relay"`
	Attachments AttachmentConfig `yaml:"attachments"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Logging     LoggingConfig    `yaml:"logging"`
}

// SMTPConfig holds inbound SMTP server configuration.
type SMTPConfig struct {
	Listen         string        `yaml:"listen"`
	Hostname       string        `yaml:"hostname"`
	Workers        int64         `yaml:"workers"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

// MailConfig holds delivery settings.
type MailConfig struct {
	// InternalDomain is the address suffix delivered locally.
	InternalDomain string `yaml:"internal_domain"`
	// RelayInbound hands external envelope recipients of inbound SMTP mail
	// to the outbound provider.
	RelayInbound bool `yaml:"relay_inbound"`
}

// DispatchConfig holds scheduled-mail poller settings.
type DispatchConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// DatabaseConfig selects the message store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// RelayConfig is the fallback SMTP relay for accounts without their own.
type RelayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AttachmentConfig selects where attachment content is kept.
type AttachmentConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`

	S3Bucket          string `yaml:"s3_bucket"`
	S3Region          string `yaml:"s3_region"`
	S3Prefix          string `yaml:"s3_prefix"`
	S3Endpoint        string `yaml:"s3_endpoint"`
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`
}

// TelemetryConfig toggles OpenTelemetry instrumentation.
type TelemetryConfig struct {
	Metrics bool `yaml:"metrics"`
	Tracing bool `yaml:"tracing"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, cfg.Validate()
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, cfg.Validate()
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider {
	case ProviderNone, ProviderStdout, ProviderRelay:
	case ProviderSES:
		if c.SES.Region == "" {
			errs = append(errs, errors.New("ses.region is required for the ses provider"))
		}
	case ProviderGraph:
		if !c.GraphConfigured() {
			errs = append(errs, errors.New("graph tenant_id, client_id, client_secret and sender are required for the graph provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}

	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}

	switch c.Attachments.Backend {
	case BackendFS:
		if c.Attachments.Dir == "" {
			errs = append(errs, errors.New("attachments.dir is required for the fs backend"))
		}
	case BackendS3:
		if c.Attachments.S3Bucket == "" {
			errs = append(errs, errors.New("attachments.s3_bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown attachments backend %q", c.Attachments.Backend))
	}

	if c.SMTP.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("smtp.max_message_size must be positive"))
	}
	if c.Dispatch.Interval <= 0 {
		errs = append(errs, errors.New("dispatch.interval must be positive"))
	}
	if c.Dispatch.BatchSize <= 0 {
		errs = append(errs, errors.New("dispatch.batch_size must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Listen = ":25"
	c.SMTP.Hostname = "localhost"
	c.SMTP.Workers = 10
	c.SMTP.IdleTimeout = time.Minute
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.SMTP.ShutdownGrace = 30 * time.Second
	c.Mail.InternalDomain = "@campus.mail"
	c.Dispatch.Interval = time.Minute
	c.Dispatch.BatchSize = 50
	c.Database.Driver = DriverMemory
	c.Relay.Port = 25
	c.Attachments.Backend = BackendFS
	c.Attachments.Dir = "data/attachments"
	c.Attachments.S3Prefix = "attachments"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	setString(&c.SMTP.Listen, "SMTP_LISTEN")
	setString(&c.SMTP.Hostname, "SMTP_HOSTNAME")
	setInt64(&c.SMTP.Workers, "SMTP_WORKERS")
	setDuration(&c.SMTP.IdleTimeout, "SMTP_IDLE_TIMEOUT")
	setInt64(&c.SMTP.MaxMessageSize, "SMTP_MAX_MESSAGE_SIZE")
	setDuration(&c.SMTP.ShutdownGrace, "SMTP_SHUTDOWN_GRACE")

	setString(&c.Mail.InternalDomain, "MAIL_INTERNAL_DOMAIN")
	setBool(&c.Mail.RelayInbound, "MAIL_RELAY_INBOUND")

	setDuration(&c.Dispatch.Interval, "DISPATCH_INTERVAL")
	setInt(&c.Dispatch.BatchSize, "DISPATCH_BATCH_SIZE")

	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		c.Database.Driver = strings.ToLower(v)
	}
	setString(&c.Database.DSN, "DATABASE_DSN")

	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	setString(&c.SES.Sender, "SES_SENDER")

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")
	setString(&c.Graph.Sender, "GRAPH_SENDER")

	setString(&c.Relay.Host, "RELAY_HOST")
	setInt(&c.Relay.Port, "RELAY_PORT")

	if v := os.Getenv("ATTACHMENTS_BACKEND"); v != "" {
		c.Attachments.Backend = strings.ToLower(v)
	}
	setString(&c.Attachments.Dir, "ATTACHMENTS_DIR")
	setString(&c.Attachments.S3Bucket, "ATTACHMENTS_S3_BUCKET")
	setString(&c.Attachments.S3Region, "ATTACHMENTS_S3_REGION")
	setString(&c.Attachments.S3Prefix, "ATTACHMENTS_S3_PREFIX")
	setString(&c.Attachments.S3Endpoint, "ATTACHMENTS_S3_ENDPOINT")
	setString(&c.Attachments.S3AccessKeyID, "ATTACHMENTS_S3_ACCESS_KEY_ID")
	setString(&c.Attachments.S3SecretAccessKey, "ATTACHMENTS_S3_SECRET_ACCESS_KEY")

	setBool(&c.Telemetry.Metrics, "TELEMETRY_METRICS")
	setBool(&c.Telemetry.Tracing, "TELEMETRY_TRACING")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func setString(dst *string, key string) {
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
