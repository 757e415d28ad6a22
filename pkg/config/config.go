// Package config provides configuration handling for devportal.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "DEVPORTAL_"

// Storage backends
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageDynamoDB = "dynamodb"
	StorageRedis    = "redis"
)

// Config represents the application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Gateway is the upstream API the portal fronts
	Gateway GatewayConfig `json:"gateway"`

	// Stream controls log stream reconnects
	Stream StreamConfig `json:"stream"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Auth configuration
	Auth AuthConfig `json:"auth"`

	// CRM integration backend
	CRM CRMConfig `json:"crm"`

	// Email delivery
	Email EmailConfig `json:"email"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Host to bind to
	Host string `json:"host"`

	// Port to listen on
	Port int `json:"port"`

	// TLS configuration
	TLS TLSConfig `json:"tls"`

	// AllowedOrigins for CORS; empty allows any origin
	AllowedOrigins []string `json:"allowed_origins"`

	// PublicURL is used in invitation links
	PublicURL string `json:"public_url"`
}

// TLSConfig contains TLS settings
type TLSConfig struct {
	// Enabled indicates whether TLS is enabled
	Enabled bool `json:"enabled"`

	// CertFile is the path to the certificate file
	CertFile string `json:"cert_file"`

	// KeyFile is the path to the key file
	KeyFile string `json:"key_file"`
}

// GatewayConfig points at the API gateway that issues keys and streams logs
type GatewayConfig struct {
	// APIBaseURL is the base URL of the public API
	APIBaseURL string `json:"api_base_url"`

	// ServiceToken authenticates the portal against the gateway
	ServiceToken string `json:"service_token"`

	// TimeoutSeconds bounds request/response calls
	TimeoutSeconds int `json:"timeout_seconds"`
}

// StreamConfig overrides the log stream reconnect policy
type StreamConfig struct {
	// BaseDelayMs is the first reconnect delay
	BaseDelayMs int `json:"base_delay_ms"`

	// MaxDelayMs caps a single reconnect delay
	MaxDelayMs int `json:"max_delay_ms"`

	// MaxAttempts is the reconnect budget
	MaxAttempts int `json:"max_attempts"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	// Type of storage to use
	Type string `json:"type"` // "memory", "file", "dynamodb", "postgres", "redis"

	// File configuration
	File FileConfig `json:"file"`

	// DynamoDB configuration
	DynamoDB DynamoDBConfig `json:"dynamodb"`

	// PostgreSQL configuration
	Postgres PostgresConfig `json:"postgres"`

	// Redis configuration
	Redis RedisConfig `json:"redis"`
}

// FileConfig contains JSON file storage settings
type FileConfig struct {
	// Path of the metadata file
	Path string `json:"path"`
}

// DynamoDBConfig contains DynamoDB settings
type DynamoDBConfig struct {
	// Region is the AWS region
	Region string `json:"region"`

	// Endpoint is the DynamoDB endpoint (for local development)
	Endpoint string `json:"endpoint"`

	// TablePrefix is the prefix for all tables
	TablePrefix string `json:"table_prefix"`
}

// PostgresConfig contains PostgreSQL settings
type PostgresConfig struct {
	// Host is the database host
	Host string `json:"host"`

	// Port is the database port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// User is the database user
	User string `json:"user"`

	// Password is the database password
	Password string `json:"password"`

	// SSLMode is the SSL mode
	SSLMode string `json:"ssl_mode"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	// Addr is host:port
	Addr string `json:"addr"`

	// Password for AUTH
	Password string `json:"password"`

	// DB index
	DB int `json:"db"`

	// KeyPrefix namespaces every key
	KeyPrefix string `json:"key_prefix"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	// JWTSecret is the secret for verifying JWT tokens
	JWTSecret string `json:"jwt_secret"`

	// TokenExpiration is the token expiration time in hours
	TokenExpiration int `json:"token_expiration"`

	// MaxFailedAttempts before a client is rate limited
	MaxFailedAttempts int `json:"max_failed_attempts"`
}

// CRMConfig configures the CRM integration backend
type CRMConfig struct {
	// BaseURL of the integration backend; defaults to the gateway URL
	BaseURL string `json:"base_url"`

	// TimeoutSeconds bounds each call
	TimeoutSeconds int `json:"timeout_seconds"`

	// MonitorSchedule is a cron spec for health checks; empty disables them
	MonitorSchedule string `json:"monitor_schedule"`
}

// EmailConfig contains SMTP settings
type EmailConfig struct {
	// SMTPHost is the mail server; empty disables sending
	SMTPHost string `json:"smtp_host"`

	// SMTPPort is the mail server port
	SMTPPort int `json:"smtp_port"`

	// Username for SMTP auth
	Username string `json:"username"`

	// Password for SMTP auth
	Password string `json:"password"`

	// From is the sender address
	From string `json:"from"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	// Level is the logging level
	Level string `json:"level"` // "debug", "info", "warn", "error"

	// Format is the log format
	Format string `json:"format"` // "json", "console"

	// Output is the log output
	Output string `json:"output"` // "stdout", "stderr", "file"

	// FilePath is the path to the log file
	FilePath string `json:"file_path"`
}

// ReconnectDelays returns the stream policy as durations
func (s StreamConfig) ReconnectDelays() (base, maxDelay time.Duration) {
	return time.Duration(s.BaseDelayMs) * time.Millisecond, time.Duration(s.MaxDelayMs) * time.Millisecond
}

// CRMBaseURL returns the CRM backend URL, falling back to the gateway
func (c *Config) CRMBaseURL() string {
	if c.CRM.BaseURL != "" {
		return c.CRM.BaseURL
	}
	return c.Gateway.APIBaseURL
}

// Addr returns host:port for the HTTP listener
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoadConfig loads the configuration from a file. Fields missing from the
// file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse the JSON
	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SearchPaths lists the locations Load looks at, in order
func SearchPaths() []string {
	paths := []string{
		"./config.json",
		"./configs/config.json",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".devportal", "config.json"))
	}
	return append(paths, "/etc/devportal/config.json")
}

// Load reads the first config file found in SearchPaths, or the defaults
// when none exists, then applies environment overrides and validates.
// An explicit path must exist.
func Load(path string) (*Config, error) {
	var config *Config
	if path != "" {
		cfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		config = cfg
	} else {
		for _, p := range SearchPaths() {
			if _, err := os.Stat(p); err != nil {
				continue
			}
			cfg, err := LoadConfig(p)
			if err != nil {
				return nil, err
			}
			config = cfg
			break
		}
	}
	if config == nil {
		config = DefaultConfig()
	}

	if err := ApplyEnvOverrides(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "localhost",
			Port:      8080,
			PublicURL: "http://localhost:8080",
			TLS: TLSConfig{
				Enabled: false,
			},
		},
		Gateway: GatewayConfig{
			APIBaseURL:     "http://localhost:8000",
			TimeoutSeconds: 30,
		},
		Stream: StreamConfig{
			BaseDelayMs: 1000,
			MaxDelayMs:  30000,
			MaxAttempts: 5,
		},
		Storage: StorageConfig{
			Type: StorageMemory,
			File: FileConfig{
				Path: "./data/devportal.json",
			},
			DynamoDB: DynamoDBConfig{
				Region:      "us-west-2",
				TablePrefix: "devportal_",
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "devportal",
				User:     "devportal",
				SSLMode:  "disable",
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "devportal:",
			},
		},
		Auth: AuthConfig{
			TokenExpiration:   24,
			MaxFailedAttempts: 5,
		},
		CRM: CRMConfig{
			TimeoutSeconds: 30,
		},
		Email: EmailConfig{
			SMTPPort: 587,
			From:     "no-reply@devportal.local",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// SaveConfig saves the configuration to a file
func SaveConfig(config *Config, path string) error {
	// Create the directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal the JSON
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write the file
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnvOverrides overrides config values from DEVPORTAL_* variables
func ApplyEnvOverrides(config *Config) error {
	strs := map[string]*string{
		"HOST":                 &config.Server.Host,
		"PUBLIC_URL":           &config.Server.PublicURL,
		"API_BASE_URL":         &config.Gateway.APIBaseURL,
		"GATEWAY_TOKEN":        &config.Gateway.ServiceToken,
		"STORAGE_TYPE":         &config.Storage.Type,
		"STORAGE_FILE":         &config.Storage.File.Path,
		"DYNAMODB_REGION":      &config.Storage.DynamoDB.Region,
		"DYNAMODB_ENDPOINT":    &config.Storage.DynamoDB.Endpoint,
		"DYNAMODB_PREFIX":      &config.Storage.DynamoDB.TablePrefix,
		"POSTGRES_HOST":        &config.Storage.Postgres.Host,
		"POSTGRES_DATABASE":    &config.Storage.Postgres.Database,
		"POSTGRES_USER":        &config.Storage.Postgres.User,
		"POSTGRES_PASSWORD":    &config.Storage.Postgres.Password,
		"POSTGRES_SSL_MODE":    &config.Storage.Postgres.SSLMode,
		"REDIS_ADDR":           &config.Storage.Redis.Addr,
		"REDIS_PASSWORD":       &config.Storage.Redis.Password,
		"JWT_SECRET":           &config.Auth.JWTSecret,
		"CRM_BASE_URL":         &config.CRM.BaseURL,
		"CRM_MONITOR_SCHEDULE": &config.CRM.MonitorSchedule,
		"SMTP_HOST":            &config.Email.SMTPHost,
		"SMTP_USERNAME":        &config.Email.Username,
		"SMTP_PASSWORD":        &config.Email.Password,
		"EMAIL_FROM":           &config.Email.From,
		"LOG_LEVEL":            &config.Logging.Level,
		"LOG_FORMAT":           &config.Logging.Format,
		"LOG_OUTPUT":           &config.Logging.Output,
		"LOG_FILE":             &config.Logging.FilePath,
	}
	for name, dst := range strs {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PORT":                 &config.Server.Port,
		"POSTGRES_PORT":        &config.Storage.Postgres.Port,
		"REDIS_DB":             &config.Storage.Redis.DB,
		"STREAM_BASE_DELAY_MS": &config.Stream.BaseDelayMs,
		"STREAM_MAX_DELAY_MS":  &config.Stream.MaxDelayMs,
		"STREAM_MAX_ATTEMPTS":  &config.Stream.MaxAttempts,
		"SMTP_PORT":            &config.Email.SMTPPort,
		"TOKEN_EXPIRATION":     &config.Auth.TokenExpiration,
	}
	for name, dst := range ints {
		v := os.Getenv(EnvPrefix + name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
	}

	if v := os.Getenv(EnvPrefix + "ALLOWED_ORIGINS"); v != "" {
		config.Server.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				config.Server.AllowedOrigins = append(config.Server.AllowedOrigins, o)
			}
		}
	}
	if v := os.Getenv(EnvPrefix + "TLS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sTLS_ENABLED: %w", EnvPrefix, err)
		}
		config.Server.TLS.Enabled = enabled
	}
	return nil
}

// Validate checks the configuration for obvious mistakes
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires cert_file and key_file"))
	}
	if err := validateURL("gateway.api_base_url", c.Gateway.APIBaseURL); err != nil {
		errs = append(errs, err)
	}
	if c.CRM.BaseURL != "" {
		if err := validateURL("crm.base_url", c.CRM.BaseURL); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Storage.Type {
	case StorageMemory, StoragePostgres, StorageDynamoDB, StorageRedis:
	case StorageFile:
		if c.Storage.File.Path == "" {
			errs = append(errs, errors.New("storage.file.path is required for file storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage type: %q", c.Storage.Type))
	}

	if c.Stream.MaxAttempts < 0 {
		errs = append(errs, errors.New("stream.max_attempts must not be negative"))
	}
	if c.Stream.BaseDelayMs < 0 || c.Stream.MaxDelayMs < 0 {
		errs = append(errs, errors.New("stream delays must not be negative"))
	}

	return errors.Join(errs...)
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: %q is not an http(s) URL", field, raw)
	}
	return nil
}
