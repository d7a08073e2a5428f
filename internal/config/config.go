package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/listserv/internal/domain"
)

// ErrMissingSecret is returned when no token signing key is configured.
var ErrMissingSecret = errors.New("config: core.secret_key is required")

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Core        CoreConfig        `yaml:"core"`
	Storage     StorageConfig     `yaml:"storage"`
	Redis       RedisConfig       `yaml:"redis"`
	SES         SESConfig         `yaml:"ses"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Logging     LoggingConfig     `yaml:"logging"`
	Lists       []ListConfig      `yaml:"lists"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// CoreConfig holds the list engine settings
type CoreConfig struct {
	CommandAddress string `yaml:"command_address"`
	// ReplyFrom is the From address of replies and notices. Defaults to
	// the command address.
	ReplyFrom string `yaml:"reply_from"`
	SecretKey string `yaml:"secret_key"`
	// InvitationTTLHours applies to bootstrap lists that do not set
	// invitation_ttl_hours themselves.
	InvitationTTLHours int `yaml:"invitation_ttl_hours"`
}

// InvitationTTL returns the default invitation lifetime
func (c CoreConfig) InvitationTTL() time.Duration {
	return time.Duration(c.InvitationTTLHours) * time.Hour
}

// StorageConfig holds persistence and message store configuration
type StorageConfig struct {
	Backend       string `yaml:"backend"` // memory, postgres or dynamodb
	DatabaseURL   string `yaml:"database_url"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	MessageBucket string `yaml:"message_bucket"`
	MessagePrefix string `yaml:"message_prefix"`
	AWSRegion     string `yaml:"aws_region"`
	AWSProfile    string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return "" // Use default credential chain (IAM role)
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// RedisConfig holds the per-list lock settings. An empty URL selects the
// Postgres advisory lock when a database is configured, else an in-process lock.
type RedisConfig struct {
	URL             string `yaml:"url"`
	LockTTLSeconds  int    `yaml:"lock_ttl_seconds"`
	LockWaitSeconds int    `yaml:"lock_wait_seconds"`
}

// LockTTL returns the lock expiry as a duration
func (c RedisConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// LockWait returns the acquisition timeout as a duration
func (c RedisConfig) LockWait() time.Duration {
	return time.Duration(c.LockWaitSeconds) * time.Second
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	BatchSize      int    `yaml:"batch_size"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PermissionsConfig tunes the default permission matrix
type PermissionsConfig struct {
	OwnerOnlyConfig bool `yaml:"owner_only_config"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level string `yaml:"level"`
	// RedactPII masks member addresses in log output. Defaults to true.
	RedactPII *bool `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// ListConfig provisions one list at start-up if it does not exist
type ListConfig struct {
	Address    string                 `yaml:"address"`
	Owner      string                 `yaml:"owner"`
	Moderators []string               `yaml:"moderators"`
	Config     map[string]interface{} `yaml:"config"`
}

// Spec converts the bootstrap entry to a domain list, applying the core
// invitation TTL when the entry does not set one.
func (l ListConfig) Spec(core CoreConfig) domain.List {
	cfg := make(domain.ListConfig, len(l.Config)+1)
	for k, v := range l.Config {
		cfg[k] = v
	}
	if _, ok := cfg[domain.OptInvitationTTLHours]; !ok && core.InvitationTTLHours > 0 {
		cfg[domain.OptInvitationTTLHours] = int64(core.InvitationTTLHours)
	}
	return domain.List{
		Address:    l.Address,
		Owner:      l.Owner,
		Moderators: l.Moderators,
		Config:     cfg,
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Core.InvitationTTLHours == 0 {
		cfg.Core.InvitationTTLHours = 72
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-west-2"
	}
	if cfg.Storage.DynamoDBTable == "" {
		cfg.Storage.DynamoDBTable = "listserv"
	}
	if cfg.Redis.LockTTLSeconds == 0 {
		cfg.Redis.LockTTLSeconds = 30
	}
	if cfg.Redis.LockWaitSeconds == 0 {
		cfg.Redis.LockWaitSeconds = 10
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 10
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = cfg.Storage.AWSRegion
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("LISTSERV_SECRET_KEY"); v != "" {
		cfg.Core.SecretKey = v
	}
	if v := os.Getenv("LISTSERV_COMMAND_ADDRESS"); v != "" {
		cfg.Core.CommandAddress = v
	}
	if v := os.Getenv("LISTSERV_REPLY_FROM"); v != "" {
		cfg.Core.ReplyFrom = v
	}
	if v := os.Getenv("LISTSERV_MESSAGE_BUCKET"); v != "" {
		cfg.Storage.MessageBucket = v
	}
	if v := os.Getenv("LISTSERV_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("LISTSERV_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LISTSERV_REDACT_PII"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.RedactPII = &b
		}
	}

	// Database override (critical for ECS deployment where config.yaml has local defaults)
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Storage.DatabaseURL = dbURL
		if cfg.Storage.Backend == "memory" {
			cfg.Storage.Backend = "postgres"
		}
	}
	if v := os.Getenv("DYNAMODB_TABLE"); v != "" {
		cfg.Storage.DynamoDBTable = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.AWSRegion = v
		cfg.SES.Region = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.SES.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.SES.SecretKey = secretKey
	}

	return cfg, cfg.Validate()
}

// Validate checks the settings the process cannot start without
func (c *Config) Validate() error {
	if c.Core.SecretKey == "" {
		return ErrMissingSecret
	}
	if !domain.ValidAddress(domain.NormalizeAddress(c.Core.CommandAddress)) {
		return fmt.Errorf("config: core.command_address %q is not a valid address", c.Core.CommandAddress)
	}
	switch c.Storage.Backend {
	case "memory", "dynamodb":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return errors.New("config: storage.database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	for i, l := range c.Lists {
		if !domain.ValidAddress(domain.NormalizeAddress(l.Address)) {
			return fmt.Errorf("config: lists[%d].address %q is not a valid address", i, l.Address)
		}
	}
	return nil
}
