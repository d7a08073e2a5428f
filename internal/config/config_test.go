package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/listserv/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"

core:
  command_address: control@lists.example.com
  secret_key: "file-secret"
  invitation_ttl_hours: 24

storage:
  backend: dynamodb
  dynamodb_table: lists-prod
  message_bucket: inbound-mail
  message_prefix: ses/

redis:
  url: redis://localhost:6379/0
  lock_ttl_seconds: 15

permissions:
  owner_only_config: true

logging:
  level: debug
  redact_pii: false

lists:
  - address: team@lists.example.com
    owner: boss@example.com
    moderators: [mod@example.com]
    config:
      moderated: true
      max_message_kb: 512
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "control@lists.example.com", cfg.Core.CommandAddress)
	assert.Equal(t, 24*time.Hour, cfg.Core.InvitationTTL())
	assert.Equal(t, "dynamodb", cfg.Storage.Backend)
	assert.Equal(t, "lists-prod", cfg.Storage.DynamoDBTable)
	assert.Equal(t, "ses/", cfg.Storage.MessagePrefix)
	assert.Equal(t, 15*time.Second, cfg.Redis.LockTTL())
	assert.Equal(t, 10*time.Second, cfg.Redis.LockWait())
	assert.True(t, cfg.Permissions.OwnerOnlyConfig)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Redact())

	require.Len(t, cfg.Lists, 1)
	spec := cfg.Lists[0].Spec(cfg.Core)
	assert.Equal(t, []string{"mod@example.com"}, spec.Moderators)
	assert.True(t, spec.Config.Bool(domain.OptModerated))
	assert.Equal(t, int64(512), spec.Config.Int(domain.OptMaxMessageKB))
	assert.Equal(t, int64(24), spec.Config.Int(domain.OptInvitationTTLHours))
	require.NoError(t, spec.Config.Validate())
	require.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "core:\n  secret_key: x\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 72, cfg.Core.InvitationTTLHours)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "us-west-2", cfg.SES.Region)
	assert.Equal(t, 10*time.Second, cfg.SES.Timeout())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redact())
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, `
core:
  command_address: control@lists.example.com
  secret_key: file-secret
`)
	t.Setenv("LISTSERV_SECRET_KEY", "env-secret")
	t.Setenv("DATABASE_URL", "postgres://localhost/listserv")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.Core.SecretKey)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "postgres://localhost/listserv", cfg.Storage.DatabaseURL)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	assert.Equal(t, "eu-west-1", cfg.SES.Region)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, "core:\n  command_address: control@lists.example.com\n"))
	require.NoError(t, err)
	assert.True(t, errors.Is(cfg.Validate(), ErrMissingSecret))

	cfg.Core.SecretKey = "s"
	cfg.Storage.Backend = "postgres"
	assert.ErrorContains(t, cfg.Validate(), "database_url")

	cfg.Storage.Backend = "cassandra"
	assert.ErrorContains(t, cfg.Validate(), "unknown storage backend")

	cfg.Storage.Backend = "memory"
	cfg.Lists = []ListConfig{{Address: "not-an-address"}}
	assert.ErrorContains(t, cfg.Validate(), "lists[0]")
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestServerAddr(t *testing.T) {
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	t.Setenv("SERVER_HOST", "")
	assert.Equal(t, "127.0.0.1:8081", ServerConfig{Host: "127.0.0.1", Port: 8081}.Addr())
}
