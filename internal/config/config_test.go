package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8082", cfg.Server.Port)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 10, cfg.RateLimit.BurstSize)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.True(t, cfg.Auth.AllowAnonymous)
	assert.Equal(t, 30*time.Second, cfg.Gateway.HandlerTimeout)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_MINUTE", "5")
	t.Setenv("RATE_LIMIT_BURST_SIZE", "3")
	t.Setenv("GATEWAY_HANDLER_TIMEOUT", "2s")
	t.Setenv("GATEWAY_ALLOW_ANONYMOUS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, 5, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 3, cfg.RateLimit.BurstSize)
	assert.Equal(t, 2*time.Second, cfg.Gateway.HandlerTimeout)
	assert.False(t, cfg.Auth.AllowAnonymous)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	content := []byte(`
server:
  port: "7000"
rate_limit:
  requests_per_minute: 120
  burst_size: 20
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("RATE_LIMIT_BURST_SIZE", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, 120, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 7, cfg.RateLimit.BurstSize, "environment wins over the file")
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.RateLimit.Backend = "memcached"
	cfg.RateLimit.BurstSize = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend")
	assert.Contains(t, err.Error(), "burst_size")

	cfg = Default()
	cfg.Gateway.HandlerEndpoint = "assistant:8080"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler_endpoint")
}

func TestDefault_ProtectsControlEndpoints(t *testing.T) {
	assert.True(t, Default().Auth.ProtectControlEndpoints)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitList(" a, ,b "))
	assert.Nil(t, SplitList(""))
}

func TestDSN(t *testing.T) {
	cfg := Default()
	assert.Equal(t,
		"host=localhost port=5432 user=neurongateway password=neurongateway dbname=neurongateway sslmode=disable",
		cfg.Database.DSN())
}
