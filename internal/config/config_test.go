package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulselabs/pulse/internal/metering"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 8080
master_key: super-secret
admin_key: admin-secret
database_url: postgres://localhost/pulse
gateway:
  meter_failures_at: zero_cost
  require_attribution: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.Equal(t, "super-secret", cfg.MasterKey)
	assert.Equal(t, metering.FailureZeroCost, cfg.Gateway.MeterFailuresAt)
	assert.True(t, cfg.Gateway.RequireAttribution)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "master_key: mk\nadmin_key: ak\n"))
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, metering.FailurePartial, cfg.Gateway.MeterFailuresAt)
	assert.False(t, cfg.Gateway.RequireAttribution)
}

func TestLoad_EnvResolution(t *testing.T) {
	t.Setenv("PULSE_TEST_MASTER_KEY", "from-env")
	cfg, err := Load(writeConfig(t, "master_key: os.environ/PULSE_TEST_MASTER_KEY\nadmin_key: ak\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.MasterKey)
}

func TestLoad_EnvironmentVariablesSection(t *testing.T) {
	path := writeConfig(t, `
master_key: mk
admin_key: ak
environment_variables:
  PULSE_TEST_EXPORTED: hello
`)
	_, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", os.Getenv("PULSE_TEST_EXPORTED"))
	os.Unsetenv("PULSE_TEST_EXPORTED")
}

func TestLoad_Validation(t *testing.T) {
	_, err := Load(writeConfig(t, "admin_key: ak\n"))
	assert.ErrorContains(t, err, "master_key")

	_, err = Load(writeConfig(t, "master_key: mk\n"))
	assert.ErrorContains(t, err, "admin_key")

	_, err = Load(writeConfig(t, "master_key: mk\nadmin_key: ak\ngateway:\n  meter_failures_at: sometimes\n"))
	assert.ErrorContains(t, err, "meter_failures_at")
}

func TestResolveEnvVar_PassThrough(t *testing.T) {
	assert.Equal(t, "plain", ResolveEnvVar("plain"))
	assert.Equal(t, "", ResolveEnvVar("os.environ/PULSE_TEST_DEFINITELY_UNSET"))
}
