package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvBracesUsesEnvThenDefault(t *testing.T) {
	os.Setenv("CONFIG_TEST_VAR", "fromenv")
	defer os.Unsetenv("CONFIG_TEST_VAR")

	out := expandEnvBraces("url: ${CONFIG_TEST_VAR}")
	assert.Equal(t, "url: fromenv", out)

	out = expandEnvBraces("url: ${CONFIG_TEST_UNSET:opc.tcp://localhost:4840}")
	assert.Equal(t, "url: opc.tcp://localhost:4840", out)
}

func TestExpandEnvBracesLeavesBareDollarAlone(t *testing.T) {
	out := expandEnvBraces("topic: $share/group/foo")
	assert.Equal(t, "topic: $share/group/foo", out)
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
client:
  server_url: opc.tcp://10.0.0.5:4840
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "opc.tcp://10.0.0.5:4840", cfg.Client.ServerURL)
	assert.Equal(t, "Namotion.Interceptor.Client", cfg.Client.ApplicationName)
	assert.Equal(t, 1000, cfg.Client.MaximumItemsPerSubscription)
	assert.Equal(t, 8090, cfg.HTTP.Port)
	assert.True(t, cfg.Client.ShouldAddDynamicProperties)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMissingServerURLFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`service:
  name: test
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEnvOverridesServerURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`client:
  server_url: opc.tcp://placeholder:4840
`), 0o644))

	os.Setenv("OPCUA_CLIENT_SERVER_URL", "opc.tcp://override:4840")
	defer os.Unsetenv("OPCUA_CLIENT_SERVER_URL")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "opc.tcp://override:4840", cfg.Client.ServerURL)
}

func TestLoadEventBusRequiresBrokerURLWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`client:
  server_url: opc.tcp://10.0.0.5:4840
event_bus:
  enabled: true
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
