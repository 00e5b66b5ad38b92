package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fetiche.toml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ConfigVersion, cfg.Version)
	assert.Contains(t, cfg.Sources, "opensky")
	assert.Contains(t, cfg.Sources, "senhive")
	assert.NotEmpty(t, cfg.Engine.BaseDir)
	assert.Equal(t, 2*time.Second, cfg.Engine.Tick())
	assert.Equal(t, 16, cfg.Engine.Depth())
}

func TestLoadConfigVersionGate(t *testing.T) {
	p := writeConfig(t, "version = 3\n")
	_, err := LoadConfig(p)
	assert.ErrorIs(t, err, ErrUnsupportedConfigVersion)
}

func TestLoadConfigOverride(t *testing.T) {
	p := writeConfig(t, `
version = 2

[engine]
base_dir = "/tmp/fetiche-test"
workers = 3
tick_interval = "500ms"

[sources.mock]
format = "opensky"
base_url = "http://127.0.0.1:9999"
features = ["fetch"]

[sources.mock.auth]
kind = "key"
api_key = "deadbeef"

[sources.mock.routes]
get = "/data"
`)
	cfg, err := LoadConfig(p)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/fetiche-test", cfg.Engine.BaseDir)
	assert.Equal(t, 3, cfg.Engine.PoolSize())
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.Tick())

	mock := cfg.Sources["mock"]
	require.NotNil(t, mock)
	assert.Equal(t, "mock", mock.Name)
	assert.True(t, mock.HasCapability("fetch"))
	assert.False(t, mock.HasCapability("stream"))

	route, err := mock.Route("get")
	require.NoError(t, err)
	assert.Equal(t, "/data", route)

	_, err = mock.Route("stream")
	assert.Error(t, err)
}

func TestLoadConfigBadSource(t *testing.T) {
	p := writeConfig(t, `
version = 2

[sources.broken]
base_url = "http://example.net"
`)
	_, err := LoadConfig(p)
	assert.Error(t, err) // missing format + features
}
