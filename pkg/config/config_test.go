package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rustbase.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfigFile(t, `
storage:
  path: /tmp/rustbase-data
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/rustbase-data", cfg.Storage.Path)
	assert.Equal(t, "0.0.0.0", cfg.Net.Host)
	assert.Equal(t, 6752, cfg.Net.Port)
	assert.Greater(t, cfg.Threads, 0)
	assert.Equal(t, defaultCacheSize, cfg.CacheSize)
}

func TestLoadParsesTLSAndExplicitOptions(t *testing.T) {
	path := writeConfigFile(t, `
net:
  host: 127.0.0.1
  port: 9999
  tls:
    ca_file: /certs/server.crt
    pem_key_file: /certs/server.key
storage:
  path: /data
  dustdata:
    flush_threshold: 1048576
threads: 4
cache_size: 2048
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Net.Host)
	assert.Equal(t, 9999, cfg.Net.Port)
	assert.True(t, cfg.Net.TLS.Enabled())
	assert.Equal(t, int64(1048576), cfg.Storage.Dustdata.FlushThreshold)
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, 2048, cfg.CacheSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
