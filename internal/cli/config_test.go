package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tahsin716/fiberjobs"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fiberjobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func applyOptions(opts []fiberjobs.Option) fiberjobs.Config {
	cfg := fiberjobs.DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func TestLoadFileConfig(t *testing.T) {
	path := writeConfig(t, `
workers: 3
leaf_fibers: 8
general_fibers: 16
general_stack_size: 262144
queue_capacity: 100
overflow: error
spin_count: 0
max_park_time: 250us
lock_main_thread: false
log_level: debug
metrics_addr: 127.0.0.1:9100
`)

	fc, err := LoadFileConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", fc.LogLevel)
	assert.Equal(t, "127.0.0.1:9100", fc.MetricsAddr)
	assert.Equal(t, 250*time.Microsecond, fc.MaxParkTime)

	opts, err := fc.Options()
	require.NoError(t, err)
	cfg := applyOptions(opts)

	def := fiberjobs.DefaultConfig()
	assert.Equal(t, 3, cfg.NumWorkers)
	assert.Equal(t, 8, cfg.LeafFibers)
	assert.Equal(t, 16, cfg.GeneralFibers)
	assert.Equal(t, def.LeafStackSize, cfg.LeafStackSize)
	assert.Equal(t, 262144, cfg.GeneralStackSize)
	assert.Equal(t, 128, cfg.QueueCapacity, "rounded up to a power of two")
	assert.Equal(t, fiberjobs.ReturnError, cfg.OverflowStrategy)
	assert.Equal(t, 0, cfg.SpinCount)
	assert.Equal(t, 250*time.Microsecond, cfg.MaxParkTime)
	assert.False(t, cfg.LockMainThread)
}

func TestLoadFileConfig_Empty(t *testing.T) {
	fc, err := LoadFileConfig(writeConfig(t, "log_level: warn\n"))
	require.NoError(t, err)

	opts, err := fc.Options()
	require.NoError(t, err)
	assert.Empty(t, opts)
}

func TestLoadFileConfig_Errors(t *testing.T) {
	_, err := LoadFileConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "open config")

	_, err = LoadFileConfig(writeConfig(t, "wokers: 2\n"))
	assert.ErrorContains(t, err, "parse config")

	fc, err := LoadFileConfig(writeConfig(t, "overflow: drop\n"))
	require.NoError(t, err)
	_, err = fc.Options()
	assert.ErrorContains(t, err, "overflow")
}
