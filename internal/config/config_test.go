package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points config discovery at empty directories.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)
		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "structured", cfg.Logging.Profile)
		assert.True(t, cfg.Metrics.Enabled)

		assert.Equal(t, "ee-glourb", cfg.Compute.Project)
		assert.Equal(t, "metrics/tmp", cfg.Compute.AssetFolder)
		assert.Equal(t, 60*time.Second, cfg.Compute.Timeout)
		assert.Equal(t, 4, cfg.Fanout.Concurrency)
		assert.Equal(t, "PSScene", cfg.Catalog.ItemType)

		assert.True(t, strings.HasSuffix(cfg.DataDir, "glourbee"))
		assert.Equal(t, filepath.Join(cfg.DataDir, "ledger.db"), cfg.LedgerPath())
		assert.Equal(t, filepath.Join(cfg.DataDir, "runs"), cfg.RunsDir())
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)
		cfg, err := Load(ctx, map[string]any{
			"server":  map[string]any{"port": 9000, "host": "0.0.0.0"},
			"logging": map[string]any{"level": "debug"},
		})
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "structured", cfg.Logging.Profile)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("GLOURBEE_PORT", "3000")
		t.Setenv("GLOURBEE_LOG_LEVEL", "warn")
		t.Setenv("GLOURBEE_METRICS_ENABLED", "false")
		t.Setenv("GLOURBEE_PROJECT", "my-project")
		t.Setenv("GLOURBEE_CONCURRENCY", "12")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, "my-project", cfg.Compute.Project)
		assert.Equal(t, 12, cfg.Fanout.Concurrency)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		t.Setenv("GLOURBEE_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{"server": map[string]any{"port": 5000}})
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})
}

func TestLoadFile(t *testing.T) {
	ctx := context.Background()
	isolate(t)

	path := filepath.Join(t.TempDir(), "glourbee.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/glourbee
compute:
  project: file-project
  timeout: 2m
fanout:
  rate_limit: 1.5
output:
  s3:
    region: eu-west-3
    force_path_style: true
`), 0o644))

	t.Setenv("GLOURBEE_PROJECT", "env-project")

	cfg, err := LoadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/glourbee", cfg.DataDir)
	assert.Equal(t, "env-project", cfg.Compute.Project, "env wins over file")
	assert.Equal(t, 2*time.Minute, cfg.Compute.Timeout)
	assert.InDelta(t, 1.5, cfg.Fanout.RateLimit, 0.0001)
	assert.Equal(t, "eu-west-3", cfg.Output.S3.Region)
	assert.True(t, cfg.Output.S3.ForcePathStyle)

	_, err = LoadFile(ctx, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_UserConfigFile(t *testing.T) {
	isolate(t)
	dir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "glourbee")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("fanout:\n  concurrency: 9\n"), 0o644))

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Fanout.Concurrency)
}

func TestLoad_Invalid(t *testing.T) {
	isolate(t)
	ctx := context.Background()

	_, err := Load(ctx, map[string]any{"server": map[string]any{"port": 70000}})
	assert.Error(t, err)

	_, err = Load(ctx, map[string]any{"logging": map[string]any{"profile": "fancy"}})
	assert.Error(t, err)

	_, err = Load(ctx, map[string]any{"fanout": map[string]any{"concurrency": -1}})
	assert.Error(t, err)
}

func TestGetConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background(), map[string]any{"server": map[string]any{"port": 8181}})
	require.NoError(t, err)

	got := GetConfig()
	require.NotNil(t, got)
	assert.Equal(t, cfg.Server.Port, got.Server.Port)
}

func TestDurationParsing(t *testing.T) {
	isolate(t)
	t.Setenv("GLOURBEE_READ_TIMEOUT", "45s")
	t.Setenv("GLOURBEE_SHUTDOWN_TIMEOUT", "5m")

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
}

// resetAppIdentity resets package state for isolated tests.
func resetAppIdentity() {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = nil
	appConfig = nil
}

func TestNilIdentity(t *testing.T) {
	resetAppIdentity()
	defer func() { _, _ = Load(context.Background()) }()

	assert.Empty(t, getUserConfigPaths())
	assert.Empty(t, getEnvSpecs())
	assert.Nil(t, GetConfig())
}

func TestEnvSpecsPrefixHandling(t *testing.T) {
	isolate(t)
	_, err := Load(context.Background())
	require.NoError(t, err)

	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	names := map[string]bool{}
	for _, spec := range specs {
		assert.True(t, strings.HasPrefix(spec.Name, "GLOURBEE_"), spec.Name)
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
		names[spec.Name] = true
	}
	for _, required := range []string{"GLOURBEE_LOG_LEVEL", "GLOURBEE_PORT", "GLOURBEE_PROJECT", "GLOURBEE_COMPUTE_TOKEN", "GLOURBEE_CATALOG_API_KEY"} {
		assert.True(t, names[required], "%s must be mapped", required)
	}
}
