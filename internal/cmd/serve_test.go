package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/glourbee/pkg/ledger"
)

func TestRegistryHealthChecker(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "runs")
		require.NoError(t, registryHealthChecker{dir: dir}.CheckHealth(ctx))
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("unconfigured", func(t *testing.T) {
		assert.Error(t, registryHealthChecker{}.CheckHealth(ctx))
	})

	t.Run("path is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "runs")
		require.NoError(t, os.WriteFile(file, nil, 0o644))
		assert.Error(t, registryHealthChecker{dir: filepath.Join(file, "sub")}.CheckHealth(ctx))
	})
}

func TestLedgerHealthChecker(t *testing.T) {
	ctx := context.Background()

	t.Run("not initialized", func(t *testing.T) {
		assert.Error(t, ledgerHealthChecker{}.CheckHealth(ctx))
	})

	t.Run("open ledger", func(t *testing.T) {
		db, err := ledger.Open(ctx, ledger.Config{Path: ":memory:"})
		require.NoError(t, err)
		l := ledger.New(db)
		defer func() { _ = l.Close() }()

		assert.NoError(t, ledgerHealthChecker{ledger: l}.CheckHealth(ctx))
	})
}
