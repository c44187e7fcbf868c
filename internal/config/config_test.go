package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "restitch.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
packages_root   = "/srv/uup/packages"
containers_root = "/srv/uup/containers"
ledger_path     = "/srv/uup/ledger.db"
workers         = 8
loose_patterns  = ["*.appx", "*.esd"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/uup/packages", cfg.PackagesRoot)
	assert.Equal(t, "/srv/uup/containers", cfg.ContainersRoot)
	assert.Equal(t, "/srv/uup/ledger.db", cfg.LedgerPath)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, []string{"*.appx", "*.esd"}, cfg.LoosePatterns)
}

func TestLoad_EmptyFileGetsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_BadSyntax(t *testing.T) {
	_, err := Load(writeConfig(t, `packages_root = `))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.hcl"))
	assert.Error(t, err)
}
