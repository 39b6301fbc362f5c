package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docindex/docindex/internal/config"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldWd) })
}

func TestInitCmd_WritesDefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	chdir(t, tmpDir)

	cmd := newInitCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())

	configPath := filepath.Join(tmpDir, "docindex.yaml")
	assert.FileExists(t, configPath)
	assert.Contains(t, out.String(), configPath)

	cfg, err := config.Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
}

func TestInitCmd_RefusesToOverwriteExistingConfig(t *testing.T) {
	tmpDir := t.TempDir()
	chdir(t, tmpDir)

	configPath := filepath.Join(tmpDir, "docindex.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("version: 1\n"), 0o644))

	cmd := newInitCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestInitCmd_CreatesStoreDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	chdir(t, tmpDir)

	cmd := newInitCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())

	cfg, err := config.Load(tmpDir)
	require.NoError(t, err)
	storeDir := filepath.Dir(filepath.Join(tmpDir, cfg.Store.Path))
	assert.DirExists(t, storeDir)
}
