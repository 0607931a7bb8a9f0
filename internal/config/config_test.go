package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
database:
  driver: sqlite
  path: ` + filepath.Join(dir, "plm.db") + `
storage:
  files_root: ` + filepath.Join(dir, "files") + `
versioning:
  max_file_versions: 5
  cad_extensions: [".PRT", "step"]
bom:
  max_depth: 8
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("MAX_FILE_VERSIONS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Database.BusyTimeout)
	assert.Equal(t, 7, cfg.Versioning.MaxFileVersions)
	assert.Equal(t, []string{".prt", ".step"}, cfg.Versioning.CADExtensions)
	assert.Equal(t, 8, cfg.BOM.MaxDepth)
	assert.Equal(t, "Temp", cfg.Storage.TempFolder)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default(t.TempDir())
	require.NoError(t, cfg.Validate())

	cfg.Database.Driver = "oracle"
	require.Error(t, cfg.Validate())

	cfg = Default(t.TempDir())
	cfg.Versioning.MaxFileVersions = 0
	require.Error(t, cfg.Validate())
}

func TestIsCADFile(t *testing.T) {
	v := Default(t.TempDir()).Versioning

	assert.True(t, v.IsCADFile("bracket.PRT"))
	assert.True(t, v.IsCADFile("housing.sldasm"))
	assert.False(t, v.IsCADFile("notes.pdf"))
	assert.False(t, v.IsCADFile("README"))
}
