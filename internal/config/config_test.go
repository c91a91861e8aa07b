package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/porter"
)

const sample = `
source:
  driver: mysql
  dsn: root:pass@tcp(localhost:3306)/app
  exclude: [django_migrations, "auth_*"]
destination:
  driver: pgx
  dsn: postgres://localhost/app
migrate:
  batch_size: 500
  workers: 4
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "porter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	t.Setenv("PORTER_DESTINATION_DSN", "postgres://db.internal/app")
	t.Setenv("PORTER_MIGRATE_RETRY", "bisect")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Source.Driver)
	assert.Equal(t, []string{"django_migrations", "auth_*"}, cfg.Source.Exclude)
	assert.Equal(t, "postgres://db.internal/app", cfg.Destination.DSN)
	assert.Equal(t, 500, cfg.Migrate.BatchSize)
	assert.Equal(t, 4, cfg.Migrate.Workers)
	assert.Equal(t, "bisect", cfg.Migrate.Retry)
	assert.True(t, cfg.Migrate.DisableConstraints)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, cfg.Source.Validate("source"))
	require.NoError(t, cfg.Destination.Validate("destination"))
}

func TestLoad_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "porter.yaml")
	_, err := Load(path, true)
	require.Error(t, err)

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PORTER_SOURCE_DRIVER=sqlite\nPORTER_LOG_LEVEL=debug\n"), 0o600))
	t.Chdir(dir)
	// Variables set in the environment win over .env.
	t.Setenv("PORTER_LOG_LEVEL", "warn")
	t.Cleanup(func() { os.Unsetenv("PORTER_SOURCE_DRIVER") })

	cfg, err := Load("", false)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Source.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestDecode_UnknownField(t *testing.T) {
	err := Decode(strings.NewReader("migrate:\n  batch: 10\n"), Default())
	require.Error(t, err)
}

func TestDatabase_Validate(t *testing.T) {
	tests := []struct {
		db     Database
		option string
	}{
		{Database{}, "source.driver"},
		{Database{Driver: "oracle", DSN: "x"}, "source.driver"},
		{Database{Driver: "postgres"}, "source.dsn"},
		{Database{Driver: "sqlite3", DSN: "file:x", MaxOpenConns: -1}, "source.max_open_conns"},
	}
	for _, tt := range tests {
		err := tt.db.Validate("source")
		require.True(t, porter.IsConfigError(err), tt.option)
		var cerr *porter.ConfigError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, tt.option, cerr.Option)
	}
}
