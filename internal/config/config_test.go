package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/dbireg/internal/database"
	"github.com/koustreak/dbireg/internal/errs"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dbireg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 16, cfg.Registry.MaxConnections)
	assert.Equal(t, 1, cfg.Registry.MaxResultSets)
	assert.Equal(t, 500, cfg.Registry.FetchSize)
	assert.Equal(t, 4096, cfg.Registry.CapacityLimit)
	assert.Equal(t, database.DriverMySQL, cfg.Database.Driver)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, 10*time.Second, cfg.Database.ConnectTimeout)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
log:
  level: debug
  format: console
registry:
  max_connections: 4
  fetch_size: 100
database:
  driver: postgres
  host: db.internal
  user: app
  database: sales
  query_timeout: 5s
server:
  addr: 127.0.0.1:9000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Registry.MaxConnections)
	assert.Equal(t, 100, cfg.Registry.FetchSize)
	assert.Equal(t, 1, cfg.Registry.MaxResultSets, "unset keys keep defaults")
	assert.Equal(t, database.DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port, "port default follows the driver")
	assert.Equal(t, "sales", cfg.Database.Database)
	assert.Equal(t, 5*time.Second, cfg.Database.QueryTimeout)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DBIREG_DATABASE_HOST", "from-env")
	t.Setenv("DBIREG_REGISTRY_MAX_CONNECTIONS", "8")

	path := writeFile(t, "database:\n  host: from-file\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.Host)
	assert.Equal(t, 8, cfg.Registry.MaxConnections)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "registry: [unterminated"},
		{"bad capacity", "registry:\n  max_connections: 0\n"},
		{"limit below capacity", "registry:\n  capacity_limit: 2\n"},
		{"bad driver", "database:\n  driver: oracle\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			require.Error(t, err)
			assert.True(t, errs.IsInvalidInput(err))
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
}
