package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "accountintel-turns", cfg.Temporal.TaskQueue)
	assert.Equal(t, 15*time.Second, cfg.Orchestrator.AdapterTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Orchestrator.ApprovalTimeout)
	assert.Equal(t, 4, cfg.Orchestrator.MaxConcurrency)
	assert.InDelta(t, 0.35, cfg.Orchestrator.ConfidenceFloor, 1e-9)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accountintel.yaml")
	content := `
orchestrator:
  adapter_timeout: 5s
  max_concurrency: 2
search:
  endpoint: https://glean.example.com/rest/api/v1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("SEARCH_API_TOKEN", "sekrit")
	t.Setenv("REDIS_ADDR", "localhost:6390")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Orchestrator.AdapterTimeout)
	assert.Equal(t, 2, cfg.Orchestrator.MaxConcurrency)
	assert.Equal(t, "https://glean.example.com/rest/api/v1", cfg.Search.Endpoint)
	assert.Equal(t, "sekrit", cfg.Search.APIToken)
	assert.Equal(t, "localhost:6390", cfg.Redis.Addr)
	// Defaults still apply for untouched sections.
	assert.Equal(t, "temporal:7233", cfg.Temporal.HostPort)
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", p.DSN())
}
