package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromConfigFilePath(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
logging:
  level: debug
database:
  path: /tmp/ledger.db
pagination:
  default_per_page: 25
schedule:
  method: fixed_payment
  interest_only_counts_as_period: true
`)

	cfg, err := LoadFromConfigFilePath(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "loanledger", cfg.Server.ServiceName)
	assert.Equal(t, 10, cfg.Server.ShutdownTimeoutSeconds)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/ledger.db", cfg.Database.Path)
	assert.Equal(t, 1, cfg.Pagination.DefaultPage)
	assert.Equal(t, 25, cfg.Pagination.DefaultPerPage)
	assert.Equal(t, "fixed_payment", cfg.Schedule.Method)
	assert.True(t, cfg.Schedule.InterestOnlyCountsAsPeriod)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("DB_PATH", "env.db")
	t.Setenv("INTEREST_ONLY_COUNTS_AS_PERIOD", "true")

	cfg, err := LoadFromConfigFilePath(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env.db", cfg.Database.Path)
	assert.True(t, cfg.Schedule.InterestOnlyCountsAsPeriod)
}

func TestLoadWithoutFiles(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "loanledger.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Pagination.DefaultPerPage)
	assert.Equal(t, "fixed_capital", cfg.Schedule.Method)
	assert.False(t, cfg.Schedule.InterestOnlyCountsAsPeriod)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_PATH", writeConfig(t, "server: [unclosed"))

	_, err := Load()
	assert.Error(t, err)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("LEDGER_INT", "12")
	t.Setenv("LEDGER_BAD_INT", "twelve")
	t.Setenv("LEDGER_BOOL", "yes")

	assert.Equal(t, 12, GetEnvOrDefaultAsInt("LEDGER_INT", 3))
	assert.Equal(t, 3, GetEnvOrDefaultAsInt("LEDGER_BAD_INT", 3))
	assert.Equal(t, 3, GetEnvOrDefaultAsInt("LEDGER_UNSET_INT", 3))
	assert.Equal(t, "x", GetEnvOrDefaultAsString("LEDGER_UNSET", "x"))
	assert.True(t, GetEnvOrDefaultAsBool("LEDGER_BOOL_UNSET", true))
	assert.False(t, GetEnvOrDefaultAsBool("LEDGER_BOOL", false), "unparseable bool keeps the default")
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
