package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsApplyWithoutFile(t *testing.T) {
	t.Setenv("STORYBOOK_CONFIG", "")
	t.Setenv("STORYBOOK_DATABASE_DSN", "postgres://localhost/test")
	t.Chdir(t.TempDir()) // ensure no stray ./storybook.toml is picked up

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 20, cfg.Guardrails.DailyJobLimitPerUser)
	assert.Equal(t, 600, cfg.Pipeline.SLASeconds)
}

func TestLoad_RequiresDatabaseDSN(t *testing.T) {
	t.Setenv("STORYBOOK_CONFIG", "")
	t.Setenv("STORYBOOK_DATABASE_DSN", "")
	t.Chdir(t.TempDir())

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/storybook.toml"
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
dsn = "postgres://file-value/db"

[http]
addr = ":9999"
`), 0o600))

	t.Setenv("STORYBOOK_DATABASE_DSN", "postgres://env-value/db")
	t.Setenv("STORYBOOK_HTTP_ADDR", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-value/db", cfg.Database.DSN, "env var must win over the config file")
	assert.Equal(t, ":9999", cfg.HTTP.Addr, "file value applies where no env override is set")
}

func TestLoad_RejectsInvalidImageConcurrency(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/storybook.toml"
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
dsn = "postgres://localhost/test"

[pipeline]
image_max_concurrent = 0
`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSLA_ConvertsSecondsToDuration(t *testing.T) {
	cfg := defaults()
	cfg.Pipeline.SLASeconds = 120
	assert.Equal(t, 120e9, float64(cfg.SLA()))
}
