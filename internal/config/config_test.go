package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, ModeProduction, cfg.Mode)
	assert.Equal(t, 90*time.Second, cfg.Reasoning.Timeout)
	assert.Equal(t, 100, cfg.Limits.MaxHistory)
	assert.Equal(t, []string{"/recipe", "/test-recipe", "@recipebot recipe"}, cfg.Commands)
	assert.Equal(t, "recipebot", cfg.Brand.Token)
	require.NoError(t, Validate(cfg))
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "development"

[reasoning]
url = "http://reasoner.local"
timeout = "5s"

[limits]
max_history = 20
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ModeDevelopment, cfg.Mode)
	assert.Equal(t, "http://reasoner.local", cfg.Reasoning.URL)
	assert.Equal(t, 5*time.Second, cfg.Reasoning.Timeout)
	assert.Equal(t, 20, cfg.Limits.MaxHistory)
	assert.Equal(t, 60000, cfg.Limits.MaxDiffChars)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[database]
driver = "sqlite"
`)
	t.Setenv("RECIPEBOT_DATABASE__DRIVER", "postgres")
	t.Setenv("RECIPEBOT_LIMITS__MAX_FILES", "9")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 9, cfg.Limits.MaxFiles)
}

func TestValidate_RejectsUnknownDrivers(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	cfg.Database.Driver = "mysql"
	cfg.Queue.Driver = "kafka"
	cfg.Mode = "staging"

	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mysql")
	assert.Contains(t, err.Error(), "kafka")
	assert.Contains(t, err.Error(), "staging")
}

func TestValidate_RiverNeedsPostgres(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	cfg.Queue.Driver = "river"
	assert.Error(t, Validate(cfg))

	cfg.Queue.DSN = "postgres://localhost/recipebot"
	assert.NoError(t, Validate(cfg))
}

func TestValidate_AdminKeyHash(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.True(t, cfg.Limits.RedactSecrets)

	cfg.Server.AdminKeyHash = "plaintext"
	assert.ErrorContains(t, Validate(cfg), "admin_key_hash")

	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg.Server.AdminKeyHash = string(hash)
	assert.NoError(t, Validate(cfg))
}

func TestValidate_Platforms(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, []string{"github", "gitlab", "jira", "linear"}, cfg.Platforms.Enabled)

	cfg.Platforms.Enabled = []string{"github", "bitbucket"}
	assert.ErrorContains(t, Validate(cfg), "bitbucket")
}

func TestInitConfig_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipebot.toml")
	require.NoError(t, InitConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Local.Backend)

	assert.Error(t, InitConfig(path))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recipebot.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
