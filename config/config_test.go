package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MergesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
server:
  port: 9090
subscription:
  default_plan: starter
  plans:
    starter:
      display_name: Starter
      monthly_requests: 40
      history_enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "starter", cfg.Subscription.DefaultPlan)
	assert.Equal(t, 40, cfg.Subscription.Plans["starter"].MonthlyRequests)
	assert.True(t, cfg.Subscription.Plans["starter"].HistoryEnabled)
	// 未配置的项保留默认值
	assert.Equal(t, 7, cfg.History.RetentionDays)
	assert.Equal(t, 5, cfg.RateLimit.MaxAttempts)
	assert.Equal(t, "clockworks~tiktok-scraper", cfg.Retrieval.Actors["tiktok"])
}

func TestLoad_PrefersLocalConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "jwt:\n  secret: public\n")
	writeConfig(t, dir, "config.local.yaml", "jwt:\n  secret: local-secret\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "local-secret", cfg.JWT.Secret)
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "retrieval:\n  token: from-file\n")
	t.Setenv("RETRIEVAL_TOKEN", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Retrieval.Token)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
