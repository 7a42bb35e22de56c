package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddress)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.False(t, cfg.Database.Postgres.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Game.AdvanceDelay)
	assert.Equal(t, 2*time.Second, cfg.Game.AnswerGrace)
	assert.Equal(t, 10*time.Minute, cfg.Game.KickTTL)
	assert.Equal(t, 10, cfg.Game.MaxPlayersLimit)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
store:
  driver: redis
redis:
  addr: redis:6379
game:
  advance_delay: 3s
  nickname_blacklist: [admin, root]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("WORDQUIZ_REDIS_ADDR", "cache:6380")
	t.Setenv("WORDQUIZ_AUTH_JWT_SECRET", "s3cret")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr, "environment wins over the file")
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 3*time.Second, cfg.Game.AdvanceDelay)
	assert.Equal(t, []string{"admin", "root"}, cfg.Game.NicknameBlacklist)
	assert.Equal(t, 2*time.Second, cfg.Game.AnswerGrace)
}

func TestLoadConfig_BadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o600))

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}
