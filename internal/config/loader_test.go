package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	require.NoError(t, BindEnv(v))
	return v
}

func TestLoadDefaults(t *testing.T) {
	v := newViper(t)
	v.Set("store.data_dir", t.TempDir())

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "file", cfg.Store.Driver)
	assert.Equal(t, 60, cfg.RateLimit.MaxRequests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 20*time.Second, cfg.Chat.PrimaryTimeout)
	assert.Equal(t, 30*time.Second, cfg.Chat.FallbackTimeout)
	assert.Equal(t, 3*time.Second, cfg.Jobs.Speech.Interval)
	assert.Equal(t, 180*time.Second, cfg.Jobs.Speech.MaxWait)
	assert.Equal(t, time.Second, cfg.Jobs.Transcribe.Interval)
	assert.Equal(t, 30*time.Second, cfg.Jobs.Transcribe.MaxWait)
	assert.Equal(t, 2*time.Second, cfg.Jobs.Music.Interval)
	assert.Equal(t, 240*time.Second, cfg.Jobs.Music.MaxWait)
	assert.EqualValues(t, 1<<20, cfg.Media.AudioMaxBytes)
	assert.EqualValues(t, 5<<20, cfg.Media.BGMMaxBytes)
	assert.Equal(t, filepath.Join(cfg.Store.DataDir, "api-keys.json"), cfg.Keys.File)
	assert.Equal(t, cfg.Store.DataDir, cfg.Media.Dir)
	assert.Same(t, cfg, GetConfig())
}

func TestLoadPrefixedEnv(t *testing.T) {
	t.Setenv("NMTGATE_RUNPOD_API_KEY", "rp-prefixed")
	t.Setenv("NMTGATE_CHAT_PRIMARY_TIMEOUT", "5s")
	t.Setenv("NMTGATE_RATE_LIMIT_MAX_REQUESTS", "10")

	cfg, err := Load(newViper(t))
	require.NoError(t, err)
	assert.Equal(t, "rp-prefixed", cfg.RunPod.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Chat.PrimaryTimeout)
	assert.Equal(t, 10, cfg.RateLimit.MaxRequests)
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("RUNPOD_API_KEY", "rp-legacy")
	t.Setenv("NEMOTRON_ENDPOINT", "nemo")
	t.Setenv("COSYVOICE_ENDPOINT", "cosy")
	t.Setenv("STT_ENDPOINT", "whisper")
	t.Setenv("OPENROUTER_API_KEY", "or-legacy")
	t.Setenv("ADMIN_KEY", "admin-secret")

	cfg, err := Load(newViper(t))
	require.NoError(t, err)
	assert.Equal(t, "rp-legacy", cfg.RunPod.APIKey)
	assert.Equal(t, "nemo", cfg.RunPod.ChatEndpoint)
	assert.Equal(t, "cosy", cfg.RunPod.SpeechEndpoint)
	assert.Equal(t, "whisper", cfg.RunPod.TranscribeEndpoint)
	assert.Equal(t, "or-legacy", cfg.OpenRouter.APIKey)
	assert.Equal(t, "admin-secret", cfg.Admin.Key)
}

func TestPrefixedEnvWinsOverLegacy(t *testing.T) {
	t.Setenv("RUNPOD_API_KEY", "legacy")
	t.Setenv("NMTGATE_RUNPOD_API_KEY", "prefixed")

	cfg, err := Load(newViper(t))
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.RunPod.APIKey)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8088
store:
  driver: libsql
  data_dir: `+dir+`
jobs:
  music:
    max_wait: 10m
`), 0o600))

	v := newViper(t)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Jobs.Music.MaxWait)
	assert.Equal(t, filepath.Join(dir, "nmtgate.db"), cfg.Store.Path)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	v := newViper(t)
	v.Set("store.driver", "redis")

	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}
