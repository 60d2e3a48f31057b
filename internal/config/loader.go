// Package config provides centralized configuration management for nmtgate.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName names the config and data directories.
	AppName = "nmtgate"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "NMTGATE"
)

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// legacyEnv maps config keys to the environment names used by earlier
// deployments of the gateway. NMTGATE_* names still take precedence.
var legacyEnv = map[string]string{
	"runpod.api_key":             "RUNPOD_API_KEY",
	"runpod.chat_endpoint":       "NEMOTRON_ENDPOINT",
	"runpod.speech_endpoint":     "COSYVOICE_ENDPOINT",
	"runpod.transcribe_endpoint": "STT_ENDPOINT",
	"runpod.music_endpoint":      "MUSIC_ENDPOINT",
	"openrouter.api_key":         "OPENROUTER_API_KEY",
	"admin.key":                  "ADMIN_KEY",
	"server.port":                "PORT",
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "30s")
	// Music jobs may poll for four minutes before responding.
	v.SetDefault("server.write_timeout", "300s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("store.driver", "file")
	v.SetDefault("store.data_dir", DefaultDataDir())
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("keys.file", "")
	v.SetDefault("keys.cache_ttl", "0s")
	v.SetDefault("keys.watch", true)

	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("rate_limit.max_requests", 60)
	v.SetDefault("rate_limit.sweep_interval", "60s")

	v.SetDefault("runpod.api_key", "")
	v.SetDefault("runpod.base_url", "https://api.runpod.ai/v2")
	v.SetDefault("runpod.chat_endpoint", "")
	v.SetDefault("runpod.speech_endpoint", "")
	v.SetDefault("runpod.transcribe_endpoint", "")
	v.SetDefault("runpod.music_endpoint", "")

	v.SetDefault("openrouter.api_key", "")
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.model", "google/gemini-2.0-flash-001")
	v.SetDefault("openrouter.model_label", "gemini-2.0-flash")

	v.SetDefault("chat.primary_timeout", "20s")
	v.SetDefault("chat.fallback_timeout", "30s")

	v.SetDefault("jobs.speech.interval", "3s")
	v.SetDefault("jobs.speech.max_wait", "180s")
	v.SetDefault("jobs.transcribe.interval", "1s")
	v.SetDefault("jobs.transcribe.max_wait", "30s")
	v.SetDefault("jobs.music.interval", "2s")
	v.SetDefault("jobs.music.max_wait", "240s")
	v.SetDefault("jobs.max_poll_errors", 3)

	v.SetDefault("admin.key", "")

	v.SetDefault("media.dir", "")
	v.SetDefault("media.audio_max_bytes", 1<<20)
	v.SetDefault("media.bgm_max_bytes", 5<<20)

	v.SetDefault("web.index_file", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)
}

// BindEnv enables NMTGATE_* overrides (dots become underscores) and the
// legacy variable names.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Load decodes the settings held by v into a Config and stores it as the
// current configuration.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDerivedDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func Validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case "file", "libsql":
	default:
		return fmt.Errorf("store.driver must be file or libsql, got %q", cfg.Store.Driver)
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be positive")
	}
	if cfg.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	for name, poll := range map[string]PollConfig{"speech": cfg.Jobs.Speech, "transcribe": cfg.Jobs.Transcribe, "music": cfg.Jobs.Music} {
		if poll.Interval <= 0 || poll.MaxWait <= 0 {
			return fmt.Errorf("jobs.%s interval and max_wait must be positive", name)
		}
	}
	return nil
}

func applyDerivedDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Store.DataDir) == "" {
		cfg.Store.DataDir = DefaultDataDir()
	}
	if strings.TrimSpace(cfg.Keys.File) == "" {
		cfg.Keys.File = filepath.Join(cfg.Store.DataDir, "api-keys.json")
	}
	if strings.TrimSpace(cfg.Media.Dir) == "" {
		cfg.Media.Dir = cfg.Store.DataDir
	}
	if cfg.Store.Driver == "libsql" && strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = filepath.Join(cfg.Store.DataDir, AppName+".db")
	}
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigDir returns the XDG config directory for nmtgate.
func DefaultConfigDir() string {
	return gfconfig.GetAppConfigDir(AppName)
}

// DefaultDataDir returns the XDG data directory, or ./data when it cannot be
// resolved.
func DefaultDataDir() string {
	dir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dir) == "" {
		return "./data"
	}
	return dir
}
