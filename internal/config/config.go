package config

import "time"

// Config represents the complete application configuration.
// Values come from defaults, an optional YAML file and NMTGATE_* environment
// variables, in increasing precedence.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Keys       KeysConfig       `mapstructure:"keys"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	RunPod     RunPodConfig     `mapstructure:"runpod"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
	Chat       ChatConfig       `mapstructure:"chat"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Media      MediaConfig      `mapstructure:"media"`
	Web        WebConfig        `mapstructure:"web"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Health     HealthConfig     `mapstructure:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects where keys and shares live.
//
// Driver "file" keeps flat JSON files under DataDir. Driver "libsql" uses a
// local libsql file at Path or a remote Turso database at URL.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	DataDir   string `mapstructure:"data_dir"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// KeysConfig configures the file key store.
type KeysConfig struct {
	File     string        `mapstructure:"file"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Watch    bool          `mapstructure:"watch"`
}

// RateLimitConfig configures the public API limiter.
type RateLimitConfig struct {
	Window        time.Duration `mapstructure:"window"`
	MaxRequests   int           `mapstructure:"max_requests"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RunPodConfig holds RunPod credentials and endpoint ids per capability.
type RunPodConfig struct {
	APIKey             string `mapstructure:"api_key"`
	BaseURL            string `mapstructure:"base_url"`
	ChatEndpoint       string `mapstructure:"chat_endpoint"`
	SpeechEndpoint     string `mapstructure:"speech_endpoint"`
	TranscribeEndpoint string `mapstructure:"transcribe_endpoint"`
	MusicEndpoint      string `mapstructure:"music_endpoint"`
}

// OpenRouterConfig configures the chat fallback provider.
type OpenRouterConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	ModelLabel string `mapstructure:"model_label"`
}

// ChatConfig bounds each chat fallback attempt.
type ChatConfig struct {
	PrimaryTimeout  time.Duration `mapstructure:"primary_timeout"`
	FallbackTimeout time.Duration `mapstructure:"fallback_timeout"`
}

// PollConfig bounds one asynchronous job.
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	MaxWait  time.Duration `mapstructure:"max_wait"`
}

// JobsConfig holds poll bounds per asynchronous capability.
type JobsConfig struct {
	Speech        PollConfig `mapstructure:"speech"`
	Transcribe    PollConfig `mapstructure:"transcribe"`
	Music         PollConfig `mapstructure:"music"`
	MaxPollErrors int        `mapstructure:"max_poll_errors"`
}

// AdminConfig protects key management endpoints. An empty key disables them.
type AdminConfig struct {
	Key string `mapstructure:"key"`
}

// MediaConfig configures uploaded audio storage.
type MediaConfig struct {
	Dir           string `mapstructure:"dir"`
	AudioMaxBytes int64  `mapstructure:"audio_max_bytes"`
	BGMMaxBytes   int64  `mapstructure:"bgm_max_bytes"`
}

// WebConfig configures the bundled single-page app.
type WebConfig struct {
	IndexFile string `mapstructure:"index_file"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
