package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	webassets "github.com/nmtlab/nmtgate/internal/assets/web"
	"github.com/nmtlab/nmtgate/internal/backend"
	"github.com/nmtlab/nmtgate/internal/backend/openrouter"
	"github.com/nmtlab/nmtgate/internal/backend/runpod"
	"github.com/nmtlab/nmtgate/internal/config"
	"github.com/nmtlab/nmtgate/internal/gateway"
	"github.com/nmtlab/nmtgate/internal/keystore"
	"github.com/nmtlab/nmtgate/internal/media"
	"github.com/nmtlab/nmtgate/internal/observability"
	"github.com/nmtlab/nmtgate/internal/server/handlers"
	"github.com/nmtlab/nmtgate/internal/share"
	"github.com/nmtlab/nmtgate/internal/store"
)

const (
	driverFile   = "file"
	driverLibsql = "libsql"
)

// stores holds the persistence backends selected by store.driver.
type stores struct {
	keys   keystore.Store
	shares share.Store

	db      *store.Store
	keyFile *keystore.FileStore
}

func openStores(ctx context.Context, cfg *config.Config, logger observability.Logger) (*stores, error) {
	switch cfg.Store.Driver {
	case driverLibsql:
		db, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &stores{keys: db.Keys(), shares: db.Shares(), db: db}, nil

	case driverFile, "":
		opts := []keystore.FileOption{keystore.WithLogger(logger)}
		if cfg.Keys.CacheTTL > 0 {
			opts = append(opts, keystore.WithCacheTTL(cfg.Keys.CacheTTL))
		}
		keyFile, err := keystore.NewFileStore(cfg.Keys.File, opts...)
		if err != nil {
			return nil, err
		}
		shares, err := share.NewFileStore(filepath.Join(cfg.Store.DataDir, "shares"), logger)
		if err != nil {
			return nil, err
		}
		return &stores{keys: keyFile, shares: shares, keyFile: keyFile}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// watch enables key file change notifications when the file store is active.
func (s *stores) watch(ctx context.Context) error {
	if s.keyFile == nil {
		return nil
	}
	return s.keyFile.Watch(ctx)
}

func (s *stores) ping(ctx context.Context) error {
	if s.db != nil {
		return s.db.Ping(ctx)
	}
	if s.keyFile != nil {
		dir := filepath.Dir(s.keyFile.Path())
		if _, err := os.Stat(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *stores) Close() error {
	var errs []error
	if s.keyFile != nil {
		errs = append(errs, s.keyFile.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

func newRunPodClient(cfg *config.Config) *runpod.Client {
	return runpod.NewClient(cfg.RunPod.BaseURL, cfg.RunPod.APIKey)
}

// buildDispatcher wires the capability backends described by cfg.
func buildDispatcher(cfg *config.Config, keys keystore.Store, rp *runpod.Client, logger observability.Logger) *gateway.Dispatcher {
	fallback := openrouter.NewClient(cfg.OpenRouter.BaseURL, cfg.OpenRouter.APIKey)
	if model := strings.TrimSpace(cfg.OpenRouter.Model); model != "" {
		fallback.Model = model
	}

	maxPollErrors := cfg.Jobs.MaxPollErrors
	poll := func(p config.PollConfig) gateway.PollConfig {
		return gateway.PollConfig{Interval: p.Interval, MaxWait: p.MaxWait, MaxPollErrors: maxPollErrors}
	}

	return &gateway.Dispatcher{
		Keys: keys,
		Limiter: gateway.NewRateLimiter(gateway.RateLimitConfig{
			Window:        cfg.RateLimit.Window,
			MaxRequests:   cfg.RateLimit.MaxRequests,
			SweepInterval: cfg.RateLimit.SweepInterval,
		}),
		Router: gateway.NewRouter(logger),
		Poller: gateway.NewPoller(logger),
		Logger: logger,
		ChatAttempts: []gateway.Attempt{
			{Candidate: &gateway.RunPodChat{Client: rp, EndpointID: cfg.RunPod.ChatEndpoint}, Timeout: cfg.Chat.PrimaryTimeout},
			{Candidate: &gateway.OpenRouterChat{Client: fallback, ModelLabel: cfg.OpenRouter.ModelLabel}, Timeout: cfg.Chat.FallbackTimeout},
		},
		SpeechBackend: rp.Endpoint(cfg.RunPod.SpeechEndpoint, runpod.WithLabel("cosyvoice")),
		Transcriber: rp.Endpoint(cfg.RunPod.TranscribeEndpoint, runpod.WithLabel("whisper"), runpod.WithSyncSubmit()),
		MusicBackend: func(endpointID string) backend.AsyncBackend {
			return rp.Endpoint(endpointID, runpod.WithLabel("music"))
		},
		DefaultMusicEndpoint: cfg.RunPod.MusicEndpoint,
		SpeechPoll:           poll(cfg.Jobs.Speech),
		TranscribePoll:       poll(cfg.Jobs.Transcribe),
		MusicPoll:            poll(cfg.Jobs.Music),
	}
}

// buildAPI assembles the HTTP handlers around the dispatcher and stores.
func buildAPI(cfg *config.Config, dispatcher *gateway.Dispatcher, st *stores, rp *runpod.Client, logger observability.Logger) *handlers.API {
	return &handlers.API{
		Dispatcher:     dispatcher,
		Keys:           st.keys,
		AdminKey:       strings.TrimSpace(cfg.Admin.Key),
		Shares:         share.NewService(st.shares),
		Media:          media.NewStore(cfg.Media.Dir),
		AudioKind:      media.Audio(cfg.Media.AudioMaxBytes),
		BGMKind:        media.BGM(cfg.Media.BGMMaxBytes),
		IndexHTML:      loadIndex(cfg.Web.IndexFile, logger),
		Logger:         logger,
		Workers:        rp,
		WarmupEndpoint: cfg.RunPod.ChatEndpoint,
	}
}

// loadIndex reads the configured index page, falling back to the embedded
// one when none is configured or the file cannot be read.
func loadIndex(path string, logger observability.Logger) []byte {
	path = strings.TrimSpace(path)
	if path == "" {
		return webassets.IndexHTML
	}
	data, err := os.ReadFile(path)
	if err != nil {
		observability.OrNop(logger).Warn("Index page unavailable, serving built-in page",
			zap.String("path", path), zap.Error(err))
		return webassets.IndexHTML
	}
	return data
}

// registerHealthChecks adds the readiness probes for the wired components.
func registerHealthChecks(hm *handlers.HealthManager, cfg *config.Config, st *stores, rp *runpod.Client) {
	hm.RegisterCritical("store", handlers.CheckFunc(st.ping))
	hm.RegisterChecker("telemetry", handlers.CheckFunc(func(ctx context.Context) error {
		if cfg.Metrics.Enabled && !observability.MetricsEnabled() {
			return errors.New("telemetry exporter not initialized")
		}
		return nil
	}))
	hm.RegisterChecker("chat_backends", handlers.CheckFunc(func(ctx context.Context) error {
		if !rp.Configured() && strings.TrimSpace(cfg.OpenRouter.APIKey) == "" {
			return errors.New("no chat backend configured")
		}
		return nil
	}))
}
