package cmd

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nmtlab/nmtgate/internal/config"
	"github.com/nmtlab/nmtgate/internal/observability"
)

const selfCheckTimeout = 10 * time.Second

// checkResult is one line of the self check.
type checkResult struct {
	name  string
	ok    bool
	fatal bool
	note  string
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify the configuration, the store and backend credentials before starting the server.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		logger.Info("Running health check...")

		cfg, err := loadConfig()
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		logger.Info("✅ Configuration valid", zap.String("store", cfg.Store.Driver))

		ctx, cancel := context.WithTimeout(context.Background(), selfCheckTimeout)
		defer cancel()

		failed := false
		for _, result := range selfCheck(ctx, cfg) {
			switch {
			case result.ok:
				logger.Info("✅ "+result.name, zap.String("detail", result.note))
			case result.fatal:
				failed = true
				logger.Error("❌ "+result.name, zap.String("detail", result.note))
			default:
				logger.Warn("⚠️  "+result.name, zap.String("detail", result.note))
			}
		}

		if failed {
			ExitWithCodeStderr(foundry.ExitFailure, "Health check failed", nil)
			return
		}
		logger.Info("✅ All health checks passed")
	},
}

func selfCheck(ctx context.Context, cfg *config.Config) []checkResult {
	var results []checkResult

	st, err := openStores(ctx, cfg, observability.OrNop(nil))
	if err != nil {
		results = append(results, checkResult{name: "Store", fatal: true, note: err.Error()})
	} else {
		if err := st.ping(ctx); err != nil {
			results = append(results, checkResult{name: "Store", fatal: true, note: err.Error()})
		} else {
			results = append(results, checkResult{name: "Store", ok: true, note: cfg.Store.Driver})
		}
		_ = st.Close()
	}

	results = append(results,
		configured("RunPod API key", cfg.RunPod.APIKey != "", "chat falls back to OpenRouter; speech, transcription and music are unavailable"),
		configured("RunPod chat endpoint", cfg.RunPod.ChatEndpoint != "", "set runpod.chat_endpoint"),
		configured("OpenRouter fallback", cfg.OpenRouter.APIKey != "", "chat has no fallback"),
		configured("Admin key", cfg.Admin.Key != "", "key management endpoints return 503"),
	)

	if path := strings.TrimSpace(cfg.Web.IndexFile); path != "" {
		_, err := os.Stat(path)
		results = append(results, configured("Index page", err == nil, path))
	}

	return results
}

func configured(name string, ok bool, hint string) checkResult {
	if ok {
		return checkResult{name: name, ok: true}
	}
	return checkResult{name: name, note: hint}
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
