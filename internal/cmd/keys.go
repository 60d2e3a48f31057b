package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nmtlab/nmtgate/internal/keystore"
	"github.com/nmtlab/nmtgate/internal/metrics"
	"github.com/nmtlab/nmtgate/internal/observability"
	"github.com/nmtlab/nmtgate/internal/output"
)

var keysOutputFormat string

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage gateway API keys",
	Long:  "Create, list and revoke the API keys accepted by /v1/chat/completions.",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create an API key and print it once",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		return withKeyStore(cmd.Context(), func(keys keystore.Store) error {
			cred, err := keys.Create(cmd.Context(), name)
			if err != nil {
				return err
			}
			metrics.RecordKeyEvent("created")
			observability.CLILogger.Debug("API key created", zap.String("name", cred.Name))

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created API key for %q\n\n  %s\n\n", cred.Name, cred.Token)
			fmt.Fprintln(out, "Store it now; it cannot be shown again.")
			return nil
		})
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys (tokens are redacted)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(keysOutputFormat)
		if err != nil {
			return err
		}
		return withKeyStore(cmd.Context(), func(keys keystore.Store) error {
			list, err := keys.List(cmd.Context())
			if err != nil {
				return err
			}
			rendered, err := output.NewFormatter(format).FormatKeys(list)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return nil
		})
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-or-prefix>",
	Short: "Revoke an API key by full token or unique prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := keystore.RevokePrefix(args[0])
		return withKeyStore(cmd.Context(), func(keys keystore.Store) error {
			if err := keys.Revoke(cmd.Context(), ref); err != nil {
				return fmt.Errorf("revoke %s: %w", keystore.RedactToken(ref), err)
			}
			metrics.RecordKeyEvent("revoked")
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s\n", keystore.RedactToken(ref))
			return nil
		})
	},
}

// withKeyStore opens the configured stores for a single CLI operation.
func withKeyStore(ctx context.Context, fn func(keystore.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStores(ctx, cfg, observability.CLILogger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return fn(st.keys)
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysCreateCmd, keysListCmd, keysRevokeCmd)

	keysListCmd.Flags().StringVarP(&keysOutputFormat, "output-format", "o", "table", "output format: table, json, yaml, markdown")
}
