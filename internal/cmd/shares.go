package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nmtlab/nmtgate/internal/observability"
	"github.com/nmtlab/nmtgate/internal/output"
	"github.com/nmtlab/nmtgate/internal/share"
)

var sharesOutputFormat string

var sharesCmd = &cobra.Command{
	Use:   "shares",
	Short: "Inspect shared sessions",
}

var sharesTopCmd = &cobra.Command{
	Use:   "top",
	Short: "List the most played public shares",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(sharesOutputFormat)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
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

		summaries, err := share.NewService(st.shares).Public(ctx)
		if err != nil {
			return err
		}
		rendered, err := output.NewFormatter(format).FormatShares(summaries)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sharesCmd)
	sharesCmd.AddCommand(sharesTopCmd)

	sharesTopCmd.Flags().StringVarP(&sharesOutputFormat, "output-format", "o", "table", "output format: table, json, yaml, markdown")
}
