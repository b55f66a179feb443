// Package cli implements tripctl, a command line tool for trying formulas and
// push rule sets without a running server.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liamcoop/tripflow/internal/logger"
)

// NewRootCmd builds the tripctl command tree.
func NewRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "tripctl",
		Short: "Evaluate tripflow formulas and push conditions",
		Long: `tripctl evaluates formulas and push condition rule sets locally.

Examples:
  tripctl eval "([Gia_ca] + [Khoan_luong]) / 2" --set Gia_ca=1000 --set Khoan_luong=3000
  tripctl validate "[Gia_ca] * 2" --fields Gia_ca,So_luong
  tripctl fields "[Gia_ca] * [So_luong]"
  tripctl check --rules rules.toml --record trip.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return logger.Setup(context.Background(), logger.Options{
				Level:  logLevel,
				Output: cmd.ErrOrStderr(),
			})
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "WARN", "Log level (TRACE, DEBUG, INFO, WARN, ERROR)")

	root.AddCommand(newEvalCmd(), newValidateCmd(), newFieldsCmd(), newCheckCmd())
	return root
}

// Execute runs tripctl and returns the process exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
