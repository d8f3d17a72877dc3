package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	var ignore []string

	cmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Run AST rules over a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := application.Validation.Validate(cmd.Context(), args[0], ignore)
			if err != nil {
				return err
			}

			for _, v := range report.Violations {
				fmt.Fprintf(cmd.OutOrStdout(), "%s:%d [%s] %s: %s\n",
					v.File, v.Line, v.Severity, v.Rule, v.Message)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked=%d violations=%d\n",
				report.Metrics["files_checked"], report.Metrics["violations"])
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "path globs to skip")
	return cmd
}
