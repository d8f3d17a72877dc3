// Package cmd provides the CLI commands for codescope. The CLI is a thin
// shell over the application services; all semantics live in internal/.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/codescope/codescope/internal/app"
	"github.com/codescope/codescope/internal/config"
	"github.com/codescope/codescope/internal/logging"
	"github.com/codescope/codescope/pkg/version"
)

var configPath string

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codescope",
		Short: "Semantic code intelligence server",
		Long: `Codescope indexes source repositories into vector and keyword
representations and answers natural-language and structural queries over
them via the Model Context Protocol.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newCollectionsCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

// initApp loads configuration, sets up logging, and builds the
// application. The returned cleanup tears both down.
func initApp() (*app.App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logCfg := logging.DefaultConfig(cfg.DataDir)
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	if cfg.Logging.File != "" {
		logCfg.FilePath = cfg.Logging.File
	}
	logCleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return nil, nil, err
	}

	application, err := app.Init(cfg)
	if err != nil {
		logCleanup()
		return nil, nil, err
	}

	cleanup := func() {
		_ = application.Teardown(context.Background())
		logCleanup()
	}
	return application, cleanup, nil
}
