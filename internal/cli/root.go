// Package cli is the orgregistry command tree.
package cli

import (
	"context"
	"fmt"
	"os"

	"orgregistry/internal/api/routes"
	"orgregistry/internal/config"
	"orgregistry/internal/logging"
	"orgregistry/internal/models"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "orgregistry",
		Short:         "Organization registry server",
		Long:          "Access-controlled organization registry with an audit trail.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the configuration file")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newSeedCmd(&configPath),
		newUserCmd(&configPath),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "orgregistry %s (%s)\n", version, commit)
		},
	}
}

// app is what every command needs once the configuration is loaded.
type app struct {
	cfg *config.Config
	db  *gorm.DB
	svc *routes.Services
}

func (rt *app) Close() {
	if sqlDB, err := rt.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func open(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	db, err := models.InitDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &app{cfg: cfg, db: db, svc: routes.NewServices(db, cfg)}, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
