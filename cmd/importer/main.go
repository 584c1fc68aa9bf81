package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fastygo/opendatahub/internal/config"
	"github.com/fastygo/opendatahub/pkg/logger"
)

type cli struct {
	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand(&cli{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "importer",
		Short:         "Run tourism feed imports outside the API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if path, _ := cmd.Flags().GetString("feeds"); path != "" {
				cfg.Import.FeedsPath = path
			}
			zapLogger, err := logger.New(logger.Config{Level: cfg.Logger.Level, Encoding: cfg.Logger.Encoding, Service: "importer"})
			if err != nil {
				return err
			}
			c.cfg, c.logger = cfg, zapLogger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().String("feeds", "", "feed definition file (overrides IMPORT_FEEDS_PATH)")

	root.AddCommand(c.runCommand(), c.listCommand(), c.migrateCommand(), c.checkpointCommand(), c.bufferCommand())
	return root
}
