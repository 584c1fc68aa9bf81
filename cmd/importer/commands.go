package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fastygo/opendatahub/internal/app"
	"github.com/fastygo/opendatahub/internal/infrastructure/buffer"
	pgInfra "github.com/fastygo/opendatahub/internal/infrastructure/postgres"
	"github.com/fastygo/opendatahub/internal/services/lifecycle"
	"github.com/fastygo/opendatahub/usecase/importer"
)

func (c *cli) runCommand() *cobra.Command {
	var opts importer.RunOptions
	var all bool
	cmd := &cobra.Command{
		Use:   "run [feed...]",
		Short: "Import one or more feeds now",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("name at least one feed or pass --all")
			}
			if opts.ID != "" && len(args) != 1 {
				return fmt.Errorf("--id needs exactly one feed")
			}

			manager := lifecycle.New(c.cfg.Context.ShutdownTimeout, c.logger)
			defer func() {
				if err := manager.Shutdown(context.Background()); err != nil {
					c.logger.Error("shutdown error", zap.Error(err))
				}
			}()
			a, err := app.Build(cmd.Context(), c.cfg, c.logger, manager)
			if err != nil {
				return err
			}
			if all {
				args = a.Dispatcher.Names()
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			var failed int
			for _, name := range args {
				out, err := a.Dispatcher.Execute(cmd.Context(), name, opts)
				if err != nil {
					failed++
					c.logger.Error("import failed", zap.String("feed", name), zap.Error(err))
					continue
				}
				if err := enc.Encode(out); err != nil {
					return err
				}
			}
			// buffered writes are replayed before the process exits
			if err := a.BufferProcessor.Drain(cmd.Context()); err != nil {
				c.logger.Warn("buffer drain failed", zap.Error(err))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d feeds failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "import a single upstream record")
	cmd.Flags().BoolVar(&opts.Full, "full", false, "ignore the delta checkpoint")
	cmd.Flags().BoolVar(&all, "all", false, "run every configured feed")
	return cmd
}

func (c *cli) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured feeds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			feeds, err := importer.LoadFeeds(c.cfg.Import.FeedsPath)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tENTITY\tSOURCE\tMODE\tDELETE\tSCHEDULE")
			for _, f := range feeds {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", f.Name, f.Entity, f.Source, f.Mode, f.DeletePolicy, f.Schedule)
			}
			return w.Flush()
		},
	}
}

func (c *cli) migrateCommand() *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations, or roll back with --down",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if down > 0 {
				return pgInfra.RollbackMigrations(c.cfg, down, c.logger)
			}
			cfg := *c.cfg
			cfg.Migrations.Enabled = true
			return pgInfra.RunMigrations(&cfg, c.logger)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "number of migrations to roll back")
	return cmd
}

func (c *cli) checkpointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or reset delta checkpoints",
	}
	open := func() (*buffer.Store, error) {
		return buffer.Open(c.cfg.Buffer.Path, "buffer")
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <feed>",
		Short: "Print the last successful run of a feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			at, err := store.Checkpoint(args[0])
			if err != nil {
				return err
			}
			if at.IsZero() {
				fmt.Fprintln(cmd.OutOrStdout(), "none")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), at.UTC().Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}, &cobra.Command{
		Use:   "reset <feed>",
		Short: "Forget the checkpoint so the next run is a full import",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.ResetCheckpoint(args[0]); err != nil {
				return err
			}
			c.logger.Info("checkpoint reset", zap.String("feed", args[0]))
			return nil
		},
	})
	return cmd
}

func (c *cli) bufferCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buffer",
		Short: "Inspect or purge document writes parked while Postgres was down",
	}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List parked writes, next to replay first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := buffer.Open(c.cfg.Buffer.Path, "buffer")
			if err != nil {
				return err
			}
			defer store.Close()
			items, err := store.GetBatch(limit)
			if err != nil {
				return err
			}
			size, err := store.Size()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TABLE\tDOCUMENT\tOPERATION\tRETRIES\tPARKED")
			for _, it := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", it.Table, it.DocumentID, it.Operation, it.Retries, it.Timestamp.UTC().Format(time.RFC3339))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d shown\n", len(items), size)
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of writes to show")

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Drop parked writes older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			store, err := buffer.Open(c.cfg.Buffer.Path, "buffer")
			if err != nil {
				return err
			}
			defer store.Close()
			dropped, err := store.Cleanup(time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			c.logger.Info("buffer purged", zap.Int("dropped", dropped), zap.Duration("older_than", olderThan))
			return nil
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "age of the writes to drop")

	cmd.AddCommand(list, purge)
	return cmd
}
