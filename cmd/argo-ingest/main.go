package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/oceanquery/argo-ingest/internal/config"
	"github.com/oceanquery/argo-ingest/internal/db"
	"github.com/oceanquery/argo-ingest/internal/ingest"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "argo-ingest",
		Short:         "Ingest Argo oceanographic profile files into PostgreSQL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newIngestCmd(),
		newIngestFileCmd(),
		newResumeCmd(),
		newStatsCmd(),
		newOptimizeCmd(),
	)
	return root
}

// setup loads configuration, configures logging, connects the store, and
// wires the service. The caller must Close the store.
func setup(ctx context.Context) (*ingest.Service, *db.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	store, err := db.New(ctx, cfg.DatabaseURL, cfg.ConnectionPoolSize, cfg.BatchSize)
	if err != nil {
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	txm := db.NewTxManager(store.Pool(), cfg.MaxRetries, cfg.RetryDelay, cfg.ExponentialBackoff)
	service := ingest.New(cfg, ingest.NewPersister(store, txm))
	return service, store, nil
}

func newIngestCmd() *cobra.Command {
	var patterns []string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "ingest [directory]",
		Short: "Ingest all matching profile files from a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			service, store, err := setup(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			directory := ""
			if len(args) == 1 {
				directory = args[0]
			}

			summary, err := service.IngestDirectory(ctx, directory, patterns, dryRun)
			if err != nil {
				return err
			}
			if err := printJSON(summary); err != nil {
				return err
			}
			if summary.FilesFailed > 0 {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&patterns, "pattern", nil, "glob pattern to match (repeatable, defaults to configured patterns)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and validate without writing to the database")
	return cmd
}

func newIngestFileCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "ingest-file <path>",
		Short: "Ingest a single profile file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			service, store, err := setup(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			result := service.IngestFile(ctx, args[0], dryRun)
			if err := printJSON(result); err != nil {
				return err
			}
			if !result.Success {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and validate without writing to the database")
	return cmd
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [directory]",
		Short: "Reprocess only files whose last ingestion did not succeed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			service, store, err := setup(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			directory := ""
			if len(args) == 1 {
				directory = args[0]
			}

			summary, err := service.Resume(ctx, directory, false)
			if err != nil {
				return err
			}
			if err := printJSON(summary); err != nil {
				return err
			}
			if summary.FilesFailed > 0 {
				os.Exit(1)
			}
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Report ingestion and database statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			service, store, err := setup(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := service.Statistics(ctx)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}

func newOptimizeCmd() *cobra.Command {
	var cleanupDays int

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Run database maintenance and clean up old ingestion logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			service, store, err := setup(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			results, err := service.CleanupAndOptimize(ctx, cleanupDays)
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}

	cmd.Flags().IntVar(&cleanupDays, "cleanup-days", 30, "remove ingestion log entries older than this many days")
	return cmd
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
