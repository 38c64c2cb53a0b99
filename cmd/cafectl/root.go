package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cafepos/cafepos/internal/app"
)

// cli carries the shared flags and writers for every subcommand.
type cli struct {
	stdout  io.Writer
	stderr  io.Writer
	jsonOut bool
	verbose bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "cafectl",
		Short:         "Operate the cafepos inventory engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print JSON instead of a table")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log service activity to stderr")

	root.AddCommand(c.newSeedCmd(), c.newResolveCmd(), c.newCheckCmd(), c.newJobsCmd())
	return root
}

func (c *cli) logger() *slog.Logger {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: level}))
}

// open loads configuration and builds services, applying CATALOG_SEED_PATH when set.
func (c *cli) open(ctx context.Context) (*app.Config, *app.Services, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := c.logger()
	svc, err := app.BuildServices(ctx, cfg, logger, nil)
	if err != nil {
		return nil, nil, err
	}
	if err := svc.SeedCatalog(ctx, logger); err != nil {
		_ = svc.Close()
		return nil, nil, err
	}
	return cfg, svc, nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
