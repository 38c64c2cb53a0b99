package main

import (
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/cafepos/cafepos/internal/app"
	"github.com/cafepos/cafepos/jobs"
)

var jobAliases = map[string]string{
	"availability-refresh": jobs.TaskAvailabilityRefresh,
	"low-stock-scan":       jobs.TaskLowStockScan,
}

func (c *cli) newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "trigger <availability-refresh|low-stock-scan>",
		Short:     "Enqueue a job for immediate processing",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"availability-refresh", "low-stock-scan"},
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if task, ok := jobAliases[name]; ok {
				name = task
			}
			if name != jobs.TaskAvailabilityRefresh && name != jobs.TaskLowStockScan {
				return fmt.Errorf("%w: %q", jobs.ErrUnknownTask, args[0])
			}
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
			if err != nil {
				return err
			}
			defer client.Close()
			info, err := client.Enqueue(cmd.Context(), name)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue})
			}
			_, err = fmt.Fprintf(c.stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show queue depth for the default queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
			defer inspector.Close()
			stats, err := jobs.Stats(inspector)
			if err != nil {
				return errors.Join(errors.New("inspect queue"), err)
			}
			if c.jsonOut {
				return c.printJSON(stats)
			}
			_, err = fmt.Fprintf(c.stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
			return err
		},
	})
	return cmd
}
