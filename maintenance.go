package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the domain database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.pg.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Schema applied")
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Check stale inventory once and mark removed items",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res := a.sweepWorker().RunOnce(cmd.Context())
		fmt.Printf("Checked %d, removed %d, errors %d\n", res.Checked, res.Removed, res.Errors)
		return nil
	},
}

var (
	runID    string
	runLimit int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Show a run's status and its log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		id, err := uuid.Parse(runID)
		if err != nil {
			return fmt.Errorf("invalid --id %q: %w", runID, err)
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		run, err := a.pg.GetRun(ctx, id)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", id)
		}
		fmt.Printf("Run %s (%s) for %s: %s\n", run.ID, run.Kind, run.CustomerID, run.Status)
		if run.ErrorMessage != "" {
			fmt.Printf("  %s\n", run.ErrorMessage)
		}
		if len(run.Metadata) > 0 {
			fmt.Printf("  %s\n", run.Metadata)
		}

		logs, err := a.ops.RunLogs(ctx, id.String(), runLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, l := range logs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.Timestamp.Format("15:04:05"), l.Level, l.Message, l.Fields)
		}
		return w.Flush()
	},
}

func init() {
	runCmd.Flags().StringVar(&runID, "id", "", "Run ID")
	runCmd.Flags().IntVar(&runLimit, "limit", 200, "Maximum log lines")
	_ = runCmd.MarkFlagRequired("id")

	rootCmd.AddCommand(migrateCmd, sweepCmd, runCmd)
}
