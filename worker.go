package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"adsync/workers"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume crawl and publish jobs",
	Long: `Run job consumers alongside the crawl schedule and the stale inventory sweep until interrupted.

Send SIGHUP to start a sweep pass without waiting for the next interval.`,
	RunE: runWorker,
}

var (
	workerNoSweep     bool
	workerNoScheduler bool
)

func init() {
	workerCmd.Flags().BoolVar(&workerNoSweep, "no-sweep", false, "Do not run the stale inventory sweep")
	workerCmd.Flags().BoolVar(&workerNoScheduler, "no-scheduler", false, "Do not enqueue scheduled crawls")

	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	dispatcher, err := a.dispatcher(ctx)
	if err != nil {
		return err
	}

	consumer, n := a.consumer()
	pool := workers.NewPool(consumer, dispatcher, n, a.log)
	if !workerNoScheduler {
		pool.Add(a.scheduler().Run)
	}
	if !workerNoSweep {
		sweeper := a.sweepWorker()
		pool.Add(sweeper.Run)
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		pool.Add(func(ctx context.Context) error {
			triggerOnSignal(ctx, hup, sweeper.Trigger)
			return nil
		})
	}

	a.log.WithField("workers", n).Info("worker running, press Ctrl+C to stop")
	err = pool.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.log.Info("worker stopped")
	return err
}

// triggerOnSignal calls trigger for every signal received until ctx is done.
func triggerOnSignal(ctx context.Context, sigs <-chan os.Signal, trigger func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			trigger()
		}
	}
}
