package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"adsync/jobs"
	"adsync/scheduler"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Create a run and enqueue its job",
}

var enqueueCrawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Enqueue a catalog crawl",
	Long:  "Enqueue a crawl for one customer, or for every customer with an active inventory source when --all is given.",
	RunE:  runEnqueueCrawl,
}

var enqueuePublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Enqueue an ads publish",
	RunE:  runEnqueuePublish,
}

var (
	enqueueCustomer string
	enqueueAll      bool
	enqueueRootURL  string
	enqueueLimit    int
	enqueueSite     string
)

func init() {
	enqueueCrawlCmd.Flags().StringVar(&enqueueCustomer, "customer", "", "Customer ID")
	enqueueCrawlCmd.Flags().BoolVar(&enqueueAll, "all", false, "Enqueue a crawl for every active inventory source")
	enqueueCrawlCmd.Flags().StringVar(&enqueueRootURL, "root", "", "Override the source root URL")
	enqueueCrawlCmd.Flags().IntVar(&enqueueLimit, "limit", 0, "Maximum items to crawl (default from CRAWL_DEFAULT_LIMIT)")
	enqueueCrawlCmd.Flags().StringVar(&enqueueSite, "site", "", "Site config ID")

	enqueuePublishCmd.Flags().StringVar(&enqueueCustomer, "customer", "", "Customer ID")
	_ = enqueuePublishCmd.MarkFlagRequired("customer")

	enqueueCmd.AddCommand(enqueueCrawlCmd, enqueuePublishCmd)
	rootCmd.AddCommand(enqueueCmd)
}

func parseCustomer() (uuid.UUID, error) {
	id, err := uuid.Parse(enqueueCustomer)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --customer %q: %w", enqueueCustomer, err)
	}
	return id, nil
}

func runEnqueueCrawl(cmd *cobra.Command, _ []string) error {
	if enqueueAll == (enqueueCustomer != "") {
		return errors.New("provide exactly one of --customer or --all")
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := a.scheduler()
	if enqueueAll {
		n, err := sched.EnqueueAllCrawls(ctx, scheduler.TriggerManual)
		if err != nil {
			return err
		}
		fmt.Printf("Enqueued %d crawls\n", n)
		return nil
	}

	customerID, err := parseCustomer()
	if err != nil {
		return err
	}
	payload := jobs.CrawlPayload{RootURL: enqueueRootURL, Limit: enqueueLimit, SiteID: enqueueSite}
	run, err := sched.EnqueueCrawl(ctx, customerID, scheduler.TriggerManual, payload)
	if err != nil {
		return err
	}
	fmt.Printf("Enqueued crawl run %s\n", run.ID)
	return nil
}

func runEnqueuePublish(cmd *cobra.Command, _ []string) error {
	customerID, err := parseCustomer()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.scheduler().EnqueuePublish(ctx, customerID, scheduler.TriggerManual)
	if err != nil {
		return err
	}
	fmt.Printf("Enqueued publish run %s\n", run.ID)
	return nil
}
