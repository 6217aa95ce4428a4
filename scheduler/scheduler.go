// Package scheduler creates runs and enqueues their jobs, either on a
// cron schedule or on demand.
package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"adsync/config"
	"adsync/jobs"
	"adsync/models"
)

const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
)

// Store creates run rows and lists the sources to crawl.
type Store interface {
	jobs.RunStore
	CreateRun(ctx context.Context, run *models.Run) error
	ListActiveSources(ctx context.Context) ([]models.InventorySource, error)
}

// Queue accepts new jobs.
type Queue interface {
	Enqueue(ctx context.Context, job *jobs.Job) error
}

type Scheduler struct {
	cfg    *config.Config
	store  Store
	ledger *jobs.Ledger
	queue  Queue
	cron   *cron.Cron
	log    logrus.FieldLogger
}

func New(cfg *config.Config, store Store, queue Queue, log logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		store:  store,
		ledger: jobs.NewLedger(store),
		queue:  queue,
		cron:   cron.New(),
		log:    log.WithField("component", "scheduler"),
	}
}

// Start registers the crawl schedule. Without CRAWL_CRON only on-demand
// enqueueing is available.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Scheduler.Cron == "" {
		s.log.Info("no crawl schedule configured")
		return nil
	}

	s.log.WithField("cron", s.cfg.Scheduler.Cron).Info("starting crawl schedule")
	_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
		if _, err := s.EnqueueAllCrawls(ctx, TriggerSchedule); err != nil {
			s.log.WithError(err).Error("scheduled crawl enqueue failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Run starts the schedule and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// EnqueueAllCrawls enqueues one crawl per active source. A failure for
// one customer does not stop the others.
func (s *Scheduler) EnqueueAllCrawls(ctx context.Context, trigger string) (int, error) {
	sources, err := s.store.ListActiveSources(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active sources: %w", err)
	}

	enqueued := 0
	for _, src := range sources {
		payload := jobs.CrawlPayload{SiteID: src.SiteID}
		if _, err := s.EnqueueCrawl(ctx, src.CustomerID, trigger, payload); err != nil {
			s.log.WithError(err).WithField("customer_id", src.CustomerID).Error("crawl enqueue failed")
			continue
		}
		enqueued++
	}

	s.log.WithFields(logrus.Fields{"sources": len(sources), "enqueued": enqueued}).Info("crawls enqueued")
	return enqueued, nil
}

func (s *Scheduler) EnqueueCrawl(ctx context.Context, customerID uuid.UUID, trigger string, payload jobs.CrawlPayload) (*models.Run, error) {
	return s.enqueue(ctx, models.RunKindCrawl, jobs.TypeCrawl, customerID, trigger, payload)
}

func (s *Scheduler) EnqueuePublish(ctx context.Context, customerID uuid.UUID, trigger string) (*models.Run, error) {
	return s.enqueue(ctx, models.RunKindAds, jobs.TypePublish, customerID, trigger, jobs.PublishPayload{Trigger: trigger})
}

// enqueue creates the queued run first so the job always references an
// existing run. A run whose job never reached the queue is marked failed.
func (s *Scheduler) enqueue(ctx context.Context, kind models.RunKind, jobType jobs.Type, customerID uuid.UUID, trigger string, payload any) (*models.Run, error) {
	run := &models.Run{
		ID:         uuid.New(),
		Kind:       kind,
		CustomerID: customerID,
		Trigger:    trigger,
		Status:     models.RunStatusQueued,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	job, err := jobs.Encode(jobType, customerID, run.ID, payload)
	if err == nil {
		err = s.queue.Enqueue(ctx, job)
	}
	if err != nil {
		msg := fmt.Sprintf("The %s job could not be queued: %v", jobType, err)
		if ferr := s.ledger.Fail(context.WithoutCancel(ctx), run, msg, nil); ferr != nil {
			s.log.WithError(ferr).WithField("run_id", run.ID).Error("could not mark unqueued run failed")
		}
		return nil, fmt.Errorf("enqueue %s job: %w", jobType, err)
	}

	s.log.WithFields(logrus.Fields{
		"run_id":      run.ID,
		"customer_id": customerID,
		"job_type":    jobType,
		"trigger":     trigger,
	}).Info("job enqueued")
	return run, nil
}
