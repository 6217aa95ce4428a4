package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"adsync/ads"
	"adsync/config"
	"adsync/httputil"
	"adsync/jobs"
	"adsync/logging"
	"adsync/models"
	"adsync/publisher"
	"adsync/scheduler"
	"adsync/scraper"
	"adsync/services"
	"adsync/storage"
	"adsync/workers"
)

const (
	renderTimeout = 45 * time.Second
	jobLockTTL    = 15 * time.Minute
)

// app holds the process-wide dependencies shared by every command.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	logFile *logging.RotatingWriter
	clients *httputil.Clients
	pg      *storage.PostgresStore
	ops     *storage.SQLiteStore
	pubsub  *workers.PubSubQueue
	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, logFile, err := logging.New(logging.Options{Path: cfg.LogPath, Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}
	a := &app{cfg: cfg, log: log, logFile: logFile, clients: httputil.NewClients(&cfg.Proxy)}

	if cfg.DatabaseURL == "" {
		a.Close()
		return nil, errors.New("DATABASE_URL is required")
	}
	a.pg, err = storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connect to Postgres: %w", err)
	}
	log.WithField("db", maskConnectionString(cfg.DatabaseURL)).Info("connected to Postgres")

	a.ops, err = storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open SQLite: %w", err)
	}
	log.AddHook(logging.NewRunLogHook(a.ops))

	if cfg.Queue.Backend == "pubsub" {
		a.pubsub, err = workers.NewPubSubQueue(ctx, cfg.Queue, cfg.Concurrency, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to Pub/Sub: %w", err)
		}
	}

	log.WithFields(logrus.Fields{
		"queue":      cfg.Queue.Backend,
		"write_mode": cfg.Ads.WriteMode,
		"sites":      len(cfg.Sites),
	}).Info("adsync initialized")
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.log.WithError(err).Warn("closing Pub/Sub client")
		}
	}
	if a.ops != nil {
		a.ops.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}

func (a *app) enqueuer() workers.Enqueuer {
	if a.pubsub != nil {
		return a.pubsub
	}
	return a.ops
}

func (a *app) consumer() (workers.Consumer, int) {
	if a.pubsub != nil {
		// Pub/Sub fans out internally up to MaxOutstandingMessages.
		return a.pubsub, 1
	}
	return workers.NewSQLiteQueue(a.ops, a.cfg.Queue, a.log), a.cfg.Concurrency
}

func (a *app) scheduler() *scheduler.Scheduler {
	return scheduler.New(a.cfg, a.pg, a.enqueuer(), a.log)
}

func (a *app) sweepWorker() *workers.SweepWorker {
	return workers.NewSweepWorker(services.NewSweepService(a.pg), a.clients.Check, a.cfg.Sweep, a.log)
}

func (a *app) crawlHandler(ctx context.Context) (*scraper.CrawlOrchestrator, error) {
	fetcher := scraper.NewFetcher(a.clients.Scraping)
	renderer := scraper.NewRenderer(a.cfg.Crawl.Renderer, a.cfg.Crawl.RenderEnabled, renderTimeout, a.log)
	if renderer != nil {
		a.closers = append(a.closers, renderer.Close)
	}

	crawl := scraper.NewCrawlOrchestrator(a.cfg, a.pg, services.NewInventoryService(a.pg), fetcher, scraper.NewDiscoverer(fetcher, renderer, a.log))
	if a.cfg.Archive.Enabled() {
		archiver, err := storage.NewS3Archiver(ctx, a.cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("set up page archive: %w", err)
		}
		crawl.SetArchiver(archiver)
		a.log.WithField("bucket", a.cfg.Archive.Bucket).Info("raw page archiving enabled")
	}
	return crawl, nil
}

func (a *app) publishHandler() *publisher.Orchestrator {
	limiter := rate.NewLimiter(rate.Limit(a.cfg.Ads.RequestsPerSecond), 1)
	simulated := ads.NewSimulated()

	factory := func(conn *models.PlatformConnection) ads.Platform {
		if conn == nil {
			return simulated
		}
		return ads.NewClient(ads.ClientOptions{
			HTTP:    a.clients.API,
			BaseURL: a.cfg.Ads.APIBaseURL,
			Version: a.cfg.Ads.APIVersion,
			Token:   conn.AccessToken,
			Limiter: limiter,
		})
	}

	opts := publisher.Options{
		WriteMode:   a.cfg.Ads.WriteMode,
		PageID:      a.cfg.Ads.PageID,
		FallbackURL: a.cfg.Ads.FallbackURL,
	}
	return publisher.NewOrchestrator(opts, a.pg, services.NewBudgetDeriver(a.pg, a.cfg.Ads.MinDailyBudgetMinor), services.NewQAGate(), factory)
}

func (a *app) dispatcher(ctx context.Context) (*workers.Dispatcher, error) {
	crawl, err := a.crawlHandler(ctx)
	if err != nil {
		return nil, err
	}

	handlers := map[jobs.Type]jobs.Handler{
		jobs.TypeCrawl:   crawl,
		jobs.TypePublish: a.publishHandler(),
	}
	d := workers.NewDispatcher(jobs.NewLedger(a.pg), handlers, a.log)

	if a.cfg.RedisURL != "" {
		locker, err := storage.NewRedisLocker(ctx, a.cfg.RedisURL, a.cfg.LockWait)
		if err != nil {
			return nil, fmt.Errorf("connect to Redis: %w", err)
		}
		a.closers = append(a.closers, func() { locker.Close() })
		d.SetLocker(locker, jobLockTTL)
		a.log.Info("per-customer job locks enabled")
	}
	return d, nil
}
