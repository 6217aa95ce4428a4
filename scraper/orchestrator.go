package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"adsync/config"
	"adsync/identity"
	"adsync/jobs"
	"adsync/models"
	"adsync/services"
)

const (
	DefaultLimit     = 50
	maxSummaryErrors = 5
)

// SourceStore is the slice of the domain store a crawl reads and writes.
type SourceStore interface {
	GetActiveSource(ctx context.Context, customerID uuid.UUID) (*models.InventorySource, error)
	MarkSourceCrawled(ctx context.Context, sourceID uuid.UUID, at time.Time) error
}

// ItemUpserter stores one extracted item idempotently.
type ItemUpserter interface {
	Upsert(ctx context.Context, item *models.InventoryItem) (*services.UpsertResult, error)
}

// PageArchiver keeps a copy of raw detail pages.
type PageArchiver interface {
	ArchivePage(ctx context.Context, customerID uuid.UUID, externalID, html string) error
}

// CrawlOrchestrator runs one crawl job: discovery, then sequential
// per-item fetch, extract and upsert.
type CrawlOrchestrator struct {
	cfg        *config.Config
	sources    SourceStore
	inventory  ItemUpserter
	fetcher    PageFetcher
	discoverer *Discoverer
	archiver   PageArchiver
	now        func() time.Time
}

func NewCrawlOrchestrator(cfg *config.Config, sources SourceStore, inventory ItemUpserter, fetcher PageFetcher, discoverer *Discoverer) *CrawlOrchestrator {
	return &CrawlOrchestrator{
		cfg:        cfg,
		sources:    sources,
		inventory:  inventory,
		fetcher:    fetcher,
		discoverer: discoverer,
		now:        time.Now,
	}
}

// SetArchiver enables raw page archiving.
func (o *CrawlOrchestrator) SetArchiver(a PageArchiver) {
	o.archiver = a
}

func (o *CrawlOrchestrator) Handle(ctx context.Context, job *jobs.Job, run *models.Run, log logrus.FieldLogger) (*jobs.Outcome, error) {
	payload, err := job.DecodeCrawlPayload()
	if err != nil {
		return nil, err
	}

	source, err := o.sources.GetActiveSource(ctx, run.CustomerID)
	if err != nil {
		return nil, jobs.Wrap(jobs.KindInternal, "could not load the inventory source", err)
	}
	if source == nil {
		return nil, jobs.Failf(jobs.KindMissingPrerequisite,
			"No active inventory source is configured. Add your catalog website under inventory settings and run the crawl again.")
	}

	rootURL := source.RootURL
	if payload.RootURL != "" {
		rootURL = payload.RootURL
	}
	root, err := url.Parse(rootURL)
	if err != nil || root.Host == "" {
		return nil, jobs.Failf(jobs.KindValidation, "The catalog address %q is not a valid URL.", rootURL)
	}

	siteID := payload.SiteID
	if siteID == "" {
		siteID = source.SiteID
	}
	site := o.cfg.Site(siteID)

	limit := payload.Limit
	if limit <= 0 {
		limit = o.cfg.Crawl.DefaultLimit
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	log = log.WithFields(logrus.Fields{"site": site.ID, "root": root.String()})
	log.WithField("limit", limit).Info("crawl started")

	discovery, err := o.discoverer.Discover(ctx, site, root, limit)
	if err != nil {
		return nil, jobs.Wrap(jobs.KindInternal, fmt.Sprintf("Could not fetch the catalog at %s.", root), err)
	}

	summary := &models.CrawlSummaryV1{
		Discovered: len(discovery.URLs),
		Strategies: discovery.Strategies,
	}
	log.WithFields(logrus.Fields{
		"discovered": summary.Discovered,
		"strategies": strings.Join(discovery.Strategies, ","),
	}).Info("discovery finished")

	candidates := discovery.URLs
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	limiter := rate.NewLimiter(rate.Every(o.delay(site)), 1)

	for _, pageURL := range candidates {
		if err := limiter.Wait(ctx); err != nil {
			return nil, jobs.Wrap(jobs.KindInternal, "crawl interrupted", err)
		}
		summary.Attempted++

		result, err := o.crawlItem(ctx, source, site, pageURL, log)
		if err != nil {
			var storeErr *storeError
			if errors.As(err, &storeErr) {
				return nil, jobs.Wrap(jobs.KindInternal, "could not save inventory", storeErr.err)
			}
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", pageURL, err))
			log.WithError(err).WithField("url", pageURL).Warn("item failed")
			continue
		}
		if result.Inserted {
			summary.Inserted++
		} else {
			summary.Updated++
		}
		if result.Relisted {
			summary.Relisted++
		}
		if result.PriceChanged {
			summary.PriceChanged++
		}
	}

	finished := o.now()
	if err := o.sources.MarkSourceCrawled(ctx, source.ID, finished); err != nil {
		return nil, jobs.Wrap(jobs.KindInternal, "could not update the inventory source", err)
	}
	summary.FinishedAt = &finished

	log.WithFields(logrus.Fields{
		"inserted":      summary.Inserted,
		"updated":       summary.Updated,
		"relisted":      summary.Relisted,
		"price_changed": summary.PriceChanged,
		"failed":        summary.Failed,
	}).Info("crawl finished")

	return &jobs.Outcome{
		Message:  errorSummary(summary),
		Metadata: summary.Encode(),
	}, nil
}

type storeError struct{ err error }

func (e *storeError) Error() string { return e.err.Error() }

func (o *CrawlOrchestrator) crawlItem(ctx context.Context, source *models.InventorySource, site *config.SiteConfig, pageURL string, log logrus.FieldLogger) (*services.UpsertResult, error) {
	html, err := o.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	details, err := ExtractDetail(html, pageURL, site.Currency, log.WithField("url", pageURL))
	if err != nil {
		return nil, err
	}

	encoded, err := details.Encode()
	if err != nil {
		return nil, err
	}

	externalID := identity.ExternalID(pageURL)
	item := &models.InventoryItem{
		CustomerID: source.CustomerID,
		SourceID:   source.ID,
		ExternalID: externalID,
		Title:      details.Title.Value,
		URL:        pageURL,
		Price:      details.Price.Value,
		Details:    encoded,
	}

	result, err := o.inventory.Upsert(ctx, item)
	if err != nil {
		return nil, &storeError{err: err}
	}
	if result.PriceChanged {
		log.WithFields(logrus.Fields{
			"url":            pageURL,
			"previous_price": result.PreviousPrice,
			"price":          item.Price,
		}).Info("price changed")
	}

	if o.archiver != nil {
		if err := o.archiver.ArchivePage(ctx, source.CustomerID, externalID, html); err != nil {
			log.WithError(err).WithField("url", pageURL).Warn("archive failed")
		}
	}
	return result, nil
}

func (o *CrawlOrchestrator) delay(site *config.SiteConfig) time.Duration {
	ms := o.cfg.Crawl.DelayMS
	if site.RateLimitMS > 0 {
		ms = site.RateLimitMS
	}
	if ms <= 0 {
		return time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

func errorSummary(s *models.CrawlSummaryV1) string {
	if s.Failed == 0 {
		return ""
	}
	shown := s.Errors
	if len(shown) > maxSummaryErrors {
		shown = shown[:maxSummaryErrors]
	}
	msg := fmt.Sprintf("%d of %d items failed: %s", s.Failed, s.Attempted, strings.Join(shown, "; "))
	if len(s.Errors) > len(shown) {
		msg += fmt.Sprintf(" (and %d more)", len(s.Errors)-len(shown))
	}
	return msg
}
