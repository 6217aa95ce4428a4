package workers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"adsync/config"
	"adsync/services"
)

const (
	userAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxCheckBody = 512 * 1024
)

var removedIndicators = []string{
	"bilen är såld",
	"fordonet är sålt",
	"annonsen finns inte längre",
	"annonsen har tagits bort",
	"sidan kunde inte hittas",
	"this listing is no longer available",
	"vehicle has been sold",
}

var removedRedirects = []string{
	"/sok",
	"/search",
	"notfound",
	"404",
	"/error",
}

// SweepWorker re-checks inventory items that recent crawls did not see
// and marks the ones that are gone as removed.
type SweepWorker struct {
	sweep     *services.SweepService
	client    *http.Client
	cfg       config.SweepConfig
	limiter   *rate.Limiter
	triggerCh chan struct{}
	log       logrus.FieldLogger
}

// NewSweepWorker takes a client that does not follow redirects.
func NewSweepWorker(sweep *services.SweepService, client *http.Client, cfg config.SweepConfig, log logrus.FieldLogger) *SweepWorker {
	return &SweepWorker{
		sweep:     sweep,
		client:    client,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		triggerCh: make(chan struct{}, 1),
		log:       log.WithField("worker", "sweep"),
	}
}

// Trigger causes the worker to run immediately.
func (w *SweepWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// CheckResult is the outcome of checking one item URL.
type CheckResult struct {
	Live       bool
	StatusCode int
	Err        error
}

// Check tries a HEAD request and falls back to GET when HEAD errors or is
// refused.
func (w *SweepWorker) Check(ctx context.Context, itemURL string) CheckResult {
	result := w.check(ctx, http.MethodHead, itemURL)
	if result.Err == nil && result.StatusCode != http.StatusMethodNotAllowed {
		return result
	}
	return w.check(ctx, http.MethodGet, itemURL)
}

func (w *SweepWorker) check(ctx context.Context, method, itemURL string) CheckResult {
	req, err := http.NewRequestWithContext(ctx, method, itemURL, nil)
	if err != nil {
		return CheckResult{Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := w.client.Do(req)
	if err != nil {
		return CheckResult{Err: err}
	}
	defer resp.Body.Close()

	result := CheckResult{StatusCode: resp.StatusCode, Live: true}
	switch resp.StatusCode {
	case http.StatusOK:
		if method == http.MethodGet {
			body, err := io.ReadAll(io.LimitReader(resp.Body, maxCheckBody))
			if err == nil && isRemovedPage(string(body)) {
				result.Live = false
			}
		}
	case http.StatusNotFound, http.StatusGone:
		result.Live = false
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		result.Live = !isRemovedRedirect(resp.Header.Get("Location"))
	}
	return result
}

func isRemovedPage(html string) bool {
	lower := strings.ToLower(html)
	for _, indicator := range removedIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

func isRemovedRedirect(location string) bool {
	lower := strings.ToLower(location)
	for _, pattern := range removedRedirects {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// Run sweeps on every interval tick and on Trigger.
func (w *SweepWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("sweep worker stopping")
			return nil
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-w.triggerCh:
			w.log.Info("sweep worker triggered manually")
			w.RunOnce(ctx)
		}
	}
}

// SweepResult counts what one batch did.
type SweepResult struct {
	Checked int
	Removed int
	Errors  int
}

// RunOnce checks one batch of stale items.
func (w *SweepWorker) RunOnce(ctx context.Context) SweepResult {
	var res SweepResult

	items, err := w.sweep.StaleItems(ctx, w.cfg.StaleAfter, w.cfg.BatchSize)
	if err != nil {
		w.log.WithError(err).Error("stale item query failed")
		return res
	}
	if len(items) == 0 {
		return res
	}

	w.log.WithField("items", len(items)).Info("checking stale items")

	for i := range items {
		item := &items[i]
		if item.URL == "" {
			continue
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return res
		}

		result := w.Check(ctx, item.URL)
		res.Checked++
		log := w.log.WithFields(logrus.Fields{"url": item.URL, "item_id": item.ID})

		switch {
		case result.Err != nil:
			// unreachable hosts are retried next sweep, not removed
			res.Errors++
			log.WithError(result.Err).Warn("check failed")
		case !result.Live:
			if err := w.sweep.MarkRemoved(ctx, item); err != nil {
				res.Errors++
				log.WithError(err).Error("failed to mark item removed")
				continue
			}
			res.Removed++
			log.WithField("status", result.StatusCode).Info("item removed from catalog")
		default:
			if err := w.sweep.MarkChecked(ctx, item); err != nil {
				res.Errors++
				log.WithError(err).Error("failed to record check")
			}
		}
	}

	w.log.WithFields(logrus.Fields{
		"checked": res.Checked,
		"removed": res.Removed,
		"errors":  res.Errors,
	}).Info("sweep finished")
	return res
}
