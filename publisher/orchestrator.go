// Package publisher turns approved inventory into paused platform ad
// objects through a checkpointed, compensating sequence of steps.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"adsync/ads"
	"adsync/config"
	"adsync/jobs"
	"adsync/models"
	"adsync/services"
)

const (
	// AdsPerPublish caps how many items get a creative and ad per run.
	AdsPerPublish = 2
	// DesiredItems is how many projected items a run selects.
	DesiredItems = 10
	// candidatePool is how many recent items are read to find DesiredItems.
	candidatePool = 50

	StepValidating = "validating"
	StepCampaign   = "creating-campaign"
	StepAdSet      = "creating-adset"
	StepCreative   = "creating-creative-and-ad"
	StepSuccess    = "success"

	simulatedAccount = "simulated"
	defaultCountry   = "SE"
)

// Store is the slice of the domain store a publish run uses.
type Store interface {
	GetAdSettings(ctx context.Context, customerID uuid.UUID) (*models.AdSettings, error)
	GetPlatformConnection(ctx context.Context, customerID uuid.UUID) (*models.PlatformConnection, error)
	HasApprovedTemplate(ctx context.Context, customerID uuid.UUID) (bool, error)
	HasPreview(ctx context.Context, customerID uuid.UUID) (bool, error)
	RecentItemsWithDetails(ctx context.Context, customerID uuid.UUID, limit int) ([]models.InventoryItem, error)
	GetExternalAdObjects(ctx context.Context, customerID uuid.UUID) (*models.ExternalAdObjects, error)
	UpsertExternalAdObjects(ctx context.Context, objects *models.ExternalAdObjects) error
	MarkAdSettingsPublished(ctx context.Context, customerID uuid.UUID, at time.Time) error
	MarkAdSettingsError(ctx context.Context, customerID uuid.UUID, message string) error
}

// Budgets derives the daily budget for a customer.
type Budgets interface {
	Budget(ctx context.Context, customerID uuid.UUID) (*services.Budget, error)
}

// PlatformFactory returns the platform to write to for a connection. conn
// is nil in simulated mode when no connection exists.
type PlatformFactory func(conn *models.PlatformConnection) ads.Platform

type Options struct {
	WriteMode   config.WriteMode
	PageID      string
	FallbackURL string
}

type Orchestrator struct {
	opts        Options
	store       Store
	budgets     Budgets
	qa          *services.QAGate
	newPlatform PlatformFactory
	now         func() time.Time
}

func NewOrchestrator(opts Options, store Store, budgets Budgets, qa *services.QAGate, newPlatform PlatformFactory) *Orchestrator {
	return &Orchestrator{
		opts:        opts,
		store:       store,
		budgets:     budgets,
		qa:          qa,
		newPlatform: newPlatform,
		now:         time.Now,
	}
}

// publishRun carries the state of one Handle call.
type publishRun struct {
	customerID uuid.UUID
	accountID  string
	settings   *models.AdSettings
	platform   ads.Platform
	checkpoint *models.ExternalAdObjects
	meta       *models.PublishMetadataV1
	log        logrus.FieldLogger
}

func (o *Orchestrator) Handle(ctx context.Context, job *jobs.Job, run *models.Run, log logrus.FieldLogger) (*jobs.Outcome, error) {
	p := &publishRun{
		customerID: run.CustomerID,
		meta:       &models.PublishMetadataV1{Mode: string(o.opts.WriteMode)},
		log:        log.WithField("step", StepValidating),
	}

	if o.opts.WriteMode == config.WriteModeDisabled {
		return nil, jobs.Failf(jobs.KindConfig,
			"Publishing to the ad platform is disabled on this server (ADS_WRITE_MODE=disabled).")
	}

	if err := o.validate(ctx, p); err != nil {
		return nil, o.withMetadata(err, p)
	}

	budget, err := o.budgets.Budget(ctx, p.customerID)
	if err != nil {
		return nil, o.withMetadata(err, p)
	}
	p.meta.DailyBudget = budget.DailyMinor

	items, err := o.selectItems(ctx, p)
	if err != nil {
		return nil, o.withMetadata(err, p)
	}

	p.checkpoint, err = o.store.GetExternalAdObjects(ctx, p.customerID)
	if err != nil {
		return nil, jobs.Wrap(jobs.KindInternal, "could not load the publish checkpoint", err)
	}
	if p.checkpoint == nil {
		p.checkpoint = &models.ExternalAdObjects{CustomerID: p.customerID, Status: "pending"}
	}

	if _, err := p.platform.GetAccount(ctx, p.accountID); err != nil {
		return nil, o.platformFailure(err, p)
	}

	if err := o.ensureCampaignAndAdSet(ctx, p, budget); err != nil {
		return nil, o.withMetadata(err, p)
	}

	if err := o.createAds(ctx, p, items); err != nil {
		return nil, o.withMetadata(err, p)
	}

	now := o.now()
	p.checkpoint.Status = "active"
	p.checkpoint.LastPublishStep = StepSuccess
	p.checkpoint.LastPublishError = ""
	if err := o.saveCheckpoint(ctx, p); err != nil {
		return nil, o.withMetadata(err, p)
	}
	if err := o.store.MarkAdSettingsPublished(ctx, p.customerID, now); err != nil {
		return nil, jobs.Wrap(jobs.KindInternal, "could not mark ad settings as published", err)
	}

	p.log.WithFields(logrus.Fields{
		"step":        StepSuccess,
		"campaign_id": p.meta.CampaignID,
		"ads":         len(p.meta.AdIDs),
	}).Info("publish finished")

	return &jobs.Outcome{
		Message:  itemErrorSummary(p.meta),
		Metadata: p.meta.Encode(),
	}, nil
}

// validate runs every precondition before any platform call.
func (o *Orchestrator) validate(ctx context.Context, p *publishRun) error {
	settings, err := o.store.GetAdSettings(ctx, p.customerID)
	if err != nil {
		return jobs.Wrap(jobs.KindInternal, "could not load ad settings", err)
	}
	p.settings = settings

	var conn *models.PlatformConnection
	if o.opts.WriteMode == config.WriteModeReal || o.opts.WriteMode == config.WriteModeSimulated {
		conn, err = o.store.GetPlatformConnection(ctx, p.customerID)
		if err != nil {
			return jobs.Wrap(jobs.KindInternal, "could not load the platform connection", err)
		}
	}

	checks := []jobs.Check{
		checkSettings(settings),
		func(ctx context.Context) jobs.Verdict { return checkGeo(settings)(ctx) },
		func(ctx context.Context) jobs.Verdict { return checkFormats(settings)(ctx) },
	}
	if o.opts.WriteMode == config.WriteModeReal {
		checks = append(checks, checkConnection(conn))
	}
	checks = append(checks,
		o.lookup(p, o.store.HasApprovedTemplate, checkApproval),
		o.lookup(p, o.store.HasPreview, checkPreview),
		o.qaCheck(p),
	)

	if err := jobs.RunChecks(ctx, checks...); err != nil {
		return err
	}

	p.accountID = simulatedAccount
	if conn != nil && conn.AdAccountID != "" {
		p.accountID = conn.AdAccountID
	}
	if o.opts.WriteMode == config.WriteModeSimulated {
		p.platform = o.newPlatform(nil)
	} else {
		p.platform = o.newPlatform(conn)
	}
	return nil
}

func (o *Orchestrator) lookup(p *publishRun, exists func(context.Context, uuid.UUID) (bool, error), check func(bool) jobs.Check) jobs.Check {
	return func(ctx context.Context) jobs.Verdict {
		ok, err := exists(ctx, p.customerID)
		if err != nil {
			return jobs.RejectErr(jobs.Wrap(jobs.KindInternal, "could not check publish prerequisites", err))
		}
		return check(ok)(ctx)
	}
}

func (o *Orchestrator) qaCheck(p *publishRun) jobs.Check {
	return func(ctx context.Context) jobs.Verdict {
		sample, err := o.store.RecentItemsWithDetails(ctx, p.customerID, o.qa.SampleSize)
		if err != nil {
			return jobs.RejectErr(jobs.Wrap(jobs.KindInternal, "could not sample inventory for QA", err))
		}
		result := o.qa.Evaluate(sample)
		p.meta.QA = &result
		if !result.Passed {
			return jobs.Reject(jobs.KindValidation,
				"Inventory quality check failed: %d of %d recent items are not ready for ads (missing image, price, title or https link). Fix the catalog and crawl again before publishing.",
				result.Invalid, result.SampleSize)
		}
		return jobs.Pass()
	}
}

func (o *Orchestrator) selectItems(ctx context.Context, p *publishRun) ([]models.ProjectedItem, error) {
	recent, err := o.store.RecentItemsWithDetails(ctx, p.customerID, candidatePool)
	if err != nil {
		return nil, jobs.Wrap(jobs.KindInternal, "could not load inventory", err)
	}

	var items []models.ProjectedItem
	for _, item := range recent {
		projected, err := services.Project(item, o.opts.FallbackURL)
		if err != nil {
			p.log.WithError(err).WithField("item_id", item.ID).Debug("item excluded from publish")
			continue
		}
		items = append(items, projected)
		if len(items) == DesiredItems {
			break
		}
	}

	if len(items) == 0 {
		return nil, jobs.Failf(jobs.KindValidation,
			"None of the recent inventory items can be advertised. Items need a title, a price, an image and an https link.")
	}
	return items, nil
}

func (o *Orchestrator) ensureCampaignAndAdSet(ctx context.Context, p *publishRun, budget *services.Budget) error {
	saga := NewSaga(p.log)
	defer func() {
		p.meta.Compensated = append(p.meta.Compensated, saga.Compensated...)
	}()

	if p.checkpoint.CampaignID == nil {
		var campaignID string
		err := saga.Step(ctx, StepCampaign, func(ctx context.Context) error {
			id, objective, err := o.createCampaign(ctx, p)
			if err != nil {
				return o.platformFailure(err, p)
			}
			campaignID = id
			p.meta.Objective = objective
			return nil
		}, func(ctx context.Context) error {
			if err := p.platform.Delete(ctx, campaignID); err != nil {
				return err
			}
			p.checkpoint.CampaignID = nil
			return o.saveCheckpoint(ctx, p)
		})
		if err != nil {
			return err
		}

		p.checkpoint.CampaignID = &campaignID
		p.checkpoint.LastPublishStep = StepCampaign
		if err := saga.Step(ctx, "checkpoint-campaign", func(ctx context.Context) error {
			return o.saveCheckpoint(ctx, p)
		}, nil); err != nil {
			return err
		}
	}
	p.meta.CampaignID = *p.checkpoint.CampaignID

	if p.checkpoint.AdSetID == nil {
		var adSetID string
		err := saga.Step(ctx, StepAdSet, func(ctx context.Context) error {
			id, err := p.platform.CreateAdSet(ctx, p.accountID, ads.AdSetSpec{
				Name:             fmt.Sprintf("Inventory %s", p.customerID.String()[:8]),
				CampaignID:       *p.checkpoint.CampaignID,
				DailyBudgetMinor: budget.DailyMinor,
				BillingEvent:     "IMPRESSIONS",
				OptimizationGoal: "LINK_CLICKS",
				Targeting:        targeting(p.settings),
				Status:           ads.StatusPaused,
			})
			if err != nil {
				return o.platformFailure(err, p)
			}
			adSetID = id
			return nil
		}, func(ctx context.Context) error {
			if err := p.platform.Delete(ctx, adSetID); err != nil {
				return err
			}
			p.checkpoint.AdSetID = nil
			return nil
		})
		if err != nil {
			return err
		}

		p.checkpoint.AdSetID = &adSetID
		p.checkpoint.LastPublishStep = StepAdSet
		if err := saga.Step(ctx, "checkpoint-adset", func(ctx context.Context) error {
			return o.saveCheckpoint(ctx, p)
		}, nil); err != nil {
			return err
		}
	}
	p.meta.AdSetID = *p.checkpoint.AdSetID

	saga.Commit()
	return nil
}

// createCampaign tries the primary objective and, only when the platform
// rejects that objective, the fallback once.
func (o *Orchestrator) createCampaign(ctx context.Context, p *publishRun) (string, string, error) {
	spec := ads.CampaignSpec{
		Name:      fmt.Sprintf("Inventory %s", p.customerID.String()[:8]),
		Objective: ads.ObjectiveTraffic,
		Status:    ads.StatusPaused,
	}
	id, err := p.platform.CreateCampaign(ctx, p.accountID, spec)
	if err == nil {
		return id, spec.Objective, nil
	}
	if !ads.IsObjectiveRejected(err) {
		return "", "", err
	}

	p.log.WithError(err).WithField("step", StepCampaign).Warn("primary objective rejected, retrying with fallback")
	spec.Objective = ads.ObjectiveLinkClicks
	id, err = p.platform.CreateCampaign(ctx, p.accountID, spec)
	if err != nil {
		return "", "", err
	}
	return id, spec.Objective, nil
}

func (o *Orchestrator) createAds(ctx context.Context, p *publishRun, items []models.ProjectedItem) error {
	if p.checkpoint.CreativeID != nil && p.checkpoint.AdID != nil {
		p.meta.CreativeIDs = append(p.meta.CreativeIDs, *p.checkpoint.CreativeID)
		p.meta.AdIDs = append(p.meta.AdIDs, *p.checkpoint.AdID)
		p.log.WithField("step", StepCreative).Info("creative and ad already recorded, skipping")
		return nil
	}

	if len(items) > AdsPerPublish {
		items = items[:AdsPerPublish]
	}

	var firstErr error
	for _, item := range items {
		creativeID, adID, err := o.createAd(ctx, p, item)
		var failure *jobs.Failure
		if errors.As(err, &failure) {
			// The checkpoint could not be written; the item's objects are
			// already rolled back and later items would hit the same store.
			return failure
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			p.meta.ItemErrors = append(p.meta.ItemErrors, fmt.Sprintf("%s: %s", item.VehicleID, ads.Classify(err)))
			p.log.WithError(err).WithFields(logrus.Fields{
				"step":       StepCreative,
				"vehicle_id": item.VehicleID,
			}).Warn("ad creation failed for item")
			continue
		}

		p.meta.CreativeIDs = append(p.meta.CreativeIDs, creativeID)
		p.meta.AdIDs = append(p.meta.AdIDs, adID)
	}

	if p.checkpoint.AdID == nil {
		return o.platformFailure(firstErr, p)
	}
	return nil
}

// createAd creates one creative and ad. The first pair of a publish is
// checkpointed inside the same saga, so a failed write deletes both.
func (o *Orchestrator) createAd(ctx context.Context, p *publishRun, item models.ProjectedItem) (string, string, error) {
	saga := NewSaga(p.log.WithField("vehicle_id", item.VehicleID))
	defer func() {
		p.meta.Compensated = append(p.meta.Compensated, saga.Compensated...)
	}()
	var creativeID, adID string

	err := saga.Step(ctx, "creative", func(ctx context.Context) error {
		id, err := p.platform.CreateCreative(ctx, p.accountID, ads.CreativeSpec{
			Name:     item.Title,
			PageID:   o.opts.PageID,
			Link:     item.DestinationURL,
			Message:  fmt.Sprintf("%s, %s", item.Title, formatPrice(item.Price, item.Currency)),
			Headline: item.Title,
			ImageURL: item.ImageURL,
		})
		creativeID = id
		return err
	}, func(ctx context.Context) error {
		return p.platform.Delete(ctx, creativeID)
	})
	if err != nil {
		return "", "", err
	}

	err = saga.Step(ctx, "ad", func(ctx context.Context) error {
		id, err := p.platform.CreateAd(ctx, p.accountID, ads.AdSpec{
			Name:       item.Title,
			AdSetID:    *p.checkpoint.AdSetID,
			CreativeID: creativeID,
			Status:     ads.StatusPaused,
		})
		adID = id
		return err
	}, func(ctx context.Context) error {
		return p.platform.Delete(ctx, adID)
	})
	if err != nil {
		return "", "", err
	}

	if p.checkpoint.AdID == nil {
		err = saga.Step(ctx, "checkpoint-ad", func(ctx context.Context) error {
			p.checkpoint.CreativeID = &creativeID
			p.checkpoint.AdID = &adID
			p.checkpoint.LastPublishStep = StepCreative
			if err := o.saveCheckpoint(ctx, p); err != nil {
				p.checkpoint.CreativeID = nil
				p.checkpoint.AdID = nil
				return err
			}
			return nil
		}, nil)
		if err != nil {
			return "", "", err
		}
	}

	saga.Commit()
	return creativeID, adID, nil
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, p *publishRun) error {
	now := o.now()
	p.checkpoint.LastSyncedAt = &now
	if err := o.store.UpsertExternalAdObjects(ctx, p.checkpoint); err != nil {
		return jobs.Wrap(jobs.KindInternal, "could not save the publish checkpoint", err)
	}
	return nil
}

func (o *Orchestrator) platformFailure(err error, p *publishRun) error {
	var failure *jobs.Failure
	if errors.As(err, &failure) {
		return failure
	}
	return jobs.Wrap(jobs.KindPlatform, ads.Classify(err), err).WithMetadata(p.meta.Encode())
}

func (o *Orchestrator) withMetadata(err error, p *publishRun) error {
	failure := jobs.AsFailure(err)
	return failure.WithMetadata(p.meta.Encode())
}

// RecordFailure mirrors a failed publish onto the ad settings row and,
// once a checkpoint exists or the platform was involved, the ad objects row.
func (o *Orchestrator) RecordFailure(ctx context.Context, run *models.Run, failure *jobs.Failure, log logrus.FieldLogger) {
	if err := o.store.MarkAdSettingsError(ctx, run.CustomerID, failure.Message); err != nil {
		log.WithError(err).Error("could not record publish error on ad settings")
	}

	objects, err := o.store.GetExternalAdObjects(ctx, run.CustomerID)
	if err != nil {
		log.WithError(err).Error("could not load ad objects to record publish error")
		return
	}
	if objects == nil {
		if failure.Kind != jobs.KindPlatform {
			return
		}
		objects = &models.ExternalAdObjects{CustomerID: run.CustomerID}
	}
	now := o.now()
	objects.Status = "error"
	objects.LastPublishError = failure.Message
	objects.LastSyncedAt = &now
	if err := o.store.UpsertExternalAdObjects(ctx, objects); err != nil {
		log.WithError(err).Error("could not record publish error on ad objects")
	}
}

func country(settings *models.AdSettings) string {
	if c := strings.TrimSpace(settings.Country); c != "" {
		return strings.ToUpper(c)
	}
	return defaultCountry
}

// targeting narrows the country audience to the customer's chosen regions
// or radius.
func targeting(settings *models.AdSettings) ads.Targeting {
	t := ads.Targeting{Countries: []string{country(settings)}}
	geo := settings.Geo
	switch geo.Mode {
	case models.GeoModeRegions:
		for _, r := range geo.Regions {
			if r = strings.TrimSpace(r); r != "" {
				t.Regions = append(t.Regions, ads.Region{Key: r})
			}
		}
	case models.GeoModeRadius:
		if geo.CenterLat != nil && geo.CenterLng != nil {
			t.Custom = []ads.CustomRadius{{
				Latitude:     *geo.CenterLat,
				Longitude:    *geo.CenterLng,
				Radius:       geo.RadiusKm,
				DistanceUnit: ads.DistanceKilometer,
			}}
		}
	}
	return t
}

func itemErrorSummary(meta *models.PublishMetadataV1) string {
	if len(meta.ItemErrors) == 0 {
		return ""
	}
	total := len(meta.ItemErrors) + len(meta.AdIDs)
	return fmt.Sprintf("%d of %d ads failed: %s", len(meta.ItemErrors), total, strings.Join(meta.ItemErrors, "; "))
}

var pricePrinter = message.NewPrinter(language.Swedish)

func formatPrice(price int, currency string) string {
	return pricePrinter.Sprintf("%d %s", price, currency)
}
