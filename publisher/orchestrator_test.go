package publisher

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adsync/ads"
	"adsync/config"
	"adsync/jobs"
	"adsync/models"
	"adsync/services"
)

func newTestOrchestrator(mode config.WriteMode, store *fakeStore, platform ads.Platform) *Orchestrator {
	return NewOrchestrator(
		Options{WriteMode: mode, PageID: "page-1", FallbackURL: "https://bilhallen.se"},
		store,
		fixedBudget{budget: &services.Budget{DailyMinor: 11_666}},
		services.NewQAGate(),
		func(*models.PlatformConnection) ads.Platform { return platform },
	)
}

func publish(t *testing.T, o *Orchestrator) (*jobs.Outcome, error) {
	t.Helper()
	log, _ := test.NewNullLogger()
	run := &models.Run{ID: uuid.New(), CustomerID: uuid.New(), Kind: models.RunKindAds}
	return o.Handle(context.Background(), &jobs.Job{Type: jobs.TypePublish}, run, log)
}

func objectiveRejected() error {
	return &ads.APIError{Status: 400, Code: 100, Message: "Invalid parameter: objective is invalid for this account"}
}

func TestHandle_PublishesPausedObjects(t *testing.T) {
	store := readyStore(t)
	platform := newScriptedPlatform()

	outcome, err := publish(t, newTestOrchestrator(config.WriteModeReal, store, platform))

	require.NoError(t, err)
	assert.Equal(t, []string{"account", "campaign", "adset", "creative", "ad", "creative", "ad"}, platform.calls)
	assert.Equal(t, ads.ObjectiveTraffic, platform.specs[0].Objective)
	assert.Equal(t, ads.StatusPaused, platform.specs[0].Status)
	require.Len(t, platform.adSets, 1)
	assert.Equal(t, ads.Targeting{Countries: []string{"SE"}, Regions: []ads.Region{{Key: "Stockholm"}}}, platform.adSets[0].Targeting)

	meta := decodeMeta(t, outcome.Metadata)
	assert.Equal(t, "real", meta.Mode)
	assert.Equal(t, ads.ObjectiveTraffic, meta.Objective)
	assert.Equal(t, int64(11_666), meta.DailyBudget)
	assert.Len(t, meta.AdIDs, AdsPerPublish)
	require.NotNil(t, meta.QA)
	assert.True(t, meta.QA.Passed)
	assert.Empty(t, outcome.Message)

	require.NotNil(t, store.objects)
	assert.Equal(t, "active", store.objects.Status)
	assert.Equal(t, StepSuccess, store.objects.LastPublishStep)
	assert.NotNil(t, store.objects.CampaignID)
	assert.NotNil(t, store.objects.AdSetID)
	assert.NotNil(t, store.objects.AdID)
	assert.NotNil(t, store.publishedAt)
}

func TestHandle_ObjectiveFallbackOnce(t *testing.T) {
	store := readyStore(t)
	platform := newScriptedPlatform()
	platform.fail("campaign", objectiveRejected())

	outcome, err := publish(t, newTestOrchestrator(config.WriteModeReal, store, platform))

	require.NoError(t, err)
	assert.Equal(t, 2, platform.count("campaign"))
	assert.Equal(t, ads.ObjectiveLinkClicks, platform.specs[1].Objective)
	assert.Equal(t, ads.ObjectiveLinkClicks, decodeMeta(t, outcome.Metadata).Objective)
}

func TestHandle_FallbackObjectiveAlsoRejected(t *testing.T) {
	store := readyStore(t)
	platform := newScriptedPlatform()
	platform.fail("campaign", objectiveRejected(), objectiveRejected())

	_, err := publish(t, newTestOrchestrator(config.WriteModeReal, store, platform))

	failure := jobs.AsFailure(err)
	assert.Equal(t, jobs.KindPlatform, failure.Kind)
	assert.Equal(t, 2, platform.count("campaign"))
	assert.Zero(t, platform.count("adset"))
}

func TestHandle_OtherCampaignErrorNotRetried(t *testing.T) {
	store := readyStore(t)
	platform := newScriptedPlatform()
	platform.fail("campaign", &ads.APIError{Status: 403, Code: 200, Message: "Missing permission on ad account act_1234567890"})

	_, err := publish(t, newTestOrchestrator(config.WriteModeReal, store, platform))

	failure := jobs.AsFailure(err)
	assert.Equal(t, jobs.KindPlatform, failure.Kind)
	assert.Equal(t, 1, platform.count("campaign"))
	assert.Contains(t, failure.Message, "code 200")
	assert.Contains(t, failure.Message, "Re-select the ad account")

	meta := decodeMeta(t, failure.Metadata)
	assert.Empty(t, meta.CampaignID)
}

func TestHandle_RadiusTargeting(t *testing.T) {
	store := readyStore(t)
	lat, lng := 59.33, 18.06
	store.settings.Geo = models.GeoTargeting{Mode: models.GeoModeRadius, CenterLat: &lat, CenterLng: &lng, RadiusKm: 40}
	platform := newScriptedPlatform()

	_, err := publish(t, newTestOrchestrator(config.WriteModeReal, store, platform))

	require.NoError(t, err)
	require.Len(t, platform.adSets, 1)
	got := platform.adSets[0].Targeting
	assert.Equal(t, []string{"SE"}, got.Countries)
	assert.Empty(t, got.Regions)
	assert.Equal(t, []ads.CustomRadius{{Latitude: lat, Longitude: lng, Radius: 40, DistanceUnit: ads.DistanceKilometer}}, got.Custom)
}

func TestHandle_AdSetFailureDeletesCampaign(t *testing.T) {
	store := readyStore(t)
	platform := newScriptedPlatform()
	platform.fail("adset", &ads.APIError{Status: 400, Code: 100, Message: "Invalid targeting spec"})

	_, err := publish(t, newTestOrchestrator(config.WriteModeReal, store, platform))

	failure := jobs.AsFailure(err)
	assert.Equal(t, jobs.KindPlatform, failure.Kind)
	require.Len(t, platform.deleted, 1)
	assert.Equal(t, "campaign_2", platform.deleted[0])
	assert.Equal(t, 1, platform.count("campaign"))

	require.NotNil(t, store.objects)
	assert.Nil(t, store.objects.CampaignID)

	meta := decodeMeta(t, failure.Metadata)
	assert.Equal(t, []string{StepCampaign}, meta.Compensated)
}

func TestHandle_AdSetCheckpointFailureRollsBack(t *testing.T) {
	store := readyStore(t)
	store.failWrite(2)
	platform := newScriptedPlatform()
	o := newTestOrchestrator(config.WriteModeReal, store, platform)

	_, err := publish(t, o)

	failure := jobs.AsFailure(err)
	assert.Equal(t, jobs.KindInternal, failure.Kind)
	assert.Equal(t, []string{"adset_3", "campaign_2"}, platform.deleted)
	require.NotNil(t, store.objects)
	assert.Nil(t, store.objects.CampaignID)
	assert.Nil(t, store.objects.AdSetID)
	assert.Equal(t, []string{StepAdSet, StepCampaign}, decodeMeta(t, failure.Metadata).Compensated)

	_, err = publish(t, o)

	require.NoError(t, err)
	assert.Len(t, platform.live("adset"), 1)
	assert.Len(t, platform.live("campaign"), 1)
	assert.Equal(t, platform.live("adset")[0], *store.objects.AdSetID)
}

func TestHandle_AdCheckpointFailureRollsBack(t *testing.T) {
	store := readyStore(t)
	store.failWrite(3)
	platform := newScriptedPlatform()
	o := newTestOrchestrator(config.WriteModeReal, store, platform)

	_, err := publish(t, o)

	failure := jobs.AsFailure(err)
	assert.Equal(t, jobs.KindInternal, failure.Kind)
	assert.Equal(t, []string{"account", "campaign", "adset", "creative", "ad", "delete", "delete"}, platform.calls)
	assert.Equal(t, []string{"ad_5", "creative_4"}, platform.deleted)
	require.NotNil(t, store.objects)
	assert.NotNil(t, store.objects.AdSetID)
	assert.Nil(t, store.objects.AdID)
	assert.Nil(t, store.publishedAt)

	_, err = publish(t, o)

	require.NoError(t, err)
	assert.Equal(t, 1, platform.count("campaign"))
	assert.Equal(t, 1, platform.count("adset"))
	assert.Len(t, platform.live("ad"), AdsPerPublish)
	assert.Len(t, platform.live("creative"), AdsPerPublish)
	assert.NotNil(t, store.publishedAt)
}

func TestHandle_NoApprovalMakesNoPlatformCalls(t *testing.T) {
	store := readyStore(t)
	store.approved = false
	platform := newScriptedPlatform()

	_, err := publish(t, newTestOrchestrator(config.WriteModeReal, store, platform))

	failure := jobs.AsFailure(err)
	assert.Equal(t, jobs.KindMissingPrerequisite, failure.Kind)
	assert.Contains(t, failure.Message, "approved")
	assert.Empty(t, platform.calls)
	assert.Nil(t, store.objects)
}

func TestHandle_ValidationFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*fakeStore)
		kind   jobs.Kind
		msg    string
	}{
		{"no settings", func(s *fakeStore) { s.settings = nil }, jobs.KindMissingPrerequisite, "Ad settings"},
		{"bad geo mode", func(s *fakeStore) { s.settings.Geo.Mode = "planet" }, jobs.KindValidation, "planet"},
		{"radius without center", func(s *fakeStore) {
			s.settings.Geo = models.GeoTargeting{Mode: models.GeoModeRadius, RadiusKm: 30}
		}, jobs.KindValidation, "center point"},
		{"no formats", func(s *fakeStore) { s.settings.Formats = nil }, jobs.KindValidation, "format"},
		{"no connection", func(s *fakeStore) { s.conn = nil }, jobs.KindMissingPrerequisite, "Connect"},
		{"placeholder token", func(s *fakeStore) { s.conn.AccessToken = "xxxxxx" }, jobs.KindMissingPrerequisite, "access token"},
		{"no preview", func(s *fakeStore) { s.previewed = false }, jobs.KindMissingPrerequisite, "preview"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := readyStore(t)
			tc.mutate(store)
			platform := newScriptedPlatform()

			_, err := publish(t, newTestOrchestrator(config.WriteModeReal, store, platform))

			failure := jobs.AsFailure(err)
			assert.Equal(t, tc.kind, failure.Kind)
			assert.Contains(t, failure.Message, tc.msg)
			assert.Empty(t, platform.calls)
		})
	}
}

func TestHandle_QAFailureCarriesMetadata(t *testing.T) {
	store := readyStore(t)
	store.items = nil
	for i := 0; i < 10; i++ {
		item := readyItem(t, i)
		if i < 4 {
			item.Price = 0
		}
		store.items = append(store.items, item)
	}
	platform := newScriptedPlatform()

	_, err := publish(t, newTestOrchestrator(config.WriteModeReal, store, platform))

	failure := jobs.AsFailure(err)
	assert.Equal(t, jobs.KindValidation, failure.Kind)
	assert.Empty(t, platform.calls)

	meta := decodeMeta(t, failure.Metadata)
	require.NotNil(t, meta.QA)
	assert.False(t, meta.QA.Passed)
	assert.Equal(t, 4, meta.QA.Invalid)
	assert.Equal(t, 10, meta.QA.SampleSize)
}

func TestHandle_NoProjectableItems(t *testing.T) {
	store := readyStore(t)
	for i := range store.items {
		store.items[i].Details = nil
	}
	platform := newScriptedPlatform()

	_, err := publish(t, newTestOrchestrator(config.WriteModeReal, store, platform))

	assert.Equal(t, jobs.KindValidation, jobs.AsFailure(err).Kind)
	assert.Empty(t, platform.calls)
}

func TestHandle_BudgetFailureStopsBeforePlatform(t *testing.T) {
	store := readyStore(t)
	platform := newScriptedPlatform()
	o := newTestOrchestrator(config.WriteModeReal, store, platform)
	o.budgets = fixedBudget{err: jobs.Failf(jobs.KindConfig, "daily budget too low")}

	_, err := publish(t, o)

	assert.Equal(t, jobs.KindConfig, jobs.AsFailure(err).Kind)
	assert.Empty(t, platform.calls)
}

func TestHandle_DisabledMode(t *testing.T) {
	store := readyStore(t)
	platform := newScriptedPlatform()

	_, err := publish(t, newTestOrchestrator(config.WriteModeDisabled, store, platform))

	failure := jobs.AsFailure(err)
	assert.Equal(t, jobs.KindConfig, failure.Kind)
	assert.Contains(t, failure.Message, "ADS_WRITE_MODE")
	assert.Empty(t, platform.calls)
}

func TestHandle_SimulatedModeNeedsNoConnection(t *testing.T) {
	store := readyStore(t)
	store.conn = nil
	sim := ads.NewSimulated()

	outcome, err := publish(t, newTestOrchestrator(config.WriteModeSimulated, store, sim))

	require.NoError(t, err)
	meta := decodeMeta(t, outcome.Metadata)
	assert.Equal(t, "simulated", meta.Mode)
	assert.Len(t, meta.AdIDs, AdsPerPublish)
	assert.NotEmpty(t, sim.Created())
}

func TestHandle_ResumesFromCheckpoint(t *testing.T) {
	store := readyStore(t)
	campaign, adSet := "c-existing", "as-existing"
	store.objects = &models.ExternalAdObjects{CampaignID: &campaign, AdSetID: &adSet, LastPublishStep: StepAdSet}
	platform := newScriptedPlatform()

	outcome, err := publish(t, newTestOrchestrator(config.WriteModeReal, store, platform))

	require.NoError(t, err)
	assert.Zero(t, platform.count("campaign"))
	assert.Zero(t, platform.count("adset"))
	assert.Equal(t, 2, platform.count("ad"))

	meta := decodeMeta(t, outcome.Metadata)
	assert.Equal(t, campaign, meta.CampaignID)
	assert.Equal(t, adSet, meta.AdSetID)
}

func TestHandle_CompletedCheckpointSkipsCreation(t *testing.T) {
	store := readyStore(t)
	campaign, adSet, creative, ad := "c1", "as1", "cr1", "ad1"
	store.objects = &models.ExternalAdObjects{CampaignID: &campaign, AdSetID: &adSet, CreativeID: &creative, AdID: &ad}
	platform := newScriptedPlatform()

	outcome, err := publish(t, newTestOrchestrator(config.WriteModeReal, store, platform))

	require.NoError(t, err)
	assert.Equal(t, []string{"account"}, platform.calls)
	assert.Equal(t, []string{ad}, decodeMeta(t, outcome.Metadata).AdIDs)
}

func TestHandle_ItemFailureIsNotFatal(t *testing.T) {
	store := readyStore(t)
	platform := newScriptedPlatform()
	platform.fail("ad", &ads.APIError{Status: 400, Code: 100, Message: "Image could not be downloaded"})

	outcome, err := publish(t, newTestOrchestrator(config.WriteModeReal, store, platform))

	require.NoError(t, err)
	assert.Equal(t, 1, platform.count("delete"), "orphaned creative is removed")
	meta := decodeMeta(t, outcome.Metadata)
	assert.Len(t, meta.AdIDs, 1)
	assert.Len(t, meta.ItemErrors, 1)
	assert.Contains(t, outcome.Message, "1 of 2 ads failed")
}

func TestHandle_AllItemsFailingFailsRun(t *testing.T) {
	store := readyStore(t)
	platform := newScriptedPlatform()
	apiErr := &ads.APIError{Status: 400, Code: 100, Message: "Invalid link"}
	platform.fail("creative", apiErr, apiErr)

	_, err := publish(t, newTestOrchestrator(config.WriteModeReal, store, platform))

	failure := jobs.AsFailure(err)
	assert.Equal(t, jobs.KindPlatform, failure.Kind)
	assert.Contains(t, failure.Message, "Invalid link")
	assert.Nil(t, store.publishedAt)
}

func TestRecordFailure(t *testing.T) {
	log, _ := test.NewNullLogger()
	run := &models.Run{CustomerID: uuid.New()}

	t.Run("platform failure creates ad objects row", func(t *testing.T) {
		store := readyStore(t)
		o := newTestOrchestrator(config.WriteModeReal, store, newScriptedPlatform())

		o.RecordFailure(context.Background(), run, jobs.Failf(jobs.KindPlatform, "rejected"), log)

		assert.Equal(t, "rejected", store.lastError)
		require.NotNil(t, store.objects)
		assert.Equal(t, "error", store.objects.Status)
		assert.Equal(t, "rejected", store.objects.LastPublishError)
	})

	t.Run("validation failure without checkpoint only touches settings", func(t *testing.T) {
		store := readyStore(t)
		o := newTestOrchestrator(config.WriteModeReal, store, newScriptedPlatform())

		o.RecordFailure(context.Background(), run, jobs.Failf(jobs.KindValidation, "no formats"), log)

		assert.Equal(t, "no formats", store.lastError)
		assert.Nil(t, store.objects)
	})
}
