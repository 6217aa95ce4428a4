package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adsync/config"
	"adsync/jobs"
	"adsync/models"
)

type fakeStore struct {
	sources []models.InventorySource
	runs    []*models.Run
	updates []models.Run
}

func (f *fakeStore) CreateRun(_ context.Context, run *models.Run) error {
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeStore) GetRun(_ context.Context, id uuid.UUID) (*models.Run, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpdateRun(_ context.Context, run *models.Run) error {
	f.updates = append(f.updates, *run)
	return nil
}

func (f *fakeStore) ListActiveSources(context.Context) ([]models.InventorySource, error) {
	return f.sources, nil
}

type fakeQueue struct {
	jobs   []*jobs.Job
	failOn int
}

func (q *fakeQueue) Enqueue(_ context.Context, job *jobs.Job) error {
	if q.failOn > 0 && len(q.jobs)+1 == q.failOn {
		q.failOn = 0
		return errors.New("broker unavailable")
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func newTestScheduler(store *fakeStore, queue *fakeQueue) *Scheduler {
	log, _ := test.NewNullLogger()
	return New(&config.Config{}, store, queue, log)
}

func TestEnqueueCrawl_CreatesRunBeforeJob(t *testing.T) {
	store, queue := &fakeStore{}, &fakeQueue{}
	s := newTestScheduler(store, queue)
	customerID := uuid.New()

	run, err := s.EnqueueCrawl(context.Background(), customerID, TriggerManual, jobs.CrawlPayload{Limit: 20})

	require.NoError(t, err)
	require.Len(t, store.runs, 1)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, models.RunStatusQueued, run.Status)
	assert.Equal(t, models.RunKindCrawl, run.Kind)

	job := queue.jobs[0]
	assert.Equal(t, jobs.TypeCrawl, job.Type)
	gotCustomer, gotRun, err := job.IDs()
	require.NoError(t, err)
	assert.Equal(t, customerID, gotCustomer)
	assert.Equal(t, run.ID, gotRun)

	payload, err := job.DecodeCrawlPayload()
	require.NoError(t, err)
	assert.Equal(t, 20, payload.Limit)
}

func TestEnqueuePublish(t *testing.T) {
	store, queue := &fakeStore{}, &fakeQueue{}
	s := newTestScheduler(store, queue)

	run, err := s.EnqueuePublish(context.Background(), uuid.New(), TriggerManual)

	require.NoError(t, err)
	assert.Equal(t, models.RunKindAds, run.Kind)
	assert.Equal(t, jobs.TypePublish, queue.jobs[0].Type)
}

func TestEnqueueAllCrawls_ContinuesPastFailures(t *testing.T) {
	store := &fakeStore{sources: []models.InventorySource{
		{ID: uuid.New(), CustomerID: uuid.New(), SiteID: "example"},
		{ID: uuid.New(), CustomerID: uuid.New()},
		{ID: uuid.New(), CustomerID: uuid.New()},
	}}
	queue := &fakeQueue{failOn: 2}
	s := newTestScheduler(store, queue)

	n, err := s.EnqueueAllCrawls(context.Background(), TriggerSchedule)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, store.runs, 3)
	assert.Len(t, queue.jobs, 2)
	assert.Equal(t, TriggerSchedule, store.runs[0].Trigger)
	assert.Equal(t, models.RunStatusFailed, store.runs[1].Status)
	assert.Equal(t, models.RunStatusQueued, store.runs[2].Status)
}

func TestEnqueue_QueueFailureFailsRun(t *testing.T) {
	store, queue := &fakeStore{}, &fakeQueue{failOn: 1}
	s := newTestScheduler(store, queue)

	run, err := s.EnqueuePublish(context.Background(), uuid.New(), TriggerManual)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
	assert.Nil(t, run)
	require.Len(t, store.runs, 1)
	require.Len(t, store.updates, 1)
	failed := store.updates[0]
	assert.Equal(t, store.runs[0].ID, failed.ID)
	assert.Equal(t, models.RunStatusFailed, failed.Status)
	assert.NotNil(t, failed.FinishedAt)
	assert.Contains(t, failed.ErrorMessage, "broker unavailable")
	assert.Empty(t, queue.jobs)
}

func TestStart_RejectsBadCron(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := New(&config.Config{Scheduler: config.SchedulerConfig{Cron: "every tuesday"}}, &fakeStore{}, &fakeQueue{}, log)

	err := s.Start(context.Background())

	assert.ErrorContains(t, err, "invalid cron expression")
}
