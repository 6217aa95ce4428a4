package workers

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adsync/config"
	"adsync/jobs"
	"adsync/storage"
)

func TestSQLiteQueue_ConsumeSettlesEachJob(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := jobs.Encode(jobs.TypePublish, uuid.New(), uuid.New(), jobs.PublishPayload{Trigger: "manual"})
		require.NoError(t, err)
		require.NoError(t, store.Enqueue(ctx, job))
		ids = append(ids, job.ID)
	}

	log, _ := test.NewNullLogger()
	q := NewSQLiteQueue(store, config.QueueConfig{LeaseDuration: time.Minute, PollInterval: 10 * time.Millisecond}, log)

	seen := 0
	err = q.Consume(ctx, func(ctx context.Context, job *jobs.Job, delivery jobs.Delivery) {
		seen++
		if seen == 2 {
			assert.NoError(t, delivery.DeadLetter(ctx, "bad job"))
		} else {
			assert.NoError(t, delivery.Ack(ctx))
		}
		if seen == 3 {
			cancel()
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 3, seen)

	statuses := map[string]int{}
	for _, id := range ids {
		status, _, err := store.JobStatus(context.Background(), id)
		require.NoError(t, err)
		statuses[status]++
	}
	assert.Equal(t, map[string]int{storage.JobDone: 2, storage.JobDead: 1}, statuses)
}
