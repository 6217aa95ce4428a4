package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"adsync/models"
)

// RunStore is the slice of the store the ledger writes to.
type RunStore interface {
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	UpdateRun(ctx context.Context, run *models.Run) error
}

// Ledger owns run status transitions.
type Ledger struct {
	store RunStore
	now   func() time.Time
}

func NewLedger(store RunStore) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// MarkRunning loads the run and marks it running. A run that is already
// terminal is returned unchanged with terminal=true; the caller must not
// process it again.
func (l *Ledger) MarkRunning(ctx context.Context, runID, customerID uuid.UUID) (run *models.Run, terminal bool, err error) {
	run, err = l.store.GetRun(ctx, runID)
	if err != nil {
		return nil, false, fmt.Errorf("get run: %w", err)
	}
	if run == nil {
		return nil, false, Failf(KindMissingCorrelation, "run %s does not exist", runID)
	}
	if run.CustomerID != customerID {
		return nil, false, Failf(KindMissingCorrelation, "run %s does not belong to customer %s", runID, customerID)
	}
	if run.Status.Terminal() {
		return run, true, nil
	}

	now := l.now()
	run.Status = models.RunStatusRunning
	if run.StartedAt == nil {
		run.StartedAt = &now
	}
	if err := l.store.UpdateRun(ctx, run); err != nil {
		return nil, false, fmt.Errorf("mark run running: %w", err)
	}
	return run, false, nil
}

// Succeed marks the run successful. message may carry a summary of
// non-fatal item errors.
func (l *Ledger) Succeed(ctx context.Context, run *models.Run, message string, metadata json.RawMessage) error {
	return l.finish(ctx, run, models.RunStatusSuccess, message, metadata)
}

// Fail marks the run failed with a human-readable message.
func (l *Ledger) Fail(ctx context.Context, run *models.Run, message string, metadata json.RawMessage) error {
	return l.finish(ctx, run, models.RunStatusFailed, message, metadata)
}

func (l *Ledger) finish(ctx context.Context, run *models.Run, status models.RunStatus, message string, metadata json.RawMessage) error {
	now := l.now()
	run.Status = status
	run.FinishedAt = &now
	run.ErrorMessage = message
	if len(metadata) > 0 {
		run.Metadata = metadata
	}
	if err := l.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("mark run %s: %w", status, err)
	}
	return nil
}
