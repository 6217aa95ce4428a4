package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"adsync/models"
)

// SweepStore is the persistence the stale-inventory sweep needs.
type SweepStore interface {
	GetStaleActiveItems(ctx context.Context, staleAfter time.Duration, limit int) ([]models.InventoryItem, error)
	// SetItemStatus records the status a sweep check found. It leaves
	// last_seen_at alone.
	SetItemStatus(ctx context.Context, id uuid.UUID, status models.ItemStatus, checkedAt time.Time) error
}

// SweepService marks inventory that disappeared from its site as removed.
// Items are never hard-deleted.
type SweepService struct {
	store SweepStore
	now   func() time.Time
}

func NewSweepService(store SweepStore) *SweepService {
	return &SweepService{store: store, now: time.Now}
}

// StaleItems returns active items neither seen nor checked within staleAfter.
func (s *SweepService) StaleItems(ctx context.Context, staleAfter time.Duration, limit int) ([]models.InventoryItem, error) {
	return s.store.GetStaleActiveItems(ctx, staleAfter, limit)
}

func (s *SweepService) MarkRemoved(ctx context.Context, item *models.InventoryItem) error {
	return s.record(ctx, item, models.ItemStatusRemoved)
}

// MarkChecked records that a stale item is still live. Only a crawl moves
// last_seen_at, so the item stays stale for ranking and reporting.
func (s *SweepService) MarkChecked(ctx context.Context, item *models.InventoryItem) error {
	return s.record(ctx, item, models.ItemStatusActive)
}

func (s *SweepService) record(ctx context.Context, item *models.InventoryItem, status models.ItemStatus) error {
	now := s.now()
	if err := s.store.SetItemStatus(ctx, item.ID, status, now); err != nil {
		return err
	}
	item.Status = status
	item.LastCheckedAt = &now
	return nil
}
