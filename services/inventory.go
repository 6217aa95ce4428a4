package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"adsync/models"
)

// InventoryStore is the persistence the inventory service needs.
type InventoryStore interface {
	GetInventoryItem(ctx context.Context, customerID, sourceID uuid.UUID, externalID string) (*models.InventoryItem, error)
	UpsertInventoryItem(ctx context.Context, item *models.InventoryItem) error
}

// InventoryService upserts crawled items keyed by
// (customer, source, external id).
type InventoryService struct {
	store InventoryStore
	now   func() time.Time
}

func NewInventoryService(store InventoryStore) *InventoryService {
	return &InventoryService{store: store, now: time.Now}
}

// UpsertResult describes what an upsert changed.
type UpsertResult struct {
	ItemID        uuid.UUID
	Inserted      bool
	Relisted      bool
	PriceChanged  bool
	PreviousPrice int
}

// Upsert inserts the item or refreshes the existing row. It is safe to
// call repeatedly for the same item; FirstSeenAt is never moved.
func (s *InventoryService) Upsert(ctx context.Context, item *models.InventoryItem) (*UpsertResult, error) {
	now := s.now()
	result := &UpsertResult{}

	existing, err := s.store.GetInventoryItem(ctx, item.CustomerID, item.SourceID, item.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("get inventory item: %w", err)
	}

	if existing == nil {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.FirstSeenAt = now
		result.Inserted = true
	} else {
		item.ID = existing.ID
		item.FirstSeenAt = existing.FirstSeenAt
		result.Relisted = existing.Status == models.ItemStatusRemoved
		if existing.Price != item.Price {
			result.PriceChanged = true
			result.PreviousPrice = existing.Price
		}
	}

	item.Status = models.ItemStatusActive
	item.LastSeenAt = now

	if err := s.store.UpsertInventoryItem(ctx, item); err != nil {
		return nil, fmt.Errorf("upsert inventory item: %w", err)
	}

	result.ItemID = item.ID
	return result, nil
}
