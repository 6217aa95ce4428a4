package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// InventorySource is a customer's catalog website.
type InventorySource struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	CustomerID    uuid.UUID  `json:"customer_id" db:"customer_id"`
	SiteID        string     `json:"site_id" db:"site_id"`
	RootURL       string     `json:"root_url" db:"root_url"`
	Active        bool       `json:"active" db:"active"`
	LastCrawledAt *time.Time `json:"last_crawled_at" db:"last_crawled_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

type ItemStatus string

const (
	ItemStatusActive  ItemStatus = "active"
	ItemStatusRemoved ItemStatus = "removed"
)

// InventoryItem is unique on (CustomerID, SourceID, ExternalID).
// LastSeenAt only moves when a crawl sees the item; the sweep writes
// LastCheckedAt.
type InventoryItem struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	CustomerID    uuid.UUID       `json:"customer_id" db:"customer_id"`
	SourceID      uuid.UUID       `json:"source_id" db:"source_id"`
	ExternalID    string          `json:"external_id" db:"external_id"`
	Title         string          `json:"title" db:"title"`
	URL           string          `json:"url" db:"url"`
	Price         int             `json:"price" db:"price"`
	Status        ItemStatus      `json:"status" db:"status"`
	FirstSeenAt   time.Time       `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt    time.Time       `json:"last_seen_at" db:"last_seen_at"`
	LastCheckedAt *time.Time      `json:"last_checked_at,omitempty" db:"last_checked_at"`
	Details       json.RawMessage `json:"details" db:"details"`
}
