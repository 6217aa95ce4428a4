package models

import (
	"time"

	"github.com/google/uuid"
)

// ExternalAdObjects records the platform ids created for a customer. It is
// the checkpoint a retried publish resumes from.
type ExternalAdObjects struct {
	CustomerID       uuid.UUID  `json:"customer_id" db:"customer_id"`
	CatalogID        *string    `json:"catalog_id" db:"catalog_id"`
	CampaignID       *string    `json:"campaign_id" db:"campaign_id"`
	AdSetID          *string    `json:"adset_id" db:"adset_id"`
	CreativeID       *string    `json:"creative_id" db:"creative_id"`
	AdID             *string    `json:"ad_id" db:"ad_id"`
	Status           string     `json:"status" db:"status"`
	LastPublishStep  string     `json:"last_publish_step" db:"last_publish_step"`
	LastPublishError string     `json:"last_publish_error" db:"last_publish_error"`
	LastSyncedAt     *time.Time `json:"last_synced_at" db:"last_synced_at"`
}

type AdSettingsStatus string

const (
	AdSettingsDraft  AdSettingsStatus = "draft"
	AdSettingsActive AdSettingsStatus = "active"
	AdSettingsError  AdSettingsStatus = "error"
)

const (
	GeoModeRadius  = "radius"
	GeoModeRegions = "regions"
)

// GeoTargeting is the customer's chosen audience geography.
type GeoTargeting struct {
	Mode      string   `json:"mode" validate:"required,oneof=radius regions"`
	CenterLat *float64 `json:"center_lat,omitempty"`
	CenterLng *float64 `json:"center_lng,omitempty"`
	RadiusKm  float64  `json:"radius_km,omitempty"`
	Regions   []string `json:"regions,omitempty"`
}

type AdSettings struct {
	CustomerID  uuid.UUID        `json:"customer_id" db:"customer_id"`
	Status      AdSettingsStatus `json:"status" db:"status"`
	Country     string           `json:"country" db:"country"`
	Geo         GeoTargeting     `json:"geo" db:"geo"`
	Formats     []string         `json:"formats" db:"formats"` // enabled ad formats
	PublishedAt *time.Time       `json:"published_at" db:"published_at"`
	LastError   string           `json:"last_error" db:"last_error"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

type PlatformConnection struct {
	CustomerID  uuid.UUID `json:"customer_id" db:"customer_id"`
	Status      string    `json:"status" db:"status"` // active, revoked
	AdAccountID string    `json:"ad_account_id" db:"ad_account_id"`
	AccessToken string    `json:"-" db:"access_token"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ProjectedItem is the platform-ready shape of an inventory item. It is
// never persisted.
type ProjectedItem struct {
	VehicleID      string `json:"vehicle_id"`
	Title          string `json:"title"`
	Price          int    `json:"price"`
	Currency       string `json:"currency"`
	ImageURL       string `json:"image_url"`
	DestinationURL string `json:"destination_url"`
}
