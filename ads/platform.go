// Package ads talks to the advertising platform's object API.
package ads

import (
	"context"
	"strings"
)

const (
	ObjectiveTraffic    = "OUTCOME_TRAFFIC"
	ObjectiveLinkClicks = "LINK_CLICKS"

	StatusPaused = "PAUSED"
)

type CampaignSpec struct {
	Name                string
	Objective           string
	Status              string
	SpecialAdCategories []string
}

// Targeting is a country-level audience, optionally narrowed to regions
// or a radius around a point.
type Targeting struct {
	Countries []string       `json:"countries,omitempty"`
	Regions   []Region       `json:"regions,omitempty"`
	Custom    []CustomRadius `json:"custom_locations,omitempty"`
}

type Region struct {
	Key string `json:"key"`
}

const DistanceKilometer = "kilometer"

type CustomRadius struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Radius       float64 `json:"radius"`
	DistanceUnit string  `json:"distance_unit"`
}

type AdSetSpec struct {
	Name             string
	CampaignID       string
	DailyBudgetMinor int64
	BillingEvent     string
	OptimizationGoal string
	Targeting        Targeting
	Status           string
}

type CreativeSpec struct {
	Name     string
	PageID   string
	Link     string
	Message  string
	Headline string
	ImageURL string
}

type AdSpec struct {
	Name       string
	AdSetID    string
	CreativeID string
	Status     string
}

type Account struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Status   int    `json:"account_status"`
}

// Platform creates and deletes ad objects under an ad account.
type Platform interface {
	CreateCampaign(ctx context.Context, accountID string, spec CampaignSpec) (string, error)
	CreateAdSet(ctx context.Context, accountID string, spec AdSetSpec) (string, error)
	CreateCreative(ctx context.Context, accountID string, spec CreativeSpec) (string, error)
	CreateAd(ctx context.Context, accountID string, spec AdSpec) (string, error)
	Delete(ctx context.Context, objectID string) error
	GetAccount(ctx context.Context, accountID string) (*Account, error)
}

// AccountPath returns the act_-prefixed account node.
func AccountPath(accountID string) string {
	return "act_" + strings.TrimPrefix(strings.TrimSpace(accountID), "act_")
}
