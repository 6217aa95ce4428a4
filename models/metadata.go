package models

import (
	"encoding/json"
	"time"
)

const (
	PublishMetadataVersion = "publish-metadata-v1"
	CrawlSummaryVersion    = "crawl-summary-v1"
)

// QASample is the verdict on one sampled item.
type QASample struct {
	ItemID     string   `json:"item_id"`
	ExternalID string   `json:"external_id"`
	Valid      bool     `json:"valid"`
	Problems   []string `json:"problems,omitempty"`
}

type QAResult struct {
	SampleSize   int        `json:"sample_size"`
	Invalid      int        `json:"invalid"`
	InvalidRatio float64    `json:"invalid_ratio"`
	Passed       bool       `json:"passed"`
	Samples      []QASample `json:"samples"`
}

// PublishMetadataV1 is the diagnostic payload of an ads run.
type PublishMetadataV1 struct {
	Version     string    `json:"version"`
	Mode        string    `json:"mode"`
	QA          *QAResult `json:"qa,omitempty"`
	DailyBudget int64     `json:"daily_budget_minor,omitempty"`
	CampaignID  string    `json:"campaign_id,omitempty"`
	AdSetID     string    `json:"adset_id,omitempty"`
	CreativeIDs []string  `json:"creative_ids,omitempty"`
	AdIDs       []string  `json:"ad_ids,omitempty"`
	Objective   string    `json:"objective,omitempty"`
	ItemErrors  []string  `json:"item_errors,omitempty"`
	Compensated []string  `json:"compensated,omitempty"`
}

// CrawlSummaryV1 is the diagnostic payload of a crawl run.
type CrawlSummaryV1 struct {
	Version      string     `json:"version"`
	Discovered   int        `json:"discovered"`
	Attempted    int        `json:"attempted"`
	Inserted     int        `json:"inserted"`
	Updated      int        `json:"updated"`
	Relisted     int        `json:"relisted"`
	PriceChanged int        `json:"price_changed"`
	Failed       int        `json:"failed"`
	Errors       []string   `json:"errors,omitempty"`
	Strategies   []string   `json:"discovery_strategies,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

func (m *PublishMetadataV1) Encode() json.RawMessage {
	m.Version = PublishMetadataVersion
	data, _ := json.Marshal(m)
	return data
}

func (m *CrawlSummaryV1) Encode() json.RawMessage {
	m.Version = CrawlSummaryVersion
	data, _ := json.Marshal(m)
	return data
}

// DecodePublishMetadata decodes run metadata written by an ads run.
func DecodePublishMetadata(raw json.RawMessage) (*PublishMetadataV1, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var m PublishMetadataV1
	if err := json.Unmarshal(raw, &m); err != nil || m.Version != PublishMetadataVersion {
		return nil, false
	}
	return &m, true
}

// DecodeCrawlSummary decodes run metadata written by a crawl run.
func DecodeCrawlSummary(raw json.RawMessage) (*CrawlSummaryV1, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var m CrawlSummaryV1
	if err := json.Unmarshal(raw, &m); err != nil || m.Version != CrawlSummaryVersion {
		return nil, false
	}
	return &m, true
}
