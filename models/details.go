package models

import (
	"encoding/json"
)

const CrawlDetailsVersion = "crawl-details-v1"

// Field is a normalized value with the strategy that produced it and the
// raw text it came from.
type Field[T any] struct {
	Value   T      `json:"value"`
	Source  string `json:"source"`
	RawText string `json:"raw_text,omitempty"`
}

// CrawlDetailsV1 is the details payload stored on an inventory item.
type CrawlDetailsV1 struct {
	Version      string        `json:"version"`
	Strategy     string        `json:"strategy"` // jsonld, dom
	Title        Field[string] `json:"title"`
	Price        Field[int]    `json:"price"`
	Currency     string        `json:"currency"`
	MonthlyPrice *Field[int]   `json:"monthly_price,omitempty"`
	Year         *Field[int]   `json:"year,omitempty"`
	MileageKm    *Field[int]   `json:"mileage_km,omitempty"`
	Images       []string      `json:"images,omitempty"`
	LowPrice     bool          `json:"low_price,omitempty"`
}

// PrimaryImage returns the first image, or "".
func (d *CrawlDetailsV1) PrimaryImage() string {
	if d == nil || len(d.Images) == 0 {
		return ""
	}
	return d.Images[0]
}

// DecodeCrawlDetails decodes a details payload. Payloads of another
// version, or that fail to decode, return ok=false.
func DecodeCrawlDetails(raw json.RawMessage) (*CrawlDetailsV1, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	var d CrawlDetailsV1
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, false
	}
	if d.Version != CrawlDetailsVersion {
		return nil, false
	}
	return &d, true
}

// Encode marshals the payload with its version tag set.
func (d *CrawlDetailsV1) Encode() (json.RawMessage, error) {
	d.Version = CrawlDetailsVersion
	return json.Marshal(d)
}
