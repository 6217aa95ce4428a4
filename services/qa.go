package services

import (
	"net/url"
	"strings"

	"adsync/models"
)

const (
	DefaultQASampleSize = 10
	DefaultQAPriceFloor = 1_000
)

// QAGate blocks publishing when too many recent items fail minimum
// publish-readiness rules.
type QAGate struct {
	SampleSize int
	PriceFloor int
	// MaxInvalidPercent is inclusive: exactly this share of invalid items
	// still passes.
	MaxInvalidPercent int
}

func NewQAGate() *QAGate {
	return &QAGate{
		SampleSize:        DefaultQASampleSize,
		PriceFloor:        DefaultQAPriceFloor,
		MaxInvalidPercent: 30,
	}
}

// Evaluate validates up to SampleSize items. An empty sample passes.
func (g *QAGate) Evaluate(items []models.InventoryItem) models.QAResult {
	if len(items) > g.SampleSize {
		items = items[:g.SampleSize]
	}

	result := models.QAResult{SampleSize: len(items), Passed: true}
	for i := range items {
		sample := g.check(&items[i])
		if !sample.Valid {
			result.Invalid++
		}
		result.Samples = append(result.Samples, sample)
	}

	if result.SampleSize == 0 {
		return result
	}
	result.InvalidRatio = float64(result.Invalid) / float64(result.SampleSize)
	result.Passed = result.Invalid*100 <= g.MaxInvalidPercent*result.SampleSize
	return result
}

func (g *QAGate) check(item *models.InventoryItem) models.QASample {
	sample := models.QASample{ItemID: item.ID.String(), ExternalID: item.ExternalID}

	if strings.TrimSpace(item.Title) == "" {
		sample.Problems = append(sample.Problems, "missing title")
	}
	if item.Price < g.PriceFloor {
		sample.Problems = append(sample.Problems, "price below floor")
	}
	if !secureURL(item.URL) {
		sample.Problems = append(sample.Problems, "destination is not a valid https URL")
	}

	details, ok := models.DecodeCrawlDetails(item.Details)
	if !ok {
		sample.Problems = append(sample.Problems, "missing extraction details")
	} else if !webURL(details.PrimaryImage()) {
		sample.Problems = append(sample.Problems, "missing image")
	}

	sample.Valid = len(sample.Problems) == 0
	return sample
}

func secureURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme == "https" && u.Host != ""
}

func webURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
