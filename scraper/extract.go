package scraper

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"adsync/models"
)

const SourceMixed = "mixed"

// ErrIncomplete means no strategy produced both a title and a price.
var ErrIncomplete = errors.New("incomplete detail page")

func complete(d *models.CrawlDetailsV1) bool {
	return d != nil && d.Title.Value != "" && d.Price.Value > 0
}

// ExtractDetail runs structured-data extraction, then the DOM fallback,
// and returns the first result with both a title and a positive price.
// When neither is complete on its own, the title and price found by
// different strategies are combined.
func ExtractDetail(html, pageURL, currency string, log logrus.FieldLogger) (*models.CrawlDetailsV1, error) {
	structured := ExtractStructured(html, pageURL, currency)
	if complete(structured) {
		return structured, nil
	}

	dom := ExtractDOM(html, pageURL, currency, log)
	if complete(dom) {
		if structured != nil && len(dom.Images) == 0 {
			dom.Images = structured.Images
		}
		return dom, nil
	}

	merged := merge(structured, dom)
	if complete(merged) {
		return merged, nil
	}

	var missing string
	switch {
	case merged.Title.Value == "" && merged.Price.Value <= 0:
		missing = "title and price"
	case merged.Title.Value == "":
		missing = "title"
	default:
		missing = "price"
	}
	return nil, fmt.Errorf("%w: no %s found", ErrIncomplete, missing)
}

func merge(structured, dom *models.CrawlDetailsV1) *models.CrawlDetailsV1 {
	if structured == nil && dom == nil {
		return &models.CrawlDetailsV1{Version: models.CrawlDetailsVersion}
	}
	if structured == nil {
		return dom
	}
	if dom == nil {
		return structured
	}

	out := *structured
	out.Strategy = SourceMixed
	if out.Title.Value == "" {
		out.Title = dom.Title
	}
	if out.Price.Value <= 0 {
		out.Price = dom.Price
		out.LowPrice = dom.LowPrice
	}
	if len(out.Images) == 0 {
		out.Images = dom.Images
	}
	if out.MonthlyPrice == nil {
		out.MonthlyPrice = dom.MonthlyPrice
	}
	if out.Year == nil {
		out.Year = dom.Year
	}
	if out.MileageKm == nil {
		out.MileageKm = dom.MileageKm
	}
	return &out
}
