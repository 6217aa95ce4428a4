package services

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/currency"

	"adsync/models"
)

// ErrNotProjectable marks an item that cannot be advertised as-is.
var ErrNotProjectable = errors.New("item not projectable")

const maxTitleRunes = 255

// Project maps an inventory item to its platform-ready shape. fallbackURL
// replaces a destination that is not a valid https URL.
func Project(item models.InventoryItem, fallbackURL string) (models.ProjectedItem, error) {
	details, ok := models.DecodeCrawlDetails(item.Details)
	if !ok {
		return models.ProjectedItem{}, fmt.Errorf("%w: missing extraction details", ErrNotProjectable)
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		return models.ProjectedItem{}, fmt.Errorf("%w: empty title", ErrNotProjectable)
	}
	if runes := []rune(title); len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes])
	}

	if item.Price <= 0 {
		return models.ProjectedItem{}, fmt.Errorf("%w: no price", ErrNotProjectable)
	}

	unit, err := currency.ParseISO(details.Currency)
	if err != nil {
		return models.ProjectedItem{}, fmt.Errorf("%w: currency %q: %v", ErrNotProjectable, details.Currency, err)
	}

	image := details.PrimaryImage()
	if !webURL(image) {
		return models.ProjectedItem{}, fmt.Errorf("%w: no usable image", ErrNotProjectable)
	}

	destination := item.URL
	if !secureURL(destination) {
		if !secureURL(fallbackURL) {
			return models.ProjectedItem{}, fmt.Errorf("%w: no https destination", ErrNotProjectable)
		}
		destination = fallbackURL
	}

	vehicleID := item.ExternalID
	if vehicleID == "" {
		vehicleID = item.ID.String()
	}

	return models.ProjectedItem{
		VehicleID:      vehicleID,
		Title:          title,
		Price:          item.Price,
		Currency:       unit.String(),
		ImageURL:       image,
		DestinationURL: destination,
	}, nil
}
