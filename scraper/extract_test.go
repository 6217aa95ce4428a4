package scraper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err, "read fixture %s", name)
	return string(data)
}

func TestExtractStructured_VehicleInGraph(t *testing.T) {
	html := loadFixture(t, "jsonld_vehicle.html")

	d := ExtractStructured(html, "https://www.bilhallen.se/bil/volvo-v60-t6", "SEK")
	require.NotNil(t, d)

	assert.Equal(t, "Volvo V60 T6 Recharge & Inscription", d.Title.Value)
	assert.Equal(t, SourceJSONLD, d.Title.Source)
	assert.Equal(t, 329900, d.Price.Value)
	assert.Equal(t, "329900.00", d.Price.RawText)
	assert.Equal(t, "SEK", d.Currency)
	assert.Equal(t, []string{
		"https://www.bilhallen.se/images/v60-front.jpg",
		"https://cdn.bilhallen.se/v60-side.jpg",
	}, d.Images)
	require.NotNil(t, d.Year)
	assert.Equal(t, 2021, d.Year.Value)
	require.NotNil(t, d.MileageKm)
	assert.Equal(t, 45000, d.MileageKm.Value)
}

func TestExtractStructured_NoProductEntry(t *testing.T) {
	html := `<script type="application/ld+json">{"@type":"Organization","name":"x"}</script>`
	assert.Nil(t, ExtractStructured(html, "https://example.se/bil/x", "SEK"))
}

func TestExtractStructured_DefaultCurrencyAndNumericPrice(t *testing.T) {
	html := `<script type="application/ld+json">[{"@type":"Vehicle","name":"Kia Ceed","image":"https://cdn.example.se/ceed.jpg","offers":[{"price":154900}]}]</script>`

	d := ExtractStructured(html, "https://example.se/bil/kia-ceed", "sek")
	require.NotNil(t, d)
	assert.Equal(t, 154900, d.Price.Value)
	assert.Equal(t, "SEK", d.Currency)
	assert.Equal(t, []string{"https://cdn.example.se/ceed.jpg"}, d.Images)
}

func TestExtractDOM_SkipsMonthlyPrice(t *testing.T) {
	html := loadFixture(t, "dom_monthly.html")
	logger, hook := test.NewNullLogger()

	d := ExtractDOM(html, "https://www.bilhallen.se/bil/vw-golf", "SEK", logger)
	require.NotNil(t, d)

	assert.Equal(t, "Volkswagen Golf 1.5 TSI Style", d.Title.Value)
	assert.Equal(t, SourceH1, d.Title.Source)

	assert.Equal(t, 189900, d.Price.Value)
	assert.Equal(t, SourceCurrencyNum, d.Price.Source)
	require.NotNil(t, d.MonthlyPrice)
	assert.Equal(t, 2995, d.MonthlyPrice.Value)
	assert.False(t, d.LowPrice)

	require.NotNil(t, d.Year)
	assert.Equal(t, 2019, d.Year.Value)
	assert.Equal(t, SourceYearLabel, d.Year.Source)
	require.NotNil(t, d.MileageKm)
	assert.Equal(t, 62000, d.MileageKm.Value)

	assert.Equal(t, []string{
		"https://cdn.bilhallen.se/golf/main.jpg",
		"https://www.bilhallen.se/images/golf-1.jpg",
		"https://www.bilhallen.se/images/golf-2.jpg",
	}, d.Images)
	assert.Empty(t, hook.AllEntries())
}

func TestExtractDOM_LowPriceIsKeptAndLogged(t *testing.T) {
	html := loadFixture(t, "dom_low_price.html")
	logger, hook := test.NewNullLogger()

	d := ExtractDOM(html, "https://example.se/bil/saab", "SEK", logger)
	require.NotNil(t, d)

	assert.Equal(t, 4995, d.Price.Value)
	assert.Equal(t, SourcePriceAttr, d.Price.Source)
	assert.True(t, d.LowPrice)

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, 4995, hook.LastEntry().Data["price"])
}

func TestExtractDOM_LowPriceRetriesOtherCandidates(t *testing.T) {
	html := loadFixture(t, "dom_low_price_recovered.html")
	logger, hook := test.NewNullLogger()

	d := ExtractDOM(html, "https://example.se/bil/audi", "SEK", logger)
	require.NotNil(t, d)

	assert.Equal(t, 214500, d.Price.Value)
	assert.Equal(t, SourceCashText, d.Price.Source)
	assert.False(t, d.LowPrice)
	assert.Empty(t, hook.AllEntries())
}

func TestExtractDetail_PrefersStructured(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d, err := ExtractDetail(loadFixture(t, "jsonld_vehicle.html"), "https://www.bilhallen.se/bil/v60", "SEK", logger)
	require.NoError(t, err)
	assert.Equal(t, SourceJSONLD, d.Strategy)
}

func TestExtractDetail_FallsBackToDOM(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d, err := ExtractDetail(loadFixture(t, "dom_monthly.html"), "https://www.bilhallen.se/bil/golf", "SEK", logger)
	require.NoError(t, err)
	assert.Equal(t, SourceDOM, d.Strategy)
	assert.Equal(t, 189900, d.Price.Value)
}

func TestExtractDetail_CombinesStrategies(t *testing.T) {
	html := `<html><head><script type="application/ld+json">{"@type":"Car","name":"Tesla Model 3"}</script></head>
<body><p>Pris: 379 000 kr</p></body></html>`
	logger, _ := test.NewNullLogger()

	d, err := ExtractDetail(html, "https://example.se/bil/tesla", "SEK", logger)
	require.NoError(t, err)
	assert.Equal(t, SourceMixed, d.Strategy)
	assert.Equal(t, "Tesla Model 3", d.Title.Value)
	assert.Equal(t, 379000, d.Price.Value)
}

func TestExtractDetail_MissingPrice(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := ExtractDetail(`<html><body><h1>Ring för information</h1></body></html>`, "https://example.se/bil/x", "SEK", logger)
	require.ErrorIs(t, err, ErrIncomplete)
	assert.Contains(t, err.Error(), "no price")
}
