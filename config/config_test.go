package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSiteAppliesDefaults(t *testing.T) {
	site, err := LoadSite("testdata/partial.yaml")
	require.NoError(t, err)

	assert.Equal(t, "partial", site.ID)
	assert.Equal(t, "/lager", site.ListingPath)
	assert.Equal(t, "/bil/", site.DetailPathPrefix)
	assert.Equal(t, "/sitemap.xml", site.SitemapPath)
	assert.Equal(t, "EUR", site.Currency)
	assert.Equal(t, 2, site.MinPathDepth)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("ADS_WRITE_MODE", "real")
	t.Setenv("ADS_MIN_DAILY_BUDGET_MINOR", "12000")
	t.Setenv("CRAWL_RENDER_ENABLED", "true")
	t.Setenv("SWEEP_STALE_AFTER", "24h")
	t.Setenv("SITES_DIR", "sites")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, WriteModeReal, cfg.Ads.WriteMode)
	assert.Equal(t, int64(12000), cfg.Ads.MinDailyBudgetMinor)
	assert.True(t, cfg.Crawl.RenderEnabled)
	assert.Equal(t, 24*time.Hour, cfg.Sweep.StaleAfter)
	require.Contains(t, cfg.Sites, "example")
	assert.Equal(t, "/bilar-i-lager", cfg.Sites["example"].ListingPath)
}

func TestLoadRejectsUnknownWriteMode(t *testing.T) {
	t.Setenv("ADS_WRITE_MODE", "yolo")
	t.Setenv("SITES_DIR", "sites")

	_, err := Load()
	assert.ErrorContains(t, err, "ADS_WRITE_MODE")
}

func TestSiteFallsBackToDefault(t *testing.T) {
	cfg := &Config{Sites: map[string]*SiteConfig{}}
	site := cfg.Site("missing")
	assert.Equal(t, "default", site.ID)
	assert.Equal(t, "/bil/", site.DetailPathPrefix)
}
