package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"adsync/config"
	"adsync/identity"
)

const (
	StrategySitemap  = "sitemap"
	StrategyRendered = "rendered"
	StrategyPlain    = "plain"
)

// ErrDiscoveryFailed means no discovery strategy could fetch anything.
var ErrDiscoveryFailed = errors.New("discovery failed")

type Discovery struct {
	URLs       []string
	Strategies []string
}

// Discoverer builds a set of canonical detail URLs from a catalog root.
type Discoverer struct {
	fetcher  PageFetcher
	renderer Renderer
	log      logrus.FieldLogger
}

// NewDiscoverer returns a discoverer. renderer may be nil.
func NewDiscoverer(fetcher PageFetcher, renderer Renderer, log logrus.FieldLogger) *Discoverer {
	return &Discoverer{fetcher: fetcher, renderer: renderer, log: log}
}

type urlSet struct {
	seen  map[string]bool
	order []string
}

func (s *urlSet) add(u string) {
	if s.seen[u] {
		return
	}
	s.seen[u] = true
	s.order = append(s.order, u)
}

// Discover runs sitemap, rendered and plain listing fetches in order,
// accumulating into one set, and stops once 2*limit URLs are known.
func (d *Discoverer) Discover(ctx context.Context, site *config.SiteConfig, root *url.URL, limit int) (*Discovery, error) {
	want := 2 * limit
	set := &urlSet{seen: make(map[string]bool)}
	result := &Discovery{}
	var errs []error
	fetched := 0

	enough := func() bool { return limit > 0 && len(set.order) >= want }

	sitemapURL := resolve(root, site.SitemapPath)
	if body, err := d.fetcher.Fetch(ctx, sitemapURL); err != nil {
		d.log.WithError(err).WithField("url", sitemapURL).Debug("sitemap unavailable")
		errs = append(errs, err)
	} else {
		fetched++
		before := len(set.order)
		for _, loc := range SitemapLocs(body) {
			if u, ok := DetailURL(loc, root, site); ok {
				set.add(u)
			}
		}
		if len(set.order) > before {
			result.Strategies = append(result.Strategies, StrategySitemap)
		}
	}

	listingURL := resolve(root, site.ListingPath)

	if !enough() && d.renderer != nil && site.Render {
		if html, err := d.renderer.Render(ctx, listingURL); err != nil {
			d.log.WithError(err).WithField("url", listingURL).Warn("rendered listing fetch failed")
			errs = append(errs, err)
		} else {
			fetched++
			if d.collectLinks(html, root, site, set) {
				result.Strategies = append(result.Strategies, StrategyRendered)
			}
		}
	}

	if !enough() {
		if html, err := d.fetcher.Fetch(ctx, listingURL); err != nil {
			d.log.WithError(err).WithField("url", listingURL).Warn("listing fetch failed")
			errs = append(errs, err)
		} else {
			fetched++
			if d.collectLinks(html, root, site, set) {
				result.Strategies = append(result.Strategies, StrategyPlain)
			}
		}
	}

	if fetched == 0 {
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, errors.Join(errs...))
	}

	result.URLs = set.order
	return result, nil
}

func (d *Discoverer) collectLinks(html string, root *url.URL, site *config.SiteConfig, set *urlSet) bool {
	before := len(set.order)
	for _, href := range ListingLinks(html) {
		if u, ok := DetailURL(href, root, site); ok {
			set.add(u)
		}
	}
	return len(set.order) > before
}

// SitemapLocs returns the text of every <loc> element.
func SitemapLocs(body string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil
	}
	var locs []string
	doc.Find("loc").Each(func(_ int, s *goquery.Selection) {
		if loc := strings.TrimSpace(s.Text()); loc != "" {
			locs = append(locs, loc)
		}
	})
	return locs
}

// ListingLinks returns every anchor href in the markup.
func ListingLinks(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs
}

// DetailURL canonicalizes href and keeps it only if it follows the site's
// detail path convention.
func DetailURL(href string, root *url.URL, site *config.SiteConfig) (string, bool) {
	canonical, ok := identity.CanonicalURL(href, root)
	if !ok {
		return "", false
	}
	u, err := url.Parse(canonical)
	if err != nil {
		return "", false
	}
	prefix := strings.TrimSuffix(site.DetailPathPrefix, "/") + "/"
	if !strings.HasPrefix(u.Path+"/", prefix) || u.Path+"/" == prefix {
		return "", false
	}
	if identity.PathDepth(canonical) < site.MinPathDepth {
		return "", false
	}
	return canonical, true
}

func resolve(root *url.URL, path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return root.String()
	}
	return root.ResolveReference(ref).String()
}
