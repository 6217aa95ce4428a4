package scraper

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"adsync/models"
	"adsync/normalize"
)

const (
	SourceDOM          = "dom"
	SourcePriceAttr    = "dom:price-attr"
	SourceCashText     = "dom:cash-text"
	SourceCurrencyNum  = "dom:currency-number"
	SourceKeyword      = "dom:keyword"
	SourceH1           = "dom:h1"
	SourceOGTitle      = "dom:og-title"
	SourceTitle        = "dom:title"
	SourceYearLabel    = "dom:year-label"
	SourceTitleYear    = "dom:title-year"
	SourceMileageLabel = "dom:mileage-label"
	SourceDistance     = "dom:distance"

	// MinCashPrice is the floor below which a canonical price is suspected
	// to be a monthly or partial amount.
	MinCashPrice = 10_000

	maxImages     = 20
	contextBefore = 40
	contextAfter  = 16
)

var (
	cashTextRegex     = regexp.MustCompile(`(?i)(kontantpris|kontant|cash price|pris kontant)\s*:?\s*(\d[\d\s\x{00a0}\x{202f}.,]*)`)
	currencyNumRegex  = regexp.MustCompile(`(?i)(?:^|[^\d.,])(\d{1,3}(?:[\s\x{00a0}\x{202f}.,]\d{3})+|\d{3,})\s*(kronor|kr\b|sek\b|:-|,-|€|eur\b)`)
	keywordPriceRegex = regexp.MustCompile(`(?i)\b(pris|price)\s*:?\s*(\d[\d\s\x{00a0}\x{202f}.,]{2,})`)
	yearLabelRegex    = regexp.MustCompile(`(?i)(årsmodell|modellår|model year|tillverkningsår|år)\s*:?\s*(\d{4})\b`)
	yearRegex         = regexp.MustCompile(`\b(19[5-9]\d|20\d{2})\b`)
	mileageLabelRegex = regexp.MustCompile(`(?i)(miltal|mätarställning|mileage|körsträcka|odometer)\s*:?\s*(\d[\d\s\x{00a0}\x{202f}.,]*\s*(?:mil|km)\b)`)
	distanceRegex     = regexp.MustCompile(`(?i)\d[\d\s\x{00a0}\x{202f}.]*\s*(?:mil|km)\b`)

	monthlySuffixes = []string{"/mån", "/ mån", "per månad", "/mo", "per month", "i månaden", "/month"}
	monthlyPrefixes = []string{"månadskostnad", "leasing", "finansiering", "monthly", "per månad", "per month"}
	monthlyClasses  = []string{"month", "manad", "mån", "leasing", "finans"}
	excludedImages  = []string{"logo", "icon", "sprite", "favicon", "placeholder", "avatar", "badge"}
)

type priceCandidate struct {
	value    int
	priority int
	source   string
	rawText  string
	monthly  bool
}

// ExtractDOM scans raw markup for title, price candidates, images, year
// and mileage. The result may lack a title or price.
func ExtractDOM(html, pageURL, currency string, log logrus.FieldLogger) *models.CrawlDetailsV1 {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	base, _ := url.Parse(pageURL)

	d := &models.CrawlDetailsV1{
		Version:  models.CrawlDetailsVersion,
		Strategy: SourceDOM,
		Currency: strings.ToUpper(currency),
	}

	d.Title = domTitle(doc)
	d.Images = domImages(doc, base)

	candidates := attributeCandidates(doc)
	doc.Find("script, style, noscript, template").Remove()
	segments := textSegments(doc)
	candidates = append(candidates, textCandidates(segments)...)

	if price, monthly, low := selectPrice(candidates); price != nil {
		d.Price = *price
		d.MonthlyPrice = monthly
		if low {
			d.LowPrice = true
			log.WithFields(logrus.Fields{
				"url":   pageURL,
				"price": price.Value,
				"raw":   price.RawText,
			}).Warn("canonical price below minimum cash price, keeping it")
		}
	} else if monthly != nil {
		d.MonthlyPrice = monthly
	}

	d.Year = domYear(segments, d.Title.Value)
	d.MileageKm = domMileage(segments)

	return d
}

func domTitle(doc *goquery.Document) models.Field[string] {
	if raw := doc.Find("h1").First().Text(); normalize.CleanText(raw) != "" {
		return models.Field[string]{Value: normalize.CleanText(raw), Source: SourceH1, RawText: strings.TrimSpace(raw)}
	}
	if raw, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok && normalize.CleanText(raw) != "" {
		return models.Field[string]{Value: normalize.CleanText(raw), Source: SourceOGTitle, RawText: raw}
	}
	if raw := doc.Find("title").First().Text(); normalize.CleanText(raw) != "" {
		return models.Field[string]{Value: normalize.CleanText(raw), Source: SourceTitle, RawText: strings.TrimSpace(raw)}
	}
	return models.Field[string]{}
}

// textSegments returns the page's text nodes in element order.
func textSegments(doc *goquery.Document) []string {
	var segments []string
	doc.Find("body").Find("*").AddBack().Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) != "#text" {
			return
		}
		if text := normalize.CleanText(s.Text()); text != "" {
			segments = append(segments, text)
		}
	})
	return segments
}

func attributeCandidates(doc *goquery.Document) []priceCandidate {
	var out []priceCandidate
	doc.Find(`[itemprop="price"], [data-price]`).Each(func(_ int, s *goquery.Selection) {
		raw, ok := s.Attr("content")
		if !ok {
			raw, ok = s.Attr("data-price")
		}
		if !ok || strings.TrimSpace(raw) == "" {
			raw = s.Text()
		}
		value, ok := normalize.ParsePrice(normalize.DecodeEntities(raw))
		if !ok {
			return
		}
		out = append(out, priceCandidate{
			value:    value,
			priority: 0,
			source:   SourcePriceAttr,
			rawText:  strings.TrimSpace(raw),
			monthly:  monthlyElement(s),
		})
	})
	return out
}

func monthlyElement(s *goquery.Selection) bool {
	var marks []string
	for _, sel := range []*goquery.Selection{s, s.Parent()} {
		class, _ := sel.Attr("class")
		id, _ := sel.Attr("id")
		marks = append(marks, strings.ToLower(class+" "+id))
	}
	for _, m := range marks {
		for _, token := range monthlyClasses {
			if strings.Contains(m, token) {
				return true
			}
		}
	}
	parentText := strings.ToLower(normalize.CleanText(s.Parent().Text()))
	for _, token := range monthlySuffixes {
		if strings.Contains(parentText, token) {
			return true
		}
	}
	return false
}

func textCandidates(segments []string) []priceCandidate {
	var out []priceCandidate
	for _, seg := range segments {
		out = append(out, scanSegment(seg, cashTextRegex, 2, 1, SourceCashText)...)
		out = append(out, scanSegment(seg, currencyNumRegex, 1, 2, SourceCurrencyNum)...)
		out = append(out, scanSegment(seg, keywordPriceRegex, 2, 3, SourceKeyword)...)
	}
	return out
}

// scanSegment collects candidates for one pattern. The monthly context is
// bounded by the previous match so neighbouring prices do not bleed into
// each other.
func scanSegment(seg string, re *regexp.Regexp, group, priority int, source string) []priceCandidate {
	var out []priceCandidate
	prevEnd := 0
	for _, m := range re.FindAllStringSubmatchIndex(seg, -1) {
		start, end := m[0], m[1]
		numStart, numEnd := m[2*group], m[2*group+1]
		value, ok := normalize.ParsePrice(seg[numStart:numEnd])
		if !ok {
			prevEnd = end
			continue
		}

		beforeFrom := start - contextBefore
		if beforeFrom < prevEnd {
			beforeFrom = prevEnd
		}
		if beforeFrom < 0 {
			beforeFrom = 0
		}
		afterTo := end + contextAfter
		if afterTo > len(seg) {
			afterTo = len(seg)
		}

		out = append(out, priceCandidate{
			value:    value,
			priority: priority,
			source:   source,
			rawText:  strings.TrimSpace(seg[start:end]),
			monthly:  isMonthlyContext(seg[beforeFrom:start], seg[numEnd:afterTo]),
		})
		prevEnd = end
	}
	return out
}

func isMonthlyContext(before, after string) bool {
	before = strings.ToLower(before)
	after = strings.ToLower(after)
	for _, token := range monthlySuffixes {
		if strings.Contains(after, token) {
			return true
		}
	}
	for _, token := range monthlyPrefixes {
		if strings.Contains(before, token) {
			return true
		}
	}
	return false
}

// selectPrice picks the highest-priority non-monthly candidate as the
// canonical price. A canonical price under MinCashPrice is replaced by the
// next qualifying non-monthly candidate; if none qualifies the low value is
// kept and low is set.
func selectPrice(candidates []priceCandidate) (price, monthly *models.Field[int], low bool) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].priority < candidates[j].priority
	})

	var cash []priceCandidate
	for _, c := range candidates {
		if c.monthly {
			if monthly == nil {
				monthly = &models.Field[int]{Value: c.value, Source: c.source, RawText: c.rawText}
			}
			continue
		}
		cash = append(cash, c)
	}
	if len(cash) == 0 {
		return nil, monthly, false
	}

	chosen := cash[0]
	if chosen.value < MinCashPrice {
		low = true
		for _, c := range cash[1:] {
			if c.value >= MinCashPrice {
				chosen = c
				low = false
				break
			}
		}
	}
	return &models.Field[int]{Value: chosen.value, Source: chosen.source, RawText: chosen.rawText}, monthly, low
}

func domImages(doc *goquery.Document, base *url.URL) []string {
	var images []string
	seen := make(map[string]bool)
	add := func(raw string) {
		if len(images) >= maxImages {
			return
		}
		abs, ok := absoluteURL(raw, base)
		if !ok || seen[abs] || excludedImage(abs) {
			return
		}
		seen[abs] = true
		images = append(images, abs)
	}

	if og, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok {
		add(og)
	}
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"data-src", "data-lazy-src", "src"} {
			if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
				add(v)
				return
			}
		}
		if srcset, ok := s.Attr("srcset"); ok {
			if fields := strings.Fields(strings.Split(srcset, ",")[0]); len(fields) > 0 {
				add(fields[0])
			}
		}
	})
	return images
}

func excludedImage(u string) bool {
	lower := strings.ToLower(u)
	if strings.HasSuffix(lower, ".svg") || strings.HasSuffix(lower, ".ico") {
		return true
	}
	for _, token := range excludedImages {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

func plausibleYear(s string) (int, bool) {
	year, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	if year < 1950 || year > time.Now().Year()+1 {
		return 0, false
	}
	return year, true
}

func domYear(segments []string, title string) *models.Field[int] {
	for _, seg := range segments {
		if m := yearLabelRegex.FindStringSubmatch(seg); m != nil {
			if year, ok := plausibleYear(m[2]); ok {
				return &models.Field[int]{Value: year, Source: SourceYearLabel, RawText: m[0]}
			}
		}
	}
	for _, m := range yearRegex.FindAllString(title, -1) {
		if year, ok := plausibleYear(m); ok {
			return &models.Field[int]{Value: year, Source: SourceTitleYear, RawText: m}
		}
	}
	return nil
}

func domMileage(segments []string) *models.Field[int] {
	for _, seg := range segments {
		if m := mileageLabelRegex.FindStringSubmatch(seg); m != nil {
			if km, ok := normalize.ParseDistance(m[2]); ok {
				return &models.Field[int]{Value: km, Source: SourceMileageLabel, RawText: m[0]}
			}
		}
	}
	for _, seg := range segments {
		if m := distanceRegex.FindString(seg); m != "" {
			if km, ok := normalize.ParseDistance(m); ok {
				return &models.Field[int]{Value: km, Source: SourceDistance, RawText: m}
			}
		}
	}
	return nil
}
