package scraper

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"adsync/models"
	"adsync/normalize"
)

const SourceJSONLD = "jsonld"

var productTypes = map[string]bool{
	"product":           true,
	"vehicle":           true,
	"car":               true,
	"motorcycle":        true,
	"individualproduct": true,
	"productmodel":      true,
	"motorizedbicycle":  true,
	"busorcoach":        true,
}

// ExtractStructured reads the first product or vehicle entry from the
// page's JSON-LD blocks. The result may lack a title or price; it is nil
// when no typed entry exists.
func ExtractStructured(html, pageURL, currency string) *models.CrawlDetailsV1 {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	base, _ := url.Parse(pageURL)

	var result *models.CrawlDetailsV1
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &raw); err != nil {
			return true
		}
		for _, entry := range flattenLD(raw) {
			if !isProductType(entry["@type"]) {
				continue
			}
			result = detailsFromLD(entry, base, currency)
			return false
		}
		return true
	})
	return result
}

func flattenLD(raw any) []map[string]any {
	var out []map[string]any
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			out = append(out, flattenLD(item)...)
		}
	case map[string]any:
		out = append(out, v)
		if graph, ok := v["@graph"]; ok {
			out = append(out, flattenLD(graph)...)
		}
	}
	return out
}

func isProductType(t any) bool {
	switch v := t.(type) {
	case string:
		return productTypes[strings.ToLower(v)]
	case []any:
		for _, item := range v {
			if isProductType(item) {
				return true
			}
		}
	}
	return false
}

func detailsFromLD(entry map[string]any, base *url.URL, currency string) *models.CrawlDetailsV1 {
	d := &models.CrawlDetailsV1{
		Version:  models.CrawlDetailsVersion,
		Strategy: SourceJSONLD,
		Currency: strings.ToUpper(currency),
	}

	if name, ok := entry["name"].(string); ok {
		if title := normalize.CleanText(name); title != "" {
			d.Title = models.Field[string]{Value: title, Source: SourceJSONLD, RawText: name}
		}
	}

	if offer := firstObject(entry["offers"]); offer != nil {
		price := offer["price"]
		if price == nil {
			price = offer["lowPrice"]
		}
		if value, rawText, ok := ldNumber(price); ok {
			d.Price = models.Field[int]{Value: value, Source: SourceJSONLD, RawText: rawText}
		}
		if cur, ok := offer["priceCurrency"].(string); ok && strings.TrimSpace(cur) != "" {
			d.Currency = strings.ToUpper(strings.TrimSpace(cur))
		}
	}

	d.Images = ldImages(entry["image"], base)

	for _, key := range []string{"vehicleModelDate", "modelDate", "productionDate", "dateVehicleFirstRegistered"} {
		if s, ok := entry[key].(string); ok && len(s) >= 4 {
			if year, ok := plausibleYear(s[:4]); ok {
				d.Year = &models.Field[int]{Value: year, Source: SourceJSONLD, RawText: s}
				break
			}
		}
	}

	if odo := firstObject(entry["mileageFromOdometer"]); odo != nil {
		if km, rawText, ok := ldMileage(odo); ok {
			d.MileageKm = &models.Field[int]{Value: km, Source: SourceJSONLD, RawText: rawText}
		}
	}

	return d
}

func firstObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

func ldNumber(v any) (int, string, bool) {
	switch t := v.(type) {
	case float64:
		n := int(math.Round(t))
		return n, fmt.Sprint(t), n > 0
	case string:
		// JSON-LD prices use a dot decimal separator.
		s := strings.TrimSpace(t)
		if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 != 3 {
			s = s[:i]
		}
		n, ok := normalize.ParsePrice(s)
		return n, t, ok
	}
	return 0, "", false
}

func ldMileage(odo map[string]any) (int, string, bool) {
	unit, _ := odo["unitCode"].(string)
	if unit == "" {
		unit, _ = odo["unitText"].(string)
	}
	var text string
	switch v := odo["value"].(type) {
	case float64:
		text = fmt.Sprintf("%d", int64(v))
	case string:
		text = v
	default:
		return 0, "", false
	}
	switch strings.ToUpper(unit) {
	case "SMI", "MIL":
		text += " mil"
	default:
		text += " km"
	}
	km, ok := normalize.ParseDistance(text)
	return km, text, ok
}

func ldImages(v any, base *url.URL) []string {
	var raw []string
	var collect func(any)
	collect = func(v any) {
		switch t := v.(type) {
		case string:
			raw = append(raw, t)
		case map[string]any:
			if u, ok := t["url"].(string); ok {
				raw = append(raw, u)
			} else if u, ok := t["contentUrl"].(string); ok {
				raw = append(raw, u)
			}
		case []any:
			for _, item := range t {
				collect(item)
			}
		}
	}
	collect(v)

	var images []string
	seen := make(map[string]bool)
	for _, r := range raw {
		if abs, ok := absoluteURL(r, base); ok && !seen[abs] {
			seen[abs] = true
			images = append(images, abs)
		}
	}
	return images
}

func absoluteURL(href string, base *url.URL) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "data:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	return ref.String(), true
}
