package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// ExternalID is the stable identity of an inventory item: a hash of its
// canonical detail URL.
func ExternalID(canonicalURL string) string {
	hash := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(hash[:16])
}

// CanonicalURL resolves href against root and normalizes it. It rejects
// URLs on another host and drops query string and fragment.
func CanonicalURL(href string, root *url.URL) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return "", false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}

	abs := root.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if !sameHost(abs.Host, root.Host) {
		return "", false
	}

	abs.RawQuery = ""
	abs.ForceQuery = false
	abs.Fragment = ""
	abs.RawFragment = ""
	abs.Host = strings.ToLower(abs.Host)
	if len(abs.Path) > 1 {
		abs.Path = strings.TrimSuffix(abs.Path, "/")
		abs.RawPath = ""
	}

	return abs.String(), true
}

// PathDepth counts non-empty path segments.
func PathDepth(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	depth := 0
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			depth++
		}
	}
	return depth
}

func sameHost(a, b string) bool {
	return strings.EqualFold(strings.TrimPrefix(a, "www."), strings.TrimPrefix(b, "www."))
}
