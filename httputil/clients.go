package httputil

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"adsync/config"
)

type Clients struct {
	Scraping *http.Client // optionally proxied, for catalog sites
	Check    *http.Client // like Scraping but never follows redirects
	API      *http.Client // direct, for the ad platform
}

func NewClients(proxyCfg *config.ProxyConfig) *Clients {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		ForceAttemptHTTP2:   false,
		TLSNextProto:        make(map[string]func(string, *tls.Conn) http.RoundTripper),
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxyCfg != nil && proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &Clients{
		Scraping: &http.Client{
			Timeout:   15 * time.Second,
			Transport: transport,
		},
		Check: &http.Client{
			Timeout:   15 * time.Second,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		API: &http.Client{Timeout: 30 * time.Second},
	}
}
