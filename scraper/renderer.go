package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"
)

// Renderer returns the markup of a page after its scripts have run.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
	Close()
}

// NewRenderer returns the named renderer, or nil when rendering is off.
func NewRenderer(name string, enabled bool, timeout time.Duration, log logrus.FieldLogger) Renderer {
	if !enabled {
		return nil
	}
	switch name {
	case "chromedp":
		return NewChromedpRenderer(timeout)
	default:
		return NewPlaywrightRenderer(timeout, log)
	}
}

// PlaywrightRenderer keeps one headless Chromium alive across renders.
type PlaywrightRenderer struct {
	timeout     time.Duration
	log         logrus.FieldLogger
	pw          *playwright.Playwright
	browser     playwright.Browser
	mu          sync.Mutex
	initialized bool
}

func NewPlaywrightRenderer(timeout time.Duration, log logrus.FieldLogger) *PlaywrightRenderer {
	return &PlaywrightRenderer{timeout: timeout, log: log}
}

func (r *PlaywrightRenderer) ensureBrowser() error {
	if r.initialized {
		return nil
	}

	var err error
	r.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	r.browser, err = r.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		r.pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	r.initialized = true
	return nil
}

func (r *PlaywrightRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureBrowser(); err != nil {
		return "", err
	}

	page, err := r.browser.NewPage(playwright.BrowserNewPageOptions{
		UserAgent: playwright.String(userAgent),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	timeoutMS := float64(r.timeout.Milliseconds())
	if deadline, ok := ctx.Deadline(); ok {
		if left := float64(time.Until(deadline).Milliseconds()); left < timeoutMS {
			timeoutMS = left
		}
	}

	_, err = page.Goto(pageURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(timeoutMS),
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	})
	if err != nil {
		// A timed-out networkidle still leaves a usable DOM.
		r.log.WithError(err).WithField("url", pageURL).Warn("render navigation incomplete")
	}

	html, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("read rendered content: %w", err)
	}
	return html, nil
}

func (r *PlaywrightRenderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		r.browser.Close()
	}
	if r.pw != nil {
		r.pw.Stop()
	}
	r.initialized = false
}

// ChromedpRenderer starts a fresh headless Chrome per render.
type ChromedpRenderer struct {
	timeout time.Duration
}

func NewChromedpRenderer(timeout time.Duration) *ChromedpRenderer {
	return &ChromedpRenderer{timeout: timeout}
}

func (r *ChromedpRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(userAgent),
		)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, r.timeout)
	defer cancel()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(2*time.Second),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("browser rendering failed: %w", err)
	}
	return html, nil
}

func (r *ChromedpRenderer) Close() {}
