// Package browser wraps playwright for pages the plain HTTP client cannot
// fetch, Amazon serves a bot interstitial to clients it does not trust.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-GB,en;q=0.9",
		TimezoneID:     "Europe/London",
		Locale:         "en-GB",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Encoding": "gzip, deflate, br",
			"DNT":             "1",
		},
	}
}

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	timeout time.Duration
	logger  *slog.Logger
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--window-size=1920,1080",
			"--user-agent=" + opts.UserAgent,
		},
	}
	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: opts.ProxyServer}
	}

	b, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	ctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: opts.ExtraHeaders,
	})
	if err != nil {
		b.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: b,
		context: ctx,
		timeout: opts.Timeout,
		logger:  slog.Default().With("component", "browser"),
	}, nil
}

// FetchHTML navigates to url on a fresh page and returns the rendered HTML.
func (b *Browser) FetchHTML(ctx context.Context, url string) (string, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return "", fmt.Errorf("failed to create new page: %w", err)
	}
	defer page.Close()
	page.SetDefaultTimeout(float64(b.timeout.Milliseconds()))

	if err := ctx.Err(); err != nil {
		return "", err
	}

	_, err = page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(b.timeout.Milliseconds())),
	})
	if err != nil {
		return "", fmt.Errorf("navigation failed: %w", err)
	}

	if err := b.dismissBotCheck(page); err != nil {
		return "", err
	}

	content, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	return content, nil
}

// dismissBotCheck clicks through the "Continue shopping" interstitial Amazon
// shows to suspected automation. Fails only when the interstitial is shown
// and cannot be cleared.
func (b *Browser) dismissBotCheck(page playwright.Page) error {
	content, err := page.Content()
	if err != nil {
		return fmt.Errorf("failed to get page content: %w", err)
	}

	if !strings.Contains(content, "Continue shopping") &&
		!strings.Contains(content, "Click the button below") {
		return nil
	}

	b.logger.Info("bot check detected, attempting bypass")
	selectors := []string{
		`button:has-text("Continue shopping")`,
		`input[type="submit"][value*="Continue"]`,
		`.a-button-primary`,
	}
	for _, selector := range selectors {
		button := page.Locator(selector).First()
		count, err := button.Count()
		if err != nil || count == 0 {
			continue
		}
		if err := button.Click(); err != nil {
			b.logger.Error("failed to click bot check button", "error", err)
			continue
		}
		time.Sleep(3 * time.Second)

		after, _ := page.Content()
		if !strings.Contains(after, "Click the button below") {
			b.logger.Info("bot check bypassed")
			return nil
		}
	}
	return fmt.Errorf("could not clear bot check page")
}

func (b *Browser) Close() error {
	var errs []error
	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}
