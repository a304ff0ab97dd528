package amazon

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/marketflip/relister/internal/bridge"
	"github.com/marketflip/relister/internal/models"
	"github.com/marketflip/relister/internal/ratelimit"
)

// Fetcher retrieves the raw HTML for one product URL. The plain HTTP
// implementation is the default; a headless browser stands in when Amazon
// refuses the spoofed client.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// HTTPFetcher fetches pages with a desktop-browser header set.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:66.0) Gecko/20100101 Firefox/66.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("DNT", "1")
	req.Header.Set("Connection", "close")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// Setting Accept-Encoding by hand opts out of the transport's
	// transparent decompression, so the body arrives still encoded.
	var body io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return "", fmt.Errorf("failed to decode gzip body: %w", err)
		}
		defer gz.Close()
		body = gz
	case "deflate":
		fr := flate.NewReader(resp.Body)
		defer fr.Close()
		body = fr
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	return string(raw), nil
}

// Scraper fetches, paces and parses product pages. It implements the
// bulk runner's Scraper contract.
type Scraper struct {
	fetcher Fetcher
	parser  *Parser
	limiter *ratelimit.Adaptive
	io      bridge.IO
	logger  *slog.Logger
}

func NewScraper(fetcher Fetcher, limiter *ratelimit.Adaptive, io bridge.IO, logger *slog.Logger) *Scraper {
	return &Scraper{
		fetcher: fetcher,
		parser:  NewParser(),
		limiter: limiter,
		io:      io,
		logger:  logger.With("component", "amazon_scraper"),
	}
}

func (s *Scraper) Scrape(ctx context.Context, url string) (*models.Product, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	s.io.Log("Sending Page Request")
	html, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		if s.limiter != nil {
			s.limiter.RecordError()
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}

	s.io.Log("Parsing page data")
	product, err := s.parser.ParsePage(html, url)
	if err != nil {
		if s.limiter != nil {
			s.limiter.RecordError()
		}
		return nil, err
	}
	if s.limiter != nil {
		s.limiter.RecordSuccess()
	}

	if !product.HasTitle() {
		s.logger.Warn("no title extracted", "url", url)
	}
	s.io.Log("Amazon scrape complete")
	return product, nil
}
