// Package amazon fetches and parses Amazon product pages into the Product
// model used by the listing flow.
package amazon

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/marketflip/relister/internal/models"
)

// ignoredKeys are detail-table rows that are Amazon bookkeeping, not product
// attributes worth carrying onto a listing.
var ignoredKeys = map[string]struct{}{
	"asin":                 {},
	"customer reviews":     {},
	"best sellers rank":    {},
	"date first available": {},
}

var (
	priceDigitsRe = regexp.MustCompile(`[^\d.]`)
	voucherNoise  = regexp.MustCompile(`(?i)apply|voucher|terms|shop|items|\|`)
	keyPunctRe    = regexp.MustCompile(`[^\w\s:-]`)
	wsRe          = regexp.MustCompile(`\s+`)
	imageDataRe   = regexp.MustCompile(`(?s)var\s+data\s*=\s*(\{.*?\});`)
	jsCommentRe   = regexp.MustCompile(`(?m)(^|[^:"])//[^\n]*`)
	jsKeyQuoteRe  = regexp.MustCompile(`'(.*?)'\s*:`)
	trailCommaRe  = regexp.MustCompile(`,\s*([}\]])`)
)

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// ParsePage extracts everything the listing flow needs from one product
// page. Missing sections leave their fields at zero values; only unparseable
// HTML is an error.
func (p *Parser) ParsePage(html, url string) (*models.Product, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	product := models.NewProduct(url)
	product.Title = p.extractTitle(doc)
	product.Price = p.extractPrice(doc)
	product.TempDeal = doc.Find(".dealBadge").Length() > 0
	product.DiscountType, product.DiscountValue = p.extractVoucher(doc)
	product.ProdDetails = p.extractDetails(doc)
	product.ProductOverview = p.extractOverview(doc)
	product.DetailBullets = p.extractDetailBullets(doc)
	product.FeaturedBullets = p.extractFeaturedBullets(doc)
	product.WhatsInTheBox = p.extractBoxContents(doc)
	product.ImportantInfo = p.extractImportantInfo(doc)
	product.ImageURLs = p.extractImages(doc)

	return product, nil
}

func (p *Parser) extractTitle(doc *goquery.Document) string {
	title := strings.TrimSpace(doc.Find("#productTitle").Text())
	if title == "" {
		return "N/A"
	}
	return title
}

// extractPrice reads the buy-box price, preferring the screen-reader span
// that always carries the full amount. Returns PriceUnknown when no price
// block is present (out of stock, marketplace-only offers).
func (p *Parser) extractPrice(doc *goquery.Document) float64 {
	block := doc.Find("#corePrice_feature_div .a-price").First()
	if block.Length() == 0 {
		return models.PriceUnknown
	}

	priceText := strings.TrimSpace(block.Find("span.a-offscreen").First().Text())
	if priceText == "" {
		whole := strings.TrimSpace(block.Find("span.a-price-whole").First().Text())
		fraction := strings.TrimSpace(block.Find("span.a-price-fraction").First().Text())
		if whole == "" || fraction == "" {
			return models.PriceUnknown
		}
		priceText = whole + fraction
	}

	cleaned := priceDigitsRe.ReplaceAllString(priceText, "")
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return models.PriceUnknown
	}
	return value
}

// extractVoucher parses the coupon badge ("Apply 20% voucher", "Apply £5
// voucher") into a discount the lister applies to the scraped price.
func (p *Parser) extractVoucher(doc *goquery.Document) (string, float64) {
	text := strings.TrimSpace(doc.Find(".couponLabelText").First().Text())
	if text == "" {
		return "", 0
	}
	cleaned := strings.TrimSpace(voucherNoise.ReplaceAllString(text, ""))

	switch {
	case strings.Contains(cleaned, "%"):
		raw := strings.TrimSpace(strings.ReplaceAll(cleaned, "%", ""))
		if value, err := strconv.ParseFloat(raw, 64); err == nil {
			return "percentage", value / 100.0
		}
	case strings.Contains(cleaned, "£"):
		raw := strings.TrimSpace(strings.ReplaceAll(cleaned, "£", ""))
		if value, err := strconv.ParseFloat(raw, 64); err == nil {
			return "fixed", value
		}
	}
	return "", 0
}

// extractDetails reads the main specifics table. Amazon renders it either as
// th/td rows under #prodDetails or as the older two-column layout under
// #tech; the product-facts expander supplements both.
func (p *Parser) extractDetails(doc *goquery.Document) map[string]string {
	details := p.tableRows(doc.Find("#prodDetails tr"))
	if len(details) == 0 {
		details = p.altTableRows(doc.Find("#tech tr"))
	}

	for key, value := range p.extractProductFacts(doc) {
		details[key] = value
	}
	if facts := p.extractFactsList(doc); len(facts) > 0 {
		details["FactsList"] = strings.Join(facts, "; ")
	}
	return details
}

func (p *Parser) tableRows(rows *goquery.Selection) map[string]string {
	out := make(map[string]string)
	rows.Each(func(_ int, row *goquery.Selection) {
		key := strings.TrimSpace(row.Find("th").First().Text())
		value := strings.TrimSpace(row.Find("td").First().Text())
		if key == "" || value == "" {
			return
		}
		if _, skip := ignoredKeys[strings.ToLower(key)]; skip {
			return
		}
		out[key] = collapseWhitespace(value)
	})
	return out
}

// altTableRows handles the td-only variant where the first cell is the label.
func (p *Parser) altTableRows(rows *goquery.Selection) map[string]string {
	out := make(map[string]string)
	rows.Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		key := strings.TrimSpace(cells.Eq(0).Text())
		value := strings.TrimSpace(cells.Eq(1).Text())
		if key == "" || value == "" {
			return
		}
		if _, skip := ignoredKeys[strings.ToLower(key)]; skip {
			return
		}
		out[key] = collapseWhitespace(value)
	})
	return out
}

func (p *Parser) extractProductFacts(doc *goquery.Document) map[string]string {
	facts := make(map[string]string)
	doc.Find("#productFactsDesktopExpander .product-facts-detail").Each(func(_ int, row *goquery.Selection) {
		key := strings.TrimSpace(row.Find(".a-col-left").First().Text())
		value := strings.TrimSpace(row.Find(".a-col-right").First().Text())
		key = strings.TrimSpace(keyPunctRe.ReplaceAllString(key, ""))
		key = strings.TrimSuffix(key, ":")
		if key == "" || value == "" {
			return
		}
		if _, skip := ignoredKeys[strings.ToLower(key)]; skip {
			return
		}
		facts[key] = collapseWhitespace(value)
	})
	return facts
}

func (p *Parser) extractFactsList(doc *goquery.Document) []string {
	return dedupTexts(doc.Find("#productFactsDesktopExpander ul li"))
}

func (p *Parser) extractOverview(doc *goquery.Document) map[string]string {
	overview := make(map[string]string)
	doc.Find("#productOverview_feature_div tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		key := strings.TrimSpace(cells.Eq(0).Text())
		value := strings.TrimSpace(cells.Eq(1).Text())
		if key != "" && value != "" {
			overview[key] = collapseWhitespace(value)
		}
	})
	return overview
}

// extractDetailBullets parses the "key : value" list Amazon uses on pages
// without a details table.
func (p *Parser) extractDetailBullets(doc *goquery.Document) map[string]string {
	bullets := make(map[string]string)
	doc.Find("#detailBullets_feature_div ul").First().Find("li").Each(func(_ int, li *goquery.Selection) {
		spans := li.Find("span span")
		if spans.Length() < 2 {
			return
		}
		key := keyPunctRe.ReplaceAllString(spans.Eq(0).Text(), "")
		key = strings.TrimSpace(strings.ReplaceAll(key, ":", ""))
		value := collapseWhitespace(strings.TrimSpace(spans.Eq(1).Text()))
		if key == "" || value == "" {
			return
		}
		if _, skip := ignoredKeys[strings.ToLower(key)]; skip {
			return
		}
		bullets[key] = value
	})
	return bullets
}

func (p *Parser) extractFeaturedBullets(doc *goquery.Document) []string {
	var bullets []string
	doc.Find("#feature-bullets li span.a-list-item").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			bullets = append(bullets, collapseWhitespace(text))
		}
	})
	return bullets
}

func (p *Parser) extractBoxContents(doc *goquery.Document) []string {
	return dedupTexts(doc.Find("#witb-content-list li"))
}

// extractImportantInfo keeps the section as raw HTML so it can be appended
// to the listing description verbatim.
func (p *Parser) extractImportantInfo(doc *goquery.Document) string {
	section := doc.Find("#important-information").First()
	if section.Length() == 0 {
		return ""
	}
	html, err := goquery.OuterHtml(section)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(html)
}

// extractImages pulls the hiRes gallery URLs out of the ImageBlockATF script
// blob. The blob is JavaScript, not JSON, so it is normalized before decoding.
func (p *Parser) extractImages(doc *goquery.Document) []string {
	var script string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.Text(), "ImageBlockATF") {
			script = s.Text()
			return false
		}
		return true
	})
	if script == "" {
		return nil
	}

	match := imageDataRe.FindStringSubmatch(script)
	if match == nil {
		return nil
	}

	blob := match[1]
	blob = jsCommentRe.ReplaceAllString(blob, "$1")
	blob = jsKeyQuoteRe.ReplaceAllString(blob, `"$1":`)
	blob = strings.ReplaceAll(blob, "'", `"`)
	blob = strings.ReplaceAll(blob, "Date.now()", "null")
	blob = trailCommaRe.ReplaceAllString(blob, "$1")

	var data struct {
		ColorImages struct {
			Initial []struct {
				HiRes string `json:"hiRes"`
			} `json:"initial"`
		} `json:"colorImages"`
	}
	if err := json.Unmarshal([]byte(blob), &data); err != nil {
		return nil
	}

	var urls []string
	for _, img := range data.ColorImages.Initial {
		if url := strings.TrimSpace(img.HiRes); url != "" {
			urls = append(urls, url)
		}
	}
	return urls
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}

func dedupTexts(items *goquery.Selection) []string {
	var out []string
	seen := make(map[string]struct{})
	items.Each(func(_ int, li *goquery.Selection) {
		text := li.Find("span").First().Text()
		if strings.TrimSpace(text) == "" {
			text = li.Text()
		}
		text = collapseWhitespace(text)
		if text == "" {
			return
		}
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		out = append(out, text)
	})
	return out
}
