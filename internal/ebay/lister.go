package ebay

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/marketflip/relister/internal/bridge"
	"github.com/marketflip/relister/internal/bulk"
	"github.com/marketflip/relister/internal/models"
	"github.com/marketflip/relister/internal/specifics"
)

const (
	tradingEndpoint   = "https://api.ebay.com/ws/api.dll"
	siteIDUK          = "3"
	compatLevel       = "967"
	maxTitleRunes     = 80
	lowPriceThreshold = 6.0
)

// ListerConfig carries the fixed listing attributes that do not vary per
// item.
type ListerConfig struct {
	Location      string
	PostalCode    string
	SellerPaysFee bool
	Fees          FeeSchedule
}

// CategorySuggester picks the destination category for a listing title.
type CategorySuggester interface {
	SuggestCategoryID(ctx context.Context, title string) string
}

// SpecificsResolver reconciles merged attributes against a category's
// controlled aspects. Satisfied by specifics.Resolver.
type SpecificsResolver interface {
	Resolve(ctx context.Context, categoryID string, merged map[string]string) (map[string]string, error)
}

// UserTokenSource supplies a valid user access token. Satisfied by
// TokenManager.
type UserTokenSource interface {
	UserToken(ctx context.Context) (string, error)
}

// Lister turns a scraped product into a live fixed-price listing. It owns
// price adjustment, description building, specifics resolution and the
// AddItem submission, so one product either lists as a unit or fails as one.
type Lister struct {
	taxonomy CategorySuggester
	resolver SpecificsResolver
	tokens   UserTokenSource
	creds    Credentials
	cfg      ListerConfig
	io       bridge.IO
	client   *http.Client
	logger   *slog.Logger

	endpoint string
}

func NewLister(taxonomy CategorySuggester, resolver SpecificsResolver, tokens UserTokenSource, creds Credentials, cfg ListerConfig, io bridge.IO, logger *slog.Logger) *Lister {
	return &Lister{
		taxonomy: taxonomy,
		resolver: resolver,
		tokens:   tokens,
		creds:    creds,
		cfg:      cfg,
		io:       io,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   logger.With("component", "ebay_lister"),
		endpoint: tradingEndpoint,
	}
}

func (l *Lister) List(ctx context.Context, p *models.Product) (*bulk.ListResult, error) {
	l.io.Log("Preparing eBay listing payload...")

	sourceOpen := false
	openSource := func() {
		if !sourceOpen && p.URL != "" {
			l.io.OpenURL(p.URL)
			sourceOpen = true
		}
	}

	title := p.Title
	if !p.HasTitle() {
		openSource()
		entered, ok := l.io.PromptText(ctx, "What is the title:", "", nil)
		if !ok || strings.TrimSpace(entered) == "" {
			return &bulk.ListResult{OK: false, Error: "no title provided"}, nil
		}
		title = strings.TrimSpace(entered)
	}

	price, err := l.resolvePrice(ctx, p, openSource)
	if err != nil {
		return nil, err
	}

	quantity := p.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	userToken, err := l.tokens.UserToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get user token: %w", err)
	}

	categoryID := l.taxonomy.SuggestCategoryID(ctx, title)
	openSource()

	resolved, err := l.resolveSpecifics(ctx, categoryID, p)
	if err != nil {
		return nil, err
	}

	description := l.buildDescription(title, p)
	body := l.buildAddItemXML(userToken, title, description, categoryID, price, quantity, resolved, p.ImageURLs)

	l.io.Log("Sending eBay AddItem request...")
	ack, err := l.submit(ctx, "AddItem", body)
	if err != nil {
		return nil, err
	}

	if ack.Ack != "Success" && ack.Ack != "Warning" {
		l.io.Log(fmt.Sprintf("API Call failed with status: %s", ack.Ack))
		var msgs []string
		for _, e := range ack.Errors {
			l.io.Log(fmt.Sprintf("Error: %s - %s", e.ShortMessage, e.LongMessage))
			msgs = append(msgs, e.ShortMessage)
		}
		return &bulk.ListResult{OK: false, Error: strings.Join(msgs, "; ")}, nil
	}

	l.io.Log(fmt.Sprintf("API Call successful: %s", ack.Ack))
	if ack.ItemID == "" {
		l.io.Log("Listing succeeded, but no ItemID found in response.")
		return &bulk.ListResult{OK: true}, nil
	}
	l.io.Log(fmt.Sprintf("New Item ID: %s", ack.ItemID))

	if note := strings.TrimSpace(p.SellerNote); note != "" {
		l.setSellerNote(ctx, userToken, ack.ItemID, note)
	}

	l.io.Log("Opening the revise item page...")
	l.io.OpenURL(reviseURL(ack.ItemID))

	return &bulk.ListResult{OK: true, ItemID: ack.ItemID}, nil
}

// resolvePrice applies the discount and the margin adjustments to the
// scraped price, prompting when the page had no usable price.
func (l *Lister) resolvePrice(ctx context.Context, p *models.Product, openSource func()) (float64, error) {
	price := p.Price
	if !p.HasPrice() {
		openSource()
		entered, _ := l.io.PromptText(ctx, "What is the price:", "", nil)
		parsed, err := strconv.ParseFloat(strings.TrimSpace(entered), 64)
		if err != nil {
			return 0, fmt.Errorf("no usable price for %s", p.URL)
		}
		price = parsed
	}

	if p.DiscountValue != 0 {
		switch p.DiscountType {
		case "percentage":
			price -= price * p.DiscountValue
		case "fixed":
			price -= p.DiscountValue
		}
	}

	// The undercut: a pound off anything over the threshold, and a manual
	// decision for cheap items where a pound is too big a cut.
	openSource()
	if price > lowPriceThreshold {
		price -= 1
	} else if price > 0 {
		off, _ := l.io.PromptText(ctx, "Price is less than 6, what should we take off?", "0", nil)
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(off), 64); err == nil {
			price -= parsed
		}
	}

	if l.cfg.SellerPaysFee {
		adjusted, err := l.cfg.Fees.FindMinimumPrice(price)
		if err != nil {
			return 0, err
		}
		price = adjusted
	}
	return price, nil
}

// resolveSpecifics merges every attribute source in precedence order and
// reconciles the result against the category's controlled aspects. Custom
// specifics from the bulk text win over anything scraped.
func (l *Lister) resolveSpecifics(ctx context.Context, categoryID string, p *models.Product) (map[string]string, error) {
	merged := specifics.Merge(p.ProductOverview, p.ProdDetails, p.CustomSpecifics)
	merged = specifics.NormalizeKeys(merged)
	return l.resolver.Resolve(ctx, categoryID, merged)
}

// buildDescription assembles the listing HTML from the scraped sections,
// dropping any sentence that mentions the source marketplace.
func (l *Lister) buildDescription(title string, p *models.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>%s</h1> <br>", EscapeXML(title))

	if len(p.ProductOverview) > 0 {
		b.WriteString(`<table style="border: none; border-collapse: collapse;">`)
		for key, value := range p.ProductOverview {
			safe := SanitizeText(value)
			if safe == "" {
				continue
			}
			fmt.Fprintf(&b,
				`<tr><td style="border: none;"><b>%s:</b></td><td style="border: none;">%s</td></tr>`,
				EscapeXML(key), EscapeXML(safe))
		}
		b.WriteString("</table><br>")
	}

	var bullets []string
	for _, bullet := range p.FeaturedBullets {
		if safe := SanitizeText(bullet); safe != "" {
			bullets = append(bullets, safe)
		}
	}
	if len(bullets) > 0 {
		b.WriteString("<ul>")
		for _, bullet := range bullets {
			fmt.Fprintf(&b, "<li>%s</li>", EscapeXML(bullet))
		}
		b.WriteString("</ul><br>")
	}

	if len(p.ProdDetails) > 0 {
		b.WriteString(`<table style="background-color: #f2f2f2; border: 1px solid black; border-collapse: collapse; color: black;">`)
		for key, value := range p.ProdDetails {
			safe := SanitizeText(value)
			if safe == "" {
				continue
			}
			fmt.Fprintf(&b,
				`<tr><td style="border: 1px solid black; padding: 5px;"><b>%s</b></td><td style="border: 1px solid black; padding: 5px;">%s</td></tr>`,
				EscapeXML(key), EscapeXML(safe))
		}
		b.WriteString("</table>")
	}

	if p.ImportantInfo != "" {
		if safe := SanitizeText(p.ImportantInfo); safe != "" {
			b.WriteString(safe)
		}
	}

	if len(p.DetailBullets) > 0 {
		b.WriteString(`<table style="border: none; border-collapse: collapse;">`)
		for key, value := range p.DetailBullets {
			safe := SanitizeText(value)
			if safe == "" {
				continue
			}
			fmt.Fprintf(&b,
				`<tr><td style="border: none;"><b>%s</b></td><td style="border: none;">%s</td></tr>`,
				EscapeXML(key), EscapeXML(safe))
		}
		b.WriteString("</table><br>")
	}

	return b.String()
}

func (l *Lister) buildAddItemXML(userToken, title, description, categoryID string, price float64, quantity int, resolved map[string]string, imageURLs []string) string {
	var sp strings.Builder
	sp.WriteString("<ItemSpecifics>")
	for name, value := range resolved {
		fmt.Fprintf(&sp, "<NameValueList><Name>%s</Name><Value>%s</Value></NameValueList>",
			EscapeXML(name), EscapeXML(value))
	}
	sp.WriteString("</ItemSpecifics>")

	var pics strings.Builder
	if len(imageURLs) > 0 {
		pics.WriteString("<PictureDetails>")
		for _, u := range imageURLs {
			fmt.Fprintf(&pics, "<PictureURL>%s</PictureURL>", EscapeXML(u))
		}
		pics.WriteString("</PictureDetails>")
	}

	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<AddItemRequest xmlns="urn:ebay:apis:eBLBaseComponents">
  <RequesterCredentials>
    <eBayAuthToken>%s</eBayAuthToken>
  </RequesterCredentials>
  <Item>
    <Title>%s</Title>
    <Description><![CDATA[%s]]></Description>
    <PrimaryCategory><CategoryID>%s</CategoryID></PrimaryCategory>
    <StartPrice>%.2f</StartPrice>
    <CategoryMappingAllowed>true</CategoryMappingAllowed>
    <Country>GB</Country>
    <Currency>GBP</Currency>
    <ConditionID>1000</ConditionID>
    %s
    <DispatchTimeMax>3</DispatchTimeMax>
    <ListingDuration>GTC</ListingDuration>
    <ListingType>FixedPriceItem</ListingType>
    <Location>%s</Location>
    <PostalCode>%s</PostalCode>
    <Quantity>%d</Quantity>
    <AutoPay>true</AutoPay>
    <BestOfferDetails><BestOfferEnabled>true</BestOfferEnabled></BestOfferDetails>
    %s
    <ReturnPolicy><ReturnsAcceptedOption>ReturnsNotAccepted</ReturnsAcceptedOption></ReturnPolicy>
    <ShippingDetails>
      <ShippingType>Flat</ShippingType>
      <ShippingServiceOptions>
        <ShippingService>UK_RoyalMailSecondClassStandard</ShippingService>
        <ShippingServiceCost>0.00</ShippingServiceCost>
        <ShippingServiceAdditionalCost>0.00</ShippingServiceAdditionalCost>
        <FreeShipping>true</FreeShipping>
        <ShippingServicePriority>1</ShippingServicePriority>
      </ShippingServiceOptions>
      <ShippingServiceOptions>
        <ShippingService>UK_CollectInPerson</ShippingService>
        <ShippingServiceCost>0.00</ShippingServiceCost>
        <ShippingServiceAdditionalCost>0.00</ShippingServiceAdditionalCost>
        <ShippingServicePriority>2</ShippingServicePriority>
      </ShippingServiceOptions>
    </ShippingDetails>
  </Item>
</AddItemRequest>`,
		userToken, EscapeXML(clampTitle(title)), description, categoryID, price,
		sp.String(), EscapeXML(l.cfg.Location), EscapeXML(l.cfg.PostalCode), quantity, pics.String())
}

// setSellerNote attaches the private bulk-text note to the new listing.
// Failures are logged only, the listing itself already succeeded.
func (l *Lister) setSellerNote(ctx context.Context, userToken, itemID, note string) {
	l.io.Log(fmt.Sprintf("Adding private note to Item ID: %s", itemID))
	body := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<SetUserNotesRequest xmlns="urn:ebay:apis:eBLBaseComponents">
  <RequesterCredentials>
    <eBayAuthToken>%s</eBayAuthToken>
  </RequesterCredentials>
  <ItemID>%s</ItemID>
  <Action>AddOrUpdate</Action>
  <NoteText>%s</NoteText>
</SetUserNotesRequest>`, userToken, itemID, EscapeXML(note))

	ack, err := l.submit(ctx, "SetUserNotes", body)
	if err != nil {
		l.logger.Error("failed to set seller note", "item_id", itemID, "error", err)
		return
	}
	if ack.Ack != "Success" && ack.Ack != "Warning" {
		for _, e := range ack.Errors {
			l.logger.Error("seller note rejected", "item_id", itemID, "error", e.ShortMessage)
		}
		return
	}
	l.io.Log("Seller note added.")
}

type tradingResponse struct {
	Ack    string `xml:"Ack"`
	ItemID string `xml:"ItemID"`
	Errors []struct {
		ShortMessage string `xml:"ShortMessage"`
		LongMessage  string `xml:"LongMessage"`
	} `xml:"Errors"`
}

func (l *Lister) submit(ctx context.Context, callName, body string) (*tradingResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-EBAY-API-CALL-NAME", callName)
	req.Header.Set("X-EBAY-API-SITEID", siteIDUK)
	req.Header.Set("X-EBAY-API-APP-NAME", l.creds.ClientID)
	req.Header.Set("X-EBAY-API-DEV-NAME", l.creds.DevID)
	req.Header.Set("X-EBAY-API-CERT-NAME", l.creds.ClientSecret)
	req.Header.Set("X-EBAY-API-COMPATIBILITY-LEVEL", compatLevel)
	req.Header.Set("Content-Type", "text/xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", callName, err)
	}
	defer resp.Body.Close()
	l.io.Log(fmt.Sprintf("HTTP Status Code: %d", resp.StatusCode))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed tradingResponse
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("could not parse %s response: %w", callName, err)
	}
	return &parsed, nil
}

func clampTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= maxTitleRunes {
		return title
	}
	return string(runes[:maxTitleRunes])
}

func reviseURL(itemID string) string {
	return "https://www.ebay.co.uk/sl/list?mode=ReviseItem&itemId=" + itemID +
		"&ReturnURL=https%3A%2F%2Fwww.ebay.co.uk%2Fsh%2Flst%2Factive%3Foffset%3D0"
}
