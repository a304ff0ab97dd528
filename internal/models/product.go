package models

import (
	"time"
)

// Product is the scraped representation of an Amazon product page plus any
// user-supplied carry-through values (note, quantity, custom specifics).
type Product struct {
	URL             string            `json:"url"`
	Title           string            `json:"title"`
	Price           float64           `json:"price"`
	TempDeal        bool              `json:"temp_deal"`
	DiscountType    string            `json:"discount_type,omitempty"` // "percentage" or "fixed"
	DiscountValue   float64           `json:"discount_value,omitempty"`
	Quantity        int               `json:"quantity,omitempty"`
	SellerNote      string            `json:"seller_note,omitempty"`
	ProdDetails     map[string]string `json:"prod_details"`
	ProductOverview map[string]string `json:"product_overview"`
	DetailBullets   map[string]string `json:"detail_bullets,omitempty"`
	FeaturedBullets []string          `json:"featured_bullets,omitempty"`
	WhatsInTheBox   []string          `json:"whats_in_the_box,omitempty"`
	ImportantInfo   string            `json:"important_information,omitempty"`
	ImageURLs       []string          `json:"image_urls"`
	CustomSpecifics map[string]string `json:"custom_specifics,omitempty"`
	ScrapedAt       time.Time         `json:"scraped_at"`
}

// PriceUnknown marks a page where no price could be extracted. The lister
// prompts for a value before submission.
const PriceUnknown = -1.0

func NewProduct(url string) *Product {
	return &Product{
		URL:             url,
		Price:           PriceUnknown,
		ProdDetails:     make(map[string]string),
		ProductOverview: make(map[string]string),
		ImageURLs:       make([]string, 0),
		ScrapedAt:       time.Now(),
	}
}

func (p *Product) HasTitle() bool {
	return p.Title != "" && p.Title != "N/A"
}

func (p *Product) HasPrice() bool {
	return p.Price >= 0
}
