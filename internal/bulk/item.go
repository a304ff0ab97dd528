package bulk

// Status is the lifecycle state of one bulk item.
type Status string

const (
	StatusReady     Status = "Ready"
	StatusScraping  Status = "Scraping"
	StatusListing   Status = "Listing"
	StatusListed    Status = "Listed"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

// Item is one unit of bulk work. The runner mutates Status, Message and
// Title in place as the item advances; everything else is set by the parser.
type Item struct {
	Index           int               `json:"index"`
	URL             string            `json:"url"`
	Quantity        int               `json:"quantity"`
	Note            string            `json:"note,omitempty"`
	CustomSpecifics map[string]string `json:"custom_specifics,omitempty"`
	Title           string            `json:"title,omitempty"`
	Status          Status            `json:"status"`
	Message         string            `json:"message,omitempty"`
	EbayItemID      string            `json:"ebay_item_id,omitempty"`
}

func (i *Item) clone() Item {
	copied := *i
	if i.CustomSpecifics != nil {
		copied.CustomSpecifics = make(map[string]string, len(i.CustomSpecifics))
		for k, v := range i.CustomSpecifics {
			copied.CustomSpecifics[k] = v
		}
	}
	return copied
}
