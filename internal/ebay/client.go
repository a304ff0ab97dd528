// Package ebay holds the destination-marketplace integration: taxonomy
// lookups, OAuth tokens, the fee schedule and the listing submission flow.
package ebay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/marketflip/relister/internal/specifics"
)

const (
	taxonomyBase  = "https://api.ebay.com/commerce/taxonomy/v1"
	marketplaceID = "EBAY_GB"

	// Known-good fallbacks when taxonomy lookups fail: the GB category tree
	// and a generic "Other" consumer-goods category.
	fallbackTreeID     = "3"
	fallbackCategoryID = "14254"
)

// appTokenSource supplies a valid application token. Satisfied by
// TokenManager.ApplicationToken.
type appTokenSource func(ctx context.Context) (string, error)

// TaxonomyClient answers category and aspect lookups against the taxonomy
// API. It implements the resolver's taxonomy contract.
type TaxonomyClient struct {
	token  appTokenSource
	client *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	treeID string
}

func NewTaxonomyClient(token appTokenSource, logger *slog.Logger) *TaxonomyClient {
	return &TaxonomyClient{
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With("component", "ebay_taxonomy"),
	}
}

// CategoryTreeID returns the default tree for the GB marketplace, cached
// after the first successful lookup. Lookup failures fall back to the known
// GB tree rather than blocking the listing.
func (c *TaxonomyClient) CategoryTreeID(ctx context.Context) string {
	c.mu.Lock()
	if c.treeID != "" {
		id := c.treeID
		c.mu.Unlock()
		return id
	}
	c.mu.Unlock()

	var out struct {
		CategoryTreeID string `json:"categoryTreeId"`
	}
	err := c.get(ctx, taxonomyBase+"/get_default_category_tree_id?marketplace_id="+marketplaceID, &out)
	if err != nil || out.CategoryTreeID == "" {
		c.logger.Warn("category tree lookup failed, using fallback", "error", err)
		return fallbackTreeID
	}

	c.mu.Lock()
	c.treeID = out.CategoryTreeID
	c.mu.Unlock()
	return out.CategoryTreeID
}

// SuggestCategoryID returns the best category for a listing title. Falls
// back to the generic category when the API has no suggestion.
func (c *TaxonomyClient) SuggestCategoryID(ctx context.Context, title string) string {
	treeID := c.CategoryTreeID(ctx)
	endpoint := fmt.Sprintf("%s/category_tree/%s/get_category_suggestions?q=%s",
		taxonomyBase, treeID, url.QueryEscape(title))

	var out struct {
		CategorySuggestions []struct {
			Category struct {
				CategoryID string `json:"categoryId"`
			} `json:"category"`
		} `json:"categorySuggestions"`
	}
	err := c.get(ctx, endpoint, &out)
	if err != nil || len(out.CategorySuggestions) == 0 {
		c.logger.Warn("category suggestion failed, using fallback", "title", title, "error", err)
		return fallbackCategoryID
	}
	return out.CategorySuggestions[0].Category.CategoryID
}

// FetchAspects returns the controlled aspect list for a category. A 404
// means the category ID itself is bad and maps to ErrUnknownCategory; other
// failures are transient and left to the resolver's fallback handling.
func (c *TaxonomyClient) FetchAspects(ctx context.Context, categoryID string) ([]specifics.Aspect, error) {
	treeID := c.CategoryTreeID(ctx)
	endpoint := fmt.Sprintf("%s/category_tree/%s/get_item_aspects_for_category?category_id=%s",
		taxonomyBase, treeID, url.QueryEscape(categoryID))

	var out struct {
		Aspects []struct {
			LocalizedAspectName string `json:"localizedAspectName"`
			AspectConstraint    struct {
				AspectRequired bool   `json:"aspectRequired"`
				AspectMode     string `json:"aspectMode"`
			} `json:"aspectConstraint"`
			AspectValues []struct {
				LocalizedValue string `json:"localizedValue"`
			} `json:"aspectValues"`
		} `json:"aspects"`
	}
	if err := c.get(ctx, endpoint, &out); err != nil {
		return nil, err
	}

	aspects := make([]specifics.Aspect, 0, len(out.Aspects))
	for _, a := range out.Aspects {
		aspect := specifics.Aspect{
			Name:     a.LocalizedAspectName,
			Required: a.AspectConstraint.AspectRequired,
			Mode:     specifics.AspectMode(a.AspectConstraint.AspectMode),
		}
		if aspect.Mode == "" {
			aspect.Mode = specifics.ModeFreeText
		}
		for _, v := range a.AspectValues {
			aspect.AllowedValues = append(aspect.AllowedValues, v.LocalizedValue)
		}
		aspects = append(aspects, aspect)
	}
	return aspects, nil
}

func (c *TaxonomyClient) get(ctx context.Context, endpoint string, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get application token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", specifics.ErrUnknownCategory, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("taxonomy API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}
