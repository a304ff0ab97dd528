package specifics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// AspectMode distinguishes free-text aspects from ones whose value must come
// from a fixed allowed set. The values mirror the eBay taxonomy API.
type AspectMode string

const (
	ModeFreeText      AspectMode = "FREE_TEXT"
	ModeSelectionOnly AspectMode = "SELECTION_ONLY"
)

// Aspect is one controlled attribute definition for a category.
type Aspect struct {
	Name          string
	Required      bool
	Mode          AspectMode
	AllowedValues []string
}

// ErrUnknownCategory is returned by taxonomy clients when the category ID
// itself is invalid. Unlike a transient fetch failure it is not retried and
// does not fall back to the default aspect set.
var ErrUnknownCategory = errors.New("unknown category")

// TaxonomyClient fetches the controlled aspect list for a category from the
// destination marketplace.
type TaxonomyClient interface {
	FetchAspects(ctx context.Context, categoryID string) ([]Aspect, error)
}

// Prompter is the interactive fallback channel. The second return is false
// when the user cancelled the prompt.
type Prompter interface {
	PromptText(ctx context.Context, label, def string, suggestions []string) (string, bool)
	PromptChoice(ctx context.Context, label string, options []string) (string, bool)
}

// maxChoiceAttempts bounds re-prompting when a prompter keeps returning a
// value outside the allowed set for a selection-only aspect.
const maxChoiceAttempts = 3

// Resolver reconciles a merged attribute dictionary against a category's
// controlled aspect list, prompting only for required aspects that the
// scraped or user-supplied data could not fill.
type Resolver struct {
	taxonomy TaxonomyClient
	prompter Prompter
	logger   *slog.Logger

	// Fallback is used when the taxonomy fetch fails transiently. A listing
	// built against it may be incomplete but can be corrected on the
	// destination platform later, which beats aborting the whole item.
	Fallback []Aspect
}

func NewResolver(taxonomy TaxonomyClient, prompter Prompter, logger *slog.Logger) *Resolver {
	return &Resolver{
		taxonomy: taxonomy,
		prompter: prompter,
		logger:   logger.With("component", "specifics_resolver"),
	}
}

// Resolve returns merged extended with a value for every required aspect of
// the category. Values already present are ground truth: they are re-keyed to
// the aspect's exact name but never overridden by a prompt. Selection-only
// aspects with a value outside the allowed set are treated as missing.
// Attributes that match no known aspect pass through untouched, marketplaces
// generally accept unrecognized specifics.
func (r *Resolver) Resolve(ctx context.Context, categoryID string, merged map[string]string) (map[string]string, error) {
	aspects, err := r.taxonomy.FetchAspects(ctx, categoryID)
	if err != nil {
		if errors.Is(err, ErrUnknownCategory) {
			return nil, fmt.Errorf("resolve specifics for category %s: %w", categoryID, err)
		}
		r.logger.Warn("aspect fetch failed, using fallback aspect set",
			"category_id", categoryID, "error", err)
		aspects = r.Fallback
	}

	resolved := make(map[string]string, len(merged))
	byFold := make(map[string]string, len(merged))
	for k, v := range merged {
		resolved[k] = v
		byFold[FoldKey(k)] = k
	}

	for _, aspect := range aspects {
		if key, ok := byFold[FoldKey(aspect.Name)]; ok {
			value := resolved[key]
			if aspect.Mode == ModeSelectionOnly && !containsFold(aspect.AllowedValues, value) {
				r.logger.Info("existing value not in allowed set, treating as missing",
					"aspect", aspect.Name, "value", value)
				delete(resolved, key)
			} else {
				if key != aspect.Name {
					delete(resolved, key)
					resolved[aspect.Name] = value
				}
				continue
			}
		}

		if !aspect.Required {
			continue
		}

		if value, ok := r.promptFor(ctx, aspect); ok {
			resolved[aspect.Name] = value
		} else {
			// Cancelled or blank: omit the aspect rather than submit empty.
			r.logger.Info("required aspect left unset by user", "aspect", aspect.Name)
		}
	}

	return resolved, nil
}

func (r *Resolver) promptFor(ctx context.Context, aspect Aspect) (string, bool) {
	if aspect.Mode == ModeSelectionOnly && len(aspect.AllowedValues) > 0 {
		label := fmt.Sprintf("Select a value for %q:", aspect.Name)
		for attempt := 0; attempt < maxChoiceAttempts; attempt++ {
			value, ok := r.prompter.PromptChoice(ctx, label, aspect.AllowedValues)
			if !ok {
				return "", false
			}
			if exact, ok := matchFold(aspect.AllowedValues, value); ok {
				return exact, true
			}
		}
		return "", false
	}

	label := fmt.Sprintf("Enter a value for %q:", aspect.Name)
	value, ok := r.prompter.PromptText(ctx, label, "", nil)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func containsFold(values []string, v string) bool {
	_, ok := matchFold(values, v)
	return ok
}

// matchFold finds v in values ignoring case and returns the exact-case entry,
// which is what the marketplace expects in the submitted payload.
func matchFold(values []string, v string) (string, bool) {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return candidate, true
		}
	}
	return "", false
}
